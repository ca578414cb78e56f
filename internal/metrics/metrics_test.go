package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordMeasurement(t *testing.T) {
	RecordMeasurement("attn.w0", "bfloat16", PathBaseline, 0.25, 1.1e12, 0.0011)

	if got := testutil.ToFloat64(MatmulTime.WithLabelValues("attn.w0", "bfloat16", PathBaseline)); got != 0.25 {
		t.Errorf("matmul_time_seconds = %g", got)
	}
	if got := testutil.ToFloat64(MatmulOpsPerSecond.WithLabelValues("attn.w0", "bfloat16", PathBaseline)); got != 1.1e12 {
		t.Errorf("matmul_ops_per_second = %g", got)
	}
	if got := testutil.ToFloat64(MatmulPeakFraction.WithLabelValues("attn.w0", "bfloat16", PathBaseline)); got != 0.0011 {
		t.Errorf("matmul_peak_fraction = %g", got)
	}
}

func TestRecordConfigAccumulates(t *testing.T) {
	before := testutil.ToFloat64(ConfigsTotal)
	RecordConfig("ffn.w2", "float16", 1.7, 3*time.Second)
	RecordConfig("ffn.w2", "float16", 1.9, 2*time.Second)

	if got := testutil.ToFloat64(ConfigsTotal) - before; got != 2 {
		t.Errorf("configs counter grew by %g, want 2", got)
	}
	if got := testutil.ToFloat64(MatmulSpeedup.WithLabelValues("ffn.w2", "float16")); got != 1.9 {
		t.Errorf("speedup gauge should hold the latest value, got %g", got)
	}
}

func TestRecordDeviceMemory(t *testing.T) {
	RecordDeviceMemory(1 << 30)
	RecordDeviceMemory(512 << 20)
	if got := testutil.ToFloat64(DeviceMemoryAllocated); got != float64(512<<20) {
		t.Errorf("gauge = %g", got)
	}
}

func TestRecordAllocFailure(t *testing.T) {
	before := testutil.ToFloat64(DeviceAllocFailures.WithLabelValues("budget"))
	RecordAllocFailure("budget")
	if got := testutil.ToFloat64(DeviceAllocFailures.WithLabelValues("budget")) - before; got != 1 {
		t.Errorf("failure counter grew by %g", got)
	}
}
