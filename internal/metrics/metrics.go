package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Path labels.
const (
	PathBaseline = "baseline"
	PathFP8      = "fp8"
)

var (
	MatmulTime = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matmul_time_seconds",
		Help: "Mean wall-clock time of one matmul call",
	}, []string{"name", "dtype", "path"})

	MatmulOpsPerSecond = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matmul_ops_per_second",
		Help: "Achieved operations per second",
	}, []string{"name", "dtype", "path"})

	MatmulPeakFraction = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matmul_peak_fraction",
		Help: "Achieved throughput as a fraction of the dtype's peak",
	}, []string{"name", "dtype", "path"})

	MatmulSpeedup = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matmul_speedup",
		Help: "Baseline time divided by fp8 time",
	}, []string{"name", "dtype"})

	ConfigsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matmul_configs_total",
		Help: "Number of (dtype, shape) configurations benchmarked",
	})

	ConfigDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matmul_config_duration_seconds",
		Help:    "Wall-clock time spent benchmarking one configuration, both paths included",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	})

	DeviceMemoryAllocated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "device_memory_allocated_bytes",
		Help: "Current bytes allocated on the compute device",
	})

	DeviceAllocFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_alloc_failures_total",
		Help: "Allocations rejected by the device",
	}, []string{"reason"})
)

// RecordMeasurement publishes one timed path.
func RecordMeasurement(name, dtype, path string, seconds, opsPerSec, peakFraction float64) {
	MatmulTime.WithLabelValues(name, dtype, path).Set(seconds)
	MatmulOpsPerSecond.WithLabelValues(name, dtype, path).Set(opsPerSec)
	MatmulPeakFraction.WithLabelValues(name, dtype, path).Set(peakFraction)
}

// RecordConfig closes out a configuration.
func RecordConfig(name, dtype string, speedup float64, elapsed time.Duration) {
	MatmulSpeedup.WithLabelValues(name, dtype).Set(speedup)
	ConfigsTotal.Inc()
	ConfigDuration.Observe(elapsed.Seconds())
}

func RecordDeviceMemory(bytes int64) {
	DeviceMemoryAllocated.Set(float64(bytes))
}

func RecordAllocFailure(reason string) {
	DeviceAllocFailures.WithLabelValues(reason).Inc()
}
