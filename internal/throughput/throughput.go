package throughput

import "github.com/23skdu/quarrel-gemm/internal/precision"

// Measurement is one timed path of a configuration.
type Measurement struct {
	Seconds      float64
	OpsPerSec    float64
	PeakFraction float64
}

// Ops counts the multiply-adds of an [m,k] x [k,n] product as two ops each.
func Ops(m, n, k int) int64 {
	return 2 * int64(m) * int64(n) * int64(k)
}

// Derive converts a measured time into throughput and fraction of peak.
func Derive(ops int64, seconds, peak float64) Measurement {
	opsPerSec := float64(ops) / seconds
	return Measurement{
		Seconds:      seconds,
		OpsPerSec:    opsPerSec,
		PeakFraction: opsPerSec / peak,
	}
}

// ForDType is Derive with the peak constant looked up from the dtype.
func ForDType(ops int64, seconds float64, d precision.DType) Measurement {
	return Derive(ops, seconds, d.PeakOpsPerSec())
}
