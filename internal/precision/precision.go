package precision

import (
	"fmt"
	"strings"
)

// DType is the closed set of numeric formats the harness knows about.
type DType uint8

const (
	Invalid DType = iota
	Float32
	Float16
	BFloat16
	Float8E4M3FN
	Float8E5M2
)

// H100 SXM vendor peaks (dense).
const (
	H100PeakFloat32          = 67e12
	H100PeakFP16TensorCore   = 989e12
	H100PeakFloat8TensorCore = 1979e12
)

var names = [...]string{
	Invalid:      "invalid",
	Float32:      "float32",
	Float16:      "float16",
	BFloat16:     "bfloat16",
	Float8E4M3FN: "float8_e4m3fn",
	Float8E5M2:   "float8_e5m2",
}

func (d DType) String() string {
	if int(d) < len(names) {
		return names[d]
	}
	return fmt.Sprintf("DType(%d)", uint8(d))
}

// Size returns the element size in bytes, 0 for an unknown dtype.
func (d DType) Size() int {
	switch d {
	case Float32:
		return 4
	case Float16, BFloat16:
		return 2
	case Float8E4M3FN, Float8E5M2:
		return 1
	default:
		return 0
	}
}

func (d DType) IsFloat8() bool {
	return d == Float8E4M3FN || d == Float8E5M2
}

func (d DType) Valid() bool {
	return d > Invalid && d <= Float8E5M2
}

// PeakOpsPerSec maps a dtype onto one of the three peak classes:
// plain float32, 16-bit tensor core, 8-bit tensor core.
func (d DType) PeakOpsPerSec() float64 {
	switch d {
	case Float32:
		return H100PeakFloat32
	case Float16, BFloat16:
		return H100PeakFP16TensorCore
	case Float8E4M3FN, Float8E5M2:
		return H100PeakFloat8TensorCore
	default:
		return 0
	}
}

// Parse accepts the canonical names plus a few common aliases.
func Parse(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "fp32", "f32":
		return Float32, nil
	case "float16", "fp16", "f16", "half":
		return Float16, nil
	case "bfloat16", "bf16":
		return BFloat16, nil
	case "float8_e4m3fn", "e4m3fn", "e4m3", "fp8":
		return Float8E4M3FN, nil
	case "float8_e5m2", "e5m2":
		return Float8E5M2, nil
	}
	return Invalid, fmt.Errorf("unknown dtype %q", s)
}
