package precision

import (
	"math"
	"testing"
)

func TestPeakOpsPerSecClasses(t *testing.T) {
	tests := []struct {
		dtype  DType
		expect float64
	}{
		{Float32, 67e12},
		{Float16, 989e12},
		{BFloat16, 989e12},
		{Float8E4M3FN, 1979e12},
		{Float8E5M2, 1979e12},
		{Invalid, 0},
	}

	for _, tt := range tests {
		t.Run(tt.dtype.String(), func(t *testing.T) {
			if got := tt.dtype.PeakOpsPerSec(); got != tt.expect {
				t.Errorf("PeakOpsPerSec(%s) = %g, want %g", tt.dtype, got, tt.expect)
			}
		})
	}
}

func TestSize(t *testing.T) {
	sizes := map[DType]int{Float32: 4, Float16: 2, BFloat16: 2, Float8E4M3FN: 1, Float8E5M2: 1, Invalid: 0}
	for d, want := range sizes {
		if got := d.Size(); got != want {
			t.Errorf("%s.Size() = %d, want %d", d, got, want)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    DType
		wantErr bool
	}{
		{"bfloat16", BFloat16, false},
		{"BF16", BFloat16, false},
		{"float16", Float16, false},
		{" fp32 ", Float32, false},
		{"e4m3fn", Float8E4M3FN, false},
		{"float8_e5m2", Float8E5M2, false},
		{"int8", Invalid, true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("Parse(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestStringUnknown(t *testing.T) {
	if got := DType(42).String(); got != "DType(42)" {
		t.Errorf("unexpected string %q", got)
	}
	if DType(42).Valid() || Invalid.Valid() {
		t.Error("expected invalid dtypes to report !Valid")
	}
}

func TestE4M3FNKnownValues(t *testing.T) {
	tests := []struct {
		bits uint8
		val  float32
	}{
		{0x00, 0},
		{0x38, 1},
		{0xB8, -1},
		{0x40, 2},
		{0x7E, 448},
		{0x01, float32(math.Ldexp(1, -9))},
		{0x08, float32(math.Ldexp(1, -6))},
	}

	for _, tt := range tests {
		if got := ToFloat32(Float8E4M3FN, tt.bits); got != tt.val {
			t.Errorf("decode(0x%02X) = %g, want %g", tt.bits, got, tt.val)
		}
		if got := FromFloat32(Float8E4M3FN, tt.val); got != tt.bits {
			t.Errorf("encode(%g) = 0x%02X, want 0x%02X", tt.val, got, tt.bits)
		}
	}
}

func TestE5M2KnownValues(t *testing.T) {
	tests := []struct {
		bits uint8
		val  float32
	}{
		{0x3C, 1},
		{0xBC, -1},
		{0x7B, 57344},
		{0x01, float32(math.Ldexp(1, -16))},
	}

	for _, tt := range tests {
		if got := ToFloat32(Float8E5M2, tt.bits); got != tt.val {
			t.Errorf("decode(0x%02X) = %g, want %g", tt.bits, got, tt.val)
		}
		if got := FromFloat32(Float8E5M2, tt.val); got != tt.bits {
			t.Errorf("encode(%g) = 0x%02X, want 0x%02X", tt.val, got, tt.bits)
		}
	}
}

func TestFP8RoundTripAllCodes(t *testing.T) {
	for _, d := range []DType{Float8E4M3FN, Float8E5M2} {
		for i := 0; i < 256; i++ {
			b := uint8(i)
			f := ToFloat32(d, b)
			if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
				continue
			}
			got := FromFloat32(d, f)
			// -0 and +0 both round trip through their own sign bit
			if got != b {
				t.Errorf("%s: code 0x%02X -> %g -> 0x%02X", d, b, f, got)
			}
		}
	}
}

func TestFP8Overflow(t *testing.T) {
	if got := FromFloat32(Float8E4M3FN, 1000); !math.IsNaN(float64(ToFloat32(Float8E4M3FN, got))) {
		t.Errorf("e4m3fn overflow should be NaN, got 0x%02X", got)
	}
	if got := FromFloat32(Float8E4M3FN, 460); got != 0x7E {
		t.Errorf("460 should round down to 448 (0x7E), got 0x%02X", got)
	}
	if got := FromFloat32(Float8E5M2, 1e6); !math.IsInf(float64(ToFloat32(Float8E5M2, got)), 1) {
		t.Errorf("e5m2 overflow should be +Inf, got 0x%02X", got)
	}
	if got := FromFloat32(Float8E5M2, -1e6); !math.IsInf(float64(ToFloat32(Float8E5M2, got)), -1) {
		t.Errorf("e5m2 negative overflow should be -Inf, got 0x%02X", got)
	}
}

func TestFP8RoundToNearestEven(t *testing.T) {
	// 1.0625 is halfway between 1.0 (0x38) and 1.125 (0x39); ties go to even.
	if got := FromFloat32(Float8E4M3FN, 1.0625); got != 0x38 {
		t.Errorf("tie should round to even mantissa, got 0x%02X", got)
	}
	// 1.1875 is halfway between 1.125 and 1.25; 1.25 has the even mantissa.
	if got := FromFloat32(Float8E4M3FN, 1.1875); got != 0x3A {
		t.Errorf("tie should round to even mantissa, got 0x%02X", got)
	}
}

func TestFP8NaN(t *testing.T) {
	nan := float32(math.NaN())
	for _, d := range []DType{Float8E4M3FN, Float8E5M2} {
		if v := ToFloat32(d, FromFloat32(d, nan)); !math.IsNaN(float64(v)) {
			t.Errorf("%s: NaN did not survive encoding, got %g", d, v)
		}
	}
}

func TestDecodeTableNonFloat8(t *testing.T) {
	if DecodeTable(Float16) != nil {
		t.Error("expected nil table for float16")
	}
	if MaxFinite(Float8E4M3FN) != 448 || MaxFinite(Float8E5M2) != 57344 {
		t.Error("unexpected max finite values")
	}
}
