package precision

import "math"

// fp8 layouts. e4m3fn has no infinities and a single NaN mantissa pattern;
// e5m2 follows IEEE conventions.
type fp8Format struct {
	mantBits int
	bias     int
	maxValue float64
	overflow uint8
	nan      uint8
}

var (
	e4m3fn = fp8Format{mantBits: 3, bias: 7, maxValue: 448, overflow: 0x7F, nan: 0x7F}
	e5m2   = fp8Format{mantBits: 2, bias: 15, maxValue: 57344, overflow: 0x7C, nan: 0x7E}
)

var (
	e4m3fnTable [256]float32
	e5m2Table   [256]float32
)

func init() {
	for i := 0; i < 256; i++ {
		e4m3fnTable[i] = decodeE4M3FN(uint8(i))
		e5m2Table[i] = decodeE5M2(uint8(i))
	}
}

func decodeE4M3FN(b uint8) float32 {
	sign := float32(1)
	if b&0x80 != 0 {
		sign = -1
	}
	exp := int(b>>3) & 0xF
	mant := int(b & 0x7)
	if exp == 0xF && mant == 0x7 {
		return float32(math.NaN())
	}
	if exp == 0 {
		return sign * float32(math.Ldexp(float64(mant), -9))
	}
	return sign * float32(math.Ldexp(1+float64(mant)/8, exp-7))
}

func decodeE5M2(b uint8) float32 {
	sign := float32(1)
	if b&0x80 != 0 {
		sign = -1
	}
	exp := int(b>>2) & 0x1F
	mant := int(b & 0x3)
	if exp == 0x1F {
		if mant == 0 {
			return sign * float32(math.Inf(1))
		}
		return float32(math.NaN())
	}
	if exp == 0 {
		return sign * float32(math.Ldexp(float64(mant), -16))
	}
	return sign * float32(math.Ldexp(1+float64(mant)/4, exp-15))
}

// DecodeTable returns the 256-entry lookup table for a float8 dtype.
// The table is shared and must not be modified.
func DecodeTable(d DType) *[256]float32 {
	switch d {
	case Float8E4M3FN:
		return &e4m3fnTable
	case Float8E5M2:
		return &e5m2Table
	default:
		return nil
	}
}

// ToFloat32 decodes a single float8 value. Non-float8 dtypes decode to NaN.
func ToFloat32(d DType, b uint8) float32 {
	t := DecodeTable(d)
	if t == nil {
		return float32(math.NaN())
	}
	return t[b]
}

// FromFloat32 encodes f with round-to-nearest-even. Out of range values
// become NaN for e4m3fn and infinity for e5m2, matching a non-saturating cast.
func FromFloat32(d DType, f float32) uint8 {
	switch d {
	case Float8E4M3FN:
		return e4m3fn.encode(f)
	case Float8E5M2:
		return e5m2.encode(f)
	default:
		return 0
	}
}

func (ff fp8Format) encode(f float32) uint8 {
	var sign uint8
	if math.Signbit(float64(f)) {
		sign = 0x80
	}
	if math.IsNaN(float64(f)) {
		return ff.nan
	}
	a := math.Abs(float64(f))
	if a == 0 {
		return sign
	}
	if math.IsInf(a, 0) {
		return sign | ff.overflow
	}

	_, e2 := math.Frexp(a)
	exp := e2 - 1
	minExp := 1 - ff.bias
	if exp < minExp {
		exp = minExp
	}
	quantum := math.Ldexp(1, exp-ff.mantBits)
	r := math.RoundToEven(a / quantum)
	if r*quantum > ff.maxValue {
		return sign | ff.overflow
	}

	implicit := float64(int(1) << ff.mantBits)
	if r >= 2*implicit {
		r /= 2
		exp++
	}
	if r < implicit {
		return sign | uint8(r)
	}
	biased := exp + ff.bias
	return sign | uint8(biased<<ff.mantBits) | uint8(r-implicit)
}

// MaxFinite is the largest finite magnitude of a float8 dtype.
func MaxFinite(d DType) float32 {
	switch d {
	case Float8E4M3FN:
		return float32(e4m3fn.maxValue)
	case Float8E5M2:
		return float32(e5m2.maxValue)
	default:
		return 0
	}
}
