package cpu

import (
	"math"
	"math/rand/v2"

	"github.com/ajroetker/go-highway/hwy"

	"github.com/23skdu/quarrel-gemm/internal/precision"
)

// fillChunk fixes the unit of random generation so the contents of a
// seeded tensor do not depend on the worker count.
const fillChunk = 1 << 16

// RandN allocates a tensor of standard normal samples.
func (c *Context) RandN(dtype precision.DType, rows, cols int, seed uint64) (*Tensor, error) {
	t, err := c.Zeros(dtype, rows, cols)
	if err != nil {
		return nil, err
	}
	c.fill(t, seed, func(r *rand.Rand) float32 {
		return float32(r.NormFloat64())
	})
	return t, nil
}

// Uniform allocates a tensor of samples from [lo, hi).
func (c *Context) Uniform(dtype precision.DType, rows, cols int, lo, hi float32, seed uint64) (*Tensor, error) {
	t, err := c.Zeros(dtype, rows, cols)
	if err != nil {
		return nil, err
	}
	span := hi - lo
	c.fill(t, seed, func(r *rand.Rand) float32 {
		return lo + span*r.Float32()
	})
	return t, nil
}

// NewLinearWeight allocates a dense layer weight in [out_features, in_features]
// layout with the usual kaiming-uniform bound 1/sqrt(in_features).
func (c *Context) NewLinearWeight(dtype precision.DType, inFeatures, outFeatures int, seed uint64) (*Tensor, error) {
	bound := float32(1 / math.Sqrt(float64(inFeatures)))
	return c.Uniform(dtype, outFeatures, inFeatures, -bound, bound, seed)
}

func (c *Context) fill(t *Tensor, seed uint64, gen func(r *rand.Rand) float32) {
	total := t.rows * t.cols
	chunks := (total + fillChunk - 1) / fillChunk
	c.parallelFor(chunks, func(start, end int) {
		for ch := start; ch < end; ch++ {
			r := rand.New(rand.NewPCG(seed, uint64(ch)))
			lo := ch * fillChunk
			hi := min(lo+fillChunk, total)
			switch d := t.data.(type) {
			case []float32:
				for i := lo; i < hi; i++ {
					d[i] = gen(r)
				}
			case []hwy.Float16:
				for i := lo; i < hi; i++ {
					d[i] = hwy.Float32ToFloat16(gen(r))
				}
			case []hwy.BFloat16:
				for i := lo; i < hi; i++ {
					d[i] = hwy.Float32ToBFloat16(gen(r))
				}
			case []uint8:
				for i := lo; i < hi; i++ {
					d[i] = precision.FromFloat32(t.dtype, gen(r))
				}
			}
		}
	})
}

// FromValues allocates a row-major tensor holding vals converted to dtype.
func (c *Context) FromValues(dtype precision.DType, rows, cols int, vals []float32) (*Tensor, error) {
	if len(vals) != rows*cols {
		return nil, ErrShapeMismatch
	}
	t, err := c.Zeros(dtype, rows, cols)
	if err != nil {
		return nil, err
	}
	switch d := t.data.(type) {
	case []float32:
		copy(d, vals)
	case []hwy.Float16:
		for i, v := range vals {
			d[i] = hwy.Float32ToFloat16(v)
		}
	case []hwy.BFloat16:
		for i, v := range vals {
			d[i] = hwy.Float32ToBFloat16(v)
		}
	case []uint8:
		for i, v := range vals {
			d[i] = precision.FromFloat32(dtype, v)
		}
	}
	return t, nil
}
