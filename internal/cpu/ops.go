package cpu

import (
	"fmt"

	"github.com/ajroetker/go-highway/hwy"
	"github.com/ajroetker/go-highway/hwy/contrib/matmul"
	"github.com/ajroetker/go-highway/hwy/contrib/workerpool"

	"github.com/23skdu/quarrel-gemm/internal/precision"
)

// Contiguous returns t if it is already row-major, otherwise a new
// row-major copy.
func (c *Context) Contiguous(t *Tensor) (*Tensor, error) {
	if err := t.live(); err != nil {
		return nil, err
	}
	if t.IsContiguous() {
		return t, nil
	}
	out, err := c.Zeros(t.dtype, t.rows, t.cols)
	if err != nil {
		return nil, err
	}
	switch src := t.data.(type) {
	case []float32:
		transposeInto(c, out.data.([]float32), src, t.rows, t.cols)
	case []hwy.Float16:
		transposeInto(c, out.data.([]hwy.Float16), src, t.rows, t.cols)
	case []hwy.BFloat16:
		transposeInto(c, out.data.([]hwy.BFloat16), src, t.rows, t.cols)
	case []uint8:
		transposeInto(c, out.data.([]uint8), src, t.rows, t.cols)
	}
	return out, nil
}

// transposeInto writes the row-major form of a column-major rows x cols matrix.
func transposeInto[T any](c *Context, dst, src []T, rows, cols int) {
	c.parallelFor(rows, func(start, end int) {
		for i := start; i < end; i++ {
			row := dst[i*cols : (i+1)*cols]
			for j := range row {
				row[j] = src[j*rows+i]
			}
		}
	})
}

// Linear allocates the output of LinearInto.
func (c *Context) Linear(x, w *Tensor) (*Tensor, error) {
	if err := checkLinear(x, w); err != nil {
		return nil, err
	}
	out, err := c.Zeros(x.dtype, x.rows, w.rows)
	if err != nil {
		return nil, err
	}
	if err := c.LinearInto(out, x, w); err != nil {
		c.Free(out)
		return nil, err
	}
	return out, nil
}

// LinearInto computes out = x @ w^T, a bias-free dense layer with the weight
// stored [out_features, in_features]. x is [M, K], w is [N, K], out is [M, N].
func (c *Context) LinearInto(out, x, w *Tensor) error {
	if err := checkLinear(x, w); err != nil {
		return err
	}
	if err := out.live(); err != nil {
		return err
	}
	m, k, n := x.rows, x.cols, w.rows
	if out.rows != m || out.cols != n || !out.IsContiguous() {
		return fmt.Errorf("%w: output %v, want [%d %d] row-major", ErrShapeMismatch, out.Shape(), m, n)
	}
	if out.dtype != x.dtype {
		return fmt.Errorf("%w: output %s, input %s", ErrUnsupportedDType, out.dtype, x.dtype)
	}

	switch x.dtype {
	case precision.Float32:
		matmul.MatMulKLastAutoWithPoolFloat32(c.pool, x.Float32s(), w.Float32s(), out.Float32s(), m, n, k)
	case precision.Float16:
		matmul.MatMulKLastAutoWithPoolFloat16(c.pool, x.Float16s(), w.Float16s(), out.Float16s(), m, n, k)
	case precision.BFloat16:
		matmul.MatMulKLastAutoWithPoolBFloat16(c.pool, x.BFloat16s(), w.BFloat16s(), out.BFloat16s(), m, n, k)
	}
	return nil
}

func checkLinear(x, w *Tensor) error {
	if err := x.live(); err != nil {
		return err
	}
	if err := w.live(); err != nil {
		return err
	}
	switch x.dtype {
	case precision.Float32, precision.Float16, precision.BFloat16:
	default:
		return fmt.Errorf("%w: linear in %s", ErrUnsupportedDType, x.dtype)
	}
	if w.dtype != x.dtype {
		return fmt.Errorf("%w: input %s, weight %s", ErrUnsupportedDType, x.dtype, w.dtype)
	}
	if !x.IsContiguous() || !w.IsContiguous() {
		return fmt.Errorf("%w: linear needs row-major input and weight", ErrLayout)
	}
	if x.cols != w.cols {
		return fmt.Errorf("%w: input [%d %d] vs weight [%d %d]", ErrShapeMismatch, x.rows, x.cols, w.rows, w.cols)
	}
	return nil
}

// ScaledMMOptions mirrors the knobs of a fused float8 GEMM.
type ScaledMMOptions struct {
	OutDType precision.DType
	// ScaleA and ScaleB dequantize the inputs; zero means 1.
	ScaleA float32
	ScaleB float32
	// FastAccum accumulates in the output precision instead of float32.
	FastAccum bool
}

// ScaledMM allocates the output of ScaledMMInto.
func (c *Context) ScaledMM(a, b *Tensor, opts ScaledMMOptions) (*Tensor, error) {
	if err := checkScaledMM(a, b, opts); err != nil {
		return nil, err
	}
	out, err := c.Zeros(opts.OutDType, a.rows, b.cols)
	if err != nil {
		return nil, err
	}
	if err := c.ScaledMMInto(out, a, b, opts); err != nil {
		c.Free(out)
		return nil, err
	}
	return out, nil
}

// ScaledMMInto computes out = (scaleA*a) @ (scaleB*b) for float8 a [M, K]
// (row-major) and b [K, N] (column-major). Inputs are decoded through the
// format's lookup table and multiplied by the library's K-last kernel.
func (c *Context) ScaledMMInto(out, a, b *Tensor, opts ScaledMMOptions) error {
	if err := checkScaledMM(a, b, opts); err != nil {
		return err
	}
	if err := out.live(); err != nil {
		return err
	}
	m, k, n := a.rows, a.cols, b.cols
	if out.rows != m || out.cols != n || !out.IsContiguous() || out.dtype != opts.OutDType {
		return fmt.Errorf("%w: output %s%v, want %s[%d %d]", ErrShapeMismatch, out.dtype, out.Shape(), opts.OutDType, m, n)
	}

	scale := float32(1)
	if opts.ScaleA != 0 {
		scale *= opts.ScaleA
	}
	if opts.ScaleB != 0 {
		scale *= opts.ScaleB
	}

	// column-major [K, N] storage is row-major [N, K]: the K-last layout
	aBits, bBits := a.Uint8s(), b.Uint8s()
	aTab, bTab := precision.DecodeTable(a.dtype), precision.DecodeTable(b.dtype)

	if opts.FastAccum {
		switch opts.OutDType {
		case precision.Float16:
			return fastAccum(c, out.Float16s(), aBits, bBits, aTab, bTab, scale, m, n, k, 2,
				hwy.Float32ToFloat16, matmul.MatMulKLastAutoWithPoolFloat16)
		case precision.BFloat16:
			return fastAccum(c, out.BFloat16s(), aBits, bBits, aTab, bTab, scale, m, n, k, 2,
				hwy.Float32ToBFloat16, matmul.MatMulKLastAutoWithPoolBFloat16)
		}
	}

	wsA, err := scratch[float32](c, "fp8.a", m*k, 4)
	if err != nil {
		return err
	}
	wsB, err := scratch[float32](c, "fp8.b", n*k, 4)
	if err != nil {
		return err
	}
	wsC, err := scratch[float32](c, "fp8.c", m*n, 4)
	if err != nil {
		return err
	}
	decodeInto(c, wsA, aBits, aTab, 1, identity)
	decodeInto(c, wsB, bBits, bTab, 1, identity)
	matmul.MatMulKLastAutoWithPoolFloat32(c.pool, wsA, wsB, wsC, m, n, k)

	switch opts.OutDType {
	case precision.Float32:
		convertInto(c, out.Float32s(), wsC, scale, identity)
	case precision.Float16:
		convertInto(c, out.Float16s(), wsC, scale, hwy.Float32ToFloat16)
	case precision.BFloat16:
		convertInto(c, out.BFloat16s(), wsC, scale, hwy.Float32ToBFloat16)
	}
	return nil
}

// fastAccum decodes straight into the output precision and lets the kernel
// accumulate there. The combined scale is folded into a.
func fastAccum[T any](c *Context, out []T, aBits, bBits []uint8, aTab, bTab *[256]float32,
	scale float32, m, n, k, elemSize int, conv func(float32) T,
	kernel func(pool *workerpool.Pool, a, b, c []T, m, n, k int)) error {
	wsA, err := scratch[T](c, "fp8.fast.a", m*k, elemSize)
	if err != nil {
		return err
	}
	wsB, err := scratch[T](c, "fp8.fast.b", n*k, elemSize)
	if err != nil {
		return err
	}
	decodeInto(c, wsA, aBits, aTab, scale, conv)
	decodeInto(c, wsB, bBits, bTab, 1, conv)
	kernel(c.pool, wsA, wsB, out, m, n, k)
	return nil
}

func checkScaledMM(a, b *Tensor, opts ScaledMMOptions) error {
	if err := a.live(); err != nil {
		return err
	}
	if err := b.live(); err != nil {
		return err
	}
	if !a.dtype.IsFloat8() || !b.dtype.IsFloat8() {
		return fmt.Errorf("%w: scaled mm expects float8 inputs, got %s x %s", ErrUnsupportedDType, a.dtype, b.dtype)
	}
	if a.dtype == precision.Float8E5M2 && b.dtype == precision.Float8E5M2 {
		return fmt.Errorf("%w: %s x %s is not a supported pairing", ErrUnsupportedDType, a.dtype, b.dtype)
	}
	switch opts.OutDType {
	case precision.Float32, precision.Float16, precision.BFloat16:
	default:
		return fmt.Errorf("%w: scaled mm output %s", ErrUnsupportedDType, opts.OutDType)
	}
	if !a.IsContiguous() {
		return fmt.Errorf("%w: mat1 must be row-major", ErrLayout)
	}
	if b.IsContiguous() {
		return fmt.Errorf("%w: mat2 must be column-major", ErrLayout)
	}
	if a.cols != b.rows {
		return fmt.Errorf("%w: [%d %d] @ [%d %d]", ErrShapeMismatch, a.rows, a.cols, b.rows, b.cols)
	}
	return nil
}

func identity(f float32) float32 { return f }

func decodeInto[T any](c *Context, dst []T, src []uint8, table *[256]float32, scale float32, conv func(float32) T) {
	c.parallelFor(len(src), func(start, end int) {
		for i := start; i < end; i++ {
			dst[i] = conv(table[src[i]] * scale)
		}
	})
}

func convertInto[T any](c *Context, dst []T, src []float32, scale float32, conv func(float32) T) {
	c.parallelFor(len(src), func(start, end int) {
		if scale == 1 {
			for i := start; i < end; i++ {
				dst[i] = conv(src[i])
			}
			return
		}
		for i := start; i < end; i++ {
			dst[i] = conv(src[i] * scale)
		}
	})
}
