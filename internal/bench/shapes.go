package bench

import (
	"slices"

	"github.com/23skdu/quarrel-gemm/internal/precision"
	"github.com/23skdu/quarrel-gemm/internal/throughput"
)

// Shape is one weight matrix, K input features by N output features.
type Shape struct {
	Name string
	K    int
	N    int
}

// LLaMa 2 70B single-node weight shapes with fused attn.wqkv and ffn.w13.
var llama2_70B = []Shape{
	{Name: "attn.wqkv", K: 8192, N: 1280},
	{Name: "attn.w0", K: 1024, N: 8192},
	{Name: "ffn.w13", K: 8192, N: 7168},
	{Name: "ffn.w2", K: 3584, N: 8192},
}

var baselineDTypes = []precision.DType{precision.BFloat16, precision.Float16}

// Llama2_70BShapes returns a copy of the shape table in benchmark order.
func Llama2_70BShapes() []Shape {
	return slices.Clone(llama2_70B)
}

// BaselineDTypes returns the reference precisions in benchmark order.
func BaselineDTypes() []precision.DType {
	return slices.Clone(baselineDTypes)
}

// Config is one (precision, shape) pair.
type Config struct {
	Index int
	DType precision.DType
	Shape Shape
	M     int
}

func (c Config) K() int { return c.Shape.K }
func (c Config) N() int { return c.Shape.N }

func (c Config) Ops() int64 {
	return throughput.Ops(c.M, c.Shape.N, c.Shape.K)
}

// Enumerate walks dtypes x shapes dtype-major. A negative limit means all.
func Enumerate(dtypes []precision.DType, shapes []Shape, m, limit int) []Config {
	total := len(dtypes) * len(shapes)
	if limit >= 0 && limit < total {
		total = limit
	}
	out := make([]Config, 0, total)
	for _, d := range dtypes {
		for _, s := range shapes {
			if len(out) == total {
				return out
			}
			out = append(out, Config{Index: len(out), DType: d, Shape: s, M: m})
		}
	}
	return out
}
