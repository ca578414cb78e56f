// Package report turns benchmark results into an Arrow record batch and
// renders it as a text table.
package report

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/quarrel-gemm/internal/bench"
)

// Column order of the record batch.
const (
	ColName = iota
	ColM
	ColK
	ColN
	ColDType
	ColRefTime
	ColFP8Time
	ColSpeedup
)

// Headers are the rendered column titles; shape folds m, k and n together.
var Headers = []string{"name", "shape", "dtype", "ref_time_s", "fp8_time_s", "fp8_speedup"}

var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "m", Type: arrow.PrimitiveTypes.Int64},
	{Name: "k", Type: arrow.PrimitiveTypes.Int64},
	{Name: "n", Type: arrow.PrimitiveTypes.Int64},
	{Name: "dtype", Type: arrow.BinaryTypes.String},
	{Name: "ref_time_s", Type: arrow.PrimitiveTypes.Float64},
	{Name: "fp8_time_s", Type: arrow.PrimitiveTypes.Float64},
	{Name: "fp8_speedup", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// Build packs results into a record batch, one row per result in order.
// The caller owns the record and must Release it.
func Build(mem memory.Allocator, results []bench.Result) arrow.Record {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	b := array.NewRecordBuilder(mem, Schema)
	defer b.Release()

	for _, r := range results {
		b.Field(ColName).(*array.StringBuilder).Append(r.Name)
		b.Field(ColM).(*array.Int64Builder).Append(int64(r.M))
		b.Field(ColK).(*array.Int64Builder).Append(int64(r.K))
		b.Field(ColN).(*array.Int64Builder).Append(int64(r.N))
		b.Field(ColDType).(*array.StringBuilder).Append(r.DType.String())
		b.Field(ColRefTime).(*array.Float64Builder).Append(r.RefSeconds)
		b.Field(ColFP8Time).(*array.Float64Builder).Append(r.FP8Seconds)
		b.Field(ColSpeedup).(*array.Float64Builder).Append(r.Speedup)
	}
	return b.NewRecord()
}

// Row is one rendered line of the table.
type Row struct {
	Name       string
	M, K, N    int64
	DType      string
	RefSeconds float64
	FP8Seconds float64
	Speedup    float64
}

// Rows reads the record back into Go values.
func Rows(rec arrow.Record) ([]Row, error) {
	if !rec.Schema().Equal(Schema) {
		return nil, fmt.Errorf("unexpected schema: %s", rec.Schema())
	}
	names := rec.Column(ColName).(*array.String)
	ms := rec.Column(ColM).(*array.Int64)
	ks := rec.Column(ColK).(*array.Int64)
	ns := rec.Column(ColN).(*array.Int64)
	dtypes := rec.Column(ColDType).(*array.String)
	refs := rec.Column(ColRefTime).(*array.Float64)
	fp8s := rec.Column(ColFP8Time).(*array.Float64)
	speedups := rec.Column(ColSpeedup).(*array.Float64)

	rows := make([]Row, rec.NumRows())
	for i := range rows {
		rows[i] = Row{
			Name:       names.Value(i),
			M:          ms.Value(i),
			K:          ks.Value(i),
			N:          ns.Value(i),
			DType:      dtypes.Value(i),
			RefSeconds: refs.Value(i),
			FP8Seconds: fp8s.Value(i),
			Speedup:    speedups.Value(i),
		}
	}
	return rows, nil
}

// Render prints the record as an indexed table.
func Render(w io.Writer, rec arrow.Record) error {
	rows, err := Rows(rec)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "\t")
	for _, h := range Headers {
		fmt.Fprintf(tw, "%s\t", h)
	}
	fmt.Fprintln(tw)
	for i, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t(%d, %d, %d)\t%s\t%s\t%s\t%s\t\n",
			i, r.Name, r.M, r.K, r.N, r.DType,
			formatFloat(r.RefSeconds), formatFloat(r.FP8Seconds), formatFloat(r.Speedup))
	}
	return tw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}
