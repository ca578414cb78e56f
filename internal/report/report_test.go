package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/quarrel-gemm/internal/bench"
	"github.com/23skdu/quarrel-gemm/internal/precision"
)

func sampleResults() []bench.Result {
	return []bench.Result{
		{Name: "attn.wqkv", M: 16384, K: 8192, N: 1280, DType: precision.BFloat16, RefSeconds: 0.004, FP8Seconds: 0.0025, Speedup: 0.004 / 0.0025},
		{Name: "attn.w0", M: 16384, K: 1024, N: 8192, DType: precision.Float16, RefSeconds: 0.0012, FP8Seconds: 0.001, Speedup: 0.0012 / 0.001},
	}
}

func TestBuildPreservesOrderAndValues(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	results := sampleResults()
	rec := Build(mem, results)
	defer rec.Release()

	if rec.NumCols() != int64(len(Schema.Fields())) {
		t.Fatalf("got %d columns", rec.NumCols())
	}
	if rec.NumRows() != int64(len(results)) {
		t.Fatalf("got %d rows, want %d", rec.NumRows(), len(results))
	}

	rows, err := Rows(rec)
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range rows {
		want := results[i]
		if r.Name != want.Name || r.DType != want.DType.String() {
			t.Errorf("row %d: %s/%s", i, r.Name, r.DType)
		}
		if r.M != int64(want.M) || r.K != int64(want.K) || r.N != int64(want.N) {
			t.Errorf("row %d: shape (%d, %d, %d)", i, r.M, r.K, r.N)
		}
		if r.RefSeconds != want.RefSeconds || r.FP8Seconds != want.FP8Seconds || r.Speedup != want.Speedup {
			t.Errorf("row %d: times %g %g %g", i, r.RefSeconds, r.FP8Seconds, r.Speedup)
		}
	}
}

func TestBuildEmpty(t *testing.T) {
	rec := Build(nil, nil)
	defer rec.Release()
	if rec.NumRows() != 0 {
		t.Errorf("got %d rows", rec.NumRows())
	}

	var buf bytes.Buffer
	if err := Render(&buf, rec); err != nil {
		t.Fatal(err)
	}
	if lines := strings.Split(strings.TrimSpace(buf.String()), "\n"); len(lines) != 1 {
		t.Errorf("empty table should only have a header, got %q", buf.String())
	}
}

func TestRenderColumns(t *testing.T) {
	rec := Build(nil, sampleResults())
	defer rec.Release()

	var buf bytes.Buffer
	if err := Render(&buf, rec); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines:\n%s", len(lines), buf.String())
	}

	header := strings.Fields(lines[0])
	if strings.Join(header, ",") != strings.Join(Headers, ",") {
		t.Errorf("header = %v, want %v", header, Headers)
	}

	first := lines[1]
	for _, want := range []string{"0", "attn.wqkv", "(16384, 8192, 1280)", "bfloat16", "0.004", "0.0025", "1.6"} {
		if !strings.Contains(first, want) {
			t.Errorf("row 0 missing %q: %q", want, first)
		}
	}
	if !strings.HasPrefix(strings.TrimSpace(lines[2]), "1") {
		t.Errorf("row 1 should start with its index: %q", lines[2])
	}

	// name must come before shape which must come before dtype
	iName := strings.Index(first, "attn.wqkv")
	iShape := strings.Index(first, "(16384")
	iDType := strings.Index(first, "bfloat16")
	if !(iName < iShape && iShape < iDType) {
		t.Errorf("column order wrong in %q", first)
	}
}
