package bench

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/23skdu/quarrel-gemm/internal/cpu"
	"github.com/23skdu/quarrel-gemm/internal/logger"
	"github.com/23skdu/quarrel-gemm/internal/metrics"
	"github.com/23skdu/quarrel-gemm/internal/precision"
	"github.com/23skdu/quarrel-gemm/internal/throughput"
)

// FP8 operand format. Both operands use e4m3fn; the output takes the baseline dtype.
const fp8DType = precision.Float8E4M3FN

// Device is the accelerator surface the runner needs.
type Device interface {
	Zeros(dtype precision.DType, rows, cols int) (*cpu.Tensor, error)
	RandN(dtype precision.DType, rows, cols int, seed uint64) (*cpu.Tensor, error)
	NewLinearWeight(dtype precision.DType, inFeatures, outFeatures int, seed uint64) (*cpu.Tensor, error)
	Contiguous(t *cpu.Tensor) (*cpu.Tensor, error)
	LinearInto(out, x, w *cpu.Tensor) error
	ScaledMMInto(out, a, b *cpu.Tensor, opts cpu.ScaledMMOptions) error
	FreeAll(ts ...*cpu.Tensor) error
	ReleaseWorkspace()
}

// Measurer returns the mean seconds per call of fn.
type Measurer interface {
	Measure(fn func() error) (float64, error)
}

// Observer is told about run progress. Used by the status server.
type Observer interface {
	Start(total int)
	ConfigDone(res Result)
}

// Result is one row of the final report.
type Result struct {
	Name       string
	M, K, N    int
	DType      precision.DType
	RefSeconds float64
	FP8Seconds float64
	Speedup    float64

	Ref throughput.Measurement
	FP8 throughput.Measurement
}

type Runner struct {
	Device Device
	Timer  Measurer
	DTypes []precision.DType
	Shapes []Shape
	M      int
	Limit  int
	Seed   uint64
	// Progress receives the human-readable per-configuration lines.
	Progress io.Writer
	Observer Observer
}

// Configs lists what Run will benchmark, in order.
func (r *Runner) Configs() []Config {
	return Enumerate(r.DTypes, r.Shapes, r.M, r.Limit)
}

// Run benchmarks every configuration in order. The first failure stops the
// run; results gathered so far are returned alongside the error.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	log := logger.Log.With("bench")
	configs := r.Configs()
	results := make([]Result, 0, len(configs))
	if r.Observer != nil {
		r.Observer.Start(len(configs))
	}

	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		start := time.Now()
		res, err := r.runOne(cfg)
		if err != nil {
			return results, fmt.Errorf("%s %s: %w", cfg.Shape.Name, cfg.DType, err)
		}
		elapsed := time.Since(start)
		metrics.RecordConfig(res.Name, res.DType.String(), res.Speedup, elapsed)
		log.Debug("configuration done",
			"index", cfg.Index,
			"name", res.Name,
			"dtype", res.DType.String(),
			"speedup", res.Speedup,
			"elapsed", elapsed,
		)
		results = append(results, res)
		if r.Observer != nil {
			r.Observer.ConfigDone(res)
		}
	}
	return results, nil
}

func (r *Runner) runOne(cfg Config) (Result, error) {
	m, k, n := cfg.M, cfg.K(), cfg.N()
	ops := cfg.Ops()
	r.printf("M, K, N: %d %d %d\n", m, k, n)
	r.printf("tops: %.2E\n", float64(ops))

	refSec, err := r.timeBaseline(cfg)
	if err != nil {
		return Result{}, fmt.Errorf("baseline: %w", err)
	}
	ref := throughput.ForDType(ops, refSec, cfg.DType)
	r.printf("%s time_sec %.2E, tops/sec %.2E, pct_peak %.3f\n", cfg.DType, ref.Seconds, ref.OpsPerSec, ref.PeakFraction)
	metrics.RecordMeasurement(cfg.Shape.Name, cfg.DType.String(), metrics.PathBaseline, ref.Seconds, ref.OpsPerSec, ref.PeakFraction)

	fp8Sec, err := r.timeFP8(cfg)
	if err != nil {
		return Result{}, fmt.Errorf("fp8: %w", err)
	}
	fp8 := throughput.ForDType(ops, fp8Sec, fp8DType)
	r.printf("fp8 time_sec %.2E, tops/sec %.2E, pct_peak %.3f\n", fp8.Seconds, fp8.OpsPerSec, fp8.PeakFraction)
	metrics.RecordMeasurement(cfg.Shape.Name, cfg.DType.String(), metrics.PathFP8, fp8.Seconds, fp8.OpsPerSec, fp8.PeakFraction)

	return Result{
		Name:       cfg.Shape.Name,
		M:          m,
		K:          k,
		N:          n,
		DType:      cfg.DType,
		RefSeconds: refSec,
		FP8Seconds: fp8Sec,
		Speedup:    refSec / fp8Sec,
		Ref:        ref,
		FP8:        fp8,
	}, nil
}

// timeBaseline times a bias-free dense layer on a random input.
func (r *Runner) timeBaseline(cfg Config) (sec float64, err error) {
	var held []*cpu.Tensor
	defer func() { r.release(held, &err) }()

	seed := r.Seed + uint64(cfg.Index)*2
	x, err := r.Device.RandN(cfg.DType, cfg.M, cfg.K(), seed)
	if err != nil {
		return 0, err
	}
	held = append(held, x)
	w, err := r.Device.NewLinearWeight(cfg.DType, cfg.K(), cfg.N(), seed+1)
	if err != nil {
		return 0, err
	}
	held = append(held, w)
	out, err := r.Device.Zeros(cfg.DType, cfg.M, cfg.N())
	if err != nil {
		return 0, err
	}
	held = append(held, out)

	return r.Timer.Measure(func() error {
		return r.Device.LinearInto(out, x, w)
	})
}

// timeFP8 times the fused float8 matmul on zero-filled operands. The weight
// goes through transpose, contiguous, transpose to end up column-major.
func (r *Runner) timeFP8(cfg Config) (sec float64, err error) {
	var held []*cpu.Tensor
	defer func() { r.release(held, &err) }()

	a, err := r.Device.Zeros(fp8DType, cfg.M, cfg.K())
	if err != nil {
		return 0, err
	}
	held = append(held, a)

	raw, err := r.Device.Zeros(fp8DType, cfg.K(), cfg.N())
	if err != nil {
		return 0, err
	}
	packed, err := r.Device.Contiguous(raw.T())
	if ferr := r.Device.FreeAll(raw); err == nil {
		err = ferr
	}
	if err != nil {
		return 0, err
	}
	b := packed.T()
	held = append(held, b)

	out, err := r.Device.Zeros(cfg.DType, cfg.M, cfg.N())
	if err != nil {
		return 0, err
	}
	held = append(held, out)

	opts := cpu.ScaledMMOptions{OutDType: cfg.DType, FastAccum: false}
	return r.Timer.Measure(func() error {
		return r.Device.ScaledMMInto(out, a, b, opts)
	})
}

func (r *Runner) release(held []*cpu.Tensor, errp *error) {
	if ferr := r.Device.FreeAll(held...); ferr != nil && *errp == nil {
		*errp = ferr
	}
	r.Device.ReleaseWorkspace()
}

func (r *Runner) printf(format string, args ...interface{}) {
	if r.Progress != nil {
		fmt.Fprintf(r.Progress, format, args...)
	}
}
