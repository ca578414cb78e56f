// Command matmul_bench compares 16-bit matmul throughput against the fp8
// scaled-matmul path for the LLaMa-2 70B weight shapes.
//
//	matmul_bench [flags] [limit]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"
	"os"
	"os/signal"
	"syscall"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/quarrel-gemm/internal/arrow_client"
	"github.com/23skdu/quarrel-gemm/internal/bench"
	"github.com/23skdu/quarrel-gemm/internal/config"
	"github.com/23skdu/quarrel-gemm/internal/cpu"
	"github.com/23skdu/quarrel-gemm/internal/logger"
	"github.com/23skdu/quarrel-gemm/internal/monitoring"
	"github.com/23skdu/quarrel-gemm/internal/report"
	"github.com/23skdu/quarrel-gemm/internal/timer"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// parseFlags fills a Config from the command line.
func parseFlags(args []string, stderr io.Writer) (config.Config, error) {
	cfg := config.Default()

	fs := flag.NewFlagSet("matmul_bench", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: matmul_bench [flags] [limit]\n")
		fs.PrintDefaults()
	}

	maxMemory := "32GiB"
	fs.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "Batch size; M = batch * seq-len")
	fs.IntVar(&cfg.SeqLen, "seq-len", cfg.SeqLen, "Sequence length")
	fs.IntVar(&cfg.Warmup, "warmup", cfg.Warmup, "Untimed calls before measuring")
	fs.DurationVar(&cfg.MinRunTime, "min-run-time", cfg.MinRunTime, "Minimum measured time per path")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Worker pool size (0 = GOMAXPROCS)")
	fs.StringVar(&maxMemory, "max-memory", maxMemory, "Device memory budget (bytes, or K/M/GiB suffix)")
	fs.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Seed for random inputs and weights")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (console or json)")
	fs.StringVar(&cfg.MetricsAddr, "metrics", "", "Address to serve Prometheus metrics (empty disables)")
	fs.StringVar(&cfg.FlightAddr, "flight", "", "Arrow Flight address to upload results to (empty disables)")

	if err := fs.Parse(args); err != nil {
		return cfg, fmt.Errorf("%w: %w", config.ErrUsage, err)
	}

	var err error
	if cfg.MaxMemory, err = config.ParseBytes(maxMemory); err != nil {
		return cfg, fmt.Errorf("%w: %v", config.ErrUsage, err)
	}
	if cfg.Limit, err = config.ParseLimit(fs.Args()); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %v", config.ErrUsage, err)
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "matmul_bench: %v\n", err)
		return exitUsage
	}
	if err := logger.SetupWriter(stderr, cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(stderr, "matmul_bench: %v\n", err)
		return exitUsage
	}
	log := logger.Log.With("main")

	dev := cpu.NewContext(cfg.Workers, cfg.MaxMemory)
	defer dev.Close()

	var monitor *monitoring.HealthMonitor
	if cfg.MetricsAddr != "" {
		monitor = monitoring.NewHealthMonitor(dev.AllocatedBytes)
		go func() {
			if err := monitor.Start(cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Monitor server error", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			monitor.Stop(ctx)
		}()
	}

	runner := &bench.Runner{
		Device:   dev,
		Timer:    timer.New(cfg.Warmup, cfg.MinRunTime),
		DTypes:   bench.BaselineDTypes(),
		Shapes:   bench.Llama2_70BShapes(),
		M:        cfg.M(),
		Limit:    cfg.Limit,
		Seed:     cfg.Seed,
		Progress: stdout,
	}
	if monitor != nil {
		runner.Observer = monitor.Observer()
	}
	log.Info("Starting benchmark",
		"configs", len(runner.Configs()), "m", runner.M,
		"workers", dev.Workers(), "max_memory", dev.MaxMemory())

	results, err := runner.Run(ctx)
	if monitor != nil {
		monitor.Finish(err)
	}
	if err != nil {
		log.Error("Benchmark failed", "error", err)
		return exitFailure
	}

	rec := report.Build(memory.NewGoAllocator(), results)
	defer rec.Release()
	if err := report.Render(stdout, rec); err != nil {
		log.Error("Failed to render report", "error", err)
		return exitFailure
	}

	if cfg.FlightAddr != "" {
		if err := arrow_client.Export(ctx, cfg.FlightAddr, rec); err != nil {
			log.Error("Failed to export results", "addr", cfg.FlightAddr, "error", err)
			return exitFailure
		}
		log.Info("Exported results", "addr", cfg.FlightAddr, "rows", rec.NumRows())
	}
	return exitOK
}
