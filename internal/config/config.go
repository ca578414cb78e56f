package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the harness can be told from the command line.
type Config struct {
	// Limit caps the number of (dtype, shape) configurations; negative means all.
	Limit int

	BatchSize int
	SeqLen    int

	Warmup     int
	MinRunTime time.Duration

	Workers   int
	MaxMemory int64
	Seed      uint64

	LogLevel    string
	LogFormat   string
	MetricsAddr string
	FlightAddr  string
}

const NoLimit = -1

var ErrUsage = errors.New("usage error")

func Default() Config {
	return Config{
		Limit:      NoLimit,
		BatchSize:  4,
		SeqLen:     4096,
		Warmup:     4,
		MinRunTime: 200 * time.Millisecond,
		MaxMemory:  32 * 1024 * 1024 * 1024,
		Seed:       0x5eed,
		LogLevel:   "info",
		LogFormat:  "console",
	}
}

// M is the row count of every activation: batch * sequence length.
func (c *Config) M() int {
	return c.BatchSize * c.SeqLen
}

func (c *Config) HasLimit() bool {
	return c.Limit >= 0
}

func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("invalid batch: %d (must be positive)", c.BatchSize)
	}
	if c.SeqLen <= 0 {
		return fmt.Errorf("invalid seq_len: %d (must be positive)", c.SeqLen)
	}
	if c.Warmup < 0 {
		return fmt.Errorf("invalid warmup: %d (must be non-negative)", c.Warmup)
	}
	if c.MinRunTime <= 0 {
		return fmt.Errorf("invalid min_run_time: %s (must be positive)", c.MinRunTime)
	}
	if c.Workers < 0 {
		return fmt.Errorf("invalid workers: %d (must be non-negative)", c.Workers)
	}
	if c.MaxMemory <= 0 {
		return fmt.Errorf("invalid max_memory: %d (must be positive)", c.MaxMemory)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q (console or json)", c.LogFormat)
	}
	return nil
}

// ParseLimit reads the optional positional limit. No argument means no limit.
func ParseLimit(args []string) (int, error) {
	switch len(args) {
	case 0:
		return NoLimit, nil
	case 1:
	default:
		return 0, fmt.Errorf("%w: expected at most one argument, got %d", ErrUsage, len(args))
	}
	n, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil {
		return 0, fmt.Errorf("%w: limit %q is not an integer", ErrUsage, args[0])
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: limit %d must be non-negative", ErrUsage, n)
	}
	return n, nil
}

// ParseBytes accepts plain byte counts or KiB/MiB/GiB suffixed values.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{
		{"GiB", 1 << 30},
		{"MiB", 1 << 20},
		{"KiB", 1 << 10},
		{"G", 1 << 30},
		{"M", 1 << 20},
		{"K", 1 << 10},
	} {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSuffix(s, u.suffix)
			mult = u.mult
			break
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return n * mult, nil
}
