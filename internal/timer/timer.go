// Package timer measures the mean wall-clock duration of a call using a
// warmup phase followed by blocked autoranging.
package timer

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultWarmup     = 4
	DefaultMinRunTime = 200 * time.Millisecond

	// a block must last at least MinRunTime/blockFraction before it is trusted
	blockFraction = 20
	maxBlockSize  = 1 << 30
)

var ErrInvalidTimer = errors.New("invalid timer configuration")

// Clock abstracts time.Now so tests can drive the timer deterministically.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Timer runs warmup calls then autoranges until MinRunTime is covered.
type Timer struct {
	Warmup     int
	MinRunTime time.Duration
	Clock      Clock
}

func New(warmup int, minRunTime time.Duration) *Timer {
	return &Timer{Warmup: warmup, MinRunTime: minRunTime, Clock: wallClock{}}
}

// Stats describes one measurement.
type Stats struct {
	Mean      float64
	Calls     int
	BlockSize int
	Total     time.Duration
}

// Measure returns the mean seconds per call of fn.
func (t *Timer) Measure(fn func() error) (float64, error) {
	s, err := t.MeasureStats(fn)
	if err != nil {
		return 0, err
	}
	return s.Mean, nil
}

// MeasureStats is Measure with the block bookkeeping exposed.
func (t *Timer) MeasureStats(fn func() error) (Stats, error) {
	if t.Warmup < 0 || t.MinRunTime <= 0 {
		return Stats{}, fmt.Errorf("%w: warmup=%d min_run_time=%s", ErrInvalidTimer, t.Warmup, t.MinRunTime)
	}
	clock := t.Clock
	if clock == nil {
		clock = wallClock{}
	}

	for i := 0; i < t.Warmup; i++ {
		if err := fn(); err != nil {
			return Stats{}, fmt.Errorf("warmup call %d: %w", i, err)
		}
	}

	blockSize, err := t.estimateBlockSize(clock, fn)
	if err != nil {
		return Stats{}, err
	}

	var total time.Duration
	calls := 0
	for total < t.MinRunTime {
		d, err := runBlock(clock, fn, blockSize)
		if err != nil {
			return Stats{}, err
		}
		total += d
		calls += blockSize
	}

	return Stats{
		Mean:      total.Seconds() / float64(calls),
		Calls:     calls,
		BlockSize: blockSize,
		Total:     total,
	}, nil
}

func (t *Timer) estimateBlockSize(clock Clock, fn func() error) (int, error) {
	target := t.MinRunTime / blockFraction
	n := 1
	for {
		d, err := runBlock(clock, fn, n)
		if err != nil {
			return 0, err
		}
		if d >= target || n >= maxBlockSize {
			return n, nil
		}
		n *= 10
	}
}

func runBlock(clock Clock, fn func() error, n int) (time.Duration, error) {
	start := clock.Now()
	for i := 0; i < n; i++ {
		if err := fn(); err != nil {
			return 0, fmt.Errorf("timed call: %w", err)
		}
	}
	return clock.Now().Sub(start), nil
}
