// Package cpu is the compute device the harness benchmarks against. Tensors
// live in host memory; matmul kernels come from go-highway and run on a
// persistent worker pool. Every allocation is charged against a byte budget
// so oversized configurations fail the way a real accelerator would.
package cpu

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ajroetker/go-highway/hwy"
	"github.com/ajroetker/go-highway/hwy/contrib/workerpool"

	"github.com/23skdu/quarrel-gemm/internal/metrics"
	"github.com/23skdu/quarrel-gemm/internal/precision"
)

var (
	ErrOutOfMemory      = errors.New("device out of memory")
	ErrShapeMismatch    = errors.New("shape mismatch")
	ErrUnsupportedDType = errors.New("unsupported dtype")
	ErrLayout           = errors.New("unsupported tensor layout")
	ErrFreed            = errors.New("tensor already freed")
	ErrClosed           = errors.New("device context closed")
)

// DefaultMaxMemory matches an 80GB-class accelerator scaled to a workstation.
const DefaultMaxMemory int64 = 32 * 1024 * 1024 * 1024

type Context struct {
	mu        sync.Mutex
	pool      *workerpool.Pool
	maxMemory int64
	allocated atomic.Int64
	live      map[*Tensor]struct{}
	workspace map[string]workspaceBuf
	closed    bool
}

// NewContext starts a worker pool with the given number of workers
// (0 means GOMAXPROCS) and a memory budget in bytes (0 means DefaultMaxMemory).
func NewContext(workers int, maxMemory int64) *Context {
	if maxMemory <= 0 {
		maxMemory = DefaultMaxMemory
	}
	return &Context{
		pool:      workerpool.New(workers),
		maxMemory: maxMemory,
		live:      make(map[*Tensor]struct{}),
		workspace: make(map[string]workspaceBuf),
	}
}

// Close releases every live tensor and workspace and stops the pool.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for t := range c.live {
		t.freed = true
		t.data = nil
		c.trace(-t.bytes)
	}
	c.live = make(map[*Tensor]struct{})
	c.releaseWorkspaceLocked()
	c.pool.Close()
	c.closed = true
}

func (c *Context) Workers() int {
	return c.pool.NumWorkers()
}

func (c *Context) AllocatedBytes() int64 {
	return c.allocated.Load()
}

func (c *Context) MaxMemory() int64 {
	return c.maxMemory
}

func (c *Context) LiveTensors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

func (c *Context) trace(delta int64) {
	metrics.RecordDeviceMemory(c.allocated.Add(delta))
}

// reserve charges n bytes against the budget. Caller holds c.mu.
func (c *Context) reserve(n int64, what string) error {
	if c.closed {
		return ErrClosed
	}
	if cur := c.allocated.Load(); cur+n > c.maxMemory {
		metrics.RecordAllocFailure("budget")
		return fmt.Errorf("%w: tried to allocate %d bytes for %s (%d of %d in use)",
			ErrOutOfMemory, n, what, cur, c.maxMemory)
	}
	c.trace(n)
	return nil
}

// Tensor is a 2-D tensor. A tensor is either a base allocation or a
// transposed view sharing its base's storage.
type Tensor struct {
	dtype    precision.DType
	rows     int
	cols     int
	colMajor bool
	data     interface{}
	bytes    int64
	base     *Tensor
	freed    bool
}

func (t *Tensor) DType() precision.DType { return t.dtype }

func (t *Tensor) Shape() [2]int { return [2]int{t.rows, t.cols} }

// IsContiguous reports row-major storage.
func (t *Tensor) IsContiguous() bool { return !t.colMajor }

// IsView reports whether t borrows another tensor's storage.
func (t *Tensor) IsView() bool { return t.base != nil }

func (t *Tensor) Bytes() int64 { return t.root().bytes }

func (t *Tensor) root() *Tensor {
	if t.base != nil {
		return t.base
	}
	return t
}

func (t *Tensor) live() error {
	if t == nil {
		return fmt.Errorf("%w: nil tensor", ErrShapeMismatch)
	}
	if t.root().freed {
		return ErrFreed
	}
	return nil
}

// T returns the transpose as a view. No data moves.
func (t *Tensor) T() *Tensor {
	return &Tensor{
		dtype:    t.dtype,
		rows:     t.cols,
		cols:     t.rows,
		colMajor: !t.colMajor,
		data:     t.data,
		base:     t.root(),
	}
}

// At reads element (i, j) as float32 regardless of storage dtype or layout.
func (t *Tensor) At(i, j int) float32 {
	idx := i*t.cols + j
	if t.colMajor {
		idx = j*t.rows + i
	}
	switch d := t.data.(type) {
	case []float32:
		return d[idx]
	case []hwy.Float16:
		return d[idx].Float32()
	case []hwy.BFloat16:
		return d[idx].Float32()
	case []uint8:
		return precision.ToFloat32(t.dtype, d[idx])
	}
	return 0
}

// Raw storage accessors; nil when the dtype does not match.

func (t *Tensor) Float32s() []float32 {
	d, _ := t.data.([]float32)
	return d
}

func (t *Tensor) Float16s() []hwy.Float16 {
	d, _ := t.data.([]hwy.Float16)
	return d
}

func (t *Tensor) BFloat16s() []hwy.BFloat16 {
	d, _ := t.data.([]hwy.BFloat16)
	return d
}

func (t *Tensor) Uint8s() []uint8 {
	d, _ := t.data.([]uint8)
	return d
}

func newStorage(dtype precision.DType, n int) interface{} {
	switch dtype {
	case precision.Float32:
		return make([]float32, n)
	case precision.Float16:
		return make([]hwy.Float16, n)
	case precision.BFloat16:
		return make([]hwy.BFloat16, n)
	case precision.Float8E4M3FN, precision.Float8E5M2:
		return make([]uint8, n)
	}
	return nil
}

// Zeros allocates a zero-filled row-major tensor.
func (c *Context) Zeros(dtype precision.DType, rows, cols int) (*Tensor, error) {
	if !dtype.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, dtype)
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: invalid shape (%d, %d)", ErrShapeMismatch, rows, cols)
	}
	n := int64(rows) * int64(cols) * int64(dtype.Size())

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reserve(n, fmt.Sprintf("%s[%d,%d]", dtype, rows, cols)); err != nil {
		return nil, err
	}
	t := &Tensor{
		dtype: dtype,
		rows:  rows,
		cols:  cols,
		data:  newStorage(dtype, rows*cols),
		bytes: n,
	}
	c.live[t] = struct{}{}
	return t, nil
}

// Free releases a tensor's storage. Freeing a view frees its base.
func (c *Context) Free(t *Tensor) error {
	if t == nil {
		return nil
	}
	r := t.root()
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.freed {
		return ErrFreed
	}
	r.freed = true
	r.data = nil
	delete(c.live, r)
	c.trace(-r.bytes)
	return nil
}

// FreeAll frees each tensor, returning the first error.
func (c *Context) FreeAll(ts ...*Tensor) error {
	var first error
	for _, t := range ts {
		if err := c.Free(t); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type workspaceBuf struct {
	data  interface{}
	n     int
	bytes int64
}

// scratch returns a kernel workspace kept across calls so that timed
// kernels do not pay for allocation. Workspace counts against the budget.
func scratch[T any](c *Context, key string, n, elemSize int) ([]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ws, ok := c.workspace[key]; ok {
		if d, ok := ws.data.([]T); ok && ws.n == n {
			return d, nil
		}
		c.trace(-ws.bytes)
		delete(c.workspace, key)
	}
	bytes := int64(n) * int64(elemSize)
	if err := c.reserve(bytes, "workspace "+key); err != nil {
		return nil, err
	}
	d := make([]T, n)
	c.workspace[key] = workspaceBuf{data: d, n: n, bytes: bytes}
	return d, nil
}

// ReleaseWorkspace drops cached kernel workspaces.
func (c *Context) ReleaseWorkspace() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseWorkspaceLocked()
}

func (c *Context) releaseWorkspaceLocked() {
	for key, ws := range c.workspace {
		c.trace(-ws.bytes)
		delete(c.workspace, key)
	}
}

func (c *Context) parallelFor(n int, fn func(start, end int)) {
	c.pool.ParallelFor(n, fn)
}
