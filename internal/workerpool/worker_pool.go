// Package workerpool runs fan-out tasks on named, bounded goroutine pools.
// The server driver uses one for its periodic per-instrument snapshot
// publishing, so a slow transport send cannot stall the main tick loop.
package workerpool

import (
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Errors returned by Submit/SubmitTask in place of the underlying ants
// sentinel, so callers depend on this package rather than ants directly.
var (
	ErrPoolClosed      = errors.New("worker pool is closed")
	ErrPoolOverloaded  = errors.New("worker pool is overloaded")
	ErrInvalidPoolSize = errors.New("invalid pool size")
)

// Module provides a Factory to the fx graph.
var Module = fx.Options(
	fx.Provide(NewFactory),
)

// Factory creates and manages named ants pools.
type Factory struct {
	logger  *zap.Logger
	metrics *Metrics
	mu      sync.RWMutex
	pools   map[string]*ants.Pool
}

// Params is the fx.In parameter object for NewFactory.
type Params struct {
	fx.In

	Logger *zap.Logger
}

// NewFactory creates an empty pool factory.
func NewFactory(params Params) *Factory {
	return &Factory{
		logger:  params.Logger,
		metrics: NewMetrics(),
		pools:   make(map[string]*ants.Pool),
	}
}

// Pool returns the named pool, creating it with size workers on first use.
func (f *Factory) Pool(name string, size int) (*ants.Pool, error) {
	if size <= 0 {
		return nil, ErrInvalidPoolSize
	}

	f.mu.RLock()
	pool, ok := f.pools[name]
	f.mu.RUnlock()
	if ok {
		return pool, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if pool, ok = f.pools[name]; ok {
		return pool, nil
	}

	pool, err := ants.NewPool(size, ants.WithOptions(ants.Options{
		ExpiryDuration:   10 * time.Minute,
		PreAlloc:         true,
		MaxBlockingTasks: 1000,
		PanicHandler: func(rec any) {
			f.logger.Error("worker pool task panicked", zap.String("pool", name), zap.Any("panic", rec))
			f.metrics.RecordPanic(name)
		},
	}))
	if err != nil {
		return nil, err
	}

	f.pools[name] = pool
	f.logger.Info("created worker pool", zap.String("name", name), zap.Int("size", size))
	return pool, nil
}

// Submit runs task on the named pool (created with size workers if it does
// not already exist).
func (f *Factory) Submit(name string, size int, task func()) error {
	pool, err := f.Pool(name, size)
	if err != nil {
		return err
	}

	start := time.Now()
	err = pool.Submit(func() {
		defer func() {
			if rec := recover(); rec != nil {
				f.logger.Error("task panicked", zap.String("pool", name), zap.Any("panic", rec))
				f.metrics.RecordPanic(name)
				return
			}
			f.metrics.RecordExecution(name, true, time.Since(start))
		}()
		task()
	})

	return f.translateSubmitError(name, err)
}

// SubmitTask runs task on the named pool and records a failure if task
// returns a non-nil error.
func (f *Factory) SubmitTask(name string, size int, task func() error) error {
	pool, err := f.Pool(name, size)
	if err != nil {
		return err
	}

	start := time.Now()
	err = pool.Submit(func() {
		success := true
		defer func() {
			if rec := recover(); rec != nil {
				f.logger.Error("task panicked", zap.String("pool", name), zap.Any("panic", rec))
				f.metrics.RecordPanic(name)
				return
			}
			f.metrics.RecordExecution(name, success, time.Since(start))
		}()
		if taskErr := task(); taskErr != nil {
			f.logger.Error("task failed", zap.String("pool", name), zap.Error(taskErr))
			success = false
		}
	})

	return f.translateSubmitError(name, err)
}

func (f *Factory) translateSubmitError(name string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ants.ErrPoolClosed):
		return ErrPoolClosed
	case errors.Is(err, ants.ErrPoolOverload):
		f.metrics.RecordRejection(name)
		return ErrPoolOverloaded
	default:
		return err
	}
}

// Stats returns the running and capacity counts for the named pool.
func (f *Factory) Stats(name string) (running, capacity int, ok bool) {
	f.mu.RLock()
	pool, exists := f.pools[name]
	f.mu.RUnlock()
	if !exists {
		return 0, 0, false
	}
	return pool.Running(), pool.Cap(), true
}

// Metrics returns the factory's execution/failure/panic counters.
func (f *Factory) Metrics() *Metrics {
	return f.metrics
}

// Release releases every pool the factory has created.
func (f *Factory) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, pool := range f.pools {
		pool.Release()
		f.logger.Info("released worker pool", zap.String("name", name))
	}
	f.pools = make(map[string]*ants.Pool)
}

// Metrics counts executions, rejections, and panics per pool name.
type Metrics struct {
	mu         sync.RWMutex
	executions map[string]int64
	successes  map[string]int64
	rejections map[string]int64
	panics     map[string]int64
}

// NewMetrics creates an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		executions: make(map[string]int64),
		successes:  make(map[string]int64),
		rejections: make(map[string]int64),
		panics:     make(map[string]int64),
	}
}

// RecordExecution records one task completing, and whether it succeeded.
func (m *Metrics) RecordExecution(name string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[name]++
	if success {
		m.successes[name]++
	}
}

// RecordRejection records a task the pool refused because it was overloaded.
func (m *Metrics) RecordRejection(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections[name]++
}

// RecordPanic records a task that panicked during execution.
func (m *Metrics) RecordPanic(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics[name]++
}

// ExecutionCount returns the number of tasks completed on the named pool.
func (m *Metrics) ExecutionCount(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.executions[name]
}

// SuccessRate returns the fraction of completed tasks on the named pool
// that succeeded, or 0 if none have run.
func (m *Metrics) SuccessRate(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	executions := m.executions[name]
	if executions == 0 {
		return 0
	}
	return float64(m.successes[name]) / float64(executions)
}

// RejectionCount returns the number of tasks rejected on the named pool.
func (m *Metrics) RejectionCount(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rejections[name]
}

// PanicCount returns the number of tasks that panicked on the named pool.
func (m *Metrics) PanicCount(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.panics[name]
}
