// Package resilience wraps per-transport sends with a circuit breaker so a
// socket that is failing repeatedly (a downed interface, a full send
// buffer) stops being hammered and the publisher's hot loop is not spent
// retrying a destination that keeps erroring.
package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides a CircuitBreakerFactory to the fx graph.
var Module = fx.Options(
	fx.Provide(NewCircuitBreakerFactory),
)

// Result is the outcome of a breaker-guarded call.
type Result struct {
	Value any
	Err   error
}

// CircuitBreakerFactory hands out one named circuit breaker per transport
// (e.g. "channel-1-a", "channel-1-b", "global-a"), creating it lazily on
// first use with the package defaults.
type CircuitBreakerFactory struct {
	logger   *zap.Logger
	metrics  *Metrics
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// Params is the fx.In parameter object for NewCircuitBreakerFactory.
type Params struct {
	fx.In

	Logger *zap.Logger
}

// NewCircuitBreakerFactory creates an empty factory.
func NewCircuitBreakerFactory(params Params) *CircuitBreakerFactory {
	return &CircuitBreakerFactory{
		logger:   params.Logger,
		metrics:  NewMetrics(),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// defaultSettings trips after at least 10 requests with a >=50% failure
// ratio, and probes again after a 10 second cool-down, short because a
// UDP send failure is usually transient (a route flap, a full kernel
// buffer) rather than a durable outage.
func (f *CircuitBreakerFactory) defaultSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			f.metrics.RecordStateChange(name, from.String(), to.String())
		},
	}
}

// Get returns the named circuit breaker, creating it with the package
// default settings on first use.
func (f *CircuitBreakerFactory) Get(name string) *gobreaker.CircuitBreaker {
	f.mu.RLock()
	cb, ok := f.breakers[name]
	f.mu.RUnlock()
	if ok {
		return cb
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok = f.breakers[name]; ok {
		return cb
	}
	cb = gobreaker.NewCircuitBreaker(f.defaultSettings(name))
	f.breakers[name] = cb
	return cb
}

// Execute runs fn through the named breaker and records the outcome.
func (f *CircuitBreakerFactory) Execute(name string, fn func() (any, error)) Result {
	cb := f.Get(name)
	value, err := cb.Execute(fn)
	f.metrics.RecordExecution(name, err == nil)
	return Result{Value: value, Err: err}
}

// State returns the current state of the named breaker, or StateClosed if
// it has never been created.
func (f *CircuitBreakerFactory) State(name string) gobreaker.State {
	f.mu.RLock()
	cb, ok := f.breakers[name]
	f.mu.RUnlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// Metrics returns the factory's execution/state-change counters.
func (f *CircuitBreakerFactory) Metrics() *Metrics {
	return f.metrics
}

// Reset discards every breaker and its metrics, returning the factory to
// its just-created state.
func (f *CircuitBreakerFactory) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.breakers = make(map[string]*gobreaker.CircuitBreaker)
	f.metrics.Reset()
}

// Metrics counts executions, successes, failures, and state transitions
// per breaker name.
type Metrics struct {
	mu           sync.RWMutex
	executions   map[string]int64
	successes    map[string]int64
	failures     map[string]int64
	stateChanges map[string]map[string]map[string]int64 // name -> from -> to -> count
}

// NewMetrics creates an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		executions:   make(map[string]int64),
		successes:    make(map[string]int64),
		failures:     make(map[string]int64),
		stateChanges: make(map[string]map[string]map[string]int64),
	}
}

// RecordExecution records one call's outcome.
func (m *Metrics) RecordExecution(name string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[name]++
	if success {
		m.successes[name]++
	} else {
		m.failures[name]++
	}
}

// RecordStateChange records one breaker transition.
func (m *Metrics) RecordStateChange(name, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stateChanges[name] == nil {
		m.stateChanges[name] = make(map[string]map[string]int64)
	}
	if m.stateChanges[name][from] == nil {
		m.stateChanges[name][from] = make(map[string]int64)
	}
	m.stateChanges[name][from][to]++
}

// ExecutionCount returns the number of calls made through the named breaker.
func (m *Metrics) ExecutionCount(name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.executions[name]
}

// SuccessRate returns the fraction of calls through the named breaker that
// succeeded, or 0 if it has never been called.
func (m *Metrics) SuccessRate(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	executions := m.executions[name]
	if executions == 0 {
		return 0
	}
	return float64(m.successes[name]) / float64(executions)
}

// StateChangeCount returns how many times the named breaker transitioned
// from "from" to "to".
func (m *Metrics) StateChangeCount(name, from, to string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byFrom, ok := m.stateChanges[name]
	if !ok {
		return 0
	}
	return byFrom[from][to]
}

// Reset zeroes every counter.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = make(map[string]int64)
	m.successes = make(map[string]int64)
	m.failures = make(map[string]int64)
	m.stateChanges = make(map[string]map[string]map[string]int64)
}
