// Package resilience holds the concurrency primitives used by the memory
// engine: a priority semaphore, an async mutex, a per-key mutex and a
// circuit breaker guarding remote embedding providers.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/blueberrycongee/convostore/internal/metrics"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	// StateClosed lets calls through.
	StateClosed CircuitState = iota
	// StateOpen rejects calls until the open timeout elapses.
	StateOpen
	// StateHalfOpen admits a few probe calls.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by callers when Allow refuses a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// HalfOpenMaxRequests caps concurrent probes while half-open.
	HalfOpenMaxRequests int
}

// DefaultCircuitBreakerConfig suits a hosted embedding API.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// CircuitBreaker stops calling a dependency that keeps failing. State is
// exported as the convostore_circuit_breaker_state gauge under its name.
type CircuitBreaker struct {
	mu        sync.Mutex
	name      string
	cfg       CircuitBreakerConfig
	state     CircuitState
	failures  int
	successes int
	probes    int
	openedAt  time.Time
	now       func() time.Time
	listeners []func(name string, from, to CircuitState)
}

// NewCircuitBreaker creates a closed breaker. Zero config fields take the
// defaults.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}
	cb := &CircuitBreaker{name: name, cfg: cfg, now: time.Now}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return cb
}

// SetClock replaces the time source. Intended for tests.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	cb.now = now
	cb.mu.Unlock()
}

// OnStateChange registers a listener. Listeners run synchronously after the
// breaker lock is released.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	cb.listeners = append(cb.listeners, fn)
	cb.mu.Unlock()
}

// Allow reports whether a call may proceed. An open circuit whose timeout has
// elapsed moves to half-open and admits the caller as a probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	var allowed bool
	var change *transition
	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cfg.Timeout {
			change = cb.setState(StateHalfOpen)
			cb.probes = 1
			allowed = true
		}
	case StateHalfOpen:
		if cb.probes < cb.cfg.HalfOpenMaxRequests {
			cb.probes++
			allowed = true
		}
	}
	cb.mu.Unlock()
	cb.notify(change)
	return allowed
}

// RecordSuccess reports a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var change *transition
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.probes > 0 {
			cb.probes--
		}
		if cb.successes >= cb.cfg.SuccessThreshold {
			change = cb.setState(StateClosed)
		}
	}
	cb.mu.Unlock()
	cb.notify(change)
}

// RecordFailure reports a failed call. A half-open failure reopens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	var change *transition
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			change = cb.setState(StateOpen)
		}
	case StateHalfOpen:
		change = cb.setState(StateOpen)
	case StateOpen:
		cb.openedAt = cb.now()
	}
	cb.mu.Unlock()
	cb.notify(change)
}

// Release returns an admitted call's probe slot without counting it as a
// success or a failure. Callers use it for outcomes that say nothing about
// the dependency's health, such as a rejected request or a canceled context.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
	cb.mu.Unlock()
}

// State returns the current state without advancing it.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset closes the circuit and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	change := cb.setState(StateClosed)
	cb.failures = 0
	cb.mu.Unlock()
	cb.notify(change)
}

type transition struct {
	from, to  CircuitState
	listeners []func(name string, from, to CircuitState)
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(to CircuitState) *transition {
	from := cb.state
	cb.state = to
	cb.successes = 0
	cb.probes = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if from == to {
		return nil
	}
	metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(float64(to))
	return &transition{from: from, to: to, listeners: cb.listeners}
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil {
		return
	}
	for _, fn := range t.listeners {
		fn(cb.name, t.from, t.to)
	}
}
