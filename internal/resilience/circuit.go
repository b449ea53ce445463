// Package resilience provides retry and circuit breaker helpers for calls
// into the backing store.
package resilience

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is where a store breaker sits in its cycle.
type CircuitState int

const (
	// CircuitClosed lets reads through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects reads until the cool-down elapses.
	CircuitOpen
	// CircuitHalfOpen admits one trial read at a time.
	CircuitHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen is the root of every rejection. Match it with errors.Is;
// the returned error also names the breaker.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerObserver receives state changes and rejections per breaker name.
// metrics.Metrics satisfies it.
type BreakerObserver interface {
	SetBreakerState(name string, state int)
	IncBreakerRejected(name string)
}

// CircuitBreakerConfig controls a store breaker.
type CircuitBreakerConfig struct {
	// Name labels logs, metrics and rejection errors, usually a table.
	Name string
	// FailureThreshold consecutive failures open the circuit. Default 5.
	FailureThreshold int
	// ResetTimeout is the cool-down before a trial read. Default 30s.
	ResetTimeout time.Duration
	// TrialSuccesses is how many trial reads must pass to close. Default 1.
	TrialSuccesses int

	OnStateChange func(name string, from, to CircuitState)
	Observer      BreakerObserver

	// Now overrides the clock in tests.
	Now func() time.Time
}

// DefaultCircuitBreakerConfig returns the defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		TrialSuccesses:   1,
	}
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	def := DefaultCircuitBreakerConfig()
	c.FailureThreshold = cmpOr(c.FailureThreshold, def.FailureThreshold)
	c.TrialSuccesses = cmpOr(c.TrialSuccesses, def.TrialSuccesses)
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = def.ResetTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

func cmpOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// CircuitBreaker stops a failing store read from being repeated on every
// stale registry access. Cancelled calls count as neither success nor
// failure, so one failing table in a concurrent fetch does not trip the
// breakers of its siblings.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     CircuitState
	failures  int
	trials    int
	trialBusy bool
	openedAt  time.Time
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{cfg: cfg.withDefaults()}
	if cb.cfg.Observer != nil {
		cb.cfg.Observer.SetBreakerState(cb.cfg.Name, int(CircuitClosed))
	}
	return cb
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn through the breaker. It returns an error matching
// ErrCircuitOpen without calling fn while the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal is Execute for functions that return a value. A nil breaker
// calls fn directly.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if cb == nil {
		return fn(ctx)
	}
	var zero T
	trial, err := cb.admit()
	if err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	cb.settle(trial, err)
	return val, err
}

// State returns the current state. An open circuit whose cool-down has
// elapsed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.cooled() {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.moveTo(CircuitClosed)
}

func (cb *CircuitBreaker) cooled() bool {
	return cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

// admit reports whether the call is a half-open trial, or rejects it.
func (cb *CircuitBreaker) admit() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return false, nil
	case CircuitOpen:
		if !cb.cooled() {
			return false, cb.reject()
		}
		cb.moveTo(CircuitHalfOpen)
	}
	if cb.trialBusy {
		return false, cb.reject()
	}
	cb.trialBusy = true
	return true, nil
}

func (cb *CircuitBreaker) reject() error {
	if cb.cfg.Observer != nil {
		cb.cfg.Observer.IncBreakerRejected(cb.cfg.Name)
	}
	if cb.cfg.Name == "" {
		return ErrCircuitOpen
	}
	return eris.Wrapf(ErrCircuitOpen, "store breaker %q", cb.cfg.Name)
}

func (cb *CircuitBreaker) settle(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if trial {
		cb.trialBusy = false
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	if err != nil {
		cb.failures++
		if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.moveTo(CircuitOpen)
		}
		return
	}

	cb.failures = 0
	if cb.state == CircuitHalfOpen {
		cb.trials++
		if cb.trials >= cb.cfg.TrialSuccesses {
			cb.moveTo(CircuitClosed)
		}
	}
}

// moveTo resets the counters owned by the target state. Caller holds mu.
func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.trials = 0
	switch to {
	case CircuitClosed:
		cb.failures = 0
	case CircuitOpen:
		cb.openedAt = cb.cfg.Now()
	}
	if from == to {
		return
	}
	if cb.cfg.Observer != nil {
		cb.cfg.Observer.SetBreakerState(cb.cfg.Name, int(to))
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// Breakers hands out one named breaker per store table, created on first
// use from a shared config. A nil *Breakers yields nil breakers, which
// ExecuteVal treats as pass-through.
type Breakers struct {
	cfg CircuitBreakerConfig

	mu     sync.Mutex
	byName map[string]*CircuitBreaker
}

// NewBreakers creates an empty set. cfg.Name is replaced per breaker.
func NewBreakers(cfg CircuitBreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, byName: make(map[string]*CircuitBreaker)}
}

// For returns the breaker for name, creating it if needed.
func (b *Breakers) For(name string) *CircuitBreaker {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.byName[name]; ok {
		return cb
	}
	cfg := b.cfg
	cfg.Name = name
	cb := NewCircuitBreaker(cfg)
	b.byName[name] = cb
	return cb
}

// BreakerStatus is one breaker's name and state.
type BreakerStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Status lists every breaker created so far, sorted by name.
func (b *Breakers) Status() []BreakerStatus {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	names := make([]string, 0, len(b.byName))
	for name := range b.byName {
		names = append(names, name)
	}
	b.mu.Unlock()
	sort.Strings(names)

	out := make([]BreakerStatus, 0, len(names))
	for _, name := range names {
		out = append(out, BreakerStatus{Name: name, State: b.For(name).State().String()})
	}
	return out
}
