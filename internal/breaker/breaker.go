package breaker

import (
	"sync"
	"time"

	"github.com/vitalsync/vitalsync/internal/errors"
	"github.com/vitalsync/vitalsync/internal/metrics"
)

// State represents the state of a circuit breaker target.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
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

// Breaker tracks consecutive failures per upstream target and fails fast
// while a target is open. After the cooldown, exactly one probe call is
// admitted; its outcome decides whether the circuit closes or re-opens with
// a doubled cooldown (capped at 8x the base).
type Breaker struct {
	mu      sync.Mutex
	targets map[string]*targetState

	threshold int
	cooldown  time.Duration

	metrics *metrics.Metrics
	now     func() time.Time
	onOpen  func(target string)
}

type targetState struct {
	state        State
	failures     int
	openedAt     time.Time
	cooldown     time.Duration
	probeStarted time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithMetrics attaches metrics recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Breaker) {
		b.metrics = m
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithOnOpen registers a callback fired when a target first trips open.
// Failed half-open probes do not re-fire it. The callback must not block.
func WithOnOpen(fn func(target string)) Option {
	return func(b *Breaker) {
		b.onOpen = fn
	}
}

// New creates a breaker that opens a target after threshold consecutive
// failures and keeps it open for the given cooldown.
func New(threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		targets:   make(map[string]*targetState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call to the target may proceed. While open it
// returns ErrCircuitOpen without any further work. When the cooldown has
// elapsed, the first caller becomes the half-open probe; concurrent callers
// keep getting rejected until the probe's result is recorded.
func (b *Breaker) Allow(target string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.target(target)
	now := b.now()

	switch ts.state {
	case StateClosed:
		return nil
	case StateOpen:
		if now.Sub(ts.openedAt) >= ts.cooldown {
			b.transition(target, ts, StateHalfOpen)
			ts.probeStarted = now
			return nil
		}
	case StateHalfOpen:
		// A probe abandoned without a recorded result (caller cancelled
		// mid-flight) must not wedge the target open forever.
		if now.Sub(ts.probeStarted) >= ts.cooldown {
			ts.probeStarted = now
			return nil
		}
	}

	if b.metrics != nil {
		b.metrics.RecordBreakerRejection(target)
	}
	return &errors.ErrCircuitOpen{Target: target}
}

// RecordSuccess records a successful call against the target.
func (b *Breaker) RecordSuccess(target string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.target(target)
	ts.failures = 0
	if ts.state != StateClosed {
		ts.cooldown = b.cooldown
		b.transition(target, ts, StateClosed)
	}
}

// RecordFailure records a failed call against the target.
func (b *Breaker) RecordFailure(target string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.target(target)
	now := b.now()

	switch ts.state {
	case StateClosed:
		ts.failures++
		if ts.failures >= b.threshold {
			ts.openedAt = now
			ts.cooldown = b.cooldown
			b.transition(target, ts, StateOpen)
			if b.onOpen != nil {
				b.onOpen(target)
			}
		}
	case StateHalfOpen:
		ts.openedAt = now
		ts.cooldown = ts.cooldown * 2
		if max := b.cooldown * 8; ts.cooldown > max {
			ts.cooldown = max
		}
		b.transition(target, ts, StateOpen)
	case StateOpen:
		// Late failure report from a call admitted before opening.
		ts.openedAt = now
	}
}

// StateOf returns the current state for a target.
func (b *Breaker) StateOf(target string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.target(target).state
}

// Reset closes the target and clears its counters.
func (b *Breaker) Reset(target string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.target(target)
	ts.failures = 0
	ts.cooldown = b.cooldown
	b.transition(target, ts, StateClosed)
}

func (b *Breaker) target(name string) *targetState {
	ts, ok := b.targets[name]
	if !ok {
		ts = &targetState{state: StateClosed, cooldown: b.cooldown}
		b.targets[name] = ts
	}
	return ts
}

func (b *Breaker) transition(name string, ts *targetState, to State) {
	ts.state = to
	if b.metrics != nil {
		b.metrics.SetBreakerState(name, int(to))
	}
}
