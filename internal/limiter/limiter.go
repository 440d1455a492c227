package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/vitalsync/vitalsync/internal/metrics"
)

// Limiter enforces the provider's request quota with two sliding windows
// (per-minute and per-day by default) plus a minimum spacing between
// consecutive requests. Acquire blocks until a slot is free in both windows;
// it never fails except on context cancellation.
//
// Windows are pruned on every Acquire, so no background timer is needed.
// A slot is consumed at admission time and is not refunded on caller
// cancellation afterwards, because the request may already have reached the
// provider.
type Limiter struct {
	mu     sync.Mutex
	scopes map[string]*scopeState

	shortQuota  int
	shortWindow time.Duration
	longQuota   int
	longWindow  time.Duration
	minSpacing  time.Duration

	metrics *metrics.Metrics
	now     func() time.Time
}

type scopeState struct {
	short []time.Time
	long  []time.Time
	last  time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithMetrics attaches metrics recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter with the given quotas. shortQuota applies over
// shortWindow, longQuota over longWindow; both must hold for admission.
func New(shortQuota int, shortWindow time.Duration, longQuota int, longWindow time.Duration, minSpacing time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		scopes:      make(map[string]*scopeState),
		shortQuota:  shortQuota,
		shortWindow: shortWindow,
		longQuota:   longQuota,
		longWindow:  longWindow,
		minSpacing:  minSpacing,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until the given scope has capacity in both windows and the
// minimum spacing has elapsed, then consumes a slot. Returns ctx.Err() if
// the caller is cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context, scopeKey string) error {
	start := l.now()

	for {
		l.mu.Lock()
		state, ok := l.scopes[scopeKey]
		if !ok {
			state = &scopeState{}
			l.scopes[scopeKey] = state
		}

		now := l.now()
		state.short = prune(state.short, now.Add(-l.shortWindow))
		state.long = prune(state.long, now.Add(-l.longWindow))

		wait := l.admissibleIn(state, now)
		if wait <= 0 {
			state.short = append(state.short, now)
			state.long = append(state.long, now)
			state.last = now
			l.mu.Unlock()
			if l.metrics != nil {
				l.metrics.RecordLimiterWait(now.Sub(start).Seconds())
			}
			return nil
		}
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// admissibleIn returns how long until a slot could be free. Zero or
// negative means admissible now. Caller holds the lock.
func (l *Limiter) admissibleIn(state *scopeState, now time.Time) time.Duration {
	var wait time.Duration

	if !state.last.IsZero() {
		if d := state.last.Add(l.minSpacing).Sub(now); d > wait {
			wait = d
		}
	}
	if len(state.short) >= l.shortQuota {
		if d := state.short[0].Add(l.shortWindow).Sub(now); d > wait {
			wait = d
		}
	}
	if len(state.long) >= l.longQuota {
		if d := state.long[0].Add(l.longWindow).Sub(now); d > wait {
			wait = d
		}
	}
	return wait
}

// Usage returns how many admissions are currently inside each window.
func (l *Limiter) Usage(scopeKey string) (short, long int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.scopes[scopeKey]
	if !ok {
		return 0, 0
	}
	now := l.now()
	state.short = prune(state.short, now.Add(-l.shortWindow))
	state.long = prune(state.long, now.Add(-l.longWindow))
	return len(state.short), len(state.long)
}

// prune drops timestamps at or before cutoff, keeping order.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
