package breaker

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable time source for deterministic breaker tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New(3, 30*time.Second)

	for i := 0; i < 2; i++ {
		b.RecordFailure("provider")
	}
	if state := b.StateOf("provider"); state != StateClosed {
		t.Fatalf("after 2 failures: got %v, want closed", state)
	}
	if err := b.Allow("provider"); err != nil {
		t.Fatalf("Allow while closed: %v", err)
	}

	b.RecordFailure("provider")
	if state := b.StateOf("provider"); state != StateOpen {
		t.Fatalf("after 3 failures: got %v, want open", state)
	}
	if err := b.Allow("provider"); err == nil {
		t.Error("Allow while open: expected rejection, got nil")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(3, 30*time.Second)

	b.RecordFailure("provider")
	b.RecordFailure("provider")
	b.RecordSuccess("provider")
	b.RecordFailure("provider")
	b.RecordFailure("provider")

	if state := b.StateOf("provider"); state != StateClosed {
		t.Errorf("non-consecutive failures opened the circuit: got %v", state)
	}
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	clock := newFakeClock()
	b := New(1, 30*time.Second, WithClock(clock.Now))

	b.RecordFailure("provider")
	if err := b.Allow("provider"); err == nil {
		t.Fatal("Allow while open: expected rejection")
	}

	clock.Advance(31 * time.Second)

	// First caller after cooldown becomes the probe.
	if err := b.Allow("provider"); err != nil {
		t.Fatalf("probe Allow: %v", err)
	}
	if state := b.StateOf("provider"); state != StateHalfOpen {
		t.Fatalf("after probe admission: got %v, want half-open", state)
	}

	// Concurrent callers are rejected until the probe reports.
	if err := b.Allow("provider"); err == nil {
		t.Error("second caller during probe: expected rejection")
	}

	b.RecordSuccess("provider")
	if state := b.StateOf("provider"); state != StateClosed {
		t.Errorf("after probe success: got %v, want closed", state)
	}
	if err := b.Allow("provider"); err != nil {
		t.Errorf("Allow after recovery: %v", err)
	}
}

func TestBreaker_ProbeFailureDoublesCooldown(t *testing.T) {
	clock := newFakeClock()
	base := 10 * time.Second
	b := New(1, base, WithClock(clock.Now))

	b.RecordFailure("provider")

	// Fail the probe: cooldown doubles, so the base cooldown is no longer
	// enough to re-enter half-open.
	clock.Advance(base + time.Second)
	if err := b.Allow("provider"); err != nil {
		t.Fatalf("probe Allow: %v", err)
	}
	b.RecordFailure("provider")

	clock.Advance(base + time.Second)
	if err := b.Allow("provider"); err == nil {
		t.Error("Allow after base cooldown with doubled penalty: expected rejection")
	}

	clock.Advance(base + time.Second)
	if err := b.Allow("provider"); err != nil {
		t.Errorf("Allow after doubled cooldown: %v", err)
	}
}

func TestBreaker_CooldownCappedAtEightTimesBase(t *testing.T) {
	clock := newFakeClock()
	base := time.Second
	b := New(1, base, WithClock(clock.Now))

	b.RecordFailure("provider")

	// Fail many probes; cooldown must stop growing at 8x base.
	for i := 0; i < 10; i++ {
		clock.Advance(9 * base)
		if err := b.Allow("provider"); err != nil {
			t.Fatalf("probe %d Allow: %v", i, err)
		}
		b.RecordFailure("provider")
	}

	clock.Advance(8*base + time.Millisecond)
	if err := b.Allow("provider"); err != nil {
		t.Errorf("Allow after capped cooldown: %v", err)
	}
}

func TestBreaker_AbandonedProbeReadmitted(t *testing.T) {
	clock := newFakeClock()
	b := New(1, 10*time.Second, WithClock(clock.Now))

	b.RecordFailure("provider")
	clock.Advance(11 * time.Second)
	if err := b.Allow("provider"); err != nil {
		t.Fatalf("probe Allow: %v", err)
	}

	// The probe never reports (caller cancelled). After another cooldown a
	// new probe must be admitted.
	clock.Advance(11 * time.Second)
	if err := b.Allow("provider"); err != nil {
		t.Errorf("replacement probe Allow: %v", err)
	}
}

func TestBreaker_TargetsIndependent(t *testing.T) {
	b := New(1, 30*time.Second)

	b.RecordFailure("a")
	if err := b.Allow("a"); err == nil {
		t.Error("Allow target a while open: expected rejection")
	}
	if err := b.Allow("b"); err != nil {
		t.Errorf("Allow target b: %v", err)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := New(1, time.Hour)

	b.RecordFailure("provider")
	b.Reset("provider")

	if state := b.StateOf("provider"); state != StateClosed {
		t.Errorf("after Reset: got %v, want closed", state)
	}
	if err := b.Allow("provider"); err != nil {
		t.Errorf("Allow after Reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestBreaker_OnOpenFiresOnceOnInitialTrip(t *testing.T) {
	clk := newFakeClock()
	var opened []string
	b := New(2, 30*time.Second,
		WithClock(clk.Now),
		WithOnOpen(func(target string) { opened = append(opened, target) }),
	)

	b.RecordFailure("provider")
	b.RecordFailure("provider")
	if len(opened) != 1 || opened[0] != "provider" {
		t.Fatalf("after trip: opened = %v, want [provider]", opened)
	}

	// A failed half-open probe re-opens silently.
	clk.Advance(30 * time.Second)
	if err := b.Allow("provider"); err != nil {
		t.Fatalf("probe not admitted: %v", err)
	}
	b.RecordFailure("provider")
	if len(opened) != 1 {
		t.Errorf("failed probe re-fired onOpen: %v", opened)
	}
}
