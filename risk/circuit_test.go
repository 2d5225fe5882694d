package risk

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func TestBreakerTripAndTimedReset(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	b := NewBreaker(BreakerConfig{CoolOff: 30 * time.Second, Clock: clock})

	if b.IsOpen() {
		t.Fatalf("new breaker must be closed")
	}
	b.Trip("volatility_exceeded", nil)
	if !b.IsOpen() {
		t.Fatalf("expected open after trip")
	}

	// 冷却期内始终 OPEN
	clock.now = t0.Add(29 * time.Second)
	if !b.IsOpen() {
		t.Fatalf("expected open at t0+29s")
	}
	// 冷却期满即 CLOSED
	clock.now = t0.Add(30 * time.Second)
	if b.IsOpen() {
		t.Fatalf("expected closed at t0+30s")
	}
}

func TestBreakerRetripIsIdempotent(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: t0}
	b := NewBreaker(BreakerConfig{CoolOff: 30 * time.Second, Clock: clock})

	b.Trip("first", nil)
	opened := b.OpenedAt()

	// OPEN 期间重复触发不得刷新计时，否则持续触发条件会导致活锁
	clock.now = t0.Add(20 * time.Second)
	b.Trip("second", nil)
	if !b.OpenedAt().Equal(opened) {
		t.Fatalf("re-trip must not change openedAt: %v != %v", b.OpenedAt(), opened)
	}
	clock.now = t0.Add(30 * time.Second)
	if b.IsOpen() {
		t.Fatalf("re-trip must not extend cool-off")
	}
}

func TestBreakerOpenEventFiresOnce(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	opened := 0
	b := NewBreaker(BreakerConfig{
		CoolOff: time.Minute,
		Clock:   clock,
		OnOpen:  func(CircuitEvent) { opened++ },
	})
	b.Trip("r", nil)
	b.Trip("r", nil)
	b.Trip("r", nil)
	if opened != 1 {
		t.Fatalf("expected single open event, got %d", opened)
	}
}
