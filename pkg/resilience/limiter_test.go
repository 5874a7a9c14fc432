package resilience

import (
	"testing"
	"time"
)

func TestKeyedLimiter_BurstPerKey(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := NewKeyedLimiter(1, 2, time.Minute)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.Allow("a") {
		t.Fatal("third request within the same instant should be limited")
	}
	if !l.Allow("b") {
		t.Fatal("keys must not share buckets")
	}

	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Fatal("token should refill after one second")
	}
}

func TestKeyedLimiter_EvictsIdleKeys(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := NewKeyedLimiter(5, 1, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	if l.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", l.Len())
	}

	now = now.Add(2 * time.Minute)
	l.Allow("c")
	if l.Len() != 1 {
		t.Fatalf("expected idle keys evicted, got %d", l.Len())
	}
}

func TestNewKeyedLimiter_MinBurst(t *testing.T) {
	l := NewKeyedLimiter(1, 0, 0)
	if l.burst != 1 || l.idle != 10*time.Minute {
		t.Fatalf("unexpected defaults burst=%d idle=%s", l.burst, l.idle)
	}
}
