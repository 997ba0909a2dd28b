package cache

import (
	"testing"
	"time"
)

func TestEmptyEntryMisses(t *testing.T) {
	entry := New[string]()
	if _, ok := entry.Get(); ok {
		t.Fatal("empty entry reported a hit")
	}
}

func TestSetThenGet(t *testing.T) {
	entry := New[[]int]()
	entry.Set([]int{1, 2, 3}, time.Minute)

	value, ok := entry.Get()
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if len(value) != 3 || value[0] != 1 {
		t.Fatalf("unexpected cached value %v", value)
	}
}

func TestExpiryHonorsTTL(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	entry := NewWithClock[string](func() time.Time { return now })
	entry.Set("fresh", 5*time.Minute)

	if _, ok := entry.Get(); !ok {
		t.Fatal("expected hit before expiry")
	}

	now = now.Add(5*time.Minute + time.Second)
	if _, ok := entry.Get(); ok {
		t.Fatal("expected miss after expiry")
	}
}

func TestInvalidateDiscardsSnapshot(t *testing.T) {
	entry := New[int]()
	entry.Set(42, time.Hour)
	entry.Invalidate()

	if _, ok := entry.Get(); ok {
		t.Fatal("expected miss after Invalidate")
	}
}

func TestSetAfterInvalidate(t *testing.T) {
	entry := New[int]()
	entry.Set(1, time.Hour)
	entry.Invalidate()
	entry.Set(2, time.Hour)

	value, ok := entry.Get()
	if !ok || value != 2 {
		t.Fatalf("Get = (%d, %v), want (2, true)", value, ok)
	}
}
