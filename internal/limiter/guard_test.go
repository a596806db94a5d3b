package limiter

import (
	"context"
	"testing"
	"time"
)

func TestLockoutGuardFiveFailuresLockForTwoHours(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store, current := newMemoryStoreAt(start)
	guard := NewLockoutGuard(store, 5, 2*time.Hour)
	guard.now = func() time.Time { return *current }
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := guard.RecordFailure(ctx, "u-1"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	locked, _, err := guard.IsLocked(ctx, "u-1")
	if err != nil {
		t.Fatalf("is locked: %v", err)
	}
	if locked {
		t.Fatal("locked before threshold")
	}

	if _, err := guard.RecordFailure(ctx, "u-1"); err != nil {
		t.Fatalf("record 5th failure: %v", err)
	}

	locked, until, err := guard.IsLocked(ctx, "u-1")
	if err != nil {
		t.Fatalf("is locked: %v", err)
	}
	if !locked {
		t.Fatal("expected lock after 5th failure")
	}
	if want := start.Add(2 * time.Hour); !until.Equal(want) {
		t.Fatalf("expected lock until %v, got %v", want, until)
	}

	// Lock holds right up to expiry, then clears.
	*current = start.Add(2*time.Hour - time.Second)
	if locked, _, _ = guard.IsLocked(ctx, "u-1"); !locked {
		t.Fatal("lock released early")
	}
	*current = start.Add(2 * time.Hour)
	if locked, _, _ = guard.IsLocked(ctx, "u-1"); locked {
		t.Fatal("lock held past expiry")
	}

	// First failure after expiry restarts the counter at 1.
	status, err := guard.RecordFailure(ctx, "u-1")
	if err != nil {
		t.Fatalf("record failure after expiry: %v", err)
	}
	if status.Count != 1 {
		t.Fatalf("expected counter restart at 1, got %d", status.Count)
	}
}

func TestLockoutGuardResetOnSuccess(t *testing.T) {
	store, current := newMemoryStoreAt(time.Now())
	guard := NewLockoutGuard(store, 5, 2*time.Hour)
	guard.now = func() time.Time { return *current }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		guard.RecordFailure(ctx, "u-1")
	}
	if err := guard.Reset(ctx, "u-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	// A failure after reset starts over, so four more are needed to lock.
	for i := 0; i < 4; i++ {
		guard.RecordFailure(ctx, "u-1")
	}
	if locked, _, _ := guard.IsLocked(ctx, "u-1"); locked {
		t.Fatal("locked before a fresh 5 failures")
	}
}

func TestPhoneThrottleBlocksAtLimit(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store, current := newMemoryStoreAt(start)
	throttle := NewPhoneThrottle(store, 5, 15*time.Minute)
	throttle.now = func() time.Time { return *current }
	ctx := context.Background()

	// Requests up to and including the limit are allowed.
	for i := 1; i <= 5; i++ {
		ok, _, err := throttle.Allow(ctx, "+254700000001")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("request %d unexpectedly blocked", i)
		}
	}

	ok, until, err := throttle.Allow(ctx, "+254700000001")
	if err != nil {
		t.Fatalf("allow over limit: %v", err)
	}
	if ok {
		t.Fatal("expected block after limit")
	}
	if want := start.Add(15 * time.Minute); !until.Equal(want) {
		t.Fatalf("expected block until %v, got %v", want, until)
	}

	// Auto-unblocks once the window passes; fresh count afterwards.
	*current = start.Add(15*time.Minute + time.Second)
	ok, _, err = throttle.Allow(ctx, "+254700000001")
	if err != nil {
		t.Fatalf("allow after expiry: %v", err)
	}
	if !ok {
		t.Fatal("expected throttle to release after block expiry")
	}
}
