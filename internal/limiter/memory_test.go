package limiter

import (
	"context"
	"sync"
	"testing"
	"time"
)

func testPolicy() Policy {
	return Policy{Threshold: 5, Block: 2 * time.Hour, Window: 4 * time.Hour}
}

func newMemoryStoreAt(start time.Time) (*MemoryStore, *time.Time) {
	store := NewMemoryStore()
	current := start
	store.now = func() time.Time { return current }
	return store, &current
}

func TestMemoryThresholdSetsBlock(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store, _ := newMemoryStoreAt(start)
	ctx := context.Background()
	p := testPolicy()

	for i := 1; i <= 4; i++ {
		status, err := store.Fail(ctx, "user-1", p)
		if err != nil {
			t.Fatalf("fail %d: %v", i, err)
		}
		if status.Count != i {
			t.Fatalf("expected count %d, got %d", i, status.Count)
		}
		if status.Blocked(start) {
			t.Fatalf("blocked after only %d failures", i)
		}
	}

	status, err := store.Fail(ctx, "user-1", p)
	if err != nil {
		t.Fatalf("fail 5: %v", err)
	}
	if !status.Blocked(start) {
		t.Fatal("expected block at threshold")
	}
	if want := start.Add(2 * time.Hour); !status.BlockedUntil.Equal(want) {
		t.Fatalf("expected block until %v, got %v", want, status.BlockedUntil)
	}
}

func TestMemoryExpiredBlockRestartsCounter(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store, current := newMemoryStoreAt(start)
	ctx := context.Background()
	p := testPolicy()

	for i := 0; i < 5; i++ {
		if _, err := store.Fail(ctx, "user-1", p); err != nil {
			t.Fatalf("fail: %v", err)
		}
	}

	// Just before expiry the block still holds and failures keep counting.
	*current = start.Add(2*time.Hour - time.Second)
	status, _ := store.Fail(ctx, "user-1", p)
	if status.Count != 6 {
		t.Fatalf("expected count 6 during block, got %d", status.Count)
	}
	if !status.Blocked(*current) {
		t.Fatal("expected block to still hold")
	}

	// After expiry the next failure starts a fresh window at 1.
	*current = start.Add(2*time.Hour + time.Second)
	status, _ = store.Fail(ctx, "user-1", p)
	if status.Count != 1 {
		t.Fatalf("expected fresh counter at 1, got %d", status.Count)
	}
	if status.Blocked(*current) {
		t.Fatal("expected no block after fresh window")
	}
}

func TestMemoryResetClears(t *testing.T) {
	store, current := newMemoryStoreAt(time.Now())
	ctx := context.Background()
	p := testPolicy()

	for i := 0; i < 5; i++ {
		store.Fail(ctx, "user-1", p)
	}
	if err := store.Reset(ctx, "user-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	status, err := store.Status(ctx, "user-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Count != 0 || status.Blocked(*current) {
		t.Fatalf("expected cleared state, got %+v", status)
	}
}

func TestMemorySweepDropsExpired(t *testing.T) {
	start := time.Now()
	store, current := newMemoryStoreAt(start)
	ctx := context.Background()
	p := testPolicy()

	store.Fail(ctx, "a", p)
	store.Fail(ctx, "b", p)

	if removed := store.Sweep(); removed != 0 {
		t.Fatalf("expected nothing swept yet, removed %d", removed)
	}

	*current = start.Add(5 * time.Hour)
	if removed := store.Sweep(); removed != 2 {
		t.Fatalf("expected 2 swept, removed %d", removed)
	}
}

func TestMemoryConcurrentFailuresNotLost(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	p := Policy{Threshold: 1000, Block: time.Hour, Window: time.Hour}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				store.Fail(ctx, "user-1", p)
			}
		}()
	}
	wg.Wait()

	status, err := store.Status(ctx, "user-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Count != 500 {
		t.Fatalf("expected 500 recorded failures, got %d", status.Count)
	}
}
