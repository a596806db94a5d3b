package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStoreTest(t *testing.T) (*RedisStore, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := NewRedisStore(rdb, "test:")
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }
	return store, &current
}

func TestRedisThresholdSetsBlock(t *testing.T) {
	store, current := newRedisStoreTest(t)
	ctx := context.Background()
	p := testPolicy()

	var status Status
	var err error
	for i := 1; i <= 5; i++ {
		status, err = store.Fail(ctx, "user-1", p)
		if err != nil {
			t.Fatalf("fail %d: %v", i, err)
		}
		if status.Count != i {
			t.Fatalf("expected count %d, got %d", i, status.Count)
		}
	}

	if !status.Blocked(*current) {
		t.Fatal("expected block at threshold")
	}
	if want := current.Add(2 * time.Hour); !status.BlockedUntil.Equal(want) {
		t.Fatalf("expected block until %v, got %v", want, status.BlockedUntil)
	}

	// Status agrees with the Fail result.
	observed, err := store.Status(ctx, "user-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if observed.Count != 5 || !observed.Blocked(*current) {
		t.Fatalf("unexpected status %+v", observed)
	}
}

func TestRedisExpiredBlockRestartsCounter(t *testing.T) {
	store, current := newRedisStoreTest(t)
	ctx := context.Background()
	p := testPolicy()

	for i := 0; i < 5; i++ {
		if _, err := store.Fail(ctx, "user-1", p); err != nil {
			t.Fatalf("fail: %v", err)
		}
	}

	*current = current.Add(2*time.Hour + time.Second)
	status, err := store.Fail(ctx, "user-1", p)
	if err != nil {
		t.Fatalf("fail after expiry: %v", err)
	}
	if status.Count != 1 {
		t.Fatalf("expected fresh counter at 1, got %d", status.Count)
	}
	if status.Blocked(*current) {
		t.Fatal("expected no block after fresh window")
	}
}

func TestRedisResetClears(t *testing.T) {
	store, current := newRedisStoreTest(t)
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

func TestRedisStatusMissingKey(t *testing.T) {
	store, _ := newRedisStoreTest(t)

	status, err := store.Status(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Count != 0 || !status.BlockedUntil.IsZero() {
		t.Fatalf("expected zero status, got %+v", status)
	}
}
