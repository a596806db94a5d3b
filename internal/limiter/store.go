// Package limiter tracks failure counters and temporary blocks for
// security-sensitive flows: account lockout after repeated bad credentials
// and OTP request throttling. Counter mutations are atomic inside each
// backend; two concurrent failures can never skip the threshold.
package limiter

import (
	"context"
	"errors"
	"time"
)

var ErrStoreUnavailable = errors.New("limiter store unavailable")

// Policy describes one counter family.
type Policy struct {
	// Threshold is the count at which a block is set.
	Threshold int
	// Block is how long a key stays blocked once the threshold is reached.
	Block time.Duration
	// Window bounds how long counter state is retained. Keys are dropped
	// once both the window and any block have passed.
	Window time.Duration
}

func (p Policy) retention() time.Duration {
	if p.Window > p.Block {
		return p.Window
	}
	return p.Block
}

// Status is the observable state of a counter key.
type Status struct {
	Count        int
	BlockedUntil time.Time // zero when never blocked or already reset
}

// Blocked reports whether the key is blocked at the given instant.
func (s Status) Blocked(now time.Time) bool {
	return s.BlockedUntil.After(now)
}

// Store is the attempt-counter backend. Implementations must make Fail a
// single atomic transition.
type Store interface {
	// Fail records one failure for key. When an earlier block has already
	// expired the counter restarts at 1 instead of incrementing. When the
	// counter reaches p.Threshold and the key is not currently blocked, a
	// block of p.Block is set from now.
	Fail(ctx context.Context, key string, p Policy) (Status, error)

	// Status returns the current counter state without mutating it.
	Status(ctx context.Context, key string) (Status, error)

	// Reset clears both the counter and any block for key.
	Reset(ctx context.Context, key string) error
}
