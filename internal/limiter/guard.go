package limiter

import (
	"context"
	"time"
)

const (
	lockoutKeyPrefix  = "lockout:"
	throttleKeyPrefix = "otp_req:"
)

// LockoutGuard applies the account lockout policy: N consecutive failed
// credential checks lock the account for the configured duration. A failure
// after an expired lock restarts the counter at 1.
type LockoutGuard struct {
	store  Store
	policy Policy
	now    func() time.Time
}

func NewLockoutGuard(store Store, threshold int, lockFor time.Duration) *LockoutGuard {
	return &LockoutGuard{
		store: store,
		policy: Policy{
			Threshold: threshold,
			Block:     lockFor,
			// Counters outlive the lock so a post-expiry failure can
			// observe it and restart the window.
			Window: 2 * lockFor,
		},
		now: time.Now,
	}
}

// IsLocked reports whether the account is currently locked and until when.
func (g *LockoutGuard) IsLocked(ctx context.Context, userID string) (bool, time.Time, error) {
	status, err := g.store.Status(ctx, lockoutKeyPrefix+userID)
	if err != nil {
		return false, time.Time{}, err
	}
	if status.Blocked(g.now()) {
		return true, status.BlockedUntil, nil
	}
	return false, time.Time{}, nil
}

// RecordFailure registers one failed credential check.
func (g *LockoutGuard) RecordFailure(ctx context.Context, userID string) (Status, error) {
	return g.store.Fail(ctx, lockoutKeyPrefix+userID, g.policy)
}

// Reset clears the counter and lock after a successful login.
func (g *LockoutGuard) Reset(ctx context.Context, userID string) error {
	return g.store.Reset(ctx, lockoutKeyPrefix+userID)
}

// PhoneThrottle limits how often an identifier may request a new OTP:
// reaching the limit blocks further requests until the block expires, after
// which the window restarts.
type PhoneThrottle struct {
	store  Store
	policy Policy
	now    func() time.Time
}

func NewPhoneThrottle(store Store, limit int, blockFor time.Duration) *PhoneThrottle {
	return &PhoneThrottle{
		store: store,
		policy: Policy{
			Threshold: limit,
			Block:     blockFor,
			Window:    2 * blockFor,
		},
		now: time.Now,
	}
}

// Allow records an OTP request for the identifier. It returns false, with
// the block expiry, when the identifier is currently blocked; the request
// that reaches the limit is still allowed and sets the block.
func (t *PhoneThrottle) Allow(ctx context.Context, identifier string) (bool, time.Time, error) {
	key := throttleKeyPrefix + identifier

	status, err := t.store.Status(ctx, key)
	if err != nil {
		return false, time.Time{}, err
	}
	if status.Blocked(t.now()) {
		return false, status.BlockedUntil, nil
	}

	status, err = t.store.Fail(ctx, key, t.policy)
	if err != nil {
		return false, time.Time{}, err
	}
	return true, status.BlockedUntil, nil
}

// Reset clears the request counter, e.g. after successful verification.
func (t *PhoneThrottle) Reset(ctx context.Context, identifier string) error {
	return t.store.Reset(ctx, throttleKeyPrefix+identifier)
}
