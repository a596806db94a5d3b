package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"agroassist-auth/internal/client"
	"agroassist-auth/internal/models"
	"agroassist-auth/internal/util"
)

const otpAttemptPrefix = "otp_attempts:"

// OTPAttemptCache is the authoritative attempt counter for verification
// codes. INCR is atomic, so two concurrent verify calls can never observe
// the same attempt number; the durable record is updated afterwards with
// whatever count Redis handed back.
type OTPAttemptCache struct {
	client *client.RedisClient
}

func NewOTPAttemptCache(client *client.RedisClient) *OTPAttemptCache {
	return &OTPAttemptCache{client: client}
}

func attemptKey(identifier string, purpose models.OTPPurpose) string {
	return otpAttemptPrefix + string(purpose) + ":" + identifier
}

// Increment bumps the attempt counter and returns the new value. The TTL
// is refreshed on every attempt and should cover the code's lifetime.
func (c *OTPAttemptCache) Increment(ctx context.Context, identifier string, purpose models.OTPPurpose, ttl time.Duration) (int, error) {
	key := attemptKey(identifier, purpose)

	count, err := c.client.IncrWithExpire(ctx, key, ttl)
	if err != nil {
		util.Error("failed to increment otp attempts",
			util.String("purpose", string(purpose)),
			util.ErrorField(err))
		return 0, fmt.Errorf("failed to increment otp attempts: %w", err)
	}
	return int(count), nil
}

func (c *OTPAttemptCache) Get(ctx context.Context, identifier string, purpose models.OTPPurpose) (int, error) {
	key := attemptKey(identifier, purpose)

	countStr, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get otp attempt count: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		return 0, fmt.Errorf("invalid attempt count format: %w", err)
	}
	return count, nil
}

// Reset clears the counter, used when a fresh code is issued for the
// same identifier and purpose.
func (c *OTPAttemptCache) Reset(ctx context.Context, identifier string, purpose models.OTPPurpose) error {
	if err := c.client.Del(ctx, attemptKey(identifier, purpose)); err != nil {
		return fmt.Errorf("failed to reset otp attempts: %w", err)
	}
	return nil
}
