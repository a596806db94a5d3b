package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agroassist-auth/internal/hashing"
	"agroassist-auth/internal/limiter"
	"agroassist-auth/internal/models"
	"agroassist-auth/internal/notify"
	"agroassist-auth/internal/repository/scylla"
	"agroassist-auth/internal/util"
)

// AttemptCounter is the atomic per-(identifier, purpose) attempt counter.
// The Redis-backed implementation lives in repository/redis.
type AttemptCounter interface {
	Increment(ctx context.Context, identifier string, purpose models.OTPPurpose, ttl time.Duration) (int, error)
	Reset(ctx context.Context, identifier string, purpose models.OTPPurpose) error
}

type OTPConfig struct {
	TTL          time.Duration
	MaxAttempts  int
	BlockListTTL time.Duration
}

// OTPService implements the verification-code state machine. A code is
// single use: issuing a new code for the same (identifier, purpose)
// replaces the prior one, and the attempt counter is bumped before any
// comparison so a crashed request still consumes its attempt.
type OTPService struct {
	otps      scylla.OTPStore
	blocklist scylla.BlockListStore
	attempts  AttemptCounter
	codec     *hashing.OTPCodec
	sender    notify.Sender
	throttle  *limiter.PhoneThrottle
	audit     Auditor
	cfg       OTPConfig
	now       func() time.Time
}

func NewOTPService(otps scylla.OTPStore, blocklist scylla.BlockListStore, attempts AttemptCounter, codec *hashing.OTPCodec, sender notify.Sender, throttle *limiter.PhoneThrottle, audit Auditor, cfg OTPConfig) *OTPService {
	return &OTPService{
		otps:      otps,
		blocklist: blocklist,
		attempts:  attempts,
		codec:     codec,
		sender:    sender,
		throttle:  throttle,
		audit:     audit,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Create issues a fresh code for (identifier, purpose) and hands it to
// the delivery channel. Any unverified prior code for the pair becomes
// unusable the moment the new record lands. The identifier is the storage
// key (an email or a phone hash); destination is where the code is
// actually sent, which for phones is the plaintext number.
func (s *OTPService) Create(ctx context.Context, identifier, destination string, purpose models.OTPPurpose, method models.DeliveryMethod) (*models.OTPDeliveryResult, error) {
	if !purpose.Valid() {
		return nil, fmt.Errorf("%w: unknown purpose", ErrInvalidInput)
	}
	now := s.now().UTC()

	blocked, err := s.blocklist.IsBlocked(ctx, blockLookupKeys(identifier), now)
	if err != nil {
		return nil, err
	}
	if blocked {
		s.audit.Record(&models.SecurityEvent{
			EventType:  models.EventOTPBlocked,
			Identifier: identifier,
		})
		return nil, ErrOTPBlocked
	}

	allowed, retryAt, err := s.throttle.Allow(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !allowed {
		util.Warn("otp request throttled",
			util.String("purpose", string(purpose)),
			util.Time("retry_at", retryAt))
		return nil, ErrOTPThrottled
	}

	code, err := s.codec.Generate()
	if err != nil {
		return nil, err
	}
	digest, err := s.codec.Digest(code)
	if err != nil {
		return nil, err
	}

	record := &models.OTPVerification{
		Identifier:  identifier,
		Purpose:     purpose,
		OTPHash:     digest.Hash,
		OTPSalt:     digest.Salt,
		Algorithm:   digest.Algorithm,
		Attempts:    0,
		MaxAttempts: s.cfg.MaxAttempts,
		ExpiresAt:   now.Add(s.cfg.TTL),
		CreatedAt:   now,
	}

	// Row TTL is padded past logical expiry so an expired record still
	// answers verify attempts with a clean rejection instead of not-found.
	if err := s.otps.Put(ctx, record, s.cfg.TTL*2); err != nil {
		return nil, err
	}
	if err := s.attempts.Reset(ctx, identifier, purpose); err != nil {
		util.Warn("failed to reset attempt counter", util.ErrorField(err))
	}

	if err := s.sender.Send(ctx, destination, code, purpose, method); err != nil {
		return nil, fmt.Errorf("failed to deliver code: %w", err)
	}

	s.audit.Record(&models.SecurityEvent{
		EventType:  models.EventOTPRequested,
		Identifier: identifier,
		Details:    string(purpose),
	})

	return &models.OTPDeliveryResult{
		Success:    true,
		ExpiryTime: record.ExpiresAt,
		Method:     method,
	}, nil
}

// Verify checks a candidate code. The attempt counter is incremented
// before the digest comparison; expired, exhausted, already-verified and
// wrong-code cases all collapse into ErrInvalidOrExpiredOTP.
func (s *OTPService) Verify(ctx context.Context, identifier string, purpose models.OTPPurpose, code string) error {
	now := s.now().UTC()

	record, err := s.otps.Get(ctx, identifier, purpose)
	if errors.Is(err, scylla.ErrNotFound) {
		return ErrInvalidOrExpiredOTP
	}
	if err != nil {
		return err
	}

	if !record.CanRetry(now) {
		s.reject(identifier, purpose, "unusable")
		return ErrInvalidOrExpiredOTP
	}

	attempts, err := s.attempts.Increment(ctx, identifier, purpose, s.cfg.TTL*2)
	if err != nil {
		// Fail closed: without an atomic counter no comparison happens.
		return err
	}
	if mirrorErr := s.otps.SetAttempts(ctx, identifier, purpose, attempts, now); mirrorErr != nil {
		util.Warn("failed to mirror attempt count", util.ErrorField(mirrorErr))
	}
	if attempts > record.MaxAttempts {
		s.reject(identifier, purpose, "attempts exhausted")
		return ErrInvalidOrExpiredOTP
	}

	match, err := s.codec.Compare(code, &hashing.OTPDigest{
		Hash:      record.OTPHash,
		Salt:      record.OTPSalt,
		Algorithm: record.Algorithm,
	})
	if err != nil {
		return err
	}
	if !match {
		s.reject(identifier, purpose, "mismatch")
		return ErrInvalidOrExpiredOTP
	}

	if err := s.otps.MarkVerified(ctx, identifier, purpose, now); err != nil {
		return err
	}
	if err := s.attempts.Reset(ctx, identifier, purpose); err != nil {
		util.Warn("failed to reset attempt counter", util.ErrorField(err))
	}

	s.audit.Record(&models.SecurityEvent{
		EventType:  models.EventOTPVerified,
		Identifier: identifier,
		Details:    string(purpose),
	})
	return nil
}

// Sweep deletes expired unverified records in one pass. Row TTLs remove
// them eventually; the sweep stops padded-TTL rows from lingering past
// their logical expiry.
func (s *OTPService) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	removed := 0
	err := s.otps.Each(ctx, func(record *models.OTPVerification) bool {
		if record.Verified || !record.IsExpired(now) {
			return true
		}
		if err := s.otps.Delete(ctx, record.Identifier, record.Purpose); err != nil {
			util.Warn("failed to delete expired otp", util.ErrorField(err))
			return true
		}
		removed++
		return true
	})
	return removed, err
}

// StartSweep runs Sweep on a ticker until ctx is done.
func (s *OTPService) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := s.Sweep(ctx)
				if err != nil {
					util.Warn("otp sweep failed", util.ErrorField(err))
					continue
				}
				if removed > 0 {
					util.Info("otp sweep removed expired records", util.Int("count", removed))
				}
			}
		}
	}()
}

// Block denies new code issuance for an identifier for the configured
// window. For emails, blocking "@domain" blocks the whole domain.
func (s *OTPService) Block(ctx context.Context, identifier, reason string) error {
	now := s.now().UTC()
	expires := now.Add(s.cfg.BlockListTTL)
	return s.blocklist.Block(ctx, &models.BlockListEntry{
		Identifier: identifier,
		Reason:     reason,
		BlockedAt:  now,
		ExpiresAt:  &expires,
		IsActive:   true,
	}, s.cfg.BlockListTTL)
}

// Unblock lifts a block early. Unknown identifiers are a no-op.
func (s *OTPService) Unblock(ctx context.Context, identifier string) error {
	return s.blocklist.Unblock(ctx, identifier)
}

func (s *OTPService) reject(identifier string, purpose models.OTPPurpose, detail string) {
	s.audit.Record(&models.SecurityEvent{
		EventType:  models.EventOTPRejected,
		Identifier: identifier,
		Details:    string(purpose) + ": " + detail,
	})
}

// blockLookupKeys returns the identifiers to check against the block
// list: the identifier itself plus, for emails, its domain.
func blockLookupKeys(identifier string) []string {
	keys := []string{identifier}
	if domain := util.EmailDomain(identifier); domain != "" {
		keys = append(keys, "@"+domain)
	}
	return keys
}
