package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"agroassist-auth/internal/models"
)

// OTPStore persists verification records keyed by (identifier, purpose).
// Creating a record for a pair overwrites any prior one, which is exactly
// the invalidate-on-reissue behavior the OTP service wants. Rows expire
// via TTL a safety margin past their logical expiry.
type OTPStore interface {
	Put(ctx context.Context, otp *models.OTPVerification, ttl time.Duration) error
	Get(ctx context.Context, identifier string, purpose models.OTPPurpose) (*models.OTPVerification, error)
	SetAttempts(ctx context.Context, identifier string, purpose models.OTPPurpose, attempts int, at time.Time) error
	MarkVerified(ctx context.Context, identifier string, purpose models.OTPPurpose, at time.Time) error
	Delete(ctx context.Context, identifier string, purpose models.OTPPurpose) error
	Each(ctx context.Context, fn func(otp *models.OTPVerification) bool) error
}

type OTPRepository struct {
	client *ScyllaClient
}

func NewOTPRepository(client *ScyllaClient) *OTPRepository {
	return &OTPRepository{client: client}
}

func (r *OTPRepository) Put(ctx context.Context, otp *models.OTPVerification, ttl time.Duration) error {
	query := r.client.Prepared.UpsertOTP.Bind(
		otp.Identifier, string(otp.Purpose), otp.OTPHash, otp.OTPSalt,
		otp.Algorithm, otp.Attempts, otp.MaxAttempts, otp.ExpiresAt,
		otp.Verified, otp.VerifiedAt, otp.LastAttemptAt, otp.CreatedAt,
		int(ttl.Seconds()),
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to store otp: %w", err)
	}
	return nil
}

func (r *OTPRepository) Get(ctx context.Context, identifier string, purpose models.OTPPurpose) (*models.OTPVerification, error) {
	otp := &models.OTPVerification{}
	var purposeStr string

	query := r.client.Prepared.GetOTP.Bind(identifier, string(purpose)).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&otp.Identifier, &purposeStr, &otp.OTPHash, &otp.OTPSalt,
		&otp.Algorithm, &otp.Attempts, &otp.MaxAttempts, &otp.ExpiresAt,
		&otp.Verified, &otp.VerifiedAt, &otp.LastAttemptAt, &otp.CreatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get otp: %w", err)
	}
	otp.Purpose = models.OTPPurpose(purposeStr)
	return otp, nil
}

func (r *OTPRepository) SetAttempts(ctx context.Context, identifier string, purpose models.OTPPurpose, attempts int, at time.Time) error {
	query := r.client.Prepared.UpdateOTPAttempts.Bind(
		attempts, at, identifier, string(purpose)).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to update otp attempts: %w", err)
	}
	return nil
}

func (r *OTPRepository) MarkVerified(ctx context.Context, identifier string, purpose models.OTPPurpose, at time.Time) error {
	query := r.client.Prepared.MarkOTPVerified.Bind(
		true, at, identifier, string(purpose)).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to mark otp verified: %w", err)
	}
	return nil
}

// Each visits every verification record with only its key, expiry and
// verified fields populated. fn returns false to stop early. The scan
// pages through the whole table and is meant for the background sweep,
// not request paths.
func (r *OTPRepository) Each(ctx context.Context, fn func(otp *models.OTPVerification) bool) error {
	iter := r.client.Prepared.ScanOTPs.WithContext(ctx).Iter()

	var identifier, purpose string
	var expiresAt time.Time
	var verified bool
	for iter.Scan(&identifier, &purpose, &expiresAt, &verified) {
		record := &models.OTPVerification{
			Identifier: identifier,
			Purpose:    models.OTPPurpose(purpose),
			ExpiresAt:  expiresAt,
			Verified:   verified,
		}
		if !fn(record) {
			break
		}
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("failed to scan otps: %w", err)
	}
	return nil
}

func (r *OTPRepository) Delete(ctx context.Context, identifier string, purpose models.OTPPurpose) error {
	query := r.client.Prepared.DeleteOTP.Bind(identifier, string(purpose)).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("failed to delete otp: %w", err)
	}
	return nil
}
