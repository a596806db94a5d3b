package models

import (
	"fmt"
	"time"
)

// OTPPurpose tags what a verification code is allowed to be used for.
// Invalid purposes are rejected at parse time, not at verify time.
type OTPPurpose string

const (
	PurposeRegistration        OTPPurpose = "registration"
	PurposeLogin               OTPPurpose = "login"
	PurposeEmailUpdate         OTPPurpose = "email_update"
	PurposePasswordReset       OTPPurpose = "password_reset"
	PurposeAccountVerification OTPPurpose = "account_verification"
)

func (p OTPPurpose) Valid() bool {
	switch p {
	case PurposeRegistration, PurposeLogin, PurposeEmailUpdate,
		PurposePasswordReset, PurposeAccountVerification:
		return true
	}
	return false
}

// ParseOTPPurpose converts a wire string into a typed purpose.
func ParseOTPPurpose(s string) (OTPPurpose, error) {
	p := OTPPurpose(s)
	if !p.Valid() {
		return "", fmt.Errorf("invalid otp purpose: %q", s)
	}
	return p, nil
}

// DeliveryMethod is the channel an OTP is handed off on.
type DeliveryMethod string

const (
	DeliverySMS   DeliveryMethod = "sms"
	DeliveryEmail DeliveryMethod = "email"
)

// OTPVerification is a per-(identifier, purpose) verification record.
// Only the code digest is ever stored; the plaintext code goes straight to
// the messaging collaborator and is never persisted or logged.
type OTPVerification struct {
	Identifier    string     `db:"identifier"`
	Purpose       OTPPurpose `db:"purpose"`
	OTPHash       string     `db:"otp_hash"`
	OTPSalt       string     `db:"otp_salt"`
	Algorithm     string     `db:"algorithm"`
	Attempts      int        `db:"attempts"`
	MaxAttempts   int        `db:"max_attempts"`
	ExpiresAt     time.Time  `db:"expires_at"`
	Verified      bool       `db:"verified"`
	VerifiedAt    *time.Time `db:"verified_at"`
	LastAttemptAt *time.Time `db:"last_attempt_at"`
	CreatedAt     time.Time  `db:"created_at"`
}

func (o *OTPVerification) IsExpired(now time.Time) bool {
	return !o.ExpiresAt.After(now)
}

// CanRetry reports whether the record is still usable: not yet verified,
// not expired, and with attempt budget remaining.
func (o *OTPVerification) CanRetry(now time.Time) bool {
	return !o.Verified && !o.IsExpired(now) && o.Attempts < o.MaxAttempts
}

// OTPDeliveryResult is what callers of the request endpoints see. The code
// itself is never part of the response.
type OTPDeliveryResult struct {
	Success    bool           `json:"success"`
	ExpiryTime time.Time      `json:"expiryTime"`
	Method     DeliveryMethod `json:"method"`
}
