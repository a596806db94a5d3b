package service

import "errors"

// Sentinel errors returned by the auth, token and OTP services. Handlers
// map these onto HTTP statuses; anything not listed here is treated as an
// internal error and never surfaced to the client verbatim.
//
// ErrInvalidCredentials deliberately covers both "no such account" and
// "wrong password" so responses cannot be used to probe which emails or
// phones are registered.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrDuplicatePhone     = errors.New("phone already registered")
	ErrInvalidInput       = errors.New("invalid input")

	ErrInvalidOrExpiredOTP = errors.New("invalid or expired verification code")
	ErrOTPBlocked          = errors.New("identifier blocked from receiving codes")
	ErrOTPThrottled        = errors.New("too many code requests")

	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidToken    = errors.New("invalid or expired token")
)
