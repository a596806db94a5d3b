package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"agroassist-auth/internal/encryption"
	"agroassist-auth/internal/hashing"
	"agroassist-auth/internal/limiter"
	"agroassist-auth/internal/models"
	"agroassist-auth/internal/repository/scylla"
	"agroassist-auth/internal/util"
)

const minPasswordLength = 8

// RegisterInput carries everything needed to create an account. Phone is
// optional; when present it is stored encrypted with a lookup hash.
type RegisterInput struct {
	Email       string
	Password    string
	Role        models.Role
	CountryCode string
	Phone       string
}

// AuthService orchestrates registration, credential login, OTP-based
// phone login and verification flows. It owns the lockout policy and the
// anti-enumeration behavior; the token and OTP services stay unaware of
// both.
type AuthService struct {
	users     scylla.UserStore
	tokens    *TokenService
	otp       *OTPService
	lockout   *limiter.LockoutGuard
	hasher    *hashing.PasswordHasher
	encryptor *encryption.Manager
	audit     Auditor
	otpTTL    time.Duration
	now       func() time.Time
}

func NewAuthService(users scylla.UserStore, tokens *TokenService, otp *OTPService, lockout *limiter.LockoutGuard, hasher *hashing.PasswordHasher, encryptor *encryption.Manager, audit Auditor, otpTTL time.Duration) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		otp:       otp,
		lockout:   lockout,
		hasher:    hasher,
		encryptor: encryptor,
		audit:     audit,
		otpTTL:    otpTTL,
		now:       time.Now,
	}
}

// Register creates an account and logs the new user straight in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, device models.DeviceInfo) (*TokenPair, *models.User, error) {
	email := util.NormalizeEmail(in.Email)
	if !strings.Contains(email, "@") {
		return nil, nil, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLength {
		return nil, nil, fmt.Errorf("%w: password too short", ErrInvalidInput)
	}
	role := in.Role
	if role == "" {
		role = models.RoleFarmer
	}
	if !role.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown role", ErrInvalidInput)
	}

	var phone, phoneHash string
	if in.Phone != "" {
		phone = util.NormalizePhone(in.Phone)
		phoneHash = hashing.HashIdentifier(phone)
	}

	// Both lookup tables are consulted in parallel.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		exists, err := s.users.EmailExists(gctx, email)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateEmail
		}
		return nil
	})
	if phoneHash != "" {
		g.Go(func() error {
			taken, err := s.users.PhoneExists(gctx, phoneHash)
			if err != nil {
				return err
			}
			if taken {
				return ErrDuplicatePhone
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	user := &models.User{
		Email:       email,
		Role:        role,
		CountryCode: in.CountryCode,
	}

	if phone != "" {
		sealed, err := s.encryptor.EncryptField(ctx, phone)
		if err != nil {
			return nil, nil, err
		}
		user.PhoneHash = phoneHash
		user.PhoneEncrypted = sealed.Value
		user.PhoneDEK = sealed.DEK
		user.PhoneKeyID = sealed.KeyID
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, nil, err
	}
	user.PasswordHash = hash

	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	s.audit.Record(&models.SecurityEvent{
		EventType:  models.EventRegistration,
		UserID:     user.UserID,
		Identifier: email,
		IPAddress:  device.IP,
		UserAgent:  device.UserAgent,
	})

	pair, err := s.tokens.IssueTokens(ctx, user, device)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// Login authenticates with email and password. Unknown emails and wrong
// passwords are indistinguishable to the caller; only a locked account
// answers differently, and only once the lock exists.
func (s *AuthService) Login(ctx context.Context, email, password string, device models.DeviceInfo) (*TokenPair, *models.User, error) {
	email = util.NormalizeEmail(email)
	now := s.now().UTC()

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, scylla.ErrNotFound) {
		s.recordLoginFailure("", email, device)
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}

	locked, until, err := s.lockout.IsLocked(ctx, user.UserID)
	if err != nil {
		return nil, nil, err
	}
	if locked {
		util.Warn("login attempt on locked account",
			util.String("user_id", user.UserID),
			util.Time("locked_until", until))
		return nil, nil, ErrAccountLocked
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		status, failErr := s.lockout.RecordFailure(ctx, user.UserID)
		if failErr != nil {
			return nil, nil, failErr
		}
		s.recordLoginFailure(user.UserID, email, device)

		if status.Blocked(now) {
			lockUntil := status.BlockedUntil
			s.mirrorLockState(ctx, user.UserID, status.Count, &lockUntil)
			s.audit.Record(&models.SecurityEvent{
				EventType:  models.EventAccountLocked,
				UserID:     user.UserID,
				Identifier: email,
				IPAddress:  device.IP,
			})
			return nil, nil, ErrAccountLocked
		}
		s.mirrorLockState(ctx, user.UserID, status.Count, nil)
		return nil, nil, ErrInvalidCredentials
	}

	if err := s.lockout.Reset(ctx, user.UserID); err != nil {
		util.Warn("failed to reset lockout counter", util.ErrorField(err))
	}
	s.mirrorLockState(ctx, user.UserID, 0, nil)
	if err := s.users.UpdateLastLogin(ctx, user.UserID, now); err != nil {
		util.Warn("failed to update last login", util.ErrorField(err))
	}

	pair, err := s.tokens.IssueTokens(ctx, user, device)
	if err != nil {
		return nil, nil, err
	}

	s.audit.Record(&models.SecurityEvent{
		EventType:  models.EventLoginSuccess,
		UserID:     user.UserID,
		Identifier: email,
		IPAddress:  device.IP,
		UserAgent:  device.UserAgent,
	})
	return pair, user, nil
}

// RequestPhoneOTP issues a login or verification code to a phone number.
// The response is identical whether or not the phone belongs to an
// account; for unknown phones nothing is actually sent.
func (s *AuthService) RequestPhoneOTP(ctx context.Context, phone string, purpose models.OTPPurpose) (*models.OTPDeliveryResult, error) {
	phone = util.NormalizePhone(phone)
	if phone == "" {
		return nil, fmt.Errorf("%w: empty phone", ErrInvalidInput)
	}
	phoneHash := hashing.HashIdentifier(phone)

	exists, err := s.users.PhoneExists(ctx, phoneHash)
	if err != nil {
		return nil, err
	}
	if !exists && purpose != models.PurposeRegistration {
		return s.syntheticDelivery(models.DeliverySMS), nil
	}

	return s.otp.Create(ctx, phoneHash, phone, purpose, models.DeliverySMS)
}

// RequestEmailOTP issues a code to an email address, with the same
// generic response for unknown addresses.
func (s *AuthService) RequestEmailOTP(ctx context.Context, email string, purpose models.OTPPurpose) (*models.OTPDeliveryResult, error) {
	email = util.NormalizeEmail(email)
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}

	exists, err := s.users.EmailExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if !exists && purpose != models.PurposeRegistration {
		return s.syntheticDelivery(models.DeliveryEmail), nil
	}

	return s.otp.Create(ctx, email, email, purpose, models.DeliveryEmail)
}

// RequestPasswordReset sends a reset code to the address. Unknown
// addresses get the same generic response and no delivery.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) (*models.OTPDeliveryResult, error) {
	return s.RequestEmailOTP(ctx, email, models.PurposePasswordReset)
}

// ResetPassword sets a new password after a valid reset code. Every
// refresh session is revoked and the lockout counter cleared, so a
// locked-out user regains access by resetting.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = util.NormalizeEmail(email)
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("%w: password too short", ErrInvalidInput)
	}

	if err := s.otp.Verify(ctx, email, models.PurposePasswordReset, code); err != nil {
		return err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, scylla.ErrNotFound) {
		return ErrInvalidOrExpiredOTP
	}
	if err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.UserID, hash); err != nil {
		return err
	}

	// Refresh tokens must not survive a credential change.
	if err := s.tokens.RevokeAll(ctx, user.UserID); err != nil {
		util.Warn("failed to revoke sessions after password reset",
			util.String("user_id", user.UserID),
			util.ErrorField(err))
	}
	if err := s.lockout.Reset(ctx, user.UserID); err != nil {
		util.Warn("failed to reset lockout counter", util.ErrorField(err))
	}
	s.mirrorLockState(ctx, user.UserID, 0, nil)

	s.audit.Record(&models.SecurityEvent{
		EventType:  models.EventPasswordReset,
		UserID:     user.UserID,
		Identifier: email,
	})
	return nil
}

// PhoneLogin completes an OTP login: verify the code, then issue tokens.
func (s *AuthService) PhoneLogin(ctx context.Context, phone, code string, device models.DeviceInfo) (*TokenPair, *models.User, error) {
	phone = util.NormalizePhone(phone)
	phoneHash := hashing.HashIdentifier(phone)

	if err := s.otp.Verify(ctx, phoneHash, models.PurposeLogin, code); err != nil {
		return nil, nil, err
	}

	user, err := s.users.FindByPhoneHash(ctx, phoneHash)
	if errors.Is(err, scylla.ErrNotFound) {
		return nil, nil, ErrInvalidOrExpiredOTP
	}
	if err != nil {
		return nil, nil, err
	}

	if !user.IsPhoneVerified {
		if err := s.users.SetPhoneVerified(ctx, user.UserID, true); err != nil {
			util.Warn("failed to set phone verified", util.ErrorField(err))
		}
	}
	if err := s.users.UpdateLastLogin(ctx, user.UserID, s.now().UTC()); err != nil {
		util.Warn("failed to update last login", util.ErrorField(err))
	}

	pair, err := s.tokens.IssueTokens(ctx, user, device)
	if err != nil {
		return nil, nil, err
	}

	s.audit.Record(&models.SecurityEvent{
		EventType:  models.EventLoginSuccess,
		UserID:     user.UserID,
		Identifier: phoneHash,
		IPAddress:  device.IP,
		UserAgent:  device.UserAgent,
	})
	return pair, user, nil
}

// VerifyEmail marks the account's email verified after a correct code.
func (s *AuthService) VerifyEmail(ctx context.Context, email, code string) error {
	email = util.NormalizeEmail(email)

	if err := s.otp.Verify(ctx, email, models.PurposeAccountVerification, code); err != nil {
		return err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, scylla.ErrNotFound) {
		return ErrInvalidOrExpiredOTP
	}
	if err != nil {
		return err
	}
	return s.users.SetEmailVerified(ctx, user.UserID, true)
}

// VerifyPhone marks the account's phone verified after a correct code.
func (s *AuthService) VerifyPhone(ctx context.Context, phone, code string) error {
	phone = util.NormalizePhone(phone)
	phoneHash := hashing.HashIdentifier(phone)

	if err := s.otp.Verify(ctx, phoneHash, models.PurposeAccountVerification, code); err != nil {
		return err
	}

	user, err := s.users.FindByPhoneHash(ctx, phoneHash)
	if errors.Is(err, scylla.ErrNotFound) {
		return ErrInvalidOrExpiredOTP
	}
	if err != nil {
		return err
	}
	return s.users.SetPhoneVerified(ctx, user.UserID, true)
}

// Refresh exchanges a refresh token for a new access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, _, err := s.tokens.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if errors.Is(err, scylla.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	return s.tokens.Refresh(ctx, refreshToken, user)
}

// Logout revokes the session bound to the refresh token. A token that no
// longer maps to a session is already logged out.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, _, err := s.tokens.ValidateRefresh(ctx, refreshToken)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.tokens.Revoke(ctx, claims.UserID, claims.TokenID)
}

func (s *AuthService) recordLoginFailure(userID, identifier string, device models.DeviceInfo) {
	s.audit.Record(&models.SecurityEvent{
		EventType:  models.EventLoginFailed,
		UserID:     userID,
		Identifier: identifier,
		IPAddress:  device.IP,
		UserAgent:  device.UserAgent,
	})
}

// mirrorLockState copies the limiter's counters onto the durable user
// record. Failures here are logged, not returned: the limiter is the
// authority and the mirror is for operators.
func (s *AuthService) mirrorLockState(ctx context.Context, userID string, attempts int, lockUntil *time.Time) {
	if err := s.users.UpdateLockState(ctx, userID, attempts, lockUntil); err != nil {
		util.Warn("failed to mirror lock state",
			util.String("user_id", userID),
			util.ErrorField(err))
	}
}

// syntheticDelivery is the response handed back for identifiers that have
// no account: indistinguishable from a real issuance.
func (s *AuthService) syntheticDelivery(method models.DeliveryMethod) *models.OTPDeliveryResult {
	return &models.OTPDeliveryResult{
		Success:    true,
		ExpiryTime: s.now().UTC().Add(s.otpTTL),
		Method:     method,
	}
}
