package models

import "time"

// Role is the coarse authorization role carried in access tokens.
type Role string

const (
	RoleFarmer Role = "farmer"
	RoleExpert Role = "expert"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleFarmer, RoleExpert, RoleAdmin:
		return true
	}
	return false
}

// User owns its own security state: lockout fields and refresh sessions
// live with the account record. Email is stored lowercase and is unique;
// phone is optional and stored encrypted, with a hash kept for lookups.
type User struct {
	UserBucket   int    `db:"user_bucket"`
	UserID       string `db:"user_id"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
	Role         Role   `db:"role"`

	CountryCode    string `db:"country_code"`
	PhoneHash      string `db:"phone_hash"`
	PhoneEncrypted []byte `db:"phone_encrypted"`
	PhoneDEK       string `db:"phone_dek"`
	PhoneKeyID     string `db:"phone_key_id"`

	IsEmailVerified bool `db:"is_email_verified"`
	IsPhoneVerified bool `db:"is_phone_verified"`

	FailedLoginAttempts int        `db:"failed_login_attempts"`
	LockUntil           *time.Time `db:"lock_until"`

	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt *time.Time `db:"updated_at"`
	LastLogin *time.Time `db:"last_login"`
}

// IsLocked is a pure function of lockUntil.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockUntil != nil && u.LockUntil.After(now)
}

// DeviceInfo identifies the client device on a session. The fingerprint is
// the user-agent plus IP; two requests with the same pair are treated as
// the same device.
type DeviceInfo struct {
	UserAgent string `json:"user_agent" db:"user_agent"`
	IP        string `json:"ip" db:"ip_address"`
}

func (d DeviceInfo) Fingerprint() string {
	return d.UserAgent + "|" + d.IP
}

// RefreshTokenSession is a single device's refresh-token grant. At most
// MaxSessions entries exist per user; the oldest is evicted first.
type RefreshTokenSession struct {
	UserID    string    `db:"user_id"`
	TokenID   string    `db:"token_id"`
	Token     string    `db:"token"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
	LastUsed  time.Time `db:"last_used"`
	UserAgent string    `db:"user_agent"`
	IP        string    `db:"ip_address"`
}

func (s *RefreshTokenSession) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

func (s *RefreshTokenSession) Device() DeviceInfo {
	return DeviceInfo{UserAgent: s.UserAgent, IP: s.IP}
}

// Remaining returns the refresh lifetime left on the session.
func (s *RefreshTokenSession) Remaining(now time.Time) time.Duration {
	if s.IsExpired(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}
