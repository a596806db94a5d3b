package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"agroassist-auth/internal/models"
	"agroassist-auth/internal/repository/scylla"
	"agroassist-auth/internal/token"
	"agroassist-auth/internal/util"
)

// Auditor receives security events. *audit.Recorder satisfies it; tests
// swap in a capture.
type Auditor interface {
	Record(event *models.SecurityEvent)
}

// TokenPair is what clients receive from login, registration and refresh.
type TokenPair struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	TokenID          string `json:"tokenId"`
	TokenType        string `json:"tokenType"`
	ExpiresIn        int64  `json:"expiresIn"`
	RefreshExpiresIn int64  `json:"refreshExpiresIn"`
}

// TokenService owns session lifecycle: minting pairs, reusing sessions
// for a known device, holding the per-user session cap, and validating
// refresh tokens against their persisted session.
type TokenService struct {
	manager     *token.Manager
	sessions    scylla.SessionStore
	audit       Auditor
	maxSessions int
	reuseWindow time.Duration
	now         func() time.Time
}

func NewTokenService(manager *token.Manager, sessions scylla.SessionStore, audit Auditor, maxSessions int, reuseWindow time.Duration) *TokenService {
	return &TokenService{
		manager:     manager,
		sessions:    sessions,
		audit:       audit,
		maxSessions: maxSessions,
		reuseWindow: reuseWindow,
		now:         time.Now,
	}
}

// IssueTokens returns a token pair for an authenticated user. If the same
// device already holds a session with enough refresh lifetime left, that
// session is reused: only a fresh access token is minted and the existing
// refresh token is returned. Otherwise a new session is created, evicting
// the oldest sessions beyond the cap.
func (s *TokenService) IssueTokens(ctx context.Context, user *models.User, device models.DeviceInfo) (*TokenPair, error) {
	now := s.now().UTC()

	all, err := s.sessions.List(ctx, user.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	active := make([]*models.RefreshTokenSession, 0, len(all))
	var stale []string
	for _, sess := range all {
		if sess.IsExpired(now) {
			stale = append(stale, sess.TokenID)
			continue
		}
		active = append(active, sess)
	}
	if len(stale) > 0 {
		if err := s.sessions.Delete(ctx, user.UserID, stale...); err != nil {
			util.Warn("failed to purge expired sessions",
				util.String("user_id", user.UserID),
				util.ErrorField(err))
		}
	}

	fingerprint := device.Fingerprint()
	for _, sess := range active {
		if sess.Device().Fingerprint() != fingerprint {
			continue
		}
		if sess.Remaining(now) < s.reuseWindow {
			continue
		}

		accessToken, err := s.manager.SignAccess(user.UserID, user.Email, user.Role)
		if err != nil {
			return nil, err
		}
		if err := s.sessions.Touch(ctx, user.UserID, sess.TokenID, now); err != nil {
			util.Warn("failed to touch session",
				util.String("user_id", user.UserID),
				util.ErrorField(err))
		}
		s.audit.Record(&models.SecurityEvent{
			EventType: models.EventSessionReused,
			UserID:    user.UserID,
			IPAddress: device.IP,
			UserAgent: device.UserAgent,
		})

		return &TokenPair{
			AccessToken:      accessToken,
			RefreshToken:     sess.Token,
			TokenID:          sess.TokenID,
			TokenType:        "Bearer",
			ExpiresIn:        int64(s.manager.AccessTTL().Seconds()),
			RefreshExpiresIn: int64(sess.Remaining(now).Seconds()),
		}, nil
	}

	tokenID := uuid.New().String()
	refreshToken, err := s.manager.SignRefresh(user.UserID, tokenID)
	if err != nil {
		return nil, err
	}
	accessToken, err := s.manager.SignAccess(user.UserID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}

	session := &models.RefreshTokenSession{
		UserID:    user.UserID,
		TokenID:   tokenID,
		Token:     refreshToken,
		CreatedAt: now,
		ExpiresAt: now.Add(s.manager.RefreshTTL()),
		LastUsed:  now,
		UserAgent: device.UserAgent,
		IP:        device.IP,
	}

	// Oldest sessions go first when the cap would be exceeded.
	var evict []string
	if overflow := len(active) - s.maxSessions + 1; overflow > 0 {
		sort.Slice(active, func(i, j int) bool {
			return active[i].CreatedAt.Before(active[j].CreatedAt)
		})
		for _, victim := range active[:overflow] {
			evict = append(evict, victim.TokenID)
		}
	}

	if err := s.sessions.Replace(ctx, session, evict); err != nil {
		return nil, err
	}
	for range evict {
		s.audit.Record(&models.SecurityEvent{
			EventType: models.EventSessionEvicted,
			UserID:    user.UserID,
		})
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenID:          tokenID,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.manager.AccessTTL().Seconds()),
		RefreshExpiresIn: int64(s.manager.RefreshTTL().Seconds()),
	}, nil
}

// ValidateRefresh checks the signature and then the persisted session: a
// structurally valid token whose session was evicted or logged out is
// rejected. Returns the session so the caller can mint a new access token.
func (s *TokenService) ValidateRefresh(ctx context.Context, refreshToken string) (*token.RefreshClaims, *models.RefreshTokenSession, error) {
	claims, err := s.manager.ParseRefresh(refreshToken)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	session, err := s.sessions.Get(ctx, claims.UserID, claims.TokenID)
	if errors.Is(err, scylla.ErrNotFound) {
		return nil, nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if session.Token != refreshToken || session.IsExpired(s.now().UTC()) {
		return nil, nil, ErrInvalidToken
	}
	return claims, session, nil
}

// Refresh mints a new access token against a still-valid session. The
// refresh token itself is not rotated; it stays bound to its session
// until expiry or logout.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string, user *models.User) (*TokenPair, error) {
	claims, session, err := s.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	accessToken, err := s.manager.SignAccess(user.UserID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Touch(ctx, claims.UserID, claims.TokenID, now); err != nil {
		util.Warn("failed to touch session",
			util.String("user_id", claims.UserID),
			util.ErrorField(err))
	}

	s.audit.Record(&models.SecurityEvent{
		EventType: models.EventTokenRefreshed,
		UserID:    user.UserID,
	})

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenID:          claims.TokenID,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.manager.AccessTTL().Seconds()),
		RefreshExpiresIn: int64(session.Remaining(now).Seconds()),
	}, nil
}

// Revoke removes a single session. Revoking an already absent session is
// not an error.
func (s *TokenService) Revoke(ctx context.Context, userID, tokenID string) error {
	if err := s.sessions.Delete(ctx, userID, tokenID); err != nil {
		return err
	}
	s.audit.Record(&models.SecurityEvent{
		EventType: models.EventLogout,
		UserID:    userID,
	})
	return nil
}

// RevokeAll removes every session for a user.
func (s *TokenService) RevokeAll(ctx context.Context, userID string) error {
	return s.sessions.DeleteAll(ctx, userID)
}
