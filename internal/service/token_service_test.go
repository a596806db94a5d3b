package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"agroassist-auth/internal/models"
	"agroassist-auth/internal/repository/scylla"
	"agroassist-auth/internal/token"
)

func newTestTokenManager(t *testing.T) *token.Manager {
	t.Helper()
	m, err := token.NewManager(token.Config{
		AccessSecret:  "test-access-secret",
		RefreshSecret: "test-refresh-secret",
		AccessTTL:     24 * time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "agroassist-auth",
	})
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}
	return m
}

func newTestTokenService(t *testing.T) (*TokenService, *fakeSessionStore, *captureAuditor) {
	t.Helper()
	sessions := newFakeSessionStore()
	auditor := &captureAuditor{}
	svc := NewTokenService(newTestTokenManager(t), sessions, auditor, 3, 24*time.Hour)
	return svc, sessions, auditor
}

func testUser() *models.User {
	return &models.User{
		UserID: "u-1",
		Email:  "farmer@example.com",
		Role:   models.RoleFarmer,
	}
}

func device(n int) models.DeviceInfo {
	return models.DeviceInfo{
		UserAgent: "agent",
		IP:        fmt.Sprintf("10.0.0.%d", n),
	}
}

func TestIssueTokensCapsSessionsAtThree(t *testing.T) {
	svc, sessions, auditor := newTestTokenService(t)
	ctx := context.Background()
	user := testUser()

	var first *TokenPair
	for i := 1; i <= 4; i++ {
		pair, err := svc.IssueTokens(ctx, user, device(i))
		if err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
		if i == 1 {
			first = pair
		}
		time.Sleep(2 * time.Millisecond)
	}

	if got := sessions.count(user.UserID); got != 3 {
		t.Fatalf("expected 3 sessions, got %d", got)
	}
	// The oldest session is the one that went.
	if _, err := sessions.Get(ctx, user.UserID, first.TokenID); !errors.Is(err, scylla.ErrNotFound) {
		t.Fatalf("expected first session evicted, got err %v", err)
	}
	if auditor.count(models.EventSessionEvicted) != 1 {
		t.Fatal("expected a session_evicted event")
	}
}

func TestIssueTokensReusesSessionForSameDevice(t *testing.T) {
	svc, sessions, auditor := newTestTokenService(t)
	ctx := context.Background()
	user := testUser()

	firstPair, err := svc.IssueTokens(ctx, user, device(1))
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}
	secondPair, err := svc.IssueTokens(ctx, user, device(1))
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}

	if secondPair.TokenID != firstPair.TokenID {
		t.Fatal("expected the existing session to be reused")
	}
	if secondPair.RefreshToken != firstPair.RefreshToken {
		t.Fatal("reuse must not mint a new refresh token")
	}
	if secondPair.AccessToken == "" {
		t.Fatal("reuse must still return an access token")
	}
	if got := sessions.count(user.UserID); got != 1 {
		t.Fatalf("expected a single session, got %d", got)
	}
	if auditor.count(models.EventSessionReused) != 1 {
		t.Fatal("expected a session_reused event")
	}
}

func TestIssueTokensSkipsReuseWhenSessionNearlyExpired(t *testing.T) {
	svc, sessions, _ := newTestTokenService(t)
	ctx := context.Background()
	user := testUser()

	firstPair, err := svc.IssueTokens(ctx, user, device(1))
	if err != nil {
		t.Fatalf("first issue: %v", err)
	}

	// Less than the reuse window left on the refresh token.
	sessions.mu.Lock()
	sessions.sessions[user.UserID][firstPair.TokenID].ExpiresAt = time.Now().UTC().Add(23 * time.Hour)
	sessions.mu.Unlock()

	secondPair, err := svc.IssueTokens(ctx, user, device(1))
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if secondPair.TokenID == firstPair.TokenID {
		t.Fatal("expected a new session when under the reuse window")
	}
}

func TestIssueTokensPurgesExpiredSessions(t *testing.T) {
	svc, sessions, _ := newTestTokenService(t)
	ctx := context.Background()
	user := testUser()

	pair, err := svc.IssueTokens(ctx, user, device(1))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	sessions.mu.Lock()
	sessions.sessions[user.UserID][pair.TokenID].ExpiresAt = time.Now().UTC().Add(-time.Minute)
	sessions.mu.Unlock()

	if _, err := svc.IssueTokens(ctx, user, device(2)); err != nil {
		t.Fatalf("issue after expiry: %v", err)
	}
	if got := sessions.count(user.UserID); got != 1 {
		t.Fatalf("expected expired session purged, got %d sessions", got)
	}
}

func TestValidateRefreshRejectsRevokedSession(t *testing.T) {
	svc, _, _ := newTestTokenService(t)
	ctx := context.Background()
	user := testUser()

	pair, err := svc.IssueTokens(ctx, user, device(1))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, _, err := svc.ValidateRefresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("validate live session: %v", err)
	}

	if err := svc.Revoke(ctx, user.UserID, pair.TokenID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, _, err := svc.ValidateRefresh(ctx, pair.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after revoke, got %v", err)
	}
}

func TestValidateRefreshRejectsGarbageToken(t *testing.T) {
	svc, _, _ := newTestTokenService(t)

	_, _, err := svc.ValidateRefresh(context.Background(), "not-a-jwt")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshMintsNewAccessOnly(t *testing.T) {
	svc, _, auditor := newTestTokenService(t)
	ctx := context.Background()
	user := testUser()

	pair, err := svc.IssueTokens(ctx, user, device(1))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	refreshed, err := svc.Refresh(ctx, pair.RefreshToken, user)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.RefreshToken != pair.RefreshToken {
		t.Fatal("refresh must not rotate the refresh token")
	}
	if refreshed.TokenID != pair.TokenID {
		t.Fatal("refresh must keep the session id")
	}
	if auditor.count(models.EventTokenRefreshed) != 1 {
		t.Fatal("expected a token_refreshed event")
	}
}
