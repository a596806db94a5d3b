package token

import (
	"errors"
	"testing"
	"time"

	"agroassist-auth/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     24 * time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "agroassist-auth",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestNewManagerRejectsSharedSecret(t *testing.T) {
	_, err := NewManager(Config{
		AccessSecret:  "same",
		RefreshSecret: "same",
		AccessTTL:     time.Hour,
		RefreshTTL:    time.Hour,
	})
	if err == nil {
		t.Fatal("expected error for identical secrets")
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := newTestManager(t)

	signed, err := m.SignAccess("u-1", "farmer@example.com", models.RoleFarmer)
	if err != nil {
		t.Fatalf("sign access: %v", err)
	}

	claims, err := m.ParseAccess(signed)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UserID != "u-1" || claims.Email != "farmer@example.com" || claims.Role != models.RoleFarmer {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != 24*time.Hour {
		t.Fatalf("expected 24h lifetime, got %v", got)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	m := newTestManager(t)

	signed, err := m.SignRefresh("u-1", "tok-123")
	if err != nil {
		t.Fatalf("sign refresh: %v", err)
	}

	claims, err := m.ParseRefresh(signed)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if claims.UserID != "u-1" || claims.TokenID != "tok-123" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokensNotInterchangeable(t *testing.T) {
	m := newTestManager(t)

	access, _ := m.SignAccess("u-1", "a@b.c", models.RoleFarmer)
	refresh, _ := m.SignRefresh("u-1", "tok-1")

	if _, err := m.ParseRefresh(access); err == nil {
		t.Fatal("access token accepted as refresh token")
	}
	if _, err := m.ParseAccess(refresh); err == nil {
		t.Fatal("refresh token accepted as access token")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	m := newTestManager(t)

	issued := time.Now().Add(-48 * time.Hour)
	m.now = func() time.Time { return issued }
	signed, err := m.SignAccess("u-1", "a@b.c", models.RoleFarmer)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	m.now = time.Now
	_, err = m.ParseAccess(signed)
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	m := newTestManager(t)

	signed, _ := m.SignAccess("u-1", "a@b.c", models.RoleFarmer)
	tampered := signed[:len(signed)-2] + "xx"

	if _, err := m.ParseAccess(tampered); err == nil {
		t.Fatal("tampered token accepted")
	}
}
