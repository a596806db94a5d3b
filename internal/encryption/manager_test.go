package encryption

import (
	"context"
	"testing"

	"agroassist-auth/internal/config"
)

func newLocalManager() *Manager {
	return NewManager(&config.Config{
		KMS: config.KMSConfig{Enabled: false},
	}, nil)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m := newLocalManager()
	ctx := context.Background()

	field, err := m.EncryptField(ctx, "+254700000001")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if string(field.Value) == "+254700000001" {
		t.Fatal("value stored in the clear")
	}

	got, err := m.DecryptField(ctx, field)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != "+254700000001" {
		t.Fatalf("expected round trip, got %q", got)
	}
}

func TestDecryptSurvivesCacheClear(t *testing.T) {
	m := newLocalManager()
	ctx := context.Background()

	field, err := m.EncryptField(ctx, "+254711111111")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	m.ClearCache()

	got, err := m.DecryptField(ctx, field)
	if err != nil {
		t.Fatalf("decrypt after cache clear: %v", err)
	}
	if got != "+254711111111" {
		t.Fatalf("expected round trip, got %q", got)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	m := newLocalManager()
	ctx := context.Background()

	field, err := m.EncryptField(ctx, "+254722222222")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	m.ClearCache()
	field.Value[len(field.Value)-1] ^= 0xff

	if _, err := m.DecryptField(ctx, field); err == nil {
		t.Fatal("tampered ciphertext accepted")
	}
}

func TestDistinctKeysPerField(t *testing.T) {
	m := newLocalManager()
	ctx := context.Background()

	a, _ := m.EncryptField(ctx, "same")
	b, _ := m.EncryptField(ctx, "same")
	if a.DEK == b.DEK {
		t.Fatal("expected a fresh data key per field")
	}
}
