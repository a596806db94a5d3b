package hashing

import (
	"strings"
	"testing"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	h, err := NewPasswordHasher(4) // min cost keeps the test fast
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}

	digest, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	ok, err := h.Verify("correct horse battery staple", digest)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("expected password to verify")
	}

	ok, err = h.Verify("wrong password", digest)
	if err != nil {
		t.Fatalf("verify mismatch: %v", err)
	}
	if ok {
		t.Fatal("expected mismatch to fail")
	}
}

func TestPasswordVerifyMalformedDigestIsError(t *testing.T) {
	h, _ := NewPasswordHasher(4)
	if _, err := h.Verify("anything", "not-a-bcrypt-digest"); err == nil {
		t.Fatal("expected infrastructure error for malformed digest")
	}
}

func TestPasswordHasherRejectsBadCost(t *testing.T) {
	if _, err := NewPasswordHasher(99); err == nil {
		t.Fatal("expected error for out-of-range cost")
	}
}

func TestOTPGenerateWidthAndCharset(t *testing.T) {
	codec := NewOTPCodec(6)
	for i := 0; i < 50; i++ {
		code, err := codec.Generate()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		if strings.Trim(code, "0123456789") != "" {
			t.Fatalf("non-numeric code %q", code)
		}
	}
}

func TestOTPDigestCompare(t *testing.T) {
	codec := NewOTPCodec(6)

	code, err := codec.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	digest, err := codec.Digest(code)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if digest.Hash == "" || digest.Salt == "" {
		t.Fatal("digest missing hash or salt")
	}
	if strings.Contains(digest.Hash, code) {
		t.Fatal("digest must not embed the plaintext code")
	}

	ok, err := codec.Compare(code, digest)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if !ok {
		t.Fatal("expected matching code to compare equal")
	}

	ok, err = codec.Compare("000000", digest)
	if err != nil {
		t.Fatalf("compare wrong code: %v", err)
	}
	if ok && code != "000000" {
		t.Fatal("expected wrong code to fail")
	}
}

func TestOTPCompareMalformedDigest(t *testing.T) {
	codec := NewOTPCodec(6)
	if _, err := codec.Compare("123456", &OTPDigest{Hash: "!!", Salt: "!!", Algorithm: "argon2id-v1"}); err == nil {
		t.Fatal("expected error for malformed digest")
	}
	if _, err := codec.Compare("123456", nil); err == nil {
		t.Fatal("expected error for nil digest")
	}
}
