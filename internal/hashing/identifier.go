package hashing

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashIdentifier produces the deterministic lookup hash stored in place
// of a plaintext phone number. Unlike password and OTP digests it is
// unsalted, because the same phone must always map to the same row.
func HashIdentifier(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
