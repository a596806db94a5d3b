package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
)

var ErrInvalidDigest = errors.New("invalid otp digest format")

const otpAlgorithm = "argon2id-v1"

type argon2Params struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

// OTPCodec generates numeric one-time codes and digests them with argon2id.
// Codes are drawn from crypto/rand; comparisons are constant time.
type OTPCodec struct {
	digits int
	params argon2Params
}

// OTPDigest is the persisted form of a code. The plaintext never leaves
// the caller that requested generation.
type OTPDigest struct {
	Hash      string
	Salt      string
	Algorithm string
}

func NewOTPCodec(digits int) *OTPCodec {
	return &OTPCodec{
		digits: digits,
		params: argon2Params{
			memory:      16 * 1024,
			iterations:  2,
			parallelism: 1,
			saltLength:  16,
			keyLength:   32,
		},
	}
}

// Generate returns a zero-padded numeric code of the configured width.
func (c *OTPCodec) Generate() (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", c.digits, n), nil
}

// Digest hashes a code with a fresh random salt.
func (c *OTPCodec) Digest(code string) (*OTPDigest, error) {
	salt := make([]byte, c.params.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(code), salt,
		c.params.iterations, c.params.memory, c.params.parallelism, c.params.keyLength)

	return &OTPDigest{
		Hash:      base64.RawURLEncoding.EncodeToString(hash),
		Salt:      base64.RawURLEncoding.EncodeToString(salt),
		Algorithm: otpAlgorithm,
	}, nil
}

// Compare checks a candidate code against a stored digest in constant time.
// A mismatch is (false, nil); a malformed digest is an error.
func (c *OTPCodec) Compare(code string, digest *OTPDigest) (bool, error) {
	if digest == nil || !strings.HasPrefix(digest.Algorithm, "argon2id") {
		return false, ErrInvalidDigest
	}

	salt, err := base64.RawURLEncoding.DecodeString(digest.Salt)
	if err != nil {
		return false, ErrInvalidDigest
	}
	expected, err := base64.RawURLEncoding.DecodeString(digest.Hash)
	if err != nil {
		return false, ErrInvalidDigest
	}

	computed := argon2.IDKey([]byte(code), salt,
		c.params.iterations, c.params.memory, c.params.parallelism, uint32(len(expected)))

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

func (c *OTPCodec) Digits() int {
	return c.digits
}
