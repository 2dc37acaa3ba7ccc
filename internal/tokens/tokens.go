// Package tokens provides the random tokens and keyed hashes the server
// persists in place of secrets: peppered SHA-256 for share-link and invite
// tokens, HMAC-SHA256 for OTPs, and salted SHA-256 for vendor emails.
package tokens

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const tokenBytes = 32

// New returns a fresh URL-safe bearer token (32 random bytes, unpadded
// base64url). The plaintext is emitted once and never persisted.
func New() (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("tokens: generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken computes the peppered storage hash of a bearer token:
// hex(SHA-256(pepper || token)). Lookup is by this hash only.
func HashToken(pepper, token string) string {
	sum := sha256.Sum256([]byte(pepper + token))
	return hex.EncodeToString(sum[:])
}

// NewOTP returns a 6-digit code uniform over [000000..999999] using the
// cryptographic RNG.
func NewOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("tokens: generating OTP: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// HashOTP computes the storage hash of an OTP: hex(HMAC-SHA256(secret, otp || salt)).
func HashOTP(secret []byte, otp string, salt []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(otp))
	mac.Write(salt)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyOTP compares a candidate OTP against a stored hash in constant time.
func VerifyOTP(secret []byte, otp string, salt []byte, storedHash string) bool {
	return hmac.Equal([]byte(HashOTP(secret, otp, salt)), []byte(storedHash))
}

// NormalizeEmail lowercases and trims an email address for hashing and
// equality checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashEmail computes hex(SHA-256(salt || lower(trim(email)))). With a fresh
// per-challenge salt this allows equality checks without persisting the
// plaintext address.
func HashEmail(salt []byte, email string) string {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(h.Sum(nil))
}

// EmailsEqual reports whether two addresses are the same after normalization,
// compared in constant time.
func EmailsEqual(a, b string) bool {
	return hmac.Equal([]byte(NormalizeEmail(a)), []byte(NormalizeEmail(b)))
}
