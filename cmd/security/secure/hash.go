package secure

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashSHA256Hex returns a SHA-256 hex digest of b.
func HashSHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HMACSHA256 returns the raw HMAC-SHA256 of msg using key.
func HMACSHA256(msg, key []byte) []byte {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write(msg)
	return m.Sum(nil)
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of msg using key.
func HashHMACSHA256Hex(msg, key []byte) string {
	return hex.EncodeToString(HMACSHA256(msg, key))
}

// NormalizeEmail performs case-insensitive canonicalization.
// Note: only trim + lower-case; provider-specific rules (dots, plus tags) are not applied.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// DedupeKey returns the stable idempotency key for an email address.
// The same normalized email always yields the same key.
func DedupeKey(email string) string {
	return HashSHA256Hex([]byte(NormalizeEmail(email)))
}

// ConstantTimeEqual reports whether a and b are equal without leaking timing
// information about where they differ. Lengths are compared first.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Key validates a raw secret (trimmed) and enforces a minimum byte length.
// Blank -> ErrKeyMissing. Too short -> ErrKeyTooShort.
// We measure bytes (not runes) because the key is used as raw bytes.
func Key(raw string, minBytes int) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrKeyTooShort
	}
	return b, nil
}
