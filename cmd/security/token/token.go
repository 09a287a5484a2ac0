package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

// HMACEnvKey is the env var holding the optional refresh-token HMAC secret.
// #nosec G101 -- env var name, not a credential.
const HMACEnvKey = "TOKEN_HMAC_KEY"

// MinHMACKeyBytes is the smallest key accepted when HMAC hashing is required.
const MinHMACKeyBytes = 32

// Hasher turns raw refresh tokens into their stored digest.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher. An empty key selects SHA-256.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return Hasher{key: k}
}

// HasherFromEnv builds a Hasher from TOKEN_HMAC_KEY.
// When require is true a missing or short key is an error instead of a SHA-256 fallback.
func HasherFromEnv(require bool) (Hasher, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		if require {
			return Hasher{}, ErrHMACKeyMissing
		}
		return Hasher{}, nil
	}
	if require && len(raw) < MinHMACKeyBytes {
		return Hasher{}, ErrHMACKeyTooShort
	}
	return NewHasher([]byte(raw)), nil
}

// HMAC reports whether the hasher is keyed.
func (h Hasher) HMAC() bool { return len(h.key) > 0 }

// HashHex returns the 64-char hex digest of raw.
func (h Hasher) HashHex(raw string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(raw)
	}
	return HashHMACSHA256Hex(raw, h.key)
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}
