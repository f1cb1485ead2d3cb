package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// keyMinLength is the minimum acceptable project API key length.
const keyMinLength = 32

// ValidKeyFormat reports whether key looks like a project-scoped API key:
// at least 32 characters of alphanumerics, hyphens, and underscores.
func ValidKeyFormat(key string) bool {
	if len(key) < keyMinLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}

// HashIdentity derives the rate-limiting identity from an API key: one-way
// and truncated so the raw key never appears in counters or logs.
func HashIdentity(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// GenerateKey mints a random key in the accepted format.
func GenerateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
