package utils

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
)

// APIKeyPrefix marks keys issued for the moderation API.
const APIKeyPrefix = "am_"

// GenerateAPIKey returns a new "am_"-prefixed key with 32 random bytes of
// URL-safe entropy.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// IsAPIKey reports whether s looks like an issued API key.
func IsAPIKey(s string) bool {
	return strings.HasPrefix(s, APIKeyPrefix) && len(s) > len(APIKeyPrefix)+16
}

// MaskSecret keeps the first and last four characters of a secret.
func MaskSecret(s string) string {
	if len(s) <= 12 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
