package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const (
	secretPrefix = "ak_"
	secretBytes  = 28
)

// NewSecret returns a fresh raw API key: the prefix followed by 28 random
// bytes in unpadded URL-safe base64.
func NewSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return secretPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSecret is the lookup form of a raw key.
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Hint masks a raw key for listings.
func Hint(raw string) string {
	if len(raw) <= 10 {
		return "***"
	}
	return raw[:5] + "***" + raw[len(raw)-5:]
}
