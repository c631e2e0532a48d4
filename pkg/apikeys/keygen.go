package apikeys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyPrefix marks machine credentials on the wire
const KeyPrefix = "ck_"

// displayPrefixLen is how many characters of the secret body appear in the
// admin-visible display prefix.
const displayPrefixLen = 8

// GenerateKey returns a new plaintext secret and its storage hash
func GenerateKey() (secret, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate key material: %w", err)
	}
	secret = KeyPrefix + base64.RawURLEncoding.EncodeToString(raw)
	return secret, HashKey(secret), nil
}

// HashKey returns the hex SHA-256 of a plaintext secret
func HashKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the recognition prefix for a plaintext secret,
// "ck_" plus the first few characters of the body.
func DisplayPrefix(secret string) string {
	body := strings.TrimPrefix(secret, KeyPrefix)
	if len(body) > displayPrefixLen {
		body = body[:displayPrefixLen]
	}
	return KeyPrefix + body
}
