package common

import (
	"crypto/rand"
	"encoding/base64"
)

// refreshSecretBytes is the entropy of a refresh token value. 64 bytes keeps
// the value comfortably above the 256-bit floor required for opaque tokens.
const refreshSecretBytes = 64

// GenerateRefreshSecret returns a base64-encoded secret from crypto/rand.
// Refresh tokens must never come from a general-purpose PRNG.
func GenerateRefreshSecret() (string, error) {
	b := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
