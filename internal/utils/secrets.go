package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateSecret generates a cryptographically secure random secret, hex encoded
func GenerateSecret(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateServiceSecrets generates the JWT signing secret and a webhook HMAC secret
func GenerateServiceSecrets() (jwtSecret, hmacSecret string, err error) {
	jwtSecret, err = GenerateSecret(32) // 256-bit
	if err != nil {
		return "", "", fmt.Errorf("failed to generate jwt secret: %w", err)
	}

	hmacSecret, err = GenerateSecret(64) // matches the SHA-512 block size
	if err != nil {
		return "", "", fmt.Errorf("failed to generate hmac secret: %w", err)
	}

	return jwtSecret, hmacSecret, nil
}
