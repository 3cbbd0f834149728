package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const clientSecretPrefix = "otc_"

// GenerateClientSecret creates a new random client secret
// Format: otc_<64 hex chars>
func GenerateClientSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return clientSecretPrefix + hex.EncodeToString(secretBytes), nil
}

// ValidateSecretFormat checks if secret has correct format
func ValidateSecretFormat(secret string) bool {
	if !strings.HasPrefix(secret, clientSecretPrefix) {
		return false
	}
	_, err := hex.DecodeString(secret[len(clientSecretPrefix):])
	return err == nil && len(secret) == len(clientSecretPrefix)+64
}
