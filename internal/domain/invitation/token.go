package invitation

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
)

// tokenBytes gives 128 bits of entropy, rendered as 32 hex characters.
const tokenBytes = 16

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate invitation token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ActivationURL builds the link sent to the patient.
func ActivationURL(baseURL, token string) string {
	return baseURL + "/activate?token=" + url.QueryEscape(token)
}
