package signing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// TokenTTL is the default single-use signing token expiry.
const TokenTTL = 7 * 24 * time.Hour

const tokenBytes = 32

// NewToken returns a fresh 64-character hex signing token.
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("signing: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SigningURL builds the stable single-use link handed to a signer.
func SigningURL(appBaseURL, token string) string {
	return fmt.Sprintf("%s/sign/%s", strings.TrimSuffix(appBaseURL, "/"), token)
}
