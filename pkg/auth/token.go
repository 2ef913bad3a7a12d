package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
)

// TokenLabel is the message authenticated by DeriveToken. Changing it
// invalidates every installed connector.
const TokenLabel = "mcpgate-bridge-v1"

// SecretLength is the size in bytes of secrets produced by GenerateSecret.
const SecretLength = 32

// ErrEmptySecret is returned when a token is requested for an empty secret.
var ErrEmptySecret = errors.New("shared secret is empty")

// DeriveToken returns the hex encoded HMAC-SHA256 of TokenLabel keyed by secret.
func DeriveToken(secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(TokenLabel))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether candidate equals expected in constant time.
// An empty expected token never verifies.
func Verify(candidate, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1
}

// GenerateSecret returns SecretLength random bytes, hex encoded.
func GenerateSecret() (string, error) {
	buf := make([]byte, SecretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate shared secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Authenticator checks candidate tokens against the token derived at
// construction. It holds no other state.
type Authenticator struct {
	expected string
}

// NewAuthenticator derives the expected token from secret.
func NewAuthenticator(secret []byte) (*Authenticator, error) {
	token, err := DeriveToken(secret)
	if err != nil {
		return nil, err
	}
	return &Authenticator{expected: token}, nil
}

// NewAuthenticatorForToken wraps an already derived token.
func NewAuthenticatorForToken(token string) *Authenticator {
	return &Authenticator{expected: token}
}

// Authenticate reports whether candidate is the expected token.
func (a *Authenticator) Authenticate(candidate string) bool {
	return Verify(candidate, a.expected)
}

// Token returns the expected token.
func (a *Authenticator) Token() string {
	return a.expected
}
