package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// TokenBytes is the number of random bytes behind every session ID,
// single-use token and CSRF token (256 bits).
const TokenBytes = 32

var ErrShortRead = errors.New("random source returned too few bytes")

// RandomSource supplies cryptographically secure random bytes.
type RandomSource interface {
	Read(p []byte) (int, error)
}

// CryptoSource reads from crypto/rand.
type CryptoSource struct{}

func (CryptoSource) Read(p []byte) (int, error) {
	return rand.Read(p)
}

// TokenManager generates opaque secrets for the session, token and CSRF stores.
type TokenManager struct {
	src RandomSource
}

// NewTokenManager creates a token manager. A nil source means crypto/rand.
func NewTokenManager(src RandomSource) *TokenManager {
	if src == nil {
		src = CryptoSource{}
	}
	return &TokenManager{src: src}
}

func (tm *TokenManager) random() ([]byte, error) {
	b := make([]byte, TokenBytes)
	n, err := tm.src.Read(b)
	if err != nil {
		return nil, fmt.Errorf("security: failed to read random bytes: %w", err)
	}
	if n != TokenBytes {
		return nil, ErrShortRead
	}
	return b, nil
}

// Generate returns a 64-character hex token. Used for CSRF tokens, which are
// embedded in forms and headers.
func (tm *TokenManager) Generate() (string, error) {
	b, err := tm.random()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateURLSafe returns an unpadded base64url token. Used for session IDs
// and for tokens that travel inside email links.
func (tm *TokenManager) GenerateURLSafe() (string, error) {
	b, err := tm.random()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the hex SHA-256 digest of token. Single-use tokens are
// stored only in this form.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Equal compares two secrets in constant time.
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
