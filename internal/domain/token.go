package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTokenNotFound    = errors.New("token not found")
	ErrTokenExists      = errors.New("token already exists")
	ErrInvalidToken     = errors.New("invalid or expired token")
	ErrInvalidTokenKind = errors.New("invalid token kind")
)

// TokenKind distinguishes the purposes a single-use token can serve.
type TokenKind string

const (
	TokenKindEmailVerification TokenKind = "email_verification"
	TokenKindPasswordReset     TokenKind = "password_reset"
)

func (k TokenKind) Valid() bool {
	return k == TokenKindEmailVerification || k == TokenKindPasswordReset
}

// Token is a single-use secret. Only the digest of the plaintext is kept.
type Token struct {
	Hash      string    `json:"hash"`
	UserID    string    `json:"user_id"`
	Kind      TokenKind `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
}

// Usable reports whether the token can still be consumed at now.
func (t *Token) Usable(now time.Time) bool {
	return !t.Consumed && now.Before(t.ExpiresAt)
}

// TokenRepository defines the storage contract behind the token store.
type TokenRepository interface {
	// Replace retires every outstanding token of token.UserID and token.Kind
	// and stores token, as one atomic step. It returns how many were retired.
	Replace(ctx context.Context, token *Token) (int, error)
	// Consume marks the usable token with the given hash and kind as consumed
	// and returns it. Concurrent calls for one hash succeed at most once.
	Consume(ctx context.Context, hash string, kind TokenKind, now time.Time) (*Token, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
