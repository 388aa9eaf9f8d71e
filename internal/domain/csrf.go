package domain

import (
	"context"
	"time"
)

// CSRFToken is an anti-forgery token bound to a scope (a session ID or an
// anonymous visitor key).
type CSRFToken struct {
	Scope     string    `json:"scope"`
	Value     string    `json:"value"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (t *CSRFToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// CSRFRepository defines the storage contract behind the CSRF guard.
type CSRFRepository interface {
	// Add stores token, dropping the oldest tokens of its scope beyond maxPerScope.
	Add(ctx context.Context, token *CSRFToken, maxPerScope int) error
	List(ctx context.Context, scope string) ([]CSRFToken, error)
	DeleteScope(ctx context.Context, scope string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
