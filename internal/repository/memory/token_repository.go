package memory

import (
	"context"
	"sync"
	"time"

	"scroll-press/internal/domain"
)

type outstandingKey struct {
	userID string
	kind   domain.TokenKind
}

// TokenRepository implements domain.TokenRepository in memory. A single
// mutex makes Consume a check-and-set: the first caller flips Consumed and
// every later caller sees it.
type TokenRepository struct {
	mu          sync.Mutex
	tokens      map[string]*domain.Token
	outstanding map[outstandingKey]string
}

func NewTokenRepository() *TokenRepository {
	return &TokenRepository{
		tokens:      make(map[string]*domain.Token),
		outstanding: make(map[outstandingKey]string),
	}
}

func (r *TokenRepository) Replace(_ context.Context, token *domain.Token) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[token.Hash]; exists {
		return 0, domain.ErrTokenExists
	}

	key := outstandingKey{userID: token.UserID, kind: token.Kind}
	retired := 0
	if prev, ok := r.outstanding[key]; ok {
		if t := r.tokens[prev]; t != nil && !t.Consumed {
			t.Consumed = true
			retired++
		}
	}

	stored := *token
	r.tokens[token.Hash] = &stored
	r.outstanding[key] = token.Hash
	return retired, nil
}

func (r *TokenRepository) Consume(_ context.Context, hash string, kind domain.TokenKind, now time.Time) (*domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[hash]
	if !ok || t.Kind != kind || !t.Usable(now) {
		return nil, domain.ErrTokenNotFound
	}

	t.Consumed = true
	key := outstandingKey{userID: t.UserID, kind: t.Kind}
	if r.outstanding[key] == hash {
		delete(r.outstanding, key)
	}

	consumed := *t
	return &consumed, nil
}

// DeleteExpired drops expired and consumed records.
func (r *TokenRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for hash, t := range r.tokens {
		if t.Usable(now) {
			continue
		}
		delete(r.tokens, hash)
		key := outstandingKey{userID: t.UserID, kind: t.Kind}
		if r.outstanding[key] == hash {
			delete(r.outstanding, key)
		}
		count++
	}
	return count, nil
}

// Len reports the number of stored token records.
func (r *TokenRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}
