package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"scroll-press/internal/domain"
)

// CSRFRepository keeps per-scope token lists in a ttlcache. The cache TTL
// only bounds memory; expiry decisions use the ExpiresAt of each record.
type CSRFRepository struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, []domain.CSRFToken]
}

// NewCSRFRepository starts the cache eviction loop. Call Close to stop it.
func NewCSRFRepository() *CSRFRepository {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, []domain.CSRFToken](),
	)
	go cache.Start()

	return &CSRFRepository{cache: cache}
}

func (r *CSRFRepository) Add(_ context.Context, token *domain.CSRFToken, maxPerScope int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var tokens []domain.CSRFToken
	if item := r.cache.Get(token.Scope); item != nil {
		tokens = append(tokens, item.Value()...)
	}
	tokens = append(tokens, *token)

	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].IssuedAt.Before(tokens[j].IssuedAt)
	})
	if maxPerScope > 0 && len(tokens) > maxPerScope {
		tokens = tokens[len(tokens)-maxPerScope:]
	}

	r.cache.Set(token.Scope, tokens, lifetime(tokens))
	return nil
}

func (r *CSRFRepository) List(_ context.Context, scope string) ([]domain.CSRFToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item := r.cache.Get(scope)
	if item == nil {
		return nil, nil
	}
	return append([]domain.CSRFToken(nil), item.Value()...), nil
}

func (r *CSRFRepository) DeleteScope(_ context.Context, scope string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache.Delete(scope)
	return nil
}

func (r *CSRFRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache.DeleteExpired()

	var removed int64
	for _, scope := range r.cache.Keys() {
		item := r.cache.Get(scope)
		if item == nil {
			continue
		}

		live := make([]domain.CSRFToken, 0, len(item.Value()))
		for _, t := range item.Value() {
			if t.Expired(now) {
				removed++
				continue
			}
			live = append(live, t)
		}

		switch {
		case len(live) == 0:
			r.cache.Delete(scope)
		case len(live) != len(item.Value()):
			r.cache.Set(scope, live, lifetime(live))
		}
	}
	return removed, nil
}

// Scopes reports how many scopes currently hold tokens.
func (r *CSRFRepository) Scopes() int {
	return r.cache.Len()
}

// Close stops the cache eviction loop.
func (r *CSRFRepository) Close() error {
	r.cache.Stop()
	return nil
}

// lifetime is the cache TTL for a scope: the issue-to-expiry span of its
// newest token. A non-positive span falls back to no cache expiry.
func lifetime(tokens []domain.CSRFToken) time.Duration {
	newest := tokens[len(tokens)-1]
	if ttl := newest.ExpiresAt.Sub(newest.IssuedAt); ttl > 0 {
		return ttl
	}
	return ttlcache.NoTTL
}
