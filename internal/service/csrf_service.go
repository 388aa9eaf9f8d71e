package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"scroll-press/internal/clock"
	"scroll-press/internal/domain"
	"scroll-press/internal/observability"
	"scroll-press/internal/security"
)

const (
	DefaultCSRFTokenTTL    = 2 * time.Hour
	DefaultCSRFMaxPerScope = 16
)

// CSRFService issues anti-forgery tokens bound to a scope and checks them
// on state-changing requests. Verification does not consume the token.
type CSRFService struct {
	repo        domain.CSRFRepository
	tokens      *security.TokenManager
	clock       clock.Clock
	ttl         time.Duration
	maxPerScope int
}

func NewCSRFService(repo domain.CSRFRepository, tokens *security.TokenManager, clk clock.Clock, ttl time.Duration, maxPerScope int) *CSRFService {
	if ttl <= 0 {
		ttl = DefaultCSRFTokenTTL
	}
	if maxPerScope <= 0 {
		maxPerScope = DefaultCSRFMaxPerScope
	}
	return &CSRFService{repo: repo, tokens: tokens, clock: clk, ttl: ttl, maxPerScope: maxPerScope}
}

func (s *CSRFService) Issue(ctx context.Context, scope string) (string, error) {
	if scope == "" {
		return "", domain.ErrInvalidInput
	}

	value, err := s.tokens.Generate()
	if err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}

	now := s.clock.Now()
	err = s.repo.Add(ctx, &domain.CSRFToken{
		Scope:     scope,
		Value:     value,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}, s.maxPerScope)
	if err != nil {
		return "", fmt.Errorf("store csrf token: %w", err)
	}
	return value, nil
}

// Verify reports whether token is a live token of scope. Every candidate is
// compared in constant time.
func (s *CSRFService) Verify(ctx context.Context, scope, token string) bool {
	if scope == "" || token == "" {
		return false
	}

	candidates, err := s.repo.List(ctx, scope)
	if err != nil {
		observability.FromContext(ctx).Error("csrf lookup failed", slog.String("error", err.Error()))
		return false
	}

	now := s.clock.Now()
	valid := false
	for i := range candidates {
		if security.Equal(candidates[i].Value, token) && !candidates[i].Expired(now) {
			valid = true
		}
	}
	return valid
}

// RevokeScope drops every token of scope.
func (s *CSRFService) RevokeScope(ctx context.Context, scope string) error {
	if scope == "" {
		return nil
	}
	if err := s.repo.DeleteScope(ctx, scope); err != nil {
		return fmt.Errorf("revoke csrf scope: %w", err)
	}
	return nil
}

// Sweep removes expired tokens.
func (s *CSRFService) Sweep(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.clock.Now())
}
