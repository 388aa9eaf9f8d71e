package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scroll-press/internal/clock"
	"scroll-press/internal/domain"
	"scroll-press/internal/observability"
	"scroll-press/internal/security"
)

const DefaultSessionTTL = 24 * time.Hour

// idAttempts bounds retries on a session ID collision.
const idAttempts = 3

// SessionService maps opaque session IDs to users. Expired sessions are
// never resolved; they are removed lazily on lookup and by Sweep.
type SessionService struct {
	repo   domain.SessionRepository
	tokens *security.TokenManager
	clock  clock.Clock
	ttl    time.Duration
}

func NewSessionService(repo domain.SessionRepository, tokens *security.TokenManager, clk clock.Clock, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionService{repo: repo, tokens: tokens, clock: clk, ttl: ttl}
}

// Create starts a session for userID with a fresh 256-bit ID.
func (s *SessionService) Create(ctx context.Context, userID string) (*domain.Session, error) {
	if userID == "" {
		return nil, domain.ErrInvalidInput
	}

	for attempt := 0; attempt < idAttempts; attempt++ {
		id, err := s.tokens.GenerateURLSafe()
		if err != nil {
			return nil, fmt.Errorf("generate session id: %w", err)
		}

		now := s.clock.Now()
		session := &domain.Session{
			ID:        id,
			UserID:    userID,
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl),
		}

		err = s.repo.Create(ctx, session)
		if errors.Is(err, domain.ErrSessionExists) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		return session, nil
	}

	return nil, domain.ErrSessionExists
}

// Resolve returns the live session behind id. Lookup failures of the
// backing store resolve to nothing.
func (s *SessionService) Resolve(ctx context.Context, id string) (*domain.Session, bool) {
	if id == "" {
		return nil, false
	}

	session, err := s.repo.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			observability.FromContext(ctx).Error("session lookup failed", slog.String("error", err.Error()))
		}
		return nil, false
	}

	now := s.clock.Now()
	if session.Expired(now) {
		if _, err := s.repo.DeleteIfExpired(ctx, id, now); err != nil {
			observability.FromContext(ctx).Warn("expired session eviction failed", slog.String("error", err.Error()))
		}
		return nil, false
	}

	return session, true
}

// Invalidate destroys a session. Unknown IDs are not an error.
func (s *SessionService) Invalidate(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// InvalidateAllForUser destroys every session of userID and returns their IDs.
func (s *SessionService) InvalidateAllForUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("delete user sessions: %w", err)
	}
	return ids, nil
}

// Sweep removes expired sessions.
func (s *SessionService) Sweep(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.clock.Now())
}
