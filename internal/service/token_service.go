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

const (
	DefaultEmailVerificationTTL = 24 * time.Hour
	DefaultPasswordResetTTL     = time.Hour
)

// TokenTTLs holds the lifetime of each token kind.
type TokenTTLs struct {
	EmailVerification time.Duration
	PasswordReset     time.Duration
}

func (t TokenTTLs) forKind(kind domain.TokenKind) time.Duration {
	switch kind {
	case domain.TokenKindEmailVerification:
		if t.EmailVerification > 0 {
			return t.EmailVerification
		}
		return DefaultEmailVerificationTTL
	default:
		if t.PasswordReset > 0 {
			return t.PasswordReset
		}
		return DefaultPasswordResetTTL
	}
}

// TokenService issues and consumes single-use email verification and
// password reset tokens. Plaintext leaves Issue once and is never stored.
type TokenService struct {
	repo   domain.TokenRepository
	tokens *security.TokenManager
	clock  clock.Clock
	ttls   TokenTTLs
}

func NewTokenService(repo domain.TokenRepository, tokens *security.TokenManager, clk clock.Clock, ttls TokenTTLs) *TokenService {
	return &TokenService{repo: repo, tokens: tokens, clock: clk, ttls: ttls}
}

// Issue returns a new plaintext token for (userID, kind). Any token of the
// same pair issued earlier stops verifying.
func (s *TokenService) Issue(ctx context.Context, userID string, kind domain.TokenKind) (string, error) {
	if !kind.Valid() {
		return "", domain.ErrInvalidTokenKind
	}
	if userID == "" {
		return "", domain.ErrInvalidInput
	}

	plaintext, err := s.tokens.GenerateURLSafe()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	now := s.clock.Now()
	retired, err := s.repo.Replace(ctx, &domain.Token{
		Hash:      security.HashToken(plaintext),
		UserID:    userID,
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttls.forKind(kind)),
	})
	if err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}

	if retired > 0 {
		observability.FromContext(ctx).Debug("retired outstanding tokens",
			slog.String("kind", string(kind)), slog.Int("count", retired))
	}
	return plaintext, nil
}

// VerifyAndConsume redeems plaintext for kind. It succeeds at most once per
// token, even under concurrent calls.
func (s *TokenService) VerifyAndConsume(ctx context.Context, plaintext string, kind domain.TokenKind) (string, bool) {
	if plaintext == "" || !kind.Valid() {
		return "", false
	}

	token, err := s.repo.Consume(ctx, security.HashToken(plaintext), kind, s.clock.Now())
	if err != nil {
		if !errors.Is(err, domain.ErrTokenNotFound) {
			observability.FromContext(ctx).Error("token consume failed", slog.String("error", err.Error()))
		}
		return "", false
	}
	return token.UserID, true
}

// Sweep removes expired and consumed tokens.
func (s *TokenService) Sweep(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.clock.Now())
}
