package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"scroll-press/internal/clock"
	"scroll-press/internal/domain"
	"scroll-press/internal/observability"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

const (
	minPasswordLen = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordBytes = 72
	maxDisplayName   = 100
)

// AccountConfig holds settings for account flows.
type AccountConfig struct {
	// BaseURL prefixes the links sent by email.
	BaseURL    string
	BcryptCost int
}

// AccountService composes the user repository with the session, token and
// CSRF stores. It is the only place where one store's outcome drives another.
type AccountService struct {
	users     domain.UserRepository
	documents domain.DocumentRepository
	sessions  *SessionService
	tokens    *TokenService
	csrf      *CSRFService
	mailer    domain.Mailer
	clock     clock.Clock
	cfg       AccountConfig

	// dummyHash keeps login timing flat for unknown emails.
	dummyHash []byte
}

func NewAccountService(
	users domain.UserRepository,
	documents domain.DocumentRepository,
	sessions *SessionService,
	tokens *TokenService,
	csrf *CSRFService,
	mailer domain.Mailer,
	clk clock.Clock,
	cfg AccountConfig,
) *AccountService {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	dummy, err := bcrypt.GenerateFromPassword([]byte("scroll-press-placeholder"), cfg.BcryptCost)
	if err != nil {
		panic(fmt.Sprintf("bcrypt placeholder hash: %v", err))
	}

	return &AccountService{
		users:     users,
		documents: documents,
		sessions:  sessions,
		tokens:    tokens,
		csrf:      csrf,
		mailer:    mailer,
		clock:     clk,
		cfg:       cfg,
		dummyHash: dummy,
	}
}

// Register creates an unverified account and mails a verification link.
func (s *AccountService) Register(ctx context.Context, email, displayName, password string) (*domain.User, error) {
	email = strings.TrimSpace(email)
	displayName = strings.TrimSpace(displayName)

	if !emailRegex.MatchString(email) || len(email) > 255 {
		return nil, domain.ErrInvalidInput
	}
	if utf8.RuneCountInString(displayName) > maxDisplayName {
		return nil, domain.ErrInvalidInput
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, domain.ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		CreatedAt:    s.clock.Now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	if err := s.sendVerification(ctx, user); err != nil {
		// The account exists; the author can ask for a new link later.
		observability.FromContext(ctx).Error("verification email not queued",
			slog.String("user_id", user.ID), slog.String("error", err.Error()))
	}

	return user, nil
}

// ResendVerification issues a fresh verification link, retiring the old one.
func (s *AccountService) ResendVerification(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return nil
	}
	return s.sendVerification(ctx, user)
}

func (s *AccountService) sendVerification(ctx context.Context, user *domain.User) error {
	token, err := s.tokens.Issue(ctx, user.ID, domain.TokenKindEmailVerification)
	if err != nil {
		return err
	}
	return s.mailer.SendVerificationEmail(ctx, user.Email, s.link("/api/v1/auth/verify-email", token))
}

// Login checks credentials and starts a new session. The session the
// client presented, if any, is destroyed together with its CSRF tokens.
func (s *AccountService) Login(ctx context.Context, email, password, previousSessionID string) (*domain.Session, *domain.User, error) {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, nil, domain.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, domain.ErrInvalidCredentials
	}

	if previousSessionID != "" {
		if err := s.endSession(ctx, previousSessionID); err != nil {
			return nil, nil, err
		}
	}

	session, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return session, user, nil
}

// Logout destroys the session and its CSRF tokens.
func (s *AccountService) Logout(ctx context.Context, sessionID string) error {
	return s.endSession(ctx, sessionID)
}

func (s *AccountService) CurrentUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

// VerifyEmail redeems an email verification token.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) (*domain.User, error) {
	userID, ok := s.tokens.VerifyAndConsume(ctx, token, domain.TokenKindEmailVerification)
	if !ok {
		return nil, domain.ErrInvalidToken
	}

	if err := s.users.MarkEmailVerified(ctx, userID); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, userID)
}

// RequestPasswordReset mails a reset link when email belongs to an account.
// The outcome is the same either way so callers cannot probe for accounts.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token, err := s.tokens.Issue(ctx, user.ID, domain.TokenKindPasswordReset)
	if err != nil {
		return err
	}

	if err := s.mailer.SendPasswordResetEmail(ctx, user.Email, s.link("/reset-password", token)); err != nil {
		observability.FromContext(ctx).Error("password reset email not queued",
			slog.String("user_id", user.ID), slog.String("error", err.Error()))
	}
	return nil
}

// ResetPassword redeems a password reset token and sets a new password.
// Every session of the account is destroyed.
func (s *AccountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	userID, ok := s.tokens.VerifyAndConsume(ctx, token, domain.TokenKindPasswordReset)
	if !ok {
		return domain.ErrInvalidToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return err
	}

	return s.endAllSessions(ctx, userID)
}

// DeleteAccount removes the user, their documents and all their sessions.
func (s *AccountService) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.endAllSessions(ctx, userID); err != nil {
		return err
	}

	removed, err := s.documents.DeleteByOwner(ctx, userID)
	if err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}

	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}

	observability.FromContext(ctx).Info("account deleted",
		slog.String("user_id", userID), slog.Int("documents_deleted", removed))
	return nil
}

func (s *AccountService) endSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Invalidate(ctx, sessionID); err != nil {
		return err
	}
	return s.csrf.RevokeScope(ctx, sessionID)
}

func (s *AccountService) endAllSessions(ctx context.Context, userID string) error {
	ids, err := s.sessions.InvalidateAllForUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.csrf.RevokeScope(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *AccountService) link(path, token string) string {
	return s.cfg.BaseURL + path + "?token=" + url.QueryEscape(token)
}

func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLen || len(password) > maxPasswordBytes {
		return domain.ErrInvalidInput
	}
	return nil
}
