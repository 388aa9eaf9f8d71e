package service

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"scroll-press/internal/clock"
	"scroll-press/internal/repository/memory"
	"scroll-press/internal/security"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	clock     *clock.Fake
	sessions  *SessionService
	tokens    *TokenService
	csrf      *CSRFService
	accounts  *AccountService
	mailer    *recordingMailer
	users     *memory.UserRepository
	documents *memory.DocumentRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := clock.NewFake(epoch)
	tm := security.NewTokenManager(nil)
	csrfRepo := memory.NewCSRFRepository()
	t.Cleanup(func() { _ = csrfRepo.Close() })

	f := &fixture{
		clock:     clk,
		sessions:  NewSessionService(memory.NewSessionRepository(), tm, clk, 0),
		tokens:    NewTokenService(memory.NewTokenRepository(), tm, clk, TokenTTLs{}),
		csrf:      NewCSRFService(csrfRepo, tm, clk, 0, 0),
		mailer:    &recordingMailer{},
		users:     memory.NewUserRepository(),
		documents: memory.NewDocumentRepository(),
	}
	f.accounts = NewAccountService(f.users, f.documents, f.sessions, f.tokens, f.csrf, f.mailer, clk,
		AccountConfig{BaseURL: "https://scroll.example/", BcryptCost: bcrypt.MinCost})
	return f
}

type sentMail struct {
	to   string
	link string
}

type recordingMailer struct {
	mu           sync.Mutex
	verification []sentMail
	reset        []sentMail
	err          error
}

func (m *recordingMailer) SendVerificationEmail(_ context.Context, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.verification = append(m.verification, sentMail{to: to, link: link})
	return nil
}

func (m *recordingMailer) SendPasswordResetEmail(_ context.Context, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.reset = append(m.reset, sentMail{to: to, link: link})
	return nil
}

func (m *recordingMailer) lastVerificationToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.verification)
	return tokenFromLink(t, m.verification[len(m.verification)-1].link)
}

func (m *recordingMailer) lastResetToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.reset)
	return tokenFromLink(t, m.reset[len(m.reset)-1].link)
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	token := u.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

// fixedSource always yields the same bytes.
type fixedSource struct{ b byte }

func (s fixedSource) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = s.b
	}
	return len(p), nil
}

type failingSource struct{}

func (failingSource) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}
