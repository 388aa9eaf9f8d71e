// Package testutil provides shared test utilities, mocks, and fixtures
// for the HTTP-facing packages.
package testutil

import (
	"context"
	"errors"
	"sync"
)

var ErrMockMailer = errors.New("mock: mailer unavailable")

// SentEmail is one message captured by MockMailer.
type SentEmail struct {
	Kind string
	To   string
	Link string
}

// MockMailer implements domain.Mailer and records every send.
type MockMailer struct {
	mu   sync.Mutex
	sent []SentEmail

	// Fail makes every send return ErrMockMailer.
	Fail bool
}

func NewMockMailer() *MockMailer {
	return &MockMailer{}
}

func (m *MockMailer) SendVerificationEmail(_ context.Context, to, link string) error {
	return m.record("verify_email", to, link)
}

func (m *MockMailer) SendPasswordResetEmail(_ context.Context, to, link string) error {
	return m.record("password_reset", to, link)
}

func (m *MockMailer) record(kind, to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return ErrMockMailer
	}
	m.sent = append(m.sent, SentEmail{Kind: kind, To: to, Link: link})
	return nil
}

// Sent returns a copy of the captured emails.
func (m *MockMailer) Sent() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentEmail(nil), m.sent...)
}

// Last returns the most recent email of kind, if any.
func (m *MockMailer) Last(kind string) (SentEmail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Kind == kind {
			return m.sent[i], true
		}
	}
	return SentEmail{}, false
}
