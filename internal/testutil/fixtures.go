package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"scroll-press/internal/domain"
)

// Counter for generating unique IDs
var idCounter atomic.Int64

// nextID generates a unique ID for test fixtures
func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}

// UserOptions allows customizing user fixture creation
type UserOptions struct {
	ID            string
	Email         string
	DisplayName   string
	PasswordHash  string
	EmailVerified bool
	CreatedAt     time.Time
}

// NewTestUser creates a test user with sensible defaults.
func NewTestUser(opts ...func(*UserOptions)) *domain.User {
	o := &UserOptions{
		ID:           nextID("user"),
		PasswordHash: "$2a$04$test.hash.for.testing.purposes.only",
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.DisplayName == "" {
		o.DisplayName = "Author " + o.ID
	}
	if o.Email == "" {
		o.Email = o.ID + "@example.com"
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	return &domain.User{
		ID:            o.ID,
		Email:         o.Email,
		DisplayName:   o.DisplayName,
		PasswordHash:  o.PasswordHash,
		EmailVerified: o.EmailVerified,
		CreatedAt:     o.CreatedAt,
	}
}

func WithUserID(id string) func(*UserOptions) {
	return func(o *UserOptions) { o.ID = id }
}

func WithEmail(email string) func(*UserOptions) {
	return func(o *UserOptions) { o.Email = email }
}

func WithPasswordHash(hash string) func(*UserOptions) {
	return func(o *UserOptions) { o.PasswordHash = hash }
}

func WithEmailVerified() func(*UserOptions) {
	return func(o *UserOptions) { o.EmailVerified = true }
}

// SessionOptions allows customizing session fixture creation
type SessionOptions struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewTestSession creates a session valid for 24 hours.
func NewTestSession(opts ...func(*SessionOptions)) *domain.Session {
	now := time.Now()
	o := &SessionOptions{
		ID:        nextID("session"),
		UserID:    nextID("user"),
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}

	for _, opt := range opts {
		opt(o)
	}

	return &domain.Session{
		ID:        o.ID,
		UserID:    o.UserID,
		CreatedAt: o.CreatedAt,
		ExpiresAt: o.ExpiresAt,
	}
}

func WithSessionID(id string) func(*SessionOptions) {
	return func(o *SessionOptions) { o.ID = id }
}

func WithSessionUserID(userID string) func(*SessionOptions) {
	return func(o *SessionOptions) { o.UserID = userID }
}

func WithExpiresAt(t time.Time) func(*SessionOptions) {
	return func(o *SessionOptions) { o.ExpiresAt = t }
}

func WithExpired() func(*SessionOptions) {
	return func(o *SessionOptions) { o.ExpiresAt = time.Now().Add(-time.Hour) }
}

// NewTestDocument creates an accepted document owned by ownerID.
func NewTestDocument(ownerID string) *domain.Document {
	content := HTMLDocument("<p>fixture</p>")
	return &domain.Document{
		ID:        nextID("doc"),
		OwnerID:   ownerID,
		Filename:  "fixture.html",
		Size:      int64(len(content)),
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// HTMLDocument wraps body in a complete HTML skeleton.
func HTMLDocument(body string) []byte {
	return []byte("<!DOCTYPE html>\n<html>\n<head><title>Test</title></head>\n<body>\n" + body + "\n</body>\n</html>\n")
}

// HTMLWithExternalLinks returns a document linking to n distinct external pages.
func HTMLWithExternalLinks(n int) []byte {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "<a href=\"https://site%d.example/page\">link %d</a>\n", i, i)
	}
	return HTMLDocument(b.String())
}

// ResetIDCounter resets the ID counter (useful for deterministic tests)
func ResetIDCounter() {
	idCounter.Store(0)
}
