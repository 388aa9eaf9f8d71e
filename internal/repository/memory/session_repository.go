// Package memory holds the in-process repositories used by the default
// single-process deployment. Each repository owns its lock; no method holds
// it across a call into another component.
package memory

import (
	"context"
	"sync"
	"time"

	"scroll-press/internal/domain"
)

// SessionRepository implements domain.SessionRepository in memory.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	byUser   map[string]map[string]struct{}
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]domain.Session),
		byUser:   make(map[string]map[string]struct{}),
	}
}

func (r *SessionRepository) Create(_ context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return domain.ErrSessionExists
	}

	r.sessions[session.ID] = *session
	ids := r.byUser[session.UserID]
	if ids == nil {
		ids = make(map[string]struct{})
		r.byUser[session.UserID] = ids
	}
	ids[session.ID] = struct{}{}
	return nil
}

func (r *SessionRepository) Get(_ context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &s, nil
}

func (r *SessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.remove(id)
	return nil
}

func (r *SessionRepository) DeleteIfExpired(_ context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || !s.Expired(now) {
		return false, nil
	}
	r.remove(id)
	return true, nil
}

func (r *SessionRepository) DeleteByUser(_ context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		ids = append(ids, id)
		delete(r.sessions, id)
	}
	delete(r.byUser, userID)
	return ids, nil
}

func (r *SessionRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for id, s := range r.sessions {
		if s.Expired(now) {
			r.remove(id)
			count++
		}
	}
	return count, nil
}

// Len reports the number of stored sessions, expired ones included.
func (r *SessionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// remove must be called with r.mu held.
func (r *SessionRepository) remove(id string) {
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	if ids := r.byUser[s.UserID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.byUser, s.UserID)
		}
	}
}
