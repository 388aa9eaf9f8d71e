package middleware

import (
	"context"
	"net/http"

	"scroll-press/internal/domain"
	"scroll-press/internal/observability"
)

type contextKey string

const (
	UserIDKey  contextKey = "user_id"
	SessionKey contextKey = "session"
)

// Cookie names shared by the guards and the handlers.
const (
	SessionCookieName = "session_id"
	AnonCookieName    = "anon_id"
)

// SessionResolver looks up live sessions.
type SessionResolver interface {
	Resolve(ctx context.Context, id string) (*domain.Session, bool)
}

// LoadSession attaches the caller's session to the context when the
// session cookie resolves. It never rejects.
func LoadSession(sessions SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if session, ok := resolveCookie(r, sessions); ok {
				r = r.WithContext(attachSession(r.Context(), session))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Auth rejects requests without a live session.
func Auth(sessions SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := GetSession(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			if _, err := r.Cookie(SessionCookieName); err != nil {
				observability.SecurityEvent(r.Context(), "auth", "missing_session")
				writeJSONError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			session, ok := resolveCookie(r, sessions)
			if !ok {
				observability.SecurityEvent(r.Context(), "auth", "invalid_session")
				writeJSONError(w, http.StatusUnauthorized, "Invalid or expired session")
				return
			}

			next.ServeHTTP(w, r.WithContext(attachSession(r.Context(), session)))
		})
	}
}

func resolveCookie(r *http.Request, sessions SessionResolver) (*domain.Session, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, false
	}
	return sessions.Resolve(r.Context(), cookie.Value)
}

func attachSession(ctx context.Context, session *domain.Session) context.Context {
	ctx = WithSession(ctx, session)
	ctx = WithUserID(ctx, session.UserID)
	return observability.WithUserID(ctx, session.UserID)
}

func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

func GetSession(ctx context.Context) (*domain.Session, bool) {
	session, ok := ctx.Value(SessionKey).(*domain.Session)
	return session, ok
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func WithSession(ctx context.Context, session *domain.Session) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}
