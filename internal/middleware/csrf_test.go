package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"scroll-press/internal/domain"
	"scroll-press/internal/testutil"
)

// fakeVerifier accepts exactly one token per scope.
type fakeVerifier struct {
	valid map[string]string
}

func (f *fakeVerifier) Verify(_ context.Context, scope, token string) bool {
	want, ok := f.valid[scope]
	return ok && want == token
}

func TestCSRF_SkipsSafeMethodsAndExemptPaths(t *testing.T) {
	handler := CSRF(&fakeVerifier{})(okHandler())

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/auth/me"},
		{http.MethodHead, "/api/v1/auth/me"},
		{http.MethodOptions, "/api/v1/documents"},
		{http.MethodPost, "/health"},
		{http.MethodPost, "/metrics"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			testutil.AssertStatusCode(t, w, http.StatusOK)
		})
	}
}

func TestCSRF_HealthPrefixIsNotAWildcard(t *testing.T) {
	handler := CSRF(&fakeVerifier{})(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/healthz-admin", nil))

	testutil.AssertStatusCode(t, w, http.StatusForbidden)
}

func TestCSRF_Validation(t *testing.T) {
	verifier := &fakeVerifier{valid: map[string]string{
		"sess-1": "session-token",
		"anon-1": "anon-token",
	}}
	session := &domain.Session{ID: "sess-1", UserID: "user-1"}

	tests := []struct {
		name       string
		session    *domain.Session
		anonCookie string
		header     string
		headerVal  string
		wantStatus int
	}{
		{"session scope with X-CSRF-Token", session, "", "X-CSRF-Token", "session-token", http.StatusOK},
		{"session scope with X-XSRF-Token", session, "", "X-XSRF-Token", "session-token", http.StatusOK},
		{"anonymous scope", nil, "anon-1", "X-CSRF-Token", "anon-token", http.StatusOK},
		{"token from other scope", session, "", "X-CSRF-Token", "anon-token", http.StatusForbidden},
		{"session wins over anon cookie", session, "anon-1", "X-CSRF-Token", "anon-token", http.StatusForbidden},
		{"missing token", session, "", "", "", http.StatusForbidden},
		{"no scope at all", nil, "", "X-CSRF-Token", "anon-token", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CSRF(verifier)(okHandler())

			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
			if tt.session != nil {
				req = req.WithContext(WithSession(req.Context(), tt.session))
			}
			if tt.anonCookie != "" {
				req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: tt.anonCookie})
			}
			if tt.header != "" {
				req.Header.Set(tt.header, tt.headerVal)
			}

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			testutil.AssertStatusCode(t, w, tt.wantStatus)
			if tt.wantStatus == http.StatusForbidden {
				testutil.AssertJSONError(t, w, http.StatusForbidden, "Forbidden")
			}
		})
	}
}

func TestCSRF_FormField(t *testing.T) {
	verifier := &fakeVerifier{valid: map[string]string{"anon-1": "form-token"}}
	handler := CSRF(verifier)(okHandler())

	form := url.Values{"csrf_token": {"form-token"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "anon-1"})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	testutil.AssertStatusCode(t, w, http.StatusOK)
}

func TestCSRFScope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/csrf", nil)
	testutil.AssertEqual(t, CSRFScope(req), "")

	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "anon-9"})
	testutil.AssertEqual(t, CSRFScope(req), "anon-9")

	req = req.WithContext(WithSession(req.Context(), &domain.Session{ID: "sess-9"}))
	testutil.AssertEqual(t, CSRFScope(req), "sess-9")
}
