package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"scroll-press/internal/testutil"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS_AllowedOrigin(t *testing.T) {
	tests := []struct {
		name           string
		allowedOrigins []string
		requestOrigin  string
		shouldAllow    bool
	}{
		{"allowed origin", []string{"http://localhost:3000", "https://scroll.example"}, "http://localhost:3000", true},
		{"allowed second origin", []string{"http://localhost:3000", "https://scroll.example"}, "https://scroll.example", true},
		{"disallowed origin", []string{"http://localhost:3000"}, "https://evil.example", false},
		{"wildcard echoes origin", []string{"*"}, "https://any.example", true},
		{"no origin header", []string{"*"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORS(tt.allowedOrigins)(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
			if tt.requestOrigin != "" {
				req.Header.Set("Origin", tt.requestOrigin)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			got := w.Header().Get("Access-Control-Allow-Origin")
			if tt.shouldAllow {
				testutil.AssertEqual(t, got, tt.requestOrigin)
				testutil.AssertEqual(t, w.Header().Get("Access-Control-Allow-Credentials"), "true")
			} else {
				testutil.AssertEqual(t, got, "")
			}
		})
	}
}

func TestCORS_AllowedHeadersIncludeCSRF(t *testing.T) {
	handler := CORS([]string{"http://localhost:3000"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/csrf", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	testutil.AssertContains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-CSRF-Token")
	testutil.AssertContains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")
	testutil.AssertContains(t, w.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	called := false
	handler := CORS([]string{"http://localhost:3000"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/documents", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	testutil.AssertStatusCode(t, w, http.StatusOK)
	testutil.AssertFalse(t, called, "preflight must not reach the handler")
}
