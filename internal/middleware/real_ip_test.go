package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"scroll-press/internal/testutil"
)

func echoRemoteAddr() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.RemoteAddr))
	})
}

func TestRealIP(t *testing.T) {
	trusted := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("2001:db8::/32"),
	}

	tests := []struct {
		name    string
		trusted []netip.Prefix
		remote  string
		headers map[string][]string
		want    string
	}{
		{
			name:    "no trusted proxies ignores headers",
			remote:  "203.0.113.5:4000",
			headers: map[string][]string{"X-Forwarded-For": {"198.51.100.9"}, "X-Real-IP": {"198.51.100.8"}},
			want:    "203.0.113.5:4000",
		},
		{
			name:    "untrusted peer ignores headers",
			trusted: trusted,
			remote:  "203.0.113.5:4000",
			headers: map[string][]string{"X-Forwarded-For": {"198.51.100.9"}},
			want:    "203.0.113.5:4000",
		},
		{
			name:    "trusted peer",
			trusted: trusted,
			remote:  "10.1.2.3:4000",
			headers: map[string][]string{"X-Forwarded-For": {"198.51.100.9"}},
			want:    "198.51.100.9",
		},
		{
			name:    "client-supplied hops are skipped",
			trusted: trusted,
			remote:  "10.1.2.3:4000",
			headers: map[string][]string{"X-Forwarded-For": {"1.1.1.1, 198.51.100.9, 10.9.9.9"}},
			want:    "198.51.100.9",
		},
		{
			name:    "repeated headers",
			trusted: trusted,
			remote:  "[2001:db8::1]:443",
			headers: map[string][]string{"X-Forwarded-For": {"1.1.1.1", "198.51.100.9"}},
			want:    "198.51.100.9",
		},
		{
			name:    "real ip without forwarded for",
			trusted: trusted,
			remote:  "10.1.2.3:4000",
			headers: map[string][]string{"X-Real-IP": {"198.51.100.7"}},
			want:    "198.51.100.7",
		},
		{
			name:    "garbage header keeps peer",
			trusted: trusted,
			remote:  "10.1.2.3:4000",
			headers: map[string][]string{"X-Forwarded-For": {"not-an-ip"}},
			want:    "10.1.2.3:4000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, vs := range tt.headers {
				for _, v := range vs {
					req.Header.Add(k, v)
				}
			}
			w := httptest.NewRecorder()
			RealIP(tt.trusted)(echoRemoteAddr()).ServeHTTP(w, req)
			testutil.AssertEqual(t, w.Body.String(), tt.want)
		})
	}
}

func TestRealIP_SpoofedHeaderDoesNotResetLimit(t *testing.T) {
	rl, _ := newTestRateLimiter(t, 2, 2, 0, 0)
	handler := RealIP(nil)(rl.Middleware()(okHandler()))

	for i, spoof := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3"} {
		req := requestFrom("203.0.113.5:4000")
		req.Header.Set("X-Forwarded-For", spoof)
		req.Header.Set("X-Real-IP", spoof)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if i < 2 {
			testutil.AssertStatusCode(t, w, http.StatusOK)
		} else {
			testutil.AssertStatusCode(t, w, http.StatusTooManyRequests)
		}
	}
}
