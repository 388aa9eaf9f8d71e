package middleware

import "net/http"

// DocumentCSP is served with uploaded documents. Scripts run in an opaque
// origin so they cannot read the service's cookies or call its API.
const DocumentCSP = "sandbox allow-scripts allow-popups allow-popups-to-escape-sandbox; " +
	"default-src 'self' 'unsafe-inline' https:; " +
	"frame-ancestors 'self'; form-action 'none'"

// SecurityHeaders sets the baseline response headers. hsts should be true
// only when the service is reached over https.
func SecurityHeaders(hsts bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SandboxDocument replaces the frame policy for routes that serve uploaded
// documents so they can be embedded by the service's own pages.
func SandboxDocument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", DocumentCSP)
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}
