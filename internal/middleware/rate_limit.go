package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"scroll-press/internal/clock"
	"scroll-press/internal/observability"
	"scroll-press/internal/ratelimit"
)

const (
	// Maximum number of burst limiters to keep in memory
	maxBurstLimiters     = 10000
	burstCleanupInterval = 5 * time.Minute
	// A burst limiter unused for this long is dropped
	burstLimiterTTL = 15 * time.Minute
)

type burstEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter guards routes with two per-client checks: a token bucket that
// smooths bursts, then the fixed-window ceiling of ratelimit.Limiter.
type RateLimiter struct {
	window *ratelimit.Limiter
	clock  clock.Clock

	mu     sync.Mutex
	bursts map[string]*burstEntry
	rate   rate.Limit
	burst  int

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter wraps window. A non-positive burstRPS disables the token
// bucket.
func NewRateLimiter(window *ratelimit.Limiter, clk clock.Clock, burstRPS float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		window: window,
		clock:  clk,
		bursts: make(map[string]*burstEntry),
		rate:   rate.Limit(burstRPS),
		burst:  burst,
		stopCh: make(chan struct{}),
	}

	if burstRPS > 0 {
		go rl.cleanupLoop()
	}
	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(burstCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup drops idle burst limiters and, if still over capacity, the least
// recently used half.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cleanupLocked()
}

func (rl *RateLimiter) cleanupLocked() {
	now := rl.clock.Now()
	for key, entry := range rl.bursts {
		if now.Sub(entry.lastAccess) > burstLimiterTTL {
			delete(rl.bursts, key)
		}
	}

	if len(rl.bursts) < maxBurstLimiters {
		return
	}

	type keyTime struct {
		key  string
		time time.Time
	}
	entries := make([]keyTime, 0, len(rl.bursts))
	for k, e := range rl.bursts {
		entries = append(entries, keyTime{k, e.lastAccess})
	}
	slices.SortFunc(entries, func(a, b keyTime) int { return a.time.Compare(b.time) })

	for _, e := range entries[:len(entries)-maxBurstLimiters/2] {
		delete(rl.bursts, e.key)
	}
}

// Stop ends background cleanup. The wrapped window limiter is left running.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) allowBurst(key string) bool {
	if rl.rate <= 0 {
		return true
	}

	now := rl.clock.Now()

	rl.mu.Lock()
	entry, ok := rl.bursts[key]
	if !ok {
		if len(rl.bursts) >= maxBurstLimiters {
			rl.cleanupLocked()
		}
		entry = &burstEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.bursts[key] = entry
	}
	entry.lastAccess = now
	rl.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// Middleware returns a chi-compatible middleware keyed on client IP. Run
// chi's RealIP first so proxies are accounted for.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientIP(r)

			if !rl.allowBurst(key) {
				observability.SecurityEvent(r.Context(), "rate_limit", "burst",
					slog.String("path", r.URL.Path))
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			d := rl.window.Check(r.Context(), key)
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				observability.SecurityEvent(r.Context(), "rate_limit", "window",
					slog.String("path", r.URL.Path),
					slog.Int("count", d.Count))
				retry := d.RetryAfter(rl.clock.Now())
				h.Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
				writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			if d.Warn {
				h.Set("X-RateLimit-Warning", "approaching rate limit")
				observability.FromContext(r.Context()).Info("client approaching rate limit",
					slog.Int("count", d.Count),
					slog.Int("limit", d.Limit))
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the request's remote host without the port.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
