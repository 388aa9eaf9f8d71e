// Package ratelimit counts requests per client key over fixed windows.
//
// A key may make Limit requests per window; the request that would exceed
// the ceiling is denied and not counted. Requests at or past WarnAt are
// allowed but flagged so the caller can surface a warning. The limiter never
// fails closed: if its store errors, the request is allowed.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"scroll-press/internal/clock"
	"scroll-press/internal/observability"
)

const (
	DefaultLimit       = 100
	DefaultWarnAt      = 75
	DefaultWindow      = time.Minute
	DefaultIdleWindows = 3
	DefaultMaxKeys     = 10000
)

// Config holds limiter thresholds. Zero fields take the defaults.
type Config struct {
	Limit  int
	WarnAt int
	Window time.Duration
	// IdleWindows is how many whole windows a key may stay silent before
	// its entry is evicted.
	IdleWindows int
	// SweepInterval is how often idle entries are evicted. Defaults to Window.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.WarnAt <= 0 || c.WarnAt > c.Limit {
		c.WarnAt = c.Limit * 3 / 4
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.IdleWindows <= 0 {
		c.IdleWindows = DefaultIdleWindows
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.Window
	}
	return c
}

// Window is the state of one key's current window after a Take.
type Window struct {
	Start   time.Time
	Count   int
	Allowed bool
}

// Store holds per-key window counters.
type Store interface {
	// Take counts one request for key unless the window already holds limit
	// requests. A window older than window is replaced by a fresh one.
	Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Window, error)
}

// sweeper is implemented by stores that need explicit eviction.
type sweeper interface {
	Sweep(now time.Time, idle time.Duration) int
	Len() int
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed   bool
	Warn      bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long a denied client should wait, rounded up to whole
// seconds and never less than one.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	return (wait + time.Second - 1) / time.Second * time.Second
}

// Limiter applies Config to a Store.
type Limiter struct {
	store Store
	clock clock.Clock
	cfg   Config

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a limiter. When the store needs explicit eviction a sweep
// goroutine is started; call Stop to end it.
func New(store Store, clk clock.Clock, cfg Config) *Limiter {
	l := &Limiter{
		store:  store,
		clock:  clk,
		cfg:    cfg.withDefaults(),
		stopCh: make(chan struct{}),
	}

	if sw, ok := store.(sweeper); ok {
		go l.sweepLoop(sw)
	}
	return l
}

func (l *Limiter) Config() Config {
	return l.cfg
}

// Allow reports whether key may make another request now.
func (l *Limiter) Allow(key string) bool {
	return l.Check(context.Background(), key).Allowed
}

// Check counts a request for key and returns the full decision.
func (l *Limiter) Check(ctx context.Context, key string) Decision {
	now := l.clock.Now()

	w, err := l.store.Take(ctx, key, l.cfg.Limit, l.cfg.Window, now)
	if err != nil {
		observability.FromContext(ctx).Warn("rate limit store unavailable, allowing request",
			slog.String("error", err.Error()))
		observability.RateLimitDecisionsTotal.WithLabelValues("failed_open").Inc()
		return Decision{
			Allowed:   true,
			Limit:     l.cfg.Limit,
			Remaining: l.cfg.Limit,
			ResetAt:   now.Add(l.cfg.Window),
		}
	}

	d := Decision{
		Allowed: w.Allowed,
		Count:   w.Count,
		Limit:   l.cfg.Limit,
		ResetAt: w.Start.Add(l.cfg.Window),
	}
	if rem := l.cfg.Limit - w.Count; rem > 0 {
		d.Remaining = rem
	}
	d.Warn = w.Allowed && w.Count >= l.cfg.WarnAt

	switch {
	case !d.Allowed:
		observability.RateLimitDecisionsTotal.WithLabelValues("denied").Inc()
	case d.Warn:
		observability.RateLimitDecisionsTotal.WithLabelValues("warned").Inc()
	default:
		observability.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
	}
	return d
}

// Stop ends the sweep goroutine. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Limiter) sweepLoop(sw sweeper) {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.sweep(sw)
		}
	}
}

func (l *Limiter) sweep(sw sweeper) int {
	evicted := sw.Sweep(l.clock.Now(), time.Duration(l.cfg.IdleWindows)*l.cfg.Window)
	observability.RateLimitTrackedKeys.Set(float64(sw.Len()))
	return evicted
}
