// Package ratelimit provides a fixed-window rate limiter. A limiter is
// constructed once per process and passed into the services that need it;
// there is no package-level state.
package ratelimit

import (
	"sync"
	"time"

	"github.com/eventflow/eventflow/internal/core"
)

// Config for one limiter
type Config struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter counts requests per key inside a fixed window. Expired windows are
// dropped lazily on access, so no cleanup goroutine is needed.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time // injectable for tests
}

// New creates a limiter
func New(cfg Config) *Limiter {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl"
	}
	return &Limiter{
		cfg:     cfg,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow consumes one request for key. When the window's quota is exhausted it
// returns a core.RateLimitError carrying the time until the window resets.
func (l *Limiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	fullKey := l.cfg.KeyPrefix + ":" + key

	w, ok := l.windows[fullKey]
	if !ok || !w.resetAt.After(now) {
		l.expire(now)
		w = &window{resetAt: now.Add(l.cfg.Window)}
		l.windows[fullKey] = w
	}

	w.count++
	if w.count > l.cfg.MaxRequests {
		return &core.RateLimitError{
			Key:        fullKey,
			RetryAfter: w.resetAt.Sub(now),
		}
	}

	return nil
}

// Remaining reports how many requests are left in key's current window
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[l.cfg.KeyPrefix+":"+key]
	if !ok || !w.resetAt.After(l.now()) {
		return l.cfg.MaxRequests
	}

	remaining := l.cfg.MaxRequests - w.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// expire drops windows that already reset. Called with the lock held.
func (l *Limiter) expire(now time.Time) {
	for key, w := range l.windows {
		if !w.resetAt.After(now) {
			delete(l.windows, key)
		}
	}
}

// Limiters bundles the per-operation limiters the services share. One
// instance lives for the whole process and is handed to each service.
type Limiters struct {
	// API calls
	API *Limiter
	// Event extraction, the expensive operation
	Extraction *Limiter
	// Mailbox polling
	Poll *Limiter
	// OAuth flows
	Auth *Limiter
}

// NewLimiters returns the standard set of limiters
func NewLimiters() *Limiters {
	return &Limiters{
		API:        New(Config{MaxRequests: 100, Window: time.Minute, KeyPrefix: "api"}),
		Extraction: New(Config{MaxRequests: 20, Window: time.Minute, KeyPrefix: "extract"}),
		Poll:       New(Config{MaxRequests: 10, Window: 5 * time.Minute, KeyPrefix: "poll"}),
		Auth:       New(Config{MaxRequests: 5, Window: 5 * time.Minute, KeyPrefix: "auth"}),
	}
}
