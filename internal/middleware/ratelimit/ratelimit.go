// Package ratelimit throttles request bursts per client key.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const staleWindows = 10

// Config sets the budget. Zero fields take DefaultConfig values.
type Config struct {
	RequestsPerMinute int
	CleanupInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{RequestsPerMinute: 60, CleanupInterval: 5 * time.Minute}
}

// window is one client's fixed counting interval.
type window struct {
	start time.Time
	used  int
}

// Limiter admits at most RequestsPerMinute requests per key in each fixed
// one-minute window. A background sweep forgets idle keys until Stop.
type Limiter struct {
	limit  int
	period time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window

	rejected atomic.Int64
	done     chan struct{}
	stopOnce sync.Once
}

func NewLimiter(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	l := &Limiter{
		limit:   cfg.RequestsPerMinute,
		period:  time.Minute,
		now:     time.Now,
		windows: make(map[string]*window),
		done:    make(chan struct{}),
	}
	go l.sweep(cfg.CleanupInterval)
	return l
}

// Allow consumes one request from key's budget and reports whether it fit.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.period {
		l.windows[key] = &window{start: now, used: 1}
		return true
	}
	if w.used < l.limit {
		w.used++
		return true
	}
	l.rejected.Add(1)
	return false
}

func (l *Limiter) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-t.C:
			l.cleanupStaleEntries()
		}
	}
}

func (l *Limiter) cleanupStaleEntries() {
	cutoff := l.now().Add(-staleWindows * l.period)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if w.start.Before(cutoff) {
			delete(l.windows, key)
		}
	}
}

// Stop ends the sweep. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

type Metrics struct {
	Rejected    int64
	ClientCount int64
}

func (l *Limiter) GetMetrics() Metrics {
	l.mu.Lock()
	n := len(l.windows)
	l.mu.Unlock()
	return Metrics{Rejected: l.rejected.Load(), ClientCount: int64(n)}
}

// WritesOnly matches every method except GET, HEAD and OPTIONS.
func WritesOnly(r *http.Request) bool {
	return r.Method != http.MethodGet && r.Method != http.MethodHead && r.Method != http.MethodOptions
}

// Middleware throttles requests matched by applies (all of them when nil),
// keyed by key. Rejected requests get Retry-After and then onLimit, or a
// plain 429 when onLimit is nil.
func (l *Limiter) Middleware(key func(*http.Request) string, applies func(*http.Request) bool, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(l.period / time.Second))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if (applies == nil || applies(r)) && !l.Allow(key(r)) {
				w.Header().Set("Retry-After", retryAfter)
				if onLimit == nil {
					http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
					return
				}
				onLimit(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
