package usage

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Default rate-limit policy: 10 requests per 10-second window per IP.
const (
	DefaultRateLimit  = 10
	DefaultRateWindow = 10 * time.Second
)

// RateLimiter answers whether a caller may proceed. Implementations back
// onto a counter store safe for concurrent use.
type RateLimiter interface {
	Allow(key string) bool
}

// IPLimiter is an in-process sliding-window limiter keyed by caller IP.
// Limiters for idle IPs are dropped wholesale on a periodic sweep to bound
// memory.
type IPLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	lastSweep   time.Time
	perInterval int
	interval    time.Duration
}

// NewIPLimiter creates a limiter allowing perInterval requests per interval
// per key. Zero values use the default 10-per-10s policy.
func NewIPLimiter(perInterval int, interval time.Duration) *IPLimiter {
	if perInterval <= 0 {
		perInterval = DefaultRateLimit
	}
	if interval <= 0 {
		interval = DefaultRateWindow
	}
	return &IPLimiter{
		limiters:    make(map[string]*rate.Limiter),
		lastSweep:   time.Now(),
		perInterval: perInterval,
		interval:    interval,
	}
}

// Allow reports whether the key may make a request now.
func (l *IPLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastSweep) > time.Hour {
		l.limiters = make(map[string]*rate.Limiter)
		l.lastSweep = time.Now()
	}

	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(l.perInterval)/l.interval.Seconds()), l.perInterval)
		l.limiters[key] = limiter
	}
	return limiter.Allow()
}

var _ RateLimiter = (*IPLimiter)(nil)
