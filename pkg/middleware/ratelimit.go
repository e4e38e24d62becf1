package middleware

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a per-client token bucket allowing max requests per window.
// Idle clients are evicted after two windows.
type Limiter struct {
	mu          sync.Mutex
	window      time.Duration
	max         int
	limit       rate.Limit
	clients     map[string]*clientLimiter
	nextCleanup time.Time
}

// NewLimiter returns a Limiter. A non-positive window or max yields a limiter
// that allows everything.
func NewLimiter(window time.Duration, max int) *Limiter {
	if window <= 0 || max <= 0 {
		return &Limiter{}
	}

	return &Limiter{
		window:  window,
		max:     max,
		limit:   rate.Every(window / time.Duration(max)),
		clients: make(map[string]*clientLimiter),
	}
}

// Enabled reports whether the limiter ever rejects.
func (l *Limiter) Enabled() bool {
	return l != nil && l.window > 0 && l.max > 0
}

// Allow reports whether key may proceed at now.
func (l *Limiter) Allow(key string, now time.Time) bool {
	if !l.Enabled() {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	client, ok := l.clients[key]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.max)}
		l.clients[key] = client
	}
	client.lastSeen = now

	allowed := client.limiter.AllowN(now, 1)

	if l.nextCleanup.IsZero() || now.After(l.nextCleanup) {
		l.cleanupLocked(now)
		l.nextCleanup = now.Add(l.window)
	}

	return allowed
}

// RetryAfter estimates how long key must wait for the next token, rounded up
// to whole seconds and never less than one.
func (l *Limiter) RetryAfter(key string, now time.Time) time.Duration {
	if !l.Enabled() {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	wait := time.Second
	if client, ok := l.clients[key]; ok {
		tokens := client.limiter.TokensAt(now)
		if tokens < 1 {
			wait = time.Duration((1 - tokens) / float64(l.limit) * float64(time.Second))
		}
	}
	return time.Duration(math.Ceil(wait.Seconds())) * time.Second
}

func (l *Limiter) cleanupLocked(now time.Time) {
	threshold := now.Add(-2 * l.window)
	for key, client := range l.clients {
		if client.lastSeen.Before(threshold) {
			delete(l.clients, key)
		}
	}
}
