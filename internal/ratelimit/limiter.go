// Package ratelimit bounds per-client message rates with a sliding window.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/relaypulse/internal/metrics"
)

const (
	DefaultMaxRequests = 100
	DefaultWindow      = 60 * time.Second
)

// Limiter tracks request timestamps per client and admits a request only if
// fewer than maxRequests fall inside the trailing window. State is guarded by
// its own mutex and never blocks on registry or broadcast locks.
type Limiter struct {
	mu          sync.Mutex
	clock       clockwork.Clock
	requests    map[string][]time.Time
	maxRequests int
	window      time.Duration
}

func NewLimiter(clock clockwork.Clock, maxRequests int, window time.Duration) *Limiter {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		clock:       clock,
		requests:    make(map[string][]time.Time),
		maxRequests: maxRequests,
		window:      window,
	}
}

// Allow records a request for clientID and reports whether it is admitted.
// Timestamps older than the window are dropped from the front before the
// count is checked.
func (l *Limiter) Allow(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	timestamps := l.requests[clientID]
	keep := 0
	for keep < len(timestamps) && !timestamps[keep].After(cutoff) {
		keep++
	}
	timestamps = timestamps[keep:]

	if len(timestamps) >= l.maxRequests {
		l.requests[clientID] = timestamps
		metrics.RateLimitRejectionsTotal.Inc()
		return false
	}

	l.requests[clientID] = append(timestamps, now)
	return true
}

// Forget drops all state for clientID. Wired to the session registry's
// removal hooks so limiter memory never outlives the session.
func (l *Limiter) Forget(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.requests, clientID)
}

// TrackedClients returns how many clients currently hold limiter state.
func (l *Limiter) TrackedClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}
