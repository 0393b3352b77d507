package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const dialerIdleEviction = 10 * time.Minute

// limitReason describes why a connection was rejected at admission.
type limitReason string

const (
	limitReasonGlobal limitReason = "global_limit"
	limitReasonPerIP  limitReason = "per_ip_limit"
	limitReasonRate   limitReason = "dial_rate"
)

type dialerEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// connectionLimits gates new connections on three axes: a global concurrent
// cap, a per-IP concurrent cap, and a per-IP token-bucket dial rate.
type connectionLimits struct {
	clock clockwork.Clock

	max     int64
	current atomic.Int64

	mu        sync.Mutex
	perIP     map[string]int
	maxPerIP  int
	dialers   map[string]*dialerEntry
	dialRate  rate.Limit
	dialBurst int
	cleanupAt time.Time
}

func newConnectionLimits(globalMax int64, maxPerIP int, dialsPerSecond float64, burst int, clock clockwork.Clock) *connectionLimits {
	return &connectionLimits{
		clock:     clock,
		max:       globalMax,
		perIP:     make(map[string]int),
		maxPerIP:  maxPerIP,
		dialers:   make(map[string]*dialerEntry),
		dialRate:  rate.Limit(dialsPerSecond),
		dialBurst: burst,
		cleanupAt: clock.Now().Add(dialerIdleEviction),
	}
}

// acquire reserves a connection slot for ip. On rejection the returned reason
// names the exhausted limit and nothing is held.
func (l *connectionLimits) acquire(ip string) (bool, limitReason) {
	if !l.allowDial(ip) {
		return false, limitReasonRate
	}

	for {
		current := l.current.Load()
		if current >= l.max {
			return false, limitReasonGlobal
		}
		if l.current.CompareAndSwap(current, current+1) {
			break
		}
	}

	l.mu.Lock()
	if l.perIP[ip] >= l.maxPerIP {
		l.mu.Unlock()
		l.current.Add(-1)
		return false, limitReasonPerIP
	}
	l.perIP[ip]++
	l.mu.Unlock()

	return true, ""
}

func (l *connectionLimits) release(ip string) {
	l.mu.Lock()
	if count := l.perIP[ip]; count > 1 {
		l.perIP[ip] = count - 1
	} else if count == 1 {
		delete(l.perIP, ip)
	}
	l.mu.Unlock()

	l.current.Add(-1)
}

func (l *connectionLimits) allowDial(ip string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.cleanupAt) {
		cutoff := now.Add(-dialerIdleEviction)
		for key, entry := range l.dialers {
			if entry.lastSeen.Before(cutoff) {
				delete(l.dialers, key)
			}
		}
		l.cleanupAt = now.Add(dialerIdleEviction)
	}

	entry, exists := l.dialers[ip]
	if !exists {
		entry = &dialerEntry{limiter: rate.NewLimiter(l.dialRate, l.dialBurst)}
		l.dialers[ip] = entry
	}
	entry.lastSeen = now

	return entry.limiter.AllowN(now, 1)
}
