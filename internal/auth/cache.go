package auth

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/pscheid92/relaypulse/internal/domain"
)

const cachePruneThreshold = 10000

type cacheEntry struct {
	userID    string
	ok        bool
	expiresAt time.Time
}

// CachingVerifier memoizes verification results for a TTL and coalesces
// concurrent verifications of the same token through singleflight, so a burst
// of authenticate messages with one token costs a single signature check.
type CachingVerifier struct {
	inner domain.CredentialVerifier
	clock clockwork.Clock
	ttl   time.Duration

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewCachingVerifier(inner domain.CredentialVerifier, clock clockwork.Clock, ttl time.Duration) *CachingVerifier {
	return &CachingVerifier{
		inner:   inner,
		clock:   clock,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachingVerifier) Verify(token string) (string, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	entry, cached := c.entries[token]
	c.mu.Unlock()

	if cached && now.Before(entry.expiresAt) {
		return entry.userID, entry.ok
	}

	result, _, _ := c.group.Do(token, func() (any, error) {
		userID, ok := c.inner.Verify(token)
		c.store(token, userID, ok)
		return cacheEntry{userID: userID, ok: ok}, nil
	})

	fresh := result.(cacheEntry)
	return fresh.userID, fresh.ok
}

// Forget evicts every cached verification for the user and forwards to the
// inner verifier when it keeps per-user state. Without the eviction, a cached
// token could resurrect a user whose privileges were already dropped.
func (c *CachingVerifier) Forget(userID string) {
	c.mu.Lock()
	for token, entry := range c.entries {
		if entry.ok && entry.userID == userID {
			delete(c.entries, token)
		}
	}
	c.mu.Unlock()

	if forgetter, ok := c.inner.(interface{ Forget(string) }); ok {
		forgetter.Forget(userID)
	}
}

func (c *CachingVerifier) store(token, userID string, ok bool) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= cachePruneThreshold {
		for key, entry := range c.entries {
			if !now.Before(entry.expiresAt) {
				delete(c.entries, key)
			}
		}
	}
	c.entries[token] = cacheEntry{userID: userID, ok: ok, expiresAt: now.Add(c.ttl)}
}
