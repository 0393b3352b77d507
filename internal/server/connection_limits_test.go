package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionLimits_GlobalCap(t *testing.T) {
	limits := newConnectionLimits(3, 10, 1000, 1000, clockwork.NewFakeClock())

	for i := 0; i < 3; i++ {
		ok, _ := limits.acquire(fmt.Sprintf("10.0.0.%d", i))
		require.True(t, ok)
	}

	ok, reason := limits.acquire("10.0.0.99")
	assert.False(t, ok)
	assert.Equal(t, limitReasonGlobal, reason)

	limits.release("10.0.0.0")
	ok, _ = limits.acquire("10.0.0.99")
	assert.True(t, ok)
}

func TestConnectionLimits_PerIPCap(t *testing.T) {
	limits := newConnectionLimits(100, 2, 1000, 1000, clockwork.NewFakeClock())

	ok, _ := limits.acquire("10.0.0.1")
	require.True(t, ok)
	ok, _ = limits.acquire("10.0.0.1")
	require.True(t, ok)

	ok, reason := limits.acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, limitReasonPerIP, reason)

	// Other addresses are unaffected.
	ok, _ = limits.acquire("10.0.0.2")
	assert.True(t, ok)

	// A per-IP rejection must not leak a global slot.
	assert.Equal(t, int64(3), limits.current.Load())
}

func TestConnectionLimits_DialRate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limits := newConnectionLimits(100, 100, 1, 2, clock)

	ok, _ := limits.acquire("10.0.0.1")
	require.True(t, ok)
	ok, _ = limits.acquire("10.0.0.1")
	require.True(t, ok)

	ok, reason := limits.acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, limitReasonRate, reason)

	// Dial rate buckets are per address.
	ok, _ = limits.acquire("10.0.0.2")
	assert.True(t, ok)

	// The bucket refills with time.
	clock.Advance(time.Second)
	ok, _ = limits.acquire("10.0.0.1")
	assert.True(t, ok)
}

func TestConnectionLimits_IdleDialersEvicted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limits := newConnectionLimits(100, 100, 10, 10, clock)

	ok, _ := limits.acquire("10.0.0.1")
	require.True(t, ok)

	// Past the eviction horizon, a dial from any address sweeps idle entries.
	clock.Advance(dialerIdleEviction + time.Minute)
	ok, _ = limits.acquire("10.0.0.2")
	require.True(t, ok)

	limits.mu.Lock()
	_, stale := limits.dialers["10.0.0.1"]
	_, fresh := limits.dialers["10.0.0.2"]
	limits.mu.Unlock()
	assert.False(t, stale)
	assert.True(t, fresh)
}

func TestConnectionLimits_ReleaseDropsIPEntry(t *testing.T) {
	limits := newConnectionLimits(100, 2, 1000, 1000, clockwork.NewFakeClock())

	ok, _ := limits.acquire("10.0.0.1")
	require.True(t, ok)
	limits.release("10.0.0.1")

	limits.mu.Lock()
	_, tracked := limits.perIP["10.0.0.1"]
	limits.mu.Unlock()
	assert.False(t, tracked)
	assert.Equal(t, int64(0), limits.current.Load())
}
