package auth

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingVerifier struct {
	calls atomic.Int64
	users map[string]string
}

func (c *countingVerifier) Verify(token string) (string, bool) {
	c.calls.Add(1)
	userID, ok := c.users[token]
	return userID, ok
}

func TestCachingVerifier_CachesWithinTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	inner := &countingVerifier{users: map[string]string{"tok": "user_1"}}
	cached := NewCachingVerifier(inner, clock, time.Minute)

	for i := 0; i < 5; i++ {
		userID, ok := cached.Verify("tok")
		assert.True(t, ok)
		assert.Equal(t, "user_1", userID)
	}

	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCachingVerifier_CachesNegativeResults(t *testing.T) {
	clock := clockwork.NewFakeClock()
	inner := &countingVerifier{users: map[string]string{}}
	cached := NewCachingVerifier(inner, clock, time.Minute)

	for i := 0; i < 3; i++ {
		_, ok := cached.Verify("bogus")
		assert.False(t, ok)
	}

	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestCachingVerifier_ExpiresAfterTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	inner := &countingVerifier{users: map[string]string{"tok": "user_1"}}
	cached := NewCachingVerifier(inner, clock, time.Minute)

	cached.Verify("tok")
	clock.Advance(time.Minute + time.Second)
	cached.Verify("tok")

	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestCachingVerifier_DistinctTokensVerifiedSeparately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	inner := &countingVerifier{users: map[string]string{"a": "user_a", "b": "user_b"}}
	cached := NewCachingVerifier(inner, clock, time.Minute)

	userID, _ := cached.Verify("a")
	assert.Equal(t, "user_a", userID)
	userID, _ = cached.Verify("b")
	assert.Equal(t, "user_b", userID)

	assert.Equal(t, int64(2), inner.calls.Load())
}

func TestCachingVerifier_ForgetEvictsUserEntries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	inner := &countingVerifier{users: map[string]string{"tok1": "user_1", "tok2": "user_1", "tok3": "user_2"}}
	cached := NewCachingVerifier(inner, clock, time.Hour)

	cached.Verify("tok1")
	cached.Verify("tok2")
	cached.Verify("tok3")
	require.Equal(t, int64(3), inner.calls.Load())

	cached.Forget("user_1")

	// user_1's tokens must hit the inner verifier again; user_2's stays cached.
	cached.Verify("tok1")
	cached.Verify("tok2")
	cached.Verify("tok3")
	assert.Equal(t, int64(5), inner.calls.Load())
}

func TestCachingVerifier_ForgetForwardsToInner(t *testing.T) {
	clock := clockwork.NewFakeClock()
	inner := NewVerifier(testSecret)
	cached := NewCachingVerifier(inner, clock, time.Hour)

	token := signToken(t, testSecret, userClaims("privileged", true))
	_, ok := cached.Verify(token)
	require.True(t, ok)
	require.True(t, inner.AuthorizedToBroadcast("privileged"))

	cached.Forget("privileged")

	assert.False(t, inner.AuthorizedToBroadcast("privileged"))

	// A fresh verification repopulates both cache and privileges.
	_, ok = cached.Verify(token)
	require.True(t, ok)
	assert.True(t, inner.AuthorizedToBroadcast("privileged"))
}

type slowVerifier struct {
	calls   atomic.Int64
	release chan struct{}
}

func (s *slowVerifier) Verify(string) (string, bool) {
	s.calls.Add(1)
	<-s.release
	return "user_1", true
}

func TestCachingVerifier_CoalescesConcurrentVerifications(t *testing.T) {
	clock := clockwork.NewFakeClock()
	inner := &slowVerifier{release: make(chan struct{})}
	cached := NewCachingVerifier(inner, clock, time.Minute)

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = cached.Verify("tok")
		}()
	}

	assert.Eventually(t, func() bool { return inner.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond) // let the remaining callers park on the in-flight verification
	close(inner.release)
	wg.Wait()

	assert.Equal(t, int64(1), inner.calls.Load())
	for _, userID := range results {
		assert.Equal(t, "user_1", userID)
	}
}
