package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/relaypulse/internal/domain"
)

func newTestRegistry(t *testing.T, ids ...string) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, id := range ids {
		require.NoError(t, r.Add(id, time.Now()))
	}
	return r
}

// assertConsistent checks the bidirectional membership invariant: a session
// lists a channel iff the channel's subscriber set contains the session, and
// no channel entry is empty.
func assertConsistent(t *testing.T, r *Registry) {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, rec := range r.sessions {
		for channel := range rec.subscriptions {
			subscribers, exists := r.channels[channel]
			require.True(t, exists, "session %s lists channel %s but index has no entry", id, channel)
			_, member := subscribers[id]
			require.True(t, member, "session %s lists channel %s but is not in its subscriber set", id, channel)
		}
	}
	for channel, subscribers := range r.channels {
		require.NotEmpty(t, subscribers, "channel %s has an empty subscriber set", channel)
		for id := range subscribers {
			rec, exists := r.sessions[id]
			require.True(t, exists, "channel %s contains unknown session %s", channel, id)
			_, member := rec.subscriptions[channel]
			require.True(t, member, "channel %s contains session %s which does not list it", channel, id)
		}
	}

	counts := make(map[string]int)
	for _, rec := range r.sessions {
		if rec.userID != "" {
			counts[rec.userID]++
		}
	}
	require.Equal(t, counts, r.userCount, "per-user session counts out of sync")
}

func TestRegistry_AddDuplicate(t *testing.T) {
	r := newTestRegistry(t, "s1")

	err := r.Add("s1", time.Now())
	assert.ErrorIs(t, err, domain.ErrDuplicateSession)
}

func TestRegistry_SubscribeIdempotent(t *testing.T) {
	r := newTestRegistry(t, "s1")

	require.True(t, r.Subscribe("s1", "room1"))
	require.True(t, r.Subscribe("s1", "room1"))

	snap, ok := r.Get("s1")
	require.True(t, ok)
	assert.Equal(t, []string{"room1"}, snap.Subscriptions)
	assert.Equal(t, []string{"s1"}, r.SubscribersOf("room1"))
	assertConsistent(t, r)
}

func TestRegistry_UnsubscribeNeverSubscribed(t *testing.T) {
	r := newTestRegistry(t, "s1")

	require.True(t, r.Unsubscribe("s1", "room1"))

	assert.Empty(t, r.SubscribersOf("room1"))
	assert.Equal(t, 0, r.ChannelCount())
	assertConsistent(t, r)
}

func TestRegistry_EmptyChannelGarbageCollected(t *testing.T) {
	r := newTestRegistry(t, "s1", "s2")

	r.Subscribe("s1", "room1")
	r.Subscribe("s2", "room1")
	assert.Equal(t, 1, r.ChannelCount())

	r.Unsubscribe("s1", "room1")
	assert.Equal(t, 1, r.ChannelCount())

	r.Unsubscribe("s2", "room1")
	assert.Equal(t, 0, r.ChannelCount())
	assertConsistent(t, r)
}

func TestRegistry_RemoveCleansChannels(t *testing.T) {
	r := newTestRegistry(t, "s1", "s2")

	r.Subscribe("s1", "room1")
	r.Subscribe("s1", "room2")
	r.Subscribe("s2", "room1")

	require.True(t, r.Remove("s1"))

	assert.Equal(t, []string{"s2"}, r.SubscribersOf("room1"))
	assert.Empty(t, r.SubscribersOf("room2"))
	assert.Equal(t, 1, r.ChannelCount())
	assertConsistent(t, r)

	// Removing again is a no-op.
	assert.False(t, r.Remove("s1"))
}

func TestRegistry_RemoveFiresHooks(t *testing.T) {
	r := NewRegistry()
	var hooked []string
	r.OnRemove(func(id string) { hooked = append(hooked, id) })

	require.NoError(t, r.Add("s1", time.Now()))
	r.Remove("s1")
	r.Remove("s1")

	assert.Equal(t, []string{"s1"}, hooked)
}

func TestRegistry_UserGoneFiresOnLastSession(t *testing.T) {
	r := newTestRegistry(t, "s1", "s2")
	var gone []string
	r.OnUserGone(func(userID string) { gone = append(gone, userID) })

	require.True(t, r.Authenticate("s1", "user_1"))
	require.True(t, r.Authenticate("s2", "user_1"))

	r.Remove("s1")
	assert.Empty(t, gone, "user still has a live session")

	r.Remove("s2")
	assert.Equal(t, []string{"user_1"}, gone)
}

func TestRegistry_UserGoneFiresOnReap(t *testing.T) {
	r := NewRegistry()
	var gone []string
	r.OnUserGone(func(userID string) { gone = append(gone, userID) })

	base := time.Now()
	require.NoError(t, r.Add("stale", base))
	require.True(t, r.Authenticate("stale", "user_1"))
	require.NoError(t, r.Add("anon", base))

	removed := r.ReapInactive(base.Add(10*time.Minute), 5*time.Minute)

	assert.Equal(t, 2, removed)
	assert.Equal(t, []string{"user_1"}, gone, "unauthenticated sessions carry no user")
}

func TestRegistry_UserGoneOnIdentityChange(t *testing.T) {
	r := newTestRegistry(t, "s1")
	var gone []string
	r.OnUserGone(func(userID string) { gone = append(gone, userID) })

	require.True(t, r.Authenticate("s1", "user_1"))
	require.True(t, r.Authenticate("s1", "user_2"))
	assert.Equal(t, []string{"user_1"}, gone)

	r.Remove("s1")
	assert.Equal(t, []string{"user_1", "user_2"}, gone)
}

func TestRegistry_AuthenticateSetsUserID(t *testing.T) {
	r := newTestRegistry(t, "s1")

	snap, _ := r.Get("s1")
	assert.False(t, snap.Authenticated)
	assert.Empty(t, snap.UserID)

	require.True(t, r.Authenticate("s1", "user_1"))

	snap, _ = r.Get("s1")
	assert.True(t, snap.Authenticated)
	assert.Equal(t, "user_1", snap.UserID)
}

func TestRegistry_SubscribersOfIsSnapshot(t *testing.T) {
	r := newTestRegistry(t, "s1", "s2")
	r.Subscribe("s1", "room1")
	r.Subscribe("s2", "room1")

	snapshot := r.SubscribersOf("room1")
	r.Unsubscribe("s2", "room1")

	assert.Len(t, snapshot, 2, "snapshot must not track later membership changes")
	assert.Len(t, r.SubscribersOf("room1"), 1)
}

func TestRegistry_ReapInactive(t *testing.T) {
	r := NewRegistry()
	base := time.Now()

	require.NoError(t, r.Add("stale", base))
	require.NoError(t, r.Add("fresh", base))
	r.Subscribe("stale", "room1")
	r.Subscribe("fresh", "room1")

	r.Touch("fresh", base.Add(4*time.Minute))

	removed := r.ReapInactive(base.Add(5*time.Minute+time.Second), 5*time.Minute)

	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"fresh"}, r.SubscribersOf("room1"))
	_, ok := r.Get("stale")
	assert.False(t, ok)
	assertConsistent(t, r)
}

func TestRegistry_ReapFiresHooks(t *testing.T) {
	r := NewRegistry()
	var hooked []string
	r.OnRemove(func(id string) { hooked = append(hooked, id) })

	base := time.Now()
	require.NoError(t, r.Add("stale", base))

	removed := r.ReapInactive(base.Add(10*time.Minute), 5*time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"stale"}, hooked)
}

func TestRegistry_ConsistencyUnderMixedOperations(t *testing.T) {
	r := NewRegistry()
	base := time.Now()

	for i := 0; i < 10; i++ {
		require.NoError(t, r.Add(fmt.Sprintf("s%d", i), base))
	}
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("s%d", i)
		r.Subscribe(id, "even")
		if i%2 == 1 {
			r.Subscribe(id, "odd")
			r.Unsubscribe(id, "even")
		}
	}
	r.Remove("s1")
	r.Remove("s2")
	r.ReapInactive(base.Add(time.Hour), 30*time.Minute)

	assertConsistent(t, r)
	assert.Equal(t, 0, r.SessionCount())
	assert.Equal(t, 0, r.ChannelCount())
}

func TestRegistry_AllSessions(t *testing.T) {
	r := newTestRegistry(t, "s1", "s2", "s3")

	ids := r.AllSessions()
	assert.ElementsMatch(t, []string{"s1", "s2", "s3"}, ids)
}
