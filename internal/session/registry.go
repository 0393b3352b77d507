package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pscheid92/relaypulse/internal/domain"
	"github.com/pscheid92/relaypulse/internal/metrics"
)

// Snapshot is a read-only copy of a session's state at a point in time.
// Callers never receive a handle to the live record.
type Snapshot struct {
	ID            string
	UserID        string
	Authenticated bool
	Subscriptions []string
	LastActivity  time.Time
}

type record struct {
	id            string
	userID        string
	authenticated bool
	subscriptions map[string]struct{}
	lastActivity  time.Time
}

// RemoveHook is invoked after a session has been removed from the registry,
// outside the registry lock. Collaborators use it to drop per-session state
// (rate-limit counters, delivery breakers, transport connections).
type RemoveHook func(sessionID string)

// UserGoneHook is invoked after the last session of a user has left the
// registry, outside the lock. Collaborators use it to drop per-user state
// (verified privileges, cached credentials).
type UserGoneHook func(userID string)

// Registry is the single source of truth for session existence, authentication
// state, and channel membership. One mutex guards both the session table and
// the channel index: their cross-consistency is an invariant, so they are
// never individually lockable.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*record
	channels  map[string]map[string]struct{}
	userCount map[string]int
	hooks     []RemoveHook
	userHooks []UserGoneHook
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:  make(map[string]*record),
		channels:  make(map[string]map[string]struct{}),
		userCount: make(map[string]int),
	}
}

// OnRemove registers a removal hook. Must be called during wiring, before the
// registry serves traffic.
func (r *Registry) OnRemove(hook RemoveHook) {
	r.hooks = append(r.hooks, hook)
}

// OnUserGone registers a user-gone hook. Must be called during wiring, before
// the registry serves traffic.
func (r *Registry) OnUserGone(hook UserGoneHook) {
	r.userHooks = append(r.userHooks, hook)
}

// Add inserts a new, unauthenticated session. Returns ErrDuplicateSession if
// the id is already registered, which indicates a transport bug upstream.
func (r *Registry) Add(id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return domain.ErrDuplicateSession
	}
	r.sessions[id] = &record{
		id:            id,
		subscriptions: make(map[string]struct{}),
		lastActivity:  now,
	}
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	return nil
}

// Remove deletes the session and unlinks it from every channel it was
// subscribed to, garbage-collecting channels left empty. Removing an absent
// id is a no-op. Returns true if a session was actually removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	removed, goneUser := r.removeLocked(id)
	r.mu.Unlock()

	if removed {
		r.fireHooks(id)
		r.fireUserHooks(goneUser)
	}
	return removed
}

// removeLocked unlinks a session from the channel index and deletes it.
// Caller holds the lock. goneUser carries the session's user id when this was
// the user's last session, empty otherwise.
func (r *Registry) removeLocked(id string) (removed bool, goneUser string) {
	rec, exists := r.sessions[id]
	if !exists {
		return false, ""
	}

	for channel := range rec.subscriptions {
		r.dropSubscriberLocked(channel, id)
	}
	delete(r.sessions, id)

	if rec.userID != "" {
		goneUser = r.dropUserLocked(rec.userID)
	}

	metrics.SessionsActive.Set(float64(len(r.sessions)))
	return true, goneUser
}

// dropUserLocked decrements the user's session count and returns the user id
// when the count reaches zero. Caller holds the lock.
func (r *Registry) dropUserLocked(userID string) string {
	if count := r.userCount[userID]; count > 1 {
		r.userCount[userID] = count - 1
		return ""
	}
	delete(r.userCount, userID)
	return userID
}

func (r *Registry) dropSubscriberLocked(channel, id string) {
	subscribers, exists := r.channels[channel]
	if !exists {
		return
	}
	delete(subscribers, id)
	if len(subscribers) == 0 {
		delete(r.channels, channel)
	}
	metrics.ChannelsActive.Set(float64(len(r.channels)))
}

func (r *Registry) fireHooks(id string) {
	for _, hook := range r.hooks {
		hook(id)
	}
}

func (r *Registry) fireUserHooks(userID string) {
	if userID == "" {
		return
	}
	for _, hook := range r.userHooks {
		hook(userID)
	}
}

// Get returns a snapshot of the session, or false if it does not exist.
// Absence means "already disconnected", not an error.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.sessions[id]
	if !exists {
		return Snapshot{}, false
	}
	return rec.snapshot(), true
}

func (rec *record) snapshot() Snapshot {
	subs := make([]string, 0, len(rec.subscriptions))
	for channel := range rec.subscriptions {
		subs = append(subs, channel)
	}
	return Snapshot{
		ID:            rec.id,
		UserID:        rec.userID,
		Authenticated: rec.authenticated,
		Subscriptions: subs,
		LastActivity:  rec.lastActivity,
	}
}

// Touch resets the session's activity timestamp. Returns false if the session
// is gone.
func (r *Registry) Touch(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.sessions[id]
	if !exists {
		return false
	}
	rec.lastActivity = now
	return true
}

// Authenticate stamps the user identity onto the session. The transition is
// monotonic: a session never reverts to unauthenticated. Re-authenticating as
// a different user hands the previous identity to the user-gone hooks when
// this was its last session.
func (r *Registry) Authenticate(id, userID string) bool {
	r.mu.Lock()
	rec, exists := r.sessions[id]
	if !exists {
		r.mu.Unlock()
		return false
	}

	var goneUser string
	if rec.userID != userID {
		if rec.userID != "" {
			goneUser = r.dropUserLocked(rec.userID)
		}
		r.userCount[userID]++
	}
	rec.userID = userID
	rec.authenticated = true
	r.mu.Unlock()

	r.fireUserHooks(goneUser)
	return true
}

// Subscribe adds the session to the channel's subscriber set and the channel
// to the session's subscription set, atomically. Subscribing twice is
// idempotent. Returns false if the session does not exist.
func (r *Registry) Subscribe(id, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.sessions[id]
	if !exists {
		return false
	}

	rec.subscriptions[channel] = struct{}{}
	subscribers, exists := r.channels[channel]
	if !exists {
		subscribers = make(map[string]struct{})
		r.channels[channel] = subscribers
	}
	subscribers[id] = struct{}{}

	metrics.ChannelsActive.Set(float64(len(r.channels)))
	return true
}

// Unsubscribe removes the membership on both sides. Unsubscribing from a
// channel the session never joined is a no-op.
func (r *Registry) Unsubscribe(id, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.sessions[id]
	if !exists {
		return false
	}

	delete(rec.subscriptions, channel)
	r.dropSubscriberLocked(channel, id)
	return true
}

// IsSubscribed reports whether the session currently belongs to the channel.
func (r *Registry) IsSubscribed(id, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.sessions[id]
	if !exists {
		return false
	}
	_, subscribed := rec.subscriptions[channel]
	return subscribed
}

// SubscribersOf returns a point-in-time copy of the channel's subscriber ids.
// Delivery iterates over the copy, so concurrent membership changes never
// affect an in-flight fan-out.
func (r *Registry) SubscribersOf(channel string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscribers := r.channels[channel]
	ids := make([]string, 0, len(subscribers))
	for id := range subscribers {
		ids = append(ids, id)
	}
	return ids
}

// AllSessions returns a snapshot of every live session id.
func (r *Registry) AllSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ChannelCount returns the number of channels with at least one subscriber.
func (r *Registry) ChannelCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// ReapInactive removes every session whose last activity is older than
// threshold relative to now, with the same channel cleanup as Remove.
// Returns the number of sessions removed.
func (r *Registry) ReapInactive(now time.Time, threshold time.Duration) int {
	r.mu.Lock()
	var expired []string
	for id, rec := range r.sessions {
		if now.Sub(rec.lastActivity) > threshold {
			expired = append(expired, id)
		}
	}
	var goneUsers []string
	for _, id := range expired {
		if _, goneUser := r.removeLocked(id); goneUser != "" {
			goneUsers = append(goneUsers, goneUser)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		slog.Info("Reaped inactive session", "session_id", id)
		r.fireHooks(id)
	}
	for _, userID := range goneUsers {
		r.fireUserHooks(userID)
	}
	if len(expired) > 0 {
		metrics.SessionsReapedTotal.Add(float64(len(expired)))
	}
	return len(expired)
}
