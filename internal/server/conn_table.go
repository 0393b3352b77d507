package server

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pscheid92/relaypulse/internal/metrics"
)

// ConnTable maps session ids to their connection writers and implements
// domain.Sink for the protocol and the broadcaster. It holds the only
// transport-facing handle per session; the registry never sees connections.
type ConnTable struct {
	mu      sync.RWMutex
	writers map[string]*clientWriter
}

func NewConnTable() *ConnTable {
	return &ConnTable{writers: make(map[string]*clientWriter)}
}

func (t *ConnTable) bind(sessionID string, writer *clientWriter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writers[sessionID] = writer
}

// Drop closes the session's connection and forgets it. Wired to the session
// registry's removal hooks, so reaper evictions and disconnects both end up
// here. Dropping an unknown session is a no-op.
func (t *ConnTable) Drop(sessionID string) {
	t.mu.Lock()
	writer, exists := t.writers[sessionID]
	delete(t.writers, sessionID)
	t.mu.Unlock()

	if exists {
		writer.stopGraceful("session closed")
	}
}

// Send delivers one payload to one session. A full send buffer evicts the
// client: a consumer that cannot keep up would otherwise stall the fan-out
// worker for everyone else.
func (t *ConnTable) Send(sessionID string, payload []byte) error {
	t.mu.RLock()
	writer, exists := t.writers[sessionID]
	t.mu.RUnlock()

	if !exists {
		return fmt.Errorf("no connection for session %s", sessionID)
	}

	if !writer.trySend(payload) {
		metrics.SlowClientsEvictedTotal.Inc()
		slog.Warn("Disconnecting slow client", "session_id", sessionID)
		t.Drop(sessionID)
		return fmt.Errorf("send buffer full for session %s", sessionID)
	}
	return nil
}

// Size returns the number of live connections.
func (t *ConnTable) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.writers)
}
