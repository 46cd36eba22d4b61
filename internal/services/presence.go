// internal/services/presence.go
package services

import (
	"sync"

	"github.com/google/uuid"
)

// PresenceRegistry tracks which users currently hold a live realtime
// connection, keyed by connection id. The signaling layer reports
// connects and disconnects; call control reads it when routing an
// invite. Disconnect only removes the mapping when the connection id
// still matches, so a disconnect racing a fresh reconnect never
// deletes the new session.
type PresenceRegistry struct {
	mu     sync.RWMutex
	online map[uuid.UUID]string
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{online: make(map[uuid.UUID]string)}
}

// Connect records a user's connection, replacing any previous one.
func (r *PresenceRegistry) Connect(userID uuid.UUID, connectionID string) {
	r.mu.Lock()
	r.online[userID] = connectionID
	r.mu.Unlock()
}

// Disconnect removes the mapping, but only if it still belongs to the
// given connection.
func (r *PresenceRegistry) Disconnect(userID uuid.UUID, connectionID string) {
	r.mu.Lock()
	if current, ok := r.online[userID]; ok && current == connectionID {
		delete(r.online, userID)
	}
	r.mu.Unlock()
}

// Lookup returns the user's current connection id, if any.
func (r *PresenceRegistry) Lookup(userID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connectionID, ok := r.online[userID]
	return connectionID, ok
}

// OnlineCount returns how many users are connected.
func (r *PresenceRegistry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.online)
}
