package mcp

import "sync"

// SessionRegistry maps run IDs to the MCP session that owns them. A run's
// notifications go to whichever session most recently claimed it, so a
// reconnecting client picks its runs back up by calling any run tool.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // runID → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a run with a session, replacing any earlier owner.
func (r *SessionRegistry) Register(runID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[runID] = sessionID
}

// SessionFor returns the owning session for a run, if any.
func (r *SessionRegistry) SessionFor(runID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[runID]
	return sid, ok
}

// Remove deletes every run owned by the given session. Called when a
// session disconnects; the runs keep going, unwatched.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for rid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, rid)
		}
	}
}
