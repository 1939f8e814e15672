package research

import "sync"

// Tracker records which sessions have a deep research in flight. Callers use
// it to refuse overlapping research and plain searches while one runs.
type Tracker struct {
	// mu guards active.
	mu sync.Mutex
	// active holds the session IDs with research in progress.
	active map[string]struct{}
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]struct{})}
}

// TryStart marks sessionID as busy. It returns false when research is
// already running for that session.
func (t *Tracker) TryStart(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.active[sessionID]; busy {
		return false
	}
	t.active[sessionID] = struct{}{}
	return true
}

// Finish clears the flag for sessionID. Calling it for an idle session is
// a no-op.
func (t *Tracker) Finish(sessionID string) {
	t.mu.Lock()
	delete(t.active, sessionID)
	t.mu.Unlock()
}

// InProgress reports whether research is running for sessionID.
func (t *Tracker) InProgress(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, busy := t.active[sessionID]
	return busy
}
