package session

import "sync"

// Locks serializes turn processing per session: within one session turns
// complete in the order received, because red-flag detection reads recent
// history. Different sessions never contend on each other's lock.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocks returns an empty lock table.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for a session, creating it on first use.
func (l *Locks) Lock(sessionID string) {
	l.mu.Lock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	l.mu.Unlock()
	m.Lock()
}

// Unlock releases the session's mutex.
func (l *Locks) Unlock(sessionID string) {
	l.mu.Lock()
	m := l.locks[sessionID]
	l.mu.Unlock()
	if m != nil {
		m.Unlock()
	}
}
