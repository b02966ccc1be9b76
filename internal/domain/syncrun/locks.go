package syncrun

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrRunInProgress is returned when a sync is requested for a connection
// that already has one in flight. The caller fails fast, no queueing.
var ErrRunInProgress = errors.New("syncrun: a run is already in progress for this connection")

// LockRegistry enforces at most one in-flight run per connection. Different
// connections proceed fully in parallel.
type LockRegistry struct {
	mu     sync.Mutex
	active map[uuid.UUID]struct{}
}

// NewLockRegistry creates an empty lock registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{active: make(map[uuid.UUID]struct{})}
}

// Acquire takes the connection's run lock, failing fast with
// ErrRunInProgress when it is held.
func (l *LockRegistry) Acquire(connectionID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.active[connectionID]; held {
		return ErrRunInProgress
	}
	l.active[connectionID] = struct{}{}
	return nil
}

// Release frees the connection's run lock.
func (l *LockRegistry) Release(connectionID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, connectionID)
}

// Held reports whether the connection currently has a run in flight.
func (l *LockRegistry) Held(connectionID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, held := l.active[connectionID]
	return held
}
