package persist

import (
	"errors"
	"sync"
)

// ErrSaveInProgress is returned when a save is requested for a session that
// already has one running. Concurrent saves are rejected, not queued.
var ErrSaveInProgress = errors.New("save already in progress for this session")

// saveLocks tracks which session ids have a save in flight. Acquisition is
// an atomic insert-if-absent under one mutex.
type saveLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newSaveLocks() *saveLocks {
	return &saveLocks{held: make(map[string]struct{})}
}

// acquire claims the save lock for id, or fails with ErrSaveInProgress if it
// is already held.
func (l *saveLocks) acquire(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.held[id]; exists {
		return ErrSaveInProgress
	}
	l.held[id] = struct{}{}
	return nil
}

// release frees the lock for id. Releasing an unheld lock is a no-op.
func (l *saveLocks) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}
