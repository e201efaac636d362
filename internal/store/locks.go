package store

import "sync"

// runLocks implements Locker with an in-process lock table. The engine runs
// as a single process that owns its store, so per-run mutual exclusion does
// not need to survive a restart; held locks evaporate with the process and
// the poll loop re-drives whatever was in flight.
type runLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newRunLocks() *runLocks {
	return &runLocks{held: make(map[string]struct{})}
}

// TryLock acquires the lock for runID, returning false without blocking if
// it is already held.
func (l *runLocks) TryLock(runID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[runID]; ok {
		return false
	}
	l.held[runID] = struct{}{}
	return true
}

// Unlock releases the lock for runID. Releasing an unheld lock is a no-op.
func (l *runLocks) Unlock(runID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, runID)
}
