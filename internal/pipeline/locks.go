package pipeline

import "sync"

// runLocks enforces the exclusivity contract: at most one active
// pipeline run (or re-grade) per transcript id. Competing callers are
// told "already processing" instead of starting a duplicate run.
type runLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newRunLocks() *runLocks {
	return &runLocks{active: make(map[string]struct{})}
}

func (l *runLocks) tryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[id]; busy {
		return false
	}
	l.active[id] = struct{}{}
	return true
}

func (l *runLocks) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, id)
}
