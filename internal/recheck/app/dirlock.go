package app

import (
	"sync"

	"github.com/nathantilsley/chart-recheck/internal/recheck/domain"
)

// dirLocks hands out one mutex per chart directory. Versions of the same
// chart share the directory's ownership descriptor, so writes to it are
// serialized per directory rather than per version.
type dirLocks struct {
	mu    sync.Mutex
	locks map[domain.DirKey]*sync.Mutex
}

func newDirLocks() *dirLocks {
	return &dirLocks{locks: make(map[domain.DirKey]*sync.Mutex)}
}

// lock blocks until the directory is free and returns its unlock func.
func (l *dirLocks) lock(key domain.DirKey) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
