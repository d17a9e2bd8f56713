package git

import (
	"context"
	"path/filepath"
	"sync"
)

// RepoLocks serializes git flows per working tree. The key is the cleaned
// absolute path, so two spellings of one directory share a lock.
//
// Thread-safe: All methods can be called concurrently.
type RepoLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewRepoLocks creates an empty lock set.
func NewRepoLocks() *RepoLocks {
	return &RepoLocks{locks: make(map[string]chan struct{})}
}

func lockKey(repoPath string) string {
	if abs, err := filepath.Abs(repoPath); err == nil {
		return abs
	}
	return filepath.Clean(repoPath)
}

func (l *RepoLocks) slot(repoPath string) chan struct{} {
	key := lockKey(repoPath)
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

// Acquire blocks until the repository is free or ctx is done. The returned
// release func must be called exactly once.
func (l *RepoLocks) Acquire(ctx context.Context, repoPath string) (release func(), err error) {
	ch := l.slot(repoPath)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire takes the lock only if it is free.
func (l *RepoLocks) TryAcquire(repoPath string) (release func(), ok bool) {
	ch := l.slot(repoPath)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, true
	default:
		return nil, false
	}
}
