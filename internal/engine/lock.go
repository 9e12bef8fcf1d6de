package engine

import (
	"context"
	"sync"
)

// userLocks hands out one lock per user. Unlike sync.Mutex, waiting for a
// lock gives up when the caller's context ends.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]chan struct{})}
}

// get returns the lock for userID, creating one if needed.
func (l *userLocks) get(userID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lock, exists := l.locks[userID]; exists {
		return lock
	}

	lock := make(chan struct{}, 1)
	l.locks[userID] = lock
	return lock
}

// Lock blocks until the lock for userID is held or ctx is done.
func (l *userLocks) Lock(ctx context.Context, userID string) (unlock func(), err error) {
	lock := l.get(userID)

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
