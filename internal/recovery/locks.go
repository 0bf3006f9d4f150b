package recovery

import (
	"context"
	"sync"
)

// userLocks gives each user a one-slot semaphore. A slot lives only while
// someone holds or waits for it.
type userLocks struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{slots: make(map[string]*lockSlot)}
}

func (l *userLocks) acquire(userID string) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[userID]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[userID] = s
	}
	s.refs++
	return s
}

// release must be called with l.mu held.
func (l *userLocks) release(userID string, s *lockSlot) {
	s.refs--
	if s.refs == 0 {
		delete(l.slots, userID)
	}
}

func (l *userLocks) drop(userID string, s *lockSlot) {
	l.mu.Lock()
	l.release(userID, s)
	l.mu.Unlock()
}

// TryLock acquires the user's lock without waiting.
func (l *userLocks) TryLock(userID string) bool {
	s := l.acquire(userID)
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		l.drop(userID, s)
		return false
	}
}

// Lock waits for the user's lock or for ctx to end.
func (l *userLocks) Lock(ctx context.Context, userID string) error {
	s := l.acquire(userID)
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.drop(userID, s)
		return ctx.Err()
	}
}

// Unlock releases the user's lock. Unlocking a lock that is not held is a no-op.
func (l *userLocks) Unlock(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[userID]
	if !ok {
		return
	}
	select {
	case <-s.ch:
		l.release(userID, s)
	default:
	}
}

// Held reports whether a recovery currently runs for the user.
func (l *userLocks) Held(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[userID]
	return ok && len(s.ch) == 1
}

func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
