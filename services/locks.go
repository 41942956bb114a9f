package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type userLock struct {
	mu       sync.Mutex
	lastUsed time.Time
}

// UserLocks serializes mutating operations per user: at most one in-flight
// mutation per user at a time. Entries are created lazily and evicted after
// idling, same shape as the rate limiter's visitor map.
type UserLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*userLock
}

func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[uuid.UUID]*userLock)}
}

// Lock blocks until the user's lock is held and returns the unlock func.
func (l *UserLocks) Lock(userID uuid.UUID) func() {
	l.mu.Lock()
	entry, exists := l.locks[userID]
	if !exists {
		entry = &userLock{}
		l.locks[userID] = entry
	}
	entry.lastUsed = time.Now()
	l.mu.Unlock()

	entry.mu.Lock()
	return entry.mu.Unlock
}

// Cleanup evicts locks idle for more than 10 minutes. Run as a goroutine.
func (l *UserLocks) Cleanup() {
	for {
		time.Sleep(time.Minute)
		l.mu.Lock()
		for id, entry := range l.locks {
			if time.Since(entry.lastUsed) > 10*time.Minute && entry.mu.TryLock() {
				entry.mu.Unlock()
				delete(l.locks, id)
			}
		}
		l.mu.Unlock()
	}
}
