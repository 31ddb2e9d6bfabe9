// Package lock provides per-user locking for balance mutations.
// Rounds for different users never contend; rounds for the same user run one
// at a time.
package lock

import (
	"context"
	"sync"
)

// UserLock hands out one lock per user id.
// Each lock is a one-slot channel so waiters can give up on context cancellation.
type UserLock struct {
	locks sync.Map // map[string]chan struct{}
}

// NewUserLock creates a new UserLock instance
func NewUserLock() *UserLock {
	return &UserLock{}
}

func (ul *UserLock) slot(userID string) chan struct{} {
	if v, ok := ul.locks.Load(userID); ok {
		return v.(chan struct{})
	}
	v, _ := ul.locks.LoadOrStore(userID, make(chan struct{}, 1))
	return v.(chan struct{})
}

// Lock blocks until the user's lock is held or ctx is done
func (ul *UserLock) Lock(ctx context.Context, userID string) error {
	select {
	case ul.slot(userID) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases the user's lock. Unlocking a lock that is not held panics.
func (ul *UserLock) Unlock(userID string) {
	select {
	case <-ul.slot(userID):
	default:
		panic("lock: unlock of unlocked user " + userID)
	}
}
