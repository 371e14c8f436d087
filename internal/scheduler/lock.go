package scheduler

import (
	"context"
	"sync"
)

// TaskLock is a keyed mutex. TryLock never blocks; Lock waits for the holder
// of the same key to release it.
type TaskLock struct {
	mu     sync.Mutex
	locked map[string]chan struct{}
}

func NewTaskLock() *TaskLock {
	return &TaskLock{locked: make(map[string]chan struct{})}
}

func (l *TaskLock) TryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.locked[key]; exists {
		return false
	}
	l.locked[key] = make(chan struct{})
	return true
}

func (l *TaskLock) Lock(ctx context.Context, key string) error {
	for {
		l.mu.Lock()
		released, exists := l.locked[key]
		if !exists {
			l.locked[key] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-released:
		}
	}
}

func (l *TaskLock) Unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if released, exists := l.locked[key]; exists {
		close(released)
		delete(l.locked, key)
	}
}

// LandingLock serializes writes to the trunk working tree.
type LandingLock struct {
	mu sync.Mutex
}

func NewLandingLock() *LandingLock {
	return &LandingLock{}
}

func (l *LandingLock) Lock() {
	l.mu.Lock()
}

func (l *LandingLock) Unlock() {
	l.mu.Unlock()
}
