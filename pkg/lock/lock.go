// Package lock provides mutual exclusion keyed by run_id, guarding
// concurrent legacy-directory promotion.
package lock

import (
	"context"
	"sync"
)

// Locker acquires and releases a named lock. Release must be safe to
// call exactly once per successful Acquire.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// InProcess is the default Locker: a process-local mutex per key. It
// provides no cross-process guarantee; use RedisLocker for that.
type InProcess struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewInProcess returns a ready-to-use in-process keyed locker.
func NewInProcess() *InProcess {
	return &InProcess{locks: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the named lock is held, then returns a release
// function. Context cancellation is not honored mid-wait since
// sync.Mutex offers no cancellable lock; callers needing cancellation
// during contention should use RedisLocker.
func (l *InProcess) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return func() { m.Unlock() }, nil
}
