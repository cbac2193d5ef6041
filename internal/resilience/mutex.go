package resilience

import (
	"context"
	"sync"
)

// Mutex is a binary lock built on a weight-1 Semaphore. Unlike sync.Mutex it
// honors context cancellation and priority while waiting.
type Mutex struct {
	sem *Semaphore

	mu      sync.Mutex
	release func()
}

// NewMutex creates an unlocked mutex.
func NewMutex() *Mutex {
	return &Mutex{sem: NewSemaphore(1)}
}

// Lock acquires the mutex with default priority.
func (m *Mutex) Lock(ctx context.Context) error {
	return m.LockPriority(ctx, 0)
}

// LockPriority acquires the mutex, serving higher priorities first.
func (m *Mutex) LockPriority(ctx context.Context, priority int) error {
	_, release, err := m.sem.Acquire(ctx, 1, priority)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.release = release
	m.mu.Unlock()
	return nil
}

// Unlock releases the mutex. Unlocking an unlocked mutex is a no-op.
func (m *Mutex) Unlock() {
	m.mu.Lock()
	release := m.release
	m.release = nil
	m.mu.Unlock()

	if release != nil {
		release()
	}
}

// RunExclusive runs fn while holding the mutex. The mutex is released when fn
// returns, fails or panics.
func (m *Mutex) RunExclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	_, release, err := m.sem.Acquire(ctx, 1, 0)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// IsLocked reports whether the mutex is held.
func (m *Mutex) IsLocked() bool {
	return m.sem.IsLocked()
}

// Waiting returns the number of goroutines queued on the mutex.
func (m *Mutex) Waiting() int {
	return m.sem.Waiting()
}

// Cancel rejects every queued waiter with ErrCanceled.
func (m *Mutex) Cancel() {
	m.sem.Cancel()
}
