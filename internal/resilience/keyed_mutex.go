package resilience

import (
	"context"
	"sync"
)

// KeyedMutex hands out one Mutex per key. Mutexes are created on first use
// and kept until Prune removes the ones nobody holds, waits on or is about to
// lock. Operations on different keys never block each other.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mutex *Mutex
	refs  int
}

// NewKeyedMutex creates an empty keyed mutex table.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) acquireEntry(key string) *keyedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{mutex: NewMutex()}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedMutex) releaseEntry(e *keyedEntry) {
	k.mu.Lock()
	e.refs--
	k.mu.Unlock()
}

// Lock acquires the mutex for key and returns its unlock func.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	e := k.acquireEntry(key)
	if err := e.mutex.Lock(ctx); err != nil {
		k.releaseEntry(e)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mutex.Unlock()
			k.releaseEntry(e)
		})
	}, nil
}

// RunExclusive runs fn while holding the mutex for key.
func (k *KeyedMutex) RunExclusive(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e := k.acquireEntry(key)
	defer k.releaseEntry(e)
	return e.mutex.RunExclusive(ctx, fn)
}

// Len returns the number of retained mutexes.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// Prune drops idle mutexes and returns how many were removed.
func (k *KeyedMutex) Prune() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	removed := 0
	for key, e := range k.locks {
		if e.refs == 0 && !e.mutex.IsLocked() {
			delete(k.locks, key)
			removed++
		}
	}
	return removed
}
