package resilience

import (
	"context"
	"sync"

	storeerrors "github.com/blueberrycongee/convostore/pkg/errors"
)

// ErrCanceled is returned to every queued waiter when the semaphore is canceled.
var ErrCanceled = storeerrors.NewCancellationError("semaphore canceled while waiting")

// Semaphore is a weighted counting semaphore with priority-ordered waiters.
//
// Waiters are queued by priority (higher first) and by arrival among equal
// priorities. The head of the queue is dispatched as soon as its weight fits;
// later waiters never overtake it. A request that fits the available permits
// and whose priority is higher than every queued waiter skips the queue.
type Semaphore struct {
	mu       sync.Mutex
	capacity int
	value    int
	queue    []*waiter
	seq      uint64
}

type waiter struct {
	weight   int
	priority int
	seq      uint64
	ready    chan struct{}
	before   int
	err      error
}

// NewSemaphore creates a new semaphore with the given capacity.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &Semaphore{
		capacity: capacity,
		value:    capacity,
		queue:    make([]*waiter, 0),
	}
}

// Acquire takes weight permits, blocking until they are available, the
// context is done or the semaphore is canceled. It returns the number of
// available permits before the acquisition and an idempotent release func.
func (s *Semaphore) Acquire(ctx context.Context, weight, priority int) (int, func(), error) {
	if weight <= 0 || weight > s.capacity {
		return 0, nil, storeerrors.NewInvalidArgumentError("SEMAPHORE_INVALID_WEIGHT",
			"weight must be between 1 and the semaphore capacity",
			map[string]any{"weight": weight, "capacity": s.capacity})
	}

	s.mu.Lock()
	s.seq++
	w := &waiter{
		weight:   weight,
		priority: priority,
		seq:      s.seq,
		ready:    make(chan struct{}),
	}

	// Index of the last queued waiter that would be served before us.
	i := len(s.queue) - 1
	for ; i >= 0; i-- {
		if priority <= s.queue[i].priority {
			break
		}
	}
	if i == -1 && weight <= s.value {
		s.dispatchLocked(w)
		s.mu.Unlock()
		return w.before, s.releaser(weight), nil
	}
	s.insertLocked(i+1, w)
	s.mu.Unlock()

	select {
	case <-w.ready:
		if w.err != nil {
			return 0, nil, w.err
		}
		return w.before, s.releaser(weight), nil

	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-w.ready:
			// Granted or canceled while we were giving up.
			s.mu.Unlock()
			if w.err == nil {
				s.Release(weight)
			}
			return 0, nil, ctx.Err()
		default:
		}
		s.removeLocked(w)
		s.drainLocked()
		s.mu.Unlock()
		return 0, nil, ctx.Err()
	}
}

// TryAcquire takes weight permits without blocking. It fails when waiters are
// queued or the permits are not available.
func (s *Semaphore) TryAcquire(weight int) (func(), bool) {
	if weight <= 0 {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) > 0 || weight > s.value {
		return nil, false
	}
	s.value -= weight
	return s.releaser(weight), true
}

// Release returns weight permits and dispatches queued waiters that now fit.
// Available permits never exceed the capacity.
func (s *Semaphore) Release(weight int) {
	if weight <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value += weight
	if s.value > s.capacity {
		s.value = s.capacity
	}
	s.drainLocked()
}

// Cancel rejects all queued waiters with ErrCanceled and empties the queue.
// Holders of already granted permits are not affected.
func (s *Semaphore) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.queue {
		w.err = ErrCanceled
		close(w.ready)
	}
	s.queue = s.queue[:0]
}

// Current returns the number of permits currently held.
func (s *Semaphore) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity - s.value
}

// Capacity returns the semaphore capacity.
func (s *Semaphore) Capacity() int {
	return s.capacity
}

// Available returns the number of available permits.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Waiting returns the number of queued waiters.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// IsLocked reports whether no permits are available.
func (s *Semaphore) IsLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value <= 0
}

func (s *Semaphore) releaser(weight int) func() {
	var once sync.Once
	return func() {
		once.Do(func() { s.Release(weight) })
	}
}

func (s *Semaphore) dispatchLocked(w *waiter) {
	w.before = s.value
	s.value -= w.weight
	close(w.ready)
}

// drainLocked serves the head of the queue while its weight fits.
func (s *Semaphore) drainLocked() {
	for len(s.queue) > 0 && s.queue[0].weight <= s.value {
		w := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.dispatchLocked(w)
	}
}

func (s *Semaphore) insertLocked(at int, w *waiter) {
	s.queue = append(s.queue, nil)
	copy(s.queue[at+1:], s.queue[at:])
	s.queue[at] = w
}

func (s *Semaphore) removeLocked(w *waiter) {
	for i, q := range s.queue {
		if q == w {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}
