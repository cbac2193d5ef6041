package resilience

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("embedding-test", cfg)
	cb.SetClock(clock.Now)
	return cb, clock
}

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{CircuitState(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestNewCircuitBreaker_FillsDefaults(t *testing.T) {
	cb := NewCircuitBreaker("defaults", CircuitBreakerConfig{})
	if cb.cfg != DefaultCircuitBreakerConfig() {
		t.Errorf("cfg = %+v, want defaults", cb.cfg)
	}
	if cb.State() != StateClosed || cb.Name() != "defaults" {
		t.Errorf("unexpected initial breaker %s/%v", cb.Name(), cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsFailureStreak(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	trip(cb, 2)
	cb.RecordSuccess()
	trip(cb, 2)

	if cb.State() != StateClosed {
		t.Fatalf("State() = %v, want closed after interleaved success", cb.State())
	}
	trip(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open after 3 consecutive failures", cb.State())
	}
	if cb.Allow() {
		t.Error("open circuit must reject calls")
	}
}

func TestCircuitBreaker_ProbesAfterTimeout(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             time.Minute,
		HalfOpenMaxRequests: 2,
	})
	trip(cb, 2)

	clock.Advance(59 * time.Second)
	if cb.Allow() {
		t.Fatal("call admitted before timeout")
	}

	clock.Advance(time.Second)
	if !cb.Allow() {
		t.Fatal("first probe rejected")
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("State() = %v, want half-open", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("second probe rejected")
	}
	if cb.Allow() {
		t.Fatal("probe limit not enforced")
	}

	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed after probe successes", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Second})
	trip(cb, 1)

	clock.Advance(time.Second)
	cb.Allow()
	cb.RecordFailure()

	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}
	// The open window restarts from the failed probe.
	clock.Advance(500 * time.Millisecond)
	if cb.Allow() {
		t.Error("reopened circuit admitted a call early")
	}
}

func TestCircuitBreaker_ReleaseFreesProbeSlot(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second})
	trip(cb, 1)

	clock.Advance(time.Second)
	if !cb.Allow() {
		t.Fatal("probe rejected after timeout")
	}
	if cb.Allow() {
		t.Fatal("second probe admitted while the first is in flight")
	}
	cb.Release()
	if cb.State() != StateHalfOpen {
		t.Fatalf("State() = %v, want half-open after release", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("released slot not reusable")
	}
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}

	// Release on a closed circuit is a no-op.
	cb.Release()
	if cb.State() != StateClosed || !cb.Allow() {
		t.Error("Release disturbed a closed circuit")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour})
	trip(cb, 1)

	cb.Reset()
	if cb.State() != StateClosed || !cb.Allow() {
		t.Error("Reset should close the circuit")
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb, clock := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Second,
	})

	var got []string
	cb.OnStateChange(func(name string, from, to CircuitState) {
		if name != "embedding-test" {
			t.Errorf("name = %q", name)
		}
		got = append(got, from.String()+"->"+to.String())
	})

	trip(cb, 1)
	clock.Advance(time.Second)
	cb.Allow()
	cb.RecordSuccess()

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	cb := NewCircuitBreaker("concurrent", CircuitBreakerConfig{FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if !cb.Allow() {
					continue
				}
				if (i+j)%2 == 0 {
					cb.RecordSuccess()
				} else {
					cb.RecordFailure()
				}
			}
		}(i)
	}
	wg.Wait()
	_ = cb.State()
}
