package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SameKeySerializes(t *testing.T) {
	k := NewKeyedMutex()
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = k.RunExclusive(context.Background(), "resource:r1", func(context.Context) error {
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestKeyedMutex_DifferentKeysIndependent(t *testing.T) {
	k := NewKeyedMutex()
	unlockA, err := k.Lock(context.Background(), "thread:a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := k.Lock(ctx, "thread:b")
	require.NoError(t, err)
	unlockB()
}

func TestKeyedMutex_CanceledWaiterReleasesReference(t *testing.T) {
	k := NewKeyedMutex()
	unlock, err := k.Lock(context.Background(), "thread:a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "thread:a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Zero(t, k.Prune(), "held mutex is retained")
	unlock()
	unlock()
	assert.Equal(t, 1, k.Prune())
	assert.Zero(t, k.Len())
}

func TestKeyedMutex_PruneKeepsBusyKeys(t *testing.T) {
	k := NewKeyedMutex()
	for _, key := range []string{"a", "b", "c"} {
		unlock, err := k.Lock(context.Background(), key)
		require.NoError(t, err)
		unlock()
	}
	unlock, err := k.Lock(context.Background(), "b")
	require.NoError(t, err)
	defer unlock()

	assert.Equal(t, 3, k.Len())
	assert.Equal(t, 2, k.Prune())
	assert.Equal(t, 1, k.Len())
}
