package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireSerializesSameKey(t *testing.T) {
	t.Parallel()
	k := New()
	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := k.Acquire(context.Background(), "project:1")
			require.NoError(t, err)
			defer release()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}

func TestDifferentKeysDoNotContend(t *testing.T) {
	t.Parallel()
	k := New()

	releaseA, err := k.Acquire(context.Background(), "project:1")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := k.Acquire(context.Background(), "project:2")
	require.NoError(t, err)
	releaseB()
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()
	k := New()

	release, err := k.Acquire(context.Background(), "server:1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.Acquire(ctx, "server:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTryAcquire(t *testing.T) {
	t.Parallel()
	k := New()

	release, ok := k.TryAcquire("server:1")
	require.True(t, ok)

	_, ok = k.TryAcquire("server:1")
	assert.False(t, ok)

	release()
	release() // double release is harmless

	release2, ok := k.TryAcquire("server:1")
	require.True(t, ok)
	release2()
}
