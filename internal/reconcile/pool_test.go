package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEachBoundsConcurrency(t *testing.T) {
	var inFlight, peak int32
	seen := make([]int32, 50)

	err := Each(context.Background(), len(seen), 4, func(_ context.Context, i int) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&seen[i], 1)
		atomic.AddInt32(&inFlight, -1)
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(4))
	for i, n := range seen {
		assert.Equal(t, int32(1), n, "index %d", i)
	}
}

func TestEachZeroLimitIsSequential(t *testing.T) {
	var order []int
	var mu sync.Mutex
	err := Each(context.Background(), 5, 0, func(_ context.Context, i int) {
		mu.Lock()
		order = append(order, i)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestEachReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls int32
	err := Each(ctx, 3, 2, func(context.Context, int) { atomic.AddInt32(&calls, 1) })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), calls)
}

func TestCachedSharesLookups(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	lookup := Cached(func(_ context.Context, key string) (string, bool, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "user-" + key, key != "ghost", nil
	})

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, found, err := lookup(context.Background(), "U1")
			assert.NoError(t, err)
			assert.True(t, found)
			results[i] = v
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, "user-U1", v)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, found, err := lookup(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, _ = lookup(context.Background(), "ghost")
	assert.False(t, found)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	var calls int32
	boom := errors.New("timeout")
	lookup := Cached(func(context.Context, string) (string, bool, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", false, boom
		}
		return "M-1", true, nil
	})

	_, _, err := lookup(context.Background(), "B1")
	assert.ErrorIs(t, err, boom)

	v, found, err := lookup(context.Background(), "B1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "M-1", v)
}

func TestPreloaded(t *testing.T) {
	lookup := Preloaded(map[string]string{"B1": "M-100"})
	v, found, err := lookup(context.Background(), "B1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "M-100", v)

	_, found, _ = lookup(context.Background(), "B2")
	assert.False(t, found)
}
