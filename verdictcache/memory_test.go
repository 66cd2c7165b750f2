package verdictcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyberinferno/primewire/prime"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(v string, calls *int32) prime.ComputeFunc {
	return func(ctx context.Context) (string, error) {
		atomic.AddInt32(calls, 1)
		return v, nil
	}
}

func TestMemory_GetOrCompute_MissThenHit(t *testing.T) {
	m := NewMemory(cache.NoExpiration, time.Minute)
	ctx := context.Background()

	var calls int32
	got, err := m.GetOrCompute(ctx, 13, fixed("13 is prime", &calls))
	require.NoError(t, err)
	assert.Equal(t, "13 is prime", got)

	got, err = m.GetOrCompute(ctx, 13, fixed("should not be used", &calls))
	require.NoError(t, err)
	assert.Equal(t, "13 is prime", got)
	assert.Equal(t, int32(1), calls)
}

func TestMemory_GetOrCompute_ErrorNotCached(t *testing.T) {
	m := NewMemory(cache.NoExpiration, time.Minute)
	ctx := context.Background()

	_, err := m.GetOrCompute(ctx, 4, func(ctx context.Context) (string, error) {
		return "", assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	var calls int32
	got, err := m.GetOrCompute(ctx, 4, fixed("4 is not prime", &calls))
	require.NoError(t, err)
	assert.Equal(t, "4 is not prime", got)
	assert.Equal(t, int32(1), calls)
}

func TestMemory_GetOrCompute_Singleflight(t *testing.T) {
	m := NewMemory(cache.NoExpiration, time.Minute)
	ctx := context.Background()

	var calls int32
	slow := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "2147483647 is prime", nil
	}

	const concurrency = 10
	var wg sync.WaitGroup
	results := make([]string, concurrency)
	errs := make([]error, concurrency)
	for i := 0; i < concurrency; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = m.GetOrCompute(ctx, 2147483647, slow)
		}()
	}
	wg.Wait()

	for i := 0; i < concurrency; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "2147483647 is prime", results[i])
	}
	assert.Equal(t, int32(1), calls)
}

func TestMemory_DistinctNumbers(t *testing.T) {
	m := NewMemory(cache.NoExpiration, time.Minute)
	ctx := context.Background()

	var calls int32
	for _, n := range []int32{-3, 0, 3} {
		_, err := m.GetOrCompute(ctx, n, fixed("v", &calls))
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), calls)
	count, err := m.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestMemory_Expiry(t *testing.T) {
	m := NewMemory(10*time.Millisecond, time.Minute)
	ctx := context.Background()

	var calls int32
	_, err := m.GetOrCompute(ctx, 5, fixed("5 is prime", &calls))
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	_, err = m.GetOrCompute(ctx, 5, fixed("5 is prime", &calls))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls)
}

func TestMemory_DeleteAndClear(t *testing.T) {
	m := NewMemory(cache.NoExpiration, time.Minute)
	ctx := context.Background()

	var calls int32
	_, _ = m.GetOrCompute(ctx, 1, fixed("1 is prime", &calls))
	_, _ = m.GetOrCompute(ctx, 2, fixed("2 is prime", &calls))

	require.NoError(t, m.Delete(ctx, 1))
	count, err := m.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, m.Clear(ctx))
	count, err = m.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMemory_ContextCancelled(t *testing.T) {
	m := NewMemory(cache.NoExpiration, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Delete(ctx, 1), context.Canceled)
	assert.ErrorIs(t, m.Clear(ctx), context.Canceled)
	_, err := m.Len(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_WithOracle(t *testing.T) {
	o := prime.NewOracle(NewMemory(cache.NoExpiration, time.Minute), nil)

	got, err := o.Verdict(context.Background(), 18)
	require.NoError(t, err)
	assert.Equal(t, "18 is not prime", got)
}
