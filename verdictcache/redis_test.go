package verdictcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cyberinferno/primewire/prime"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachableClient points at a port nothing listens on, so every command
// fails fast without a Redis server.
func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()

	c := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKey(t *testing.T) {
	assert.Equal(t, "primewire:verdict:13", key(DefaultRedisPrefix, 13))
	assert.Equal(t, "-7", key("", -7))
}

func TestRedis_GetError(t *testing.T) {
	r := NewRedis(unreachableClient(t), DefaultRedisPrefix, time.Minute, nil)

	called := false
	_, err := r.GetOrCompute(context.Background(), 13, func(ctx context.Context) (string, error) {
		called = true
		return "13 is prime", nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis get error")
	assert.False(t, called)
}

func TestRedis_AdminErrors(t *testing.T) {
	r := NewRedis(unreachableClient(t), DefaultRedisPrefix, time.Minute, nil)
	ctx := context.Background()

	assert.ErrorContains(t, r.Delete(ctx, 1), "failed to delete verdict")
	assert.ErrorContains(t, r.Clear(ctx), "failed to scan verdicts")

	_, err := r.Len(ctx)
	assert.ErrorContains(t, err, "failed to scan verdicts")
}

// newTestRedis returns a cache backed by an in-process Redis server, with
// short lock timings so waiting paths finish quickly.
func newTestRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr(), DisableIdentity: true})
	t.Cleanup(func() { _ = c.Close() })

	r := NewRedis(c, DefaultRedisPrefix, ttl, nil)
	r.pollMin = time.Millisecond
	r.pollMax = 5 * time.Millisecond
	r.waitTimeout = time.Second
	return r, mr
}

func counted(v string, calls *int32) prime.ComputeFunc {
	return func(ctx context.Context) (string, error) {
		atomic.AddInt32(calls, 1)
		return v, nil
	}
}

func TestRedis_MissThenHit(t *testing.T) {
	r, mr := newTestRedis(t, time.Minute)
	ctx := context.Background()
	var calls int32

	for i := 0; i < 3; i++ {
		got, err := r.GetOrCompute(ctx, 13, counted("13 is prime", &calls))
		require.NoError(t, err)
		assert.Equal(t, "13 is prime", got)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	stored, err := mr.Get("primewire:verdict:13")
	require.NoError(t, err)
	assert.Equal(t, "13 is prime", stored)
	assert.Equal(t, time.Minute, mr.TTL("primewire:verdict:13"))
	assert.False(t, mr.Exists("lock:primewire:verdict:13"), "lock must be released after the fill")
}

func TestRedis_HitSkipsCompute(t *testing.T) {
	r, mr := newTestRedis(t, time.Minute)
	require.NoError(t, mr.Set("primewire:verdict:18", "18 is not prime"))

	var calls int32
	got, err := r.GetOrCompute(context.Background(), 18, counted("wrong", &calls))
	require.NoError(t, err)
	assert.Equal(t, "18 is not prime", got)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestRedis_TTL(t *testing.T) {
	t.Run("verdicts expire", func(t *testing.T) {
		r, mr := newTestRedis(t, time.Minute)
		ctx := context.Background()
		var calls int32

		_, err := r.GetOrCompute(ctx, 17, counted("17 is prime", &calls))
		require.NoError(t, err)

		mr.FastForward(time.Minute + time.Second)
		assert.False(t, mr.Exists("primewire:verdict:17"))

		_, err = r.GetOrCompute(ctx, 17, counted("17 is prime", &calls))
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		r, mr := newTestRedis(t, 0)

		_, err := r.GetOrCompute(context.Background(), 17, counted("17 is prime", new(int32)))
		require.NoError(t, err)
		assert.Zero(t, mr.TTL("primewire:verdict:17"))
	})
}

func TestRedis_ComputeErrorNotCached(t *testing.T) {
	r, mr := newTestRedis(t, time.Minute)

	_, err := r.GetOrCompute(context.Background(), 4, func(ctx context.Context) (string, error) {
		return "", assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, mr.Exists("primewire:verdict:4"))
	assert.False(t, mr.Exists("lock:primewire:verdict:4"))
}

func TestRedis_ConcurrentMissesComputeOnce(t *testing.T) {
	r, _ := newTestRedis(t, time.Minute)
	var calls int32
	release := make(chan struct{})

	slow := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "97 is prime", nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			results[idx], _ = r.GetOrCompute(context.Background(), 97, slow)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, got := range results {
		assert.Equal(t, "97 is prime", got)
	}
}

func TestRedis_WaitsForLockHolder(t *testing.T) {
	r, mr := newTestRedis(t, time.Minute)
	require.NoError(t, mr.Set("lock:primewire:verdict:13", "other-process"))

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = mr.Set("primewire:verdict:13", "13 is prime")
		mr.Del("lock:primewire:verdict:13")
	}()

	var calls int32
	got, err := r.GetOrCompute(context.Background(), 13, counted("computed here", &calls))
	require.NoError(t, err)
	assert.Equal(t, "13 is prime", got)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestRedis_LockReleasedEmptyComputesLocally(t *testing.T) {
	r, mr := newTestRedis(t, time.Minute)
	require.NoError(t, mr.Set("lock:primewire:verdict:19", "other-process"))

	go func() {
		time.Sleep(30 * time.Millisecond)
		mr.Del("lock:primewire:verdict:19")
	}()

	var calls int32
	got, err := r.GetOrCompute(context.Background(), 19, counted("19 is prime", &calls))
	require.NoError(t, err)
	assert.Equal(t, "19 is prime", got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	stored, err := mr.Get("primewire:verdict:19")
	require.NoError(t, err)
	assert.Equal(t, "19 is prime", stored)
}

func TestRedis_WaitTimesOut(t *testing.T) {
	r, mr := newTestRedis(t, time.Minute)
	r.waitTimeout = 30 * time.Millisecond
	require.NoError(t, mr.Set("lock:primewire:verdict:23", "stuck-process"))

	var calls int32
	_, err := r.GetOrCompute(context.Background(), 23, counted("23 is prime", &calls))
	assert.ErrorContains(t, err, "timeout waiting for verdict")
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestRedis_WaitHonoursContext(t *testing.T) {
	r, mr := newTestRedis(t, time.Minute)
	require.NoError(t, mr.Set("lock:primewire:verdict:29", "stuck-process"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.GetOrCompute(ctx, 29, counted("29 is prime", new(int32)))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedis_ExtendLock(t *testing.T) {
	r, mr := newTestRedis(t, time.Minute)
	r.lockTTL = 30 * time.Millisecond

	t.Run("owner extends", func(t *testing.T) {
		require.NoError(t, mr.Set("lock:a", "me"))
		mr.SetTTL("lock:a", time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go r.extendLock(ctx, "lock:a", "me")

		assert.Eventually(t, func() bool {
			return mr.TTL("lock:a") == 30*time.Millisecond
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("other owner untouched", func(t *testing.T) {
		require.NoError(t, mr.Set("lock:b", "someone-else"))
		mr.SetTTL("lock:b", time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		go r.extendLock(ctx, "lock:b", "me")
		time.Sleep(50 * time.Millisecond)
		cancel()

		assert.Equal(t, time.Millisecond, mr.TTL("lock:b"))
	})
}

func TestRedis_DeleteClearLen(t *testing.T) {
	r, mr := newTestRedis(t, time.Minute)
	ctx := context.Background()

	for _, n := range []int32{2, 3, 4} {
		_, err := r.GetOrCompute(ctx, n, prime.ComputeFunc(func(ctx context.Context) (string, error) {
			return prime.Verdict(n), nil
		}))
		require.NoError(t, err)
	}
	require.NoError(t, mr.Set("unrelated", "keep me"))

	count, err := r.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, r.Delete(ctx, 3))
	count, err = r.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, r.Clear(ctx))
	count, err = r.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.True(t, mr.Exists("unrelated"))

	// Clearing an empty cache is fine.
	assert.NoError(t, r.Clear(ctx))
}
