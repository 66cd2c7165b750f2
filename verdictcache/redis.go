package verdictcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cyberinferno/primewire/logger"
	"github.com/cyberinferno/primewire/prime"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultRedisPrefix namespaces verdict keys in a shared Redis database.
const DefaultRedisPrefix = "primewire:verdict:"

const (
	defaultLockTTL     = 30 * time.Second
	defaultWaitTimeout = 30 * time.Second
	minPollInterval    = 10 * time.Millisecond
	maxPollInterval    = 500 * time.Millisecond
)

// errLockReleased means another process gave up its lock without storing
// a verdict.
var errLockReleased = errors.New("verdict lock released without a cached verdict")

// Only the owner of a lock may release or extend it.
var (
	releaseLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	extendLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// Redis is a Cache stored in Redis, so several servers can share verdicts.
// Concurrent misses for one number are collapsed in-process with
// singleflight and across processes with a lock key: the lock holder
// computes and stores the verdict while the others poll for it.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    logger.Logger
	group  singleflight.Group

	lockTTL     time.Duration
	waitTimeout time.Duration
	pollMin     time.Duration
	pollMax     time.Duration
}

// NewRedis creates a Redis-backed verdict cache.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	c := verdictcache.NewRedis(client, verdictcache.DefaultRedisPrefix, time.Hour, log)
//
// A ttl of 0 stores verdicts without expiry. Failed cache writes are
// logged at warn level on log, which may be nil.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration, log logger.Logger) *Redis {
	if log == nil {
		log = logger.Nop()
	}

	return &Redis{
		client:      client,
		prefix:      prefix,
		ttl:         ttl,
		log:         log,
		lockTTL:     defaultLockTTL,
		waitTimeout: defaultWaitTimeout,
		pollMin:     minPollInterval,
		pollMax:     maxPollInterval,
	}
}

// GetOrCompute implements Cache.
//
// The method works as follows:
//  1. Return the stored verdict if there is one
//  2. On a miss, try to take the number's lock key with SETNX
//  3. With the lock: compute, store, release (the lock is extended while
//     a long computation runs)
//  4. Without it: poll with backoff until the holder stores the verdict,
//     computing locally if the holder releases the lock empty-handed
func (r *Redis) GetOrCompute(ctx context.Context, n int32, compute prime.ComputeFunc) (string, error) {
	k := key(r.prefix, n)
	if v, found, err := r.get(ctx, k); err != nil || found {
		return v, err
	}

	v, err, _ := r.group.Do(k, func() (interface{}, error) {
		return r.fill(ctx, k, compute)
	})
	if err != nil {
		return "", err
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type in cache for %d", n)
	}

	return s, nil
}

func (r *Redis) fill(ctx context.Context, k string, compute prime.ComputeFunc) (string, error) {
	lk := lockKey(k)
	token := fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano())

	acquired, err := r.client.SetNX(ctx, lk, token, r.lockTTL).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire verdict lock: %w", err)
	}

	if !acquired {
		v, err := r.waitForVerdict(ctx, k, lk)
		if !errors.Is(err, errLockReleased) {
			return v, err
		}

		r.log.Debug("verdict lock released empty, computing locally", logger.F("key", k))
		return r.computeAndStore(ctx, k, compute)
	}

	defer func() {
		if err := releaseLockScript.Run(context.Background(), r.client, []string{lk}, token).Err(); err != nil {
			r.log.Warn("failed to release verdict lock", logger.F("key", lk), logger.F("error", err))
		}
	}()

	extendCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.extendLock(extendCtx, lk, token)

	return r.computeAndStore(ctx, k, compute)
}

func (r *Redis) computeAndStore(ctx context.Context, k string, compute prime.ComputeFunc) (string, error) {
	s, err := compute(ctx)
	if err != nil {
		return "", err
	}

	// The verdict is still valid if caching fails.
	if err := r.client.Set(context.Background(), k, s, r.ttl).Err(); err != nil {
		r.log.Warn("failed to cache verdict", logger.F("key", k), logger.F("error", err))
	}

	return s, nil
}

// extendLock pushes the lock's expiry forward every third of its TTL until
// ctx is cancelled.
func (r *Redis) extendLock(ctx context.Context, lk, token string) {
	ticker := time.NewTicker(r.lockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = extendLockScript.Run(ctx, r.client, []string{lk}, token, r.lockTTL.Milliseconds()).Err()
		}
	}
}

// waitForVerdict polls for the verdict another process is computing, with
// exponential backoff between pollMin and pollMax.
//
// Returns:
//   - The verdict once it is stored
//   - errLockReleased if the lock disappears without a verdict
//   - ctx.Err(), a Redis error, or a timeout error after waitTimeout
func (r *Redis) waitForVerdict(ctx context.Context, k, lk string) (string, error) {
	backoff := r.pollMin
	deadline := time.Now().Add(r.waitTimeout)

	for {
		if v, found, err := r.get(ctx, k); err != nil || found {
			return v, err
		}

		exists, err := r.client.Exists(ctx, lk).Result()
		if err != nil {
			return "", fmt.Errorf("failed to check verdict lock: %w", err)
		}

		if exists == 0 {
			// The holder may have stored the verdict just before releasing.
			if v, found, err := r.get(ctx, k); err != nil || found {
				return v, err
			}

			return "", errLockReleased
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("timeout waiting for verdict %s", k)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > r.pollMax {
			backoff = r.pollMax
		}
	}
}

func (r *Redis) get(ctx context.Context, k string) (string, bool, error) {
	val, err := r.client.Get(ctx, k).Result()
	switch {
	case err == nil:
		return val, true, nil
	case errors.Is(err, redis.Nil):
		return "", false, nil
	default:
		return "", false, fmt.Errorf("redis get error: %w", err)
	}
}

// Delete implements Cache.
func (r *Redis) Delete(ctx context.Context, n int32) error {
	if err := r.client.Del(ctx, key(r.prefix, n)).Err(); err != nil {
		return fmt.Errorf("failed to delete verdict: %w", err)
	}

	return nil
}

// Clear implements Cache. Only keys under the cache's prefix are removed.
func (r *Redis) Clear(ctx context.Context) error {
	keys, err := r.scan(ctx)
	if err != nil {
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to clear verdicts: %w", err)
	}

	return nil
}

// Len implements Cache.
func (r *Redis) Len(ctx context.Context) (int, error) {
	keys, err := r.scan(ctx)
	if err != nil {
		return 0, err
	}

	return len(keys), nil
}

func (r *Redis) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan verdicts: %w", err)
	}

	return keys, nil
}
