package verdictcache

import (
	"context"
	"fmt"
	"time"

	"github.com/cyberinferno/primewire/prime"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Memory is an in-process Cache backed by go-cache. Concurrent misses for
// the same number share one computation through a singleflight group.
type Memory struct {
	cache *cache.Cache
	ttl   time.Duration
	group singleflight.Group
}

// NewMemory creates an in-memory verdict cache.
//
// Parameters:
//   - ttl: How long a verdict is kept (cache.NoExpiration keeps it forever)
//   - cleanupInterval: How often expired verdicts are purged
//
// Returns:
//   - A new *Memory
func NewMemory(ttl, cleanupInterval time.Duration) *Memory {
	return &Memory{
		cache: cache.New(ttl, cleanupInterval),
		ttl:   ttl,
	}
}

// GetOrCompute implements Cache.
func (m *Memory) GetOrCompute(ctx context.Context, n int32, compute prime.ComputeFunc) (string, error) {
	k := key("", n)
	if v, found := m.cache.Get(k); found {
		if s, ok := v.(string); ok {
			return s, nil
		}
	}

	v, err, _ := m.group.Do(k, func() (interface{}, error) {
		// Another caller may have filled the entry while we waited.
		if cached, found := m.cache.Get(k); found {
			if s, ok := cached.(string); ok {
				return s, nil
			}
		}

		s, err := compute(ctx)
		if err != nil {
			return "", err
		}

		m.cache.Set(k, s, m.ttl)
		return s, nil
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

// Delete implements Cache.
func (m *Memory) Delete(ctx context.Context, n int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.cache.Delete(key("", n))
	return nil
}

// Clear implements Cache.
func (m *Memory) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.cache.Flush()
	return nil
}

// Len implements Cache.
func (m *Memory) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return m.cache.ItemCount(), nil
}
