// Package verdictcache memoises primality verdicts so repeated queries for
// large numbers skip trial division. Implementations are safe for
// concurrent use and collapse concurrent misses for the same number into a
// single computation.
package verdictcache

import (
	"context"
	"strconv"

	"github.com/cyberinferno/primewire/prime"
)

// Cache stores verdict strings keyed by the number they describe.
type Cache interface {
	// GetOrCompute returns the cached verdict for n, or runs compute,
	// stores its result and returns it.
	//
	// Parameters:
	//   - ctx: Context for cancellation, passed through to compute
	//   - n: The number whose verdict is requested
	//   - compute: Produces the verdict on a miss
	//
	// Returns:
	//   - The cached or computed verdict
	//   - An error if compute or the backing store fails
	GetOrCompute(ctx context.Context, n int32, compute prime.ComputeFunc) (string, error)

	// Delete removes the verdict for n.
	Delete(ctx context.Context, n int32) error

	// Clear removes every stored verdict.
	Clear(ctx context.Context) error

	// Len returns the number of stored verdicts.
	Len(ctx context.Context) (int, error)
}

var _ prime.Cache = Cache(nil)

func key(prefix string, n int32) string {
	return prefix + strconv.FormatInt(int64(n), 10)
}

// lockKey names the lock guarding the computation of the verdict stored at
// k. It lives outside the verdict prefix so Len and Clear never see it.
func lockKey(k string) string {
	return "lock:" + k
}
