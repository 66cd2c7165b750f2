package prime

import (
	"context"

	"github.com/cyberinferno/primewire/logger"
)

// ComputeFunc produces the verdict for a number on a cache miss.
type ComputeFunc func(ctx context.Context) (string, error)

// Cache stores verdicts by number. verdictcache provides in-memory and
// Redis implementations.
type Cache interface {
	GetOrCompute(ctx context.Context, n int32, compute ComputeFunc) (string, error)
}

// Oracle computes verdicts, optionally memoising them in a Cache. The zero
// value is ready to use and computes every verdict directly.
type Oracle struct {
	cache Cache
	log   logger.Logger
}

// NewOracle creates an Oracle backed by cache. A nil cache disables
// memoisation.
//
// Parameters:
//   - cache: Verdict store consulted before trial division, or nil
//   - log: Receives a warning whenever the cache fails; nil discards
//
// Returns:
//   - A new *Oracle
func NewOracle(cache Cache, log logger.Logger) *Oracle {
	if log == nil {
		log = logger.Nop()
	}

	return &Oracle{cache: cache, log: log}
}

// Verdict returns the reply text for n. Large inputs take up to n/2 trial
// divisions; ctx cancellation aborts the computation. A failing cache
// never costs the caller a verdict: the error is logged and the verdict
// computed directly.
//
// Parameters:
//   - ctx: Context for cancellation
//   - n: The number to test
//
// Returns:
//   - "<n> is prime" or "<n> is not prime"
//   - ctx.Err() if cancelled
func (o *Oracle) Verdict(ctx context.Context, n int32) (string, error) {
	compute := func(ctx context.Context) (string, error) {
		p, err := isPrime(ctx, n)
		if err != nil {
			return "", err
		}

		return format(n, p), nil
	}

	if o == nil || o.cache == nil {
		return compute(ctx)
	}

	v, err := o.cache.GetOrCompute(ctx, n, compute)
	if err == nil {
		return v, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	if o.log != nil {
		o.log.Warn("verdict cache failed, computing directly", logger.F("number", n), logger.F("error", err))
	}

	return compute(ctx)
}
