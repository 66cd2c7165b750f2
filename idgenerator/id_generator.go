// Package idgenerator hands out monotonically increasing uint32 ids, such
// as the session ids the server logs with every entry.
package idgenerator

import "sync/atomic"

// IdGenerator produces increasing ids and is safe for concurrent use.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates a generator whose first Id is startValue+1, so
// NewIdGenerator(0) never hands out 0.
//
// Parameters:
//   - startValue: The value the counter starts from
//
// Returns:
//   - A new *IdGenerator
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next id.
func (g *IdGenerator) Id() uint32 {
	return g.id.Add(1)
}
