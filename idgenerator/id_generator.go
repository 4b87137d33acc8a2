// Package idgenerator hands out process-unique sequence numbers. A generator
// is created once by its owner (the allocator for room ids, each listener
// for session ids) and passed in explicitly instead of living in a global.
package idgenerator

import (
	"fmt"
	"sync/atomic"
)

// IdGenerator generates monotonically increasing uint32 ids. Safe for
// concurrent use. The first Id() returns startValue+1, so 0 can stand for
// "unassigned".
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates a generator whose first id is startValue+1.
//
// Parameters:
//   - startValue: Initial counter value
//
// Returns:
//   - A new IdGenerator
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next id.
func (l *IdGenerator) Id() uint32 {
	return l.id.Add(1)
}

// Tag returns the next id formatted as prefix-xxxxxxxx (fixed-width hex),
// which keeps ids from different generators apart.
//
// Parameters:
//   - prefix: Namespace for the id, e.g. the transport kind
//
// Returns:
//   - The formatted id
func (l *IdGenerator) Tag(prefix string) string {
	return fmt.Sprintf("%s-%08x", prefix, l.Id())
}

// Last returns the most recently issued id without advancing.
func (l *IdGenerator) Last() uint32 {
	return l.id.Load()
}
