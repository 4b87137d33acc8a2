// Package identity allocates player identities: random fixed-width strings
// checked against the set of live identities, with a quarantine that keeps a
// released identity from being handed out again while late packets that
// reference it may still be in flight.
package identity

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/cyberinferno/go-rooms/safeset"
)

// DefaultQuarantine is how long a released identity stays unavailable.
const DefaultQuarantine = time.Minute

// maxAttempts bounds the retries after a collision. Collisions between
// random 128-bit values do not happen in practice; a custom source that
// keeps colliding is a programming error and falls back to a fresh uuid.
const maxAttempts = 16

// Allocator hands out identities unique among live players. Safe for
// concurrent use.
type Allocator struct {
	mu       sync.Mutex
	live     *safeset.SafeSet[string]
	released *cache.Cache
	source   func() string
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithSource replaces the random source. Tests use it to force collisions.
func WithSource(source func() string) Option {
	return func(a *Allocator) {
		a.source = source
	}
}

// NewAllocator creates an Allocator.
//
// Parameters:
//   - quarantine: How long a released identity cannot be reissued; <= 0
//     selects DefaultQuarantine
//   - opts: Optional settings
//
// Returns:
//   - A new Allocator
func NewAllocator(quarantine time.Duration, opts ...Option) *Allocator {
	if quarantine <= 0 {
		quarantine = DefaultQuarantine
	}

	a := &Allocator{
		live:     safeset.NewSafeSet[string](),
		released: cache.New(quarantine, 2*quarantine),
		source:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Acquire returns a fresh identity and marks it live.
func (a *Allocator) Acquire() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < maxAttempts; i++ {
		id := a.source()
		if id == "" {
			continue
		}

		if _, quarantined := a.released.Get(id); quarantined {
			continue
		}

		if a.live.AddIfAbsent(id) {
			return id
		}
	}

	id := uuid.NewString()
	a.live.Add(id)
	return id
}

// Release marks id as no longer live and quarantines it.
//
// Returns:
//   - true if id was live
func (a *Allocator) Release(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.live.Remove(id) {
		return false
	}

	a.released.SetDefault(id, struct{}{})
	return true
}

// Live reports whether id is currently held by a player.
func (a *Allocator) Live(id string) bool {
	return a.live.Contains(id)
}

// Count returns the number of live identities.
func (a *Allocator) Count() int {
	return a.live.Size()
}
