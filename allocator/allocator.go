// Package allocator places newly connected sessions into rooms using a
// FIFO fill policy: the most recently created room is filled until it
// reports full, then a new room is created.
package allocator

import (
	"sync"

	"github.com/cyberinferno/go-rooms/identity"
	"github.com/cyberinferno/go-rooms/idgenerator"
	"github.com/cyberinferno/go-rooms/logger"
	"github.com/cyberinferno/go-rooms/player"
	"github.com/cyberinferno/go-rooms/room"
	"github.com/cyberinferno/go-rooms/safemap"
	"github.com/cyberinferno/go-rooms/session"
)

// GameFactory creates the game logic for a new room.
type GameFactory func(roomID uint32) room.Game

// Allocator creates rooms on demand and routes sessions into them. Rooms
// are appended and never removed; an ended room stays as a record but is
// no longer targeted.
type Allocator struct {
	factory    GameFactory
	ids        *idgenerator.IdGenerator
	identities *identity.Allocator
	roomOpts   []room.Option
	logger     logger.Logger

	mu    sync.Mutex
	rooms []*room.Room
	index *safemap.SafeMap[uint32, *room.Room]
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithIDGenerator sets the room id source.
func WithIDGenerator(ids *idgenerator.IdGenerator) Option {
	return func(a *Allocator) {
		if ids != nil {
			a.ids = ids
		}
	}
}

// WithIdentities sets the player identity allocator.
func WithIdentities(ids *identity.Allocator) Option {
	return func(a *Allocator) {
		if ids != nil {
			a.identities = ids
		}
	}
}

// WithRoomOptions sets the options every new room is built with.
func WithRoomOptions(opts ...room.Option) Option {
	return func(a *Allocator) {
		a.roomOpts = append(a.roomOpts, opts...)
	}
}

// WithLogger sets the allocator logger. Rooms derive their logger from it.
func WithLogger(l logger.Logger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Allocator.
//
// Parameters:
//   - factory: Builds the game for each new room; must not be nil
//   - opts: Optional settings
//
// Returns:
//   - The new Allocator
func New(factory GameFactory, opts ...Option) *Allocator {
	a := &Allocator{
		factory:    factory,
		ids:        idgenerator.NewIdGenerator(0),
		identities: identity.NewAllocator(identity.DefaultQuarantine),
		logger:     logger.NewNopLogger(),
		index:      safemap.NewSafeMap[uint32, *room.Room](),
	}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Route wraps s in a new Player and adds it to the current room, creating
// a room when there is none or the current one is full or ended. When s is
// destroyed the player leaves its room and its identity is released.
//
// Parameters:
//   - s: A live session from a transport listener
//
// Returns:
//   - The player and the room it joined
func (a *Allocator) Route(s session.Session) (*player.Player, *room.Room) {
	p := player.NewWithSession(a.identities.Acquire(), s)

	var target *room.Room
	for {
		target = a.target()
		if target.AddPlayer(p) {
			break
		}
	}

	a.logger.Debug("session routed",
		logger.Field{Key: "session", Value: s.ID()},
		logger.Field{Key: "player", Value: p.ID()},
		logger.Field{Key: "room", Value: target.ID()})

	s.OnDestroy(func() {
		target.RemovePlayer(p)
		a.identities.Release(p.ID())
	})

	return p, target
}

// target returns the most recent room, creating one when it cannot take a
// player. A room filled by a concurrent Route after this check makes
// AddPlayer fail and Route asks again.
func (a *Allocator) target() *room.Room {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.rooms); n > 0 {
		last := a.rooms[n-1]
		if !last.IsFull() && !last.Ended() {
			return last
		}
	}

	id := a.ids.Id()
	opts := append([]room.Option{room.WithLogger(a.logger)}, a.roomOpts...)
	r := room.New(id, a.factory(id), opts...)
	a.rooms = append(a.rooms, r)
	a.index.Store(id, r)
	a.logger.Info("room created", logger.Field{Key: "room", Value: id})
	return r
}

// Rooms returns every room created so far, oldest first.
func (a *Allocator) Rooms() []*room.Room {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*room.Room(nil), a.rooms...)
}

// Room looks up a room by id.
func (a *Allocator) Room(id uint32) (*room.Room, bool) {
	return a.index.Load(id)
}

// Identities returns the player identity allocator.
func (a *Allocator) Identities() *identity.Allocator {
	return a.identities
}
