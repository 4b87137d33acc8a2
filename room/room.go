// Package room implements the capacity-bounded room state machine: player
// admission, room-level event binding, the fill -> start -> stop lifecycle,
// and broadcast over the player set. Concrete game rules plug in through
// the Game interface.
package room

import (
	"sync"

	"github.com/cyberinferno/go-rooms/logger"
	"github.com/cyberinferno/go-rooms/packet"
	"github.com/cyberinferno/go-rooms/perfmonitor"
	"github.com/cyberinferno/go-rooms/player"
)

// DefaultCapacity is the room size used when none is configured.
const DefaultCapacity = 2

// Default notification events and the payload key carrying the identity of
// the player who joined or left.
const (
	EventPlayerJoin  = "on_player_join"
	EventPlayerLeave = "on_player_leave"
	PlayerIDKey      = "playerId"
)

// State is the lifecycle stage of a room.
type State int

const (
	// Forming rooms accept players and wait to be filled.
	Forming State = iota
	// Started rooms run game logic.
	Started
	// Ended rooms are finished; no further transition happens.
	Ended
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Forming:
		return "forming"
	case Started:
		return "started"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Game is the game-specific logic of a room.
type Game interface {
	// Run is called once when the room starts. It runs without any room lock
	// held, so it may call back into the room.
	Run(r *Room)

	// Close is called once when the room is stopped.
	Close(r *Room)
}

// JoinHook replaces the default join notification when implemented by a
// Game.
type JoinHook interface {
	OnPlayerJoin(r *Room, p *player.Player)
}

// LeaveHook replaces the default leave notification when implemented by a
// Game.
type LeaveHook interface {
	OnPlayerLeave(r *Room, p *player.Player)
}

// Handler receives a packet sent by one of the room's players.
type Handler func(p packet.Packet, sender *player.Player)

type registration struct {
	handler Handler
	version uint64
}

// Room coordinates one game session's players. All membership and handler
// state is guarded by one mutex; game callbacks run outside it.
type Room struct {
	id       uint32
	game     Game
	logger   logger.Logger
	backfill bool
	monitor  *perfmonitor.PerformanceMonitor

	mu       sync.Mutex
	capacity int
	admitted int
	players  map[string]*player.Player
	// registered holds the current handler per event; bound records, per
	// player, which handler version each event is bound to.
	registered map[string]registration
	bound      map[string]map[string]uint64
	version    uint64
	state      State
	// running is set while the game's Run is in progress; a Stop arriving
	// meanwhile sets stopping and the transition to Ended waits for Run.
	running  bool
	stopping bool
}

// Option configures a Room.
type Option func(*Room)

// WithCapacity sets the number of players that fills the room. Values
// below 1 are ignored.
func WithCapacity(n int) Option {
	return func(r *Room) {
		if n >= 1 {
			r.capacity = n
		}
	}
}

// WithBackfill makes RemovePlayer free the departing player's slot so a
// later player can take it. By default a vacated slot stays consumed.
func WithBackfill(enabled bool) Option {
	return func(r *Room) {
		r.backfill = enabled
	}
}

// WithLogger sets the room logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Room) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Forming room.
//
// Parameters:
//   - id: Room id, unique within the allocator that creates it
//   - game: Game logic; must not be nil
//   - opts: Optional settings
//
// Returns:
//   - The new Room
func New(id uint32, game Game, opts ...Option) *Room {
	r := &Room{
		id:         id,
		game:       game,
		logger:     logger.NewNopLogger(),
		monitor:    perfmonitor.NewPerformanceMonitor(),
		capacity:   DefaultCapacity,
		players:    make(map[string]*player.Player),
		registered: make(map[string]registration),
		bound:      make(map[string]map[string]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.logger = r.logger.With(logger.Field{Key: "room", Value: id})
	return r
}

// ID returns the room id.
func (r *Room) ID() uint32 {
	return r.id
}

// Game returns the room's game logic.
func (r *Room) Game() Game {
	return r.game
}

// AddPlayer admits p. It is rejected when the room is full or has ended.
// Every registered handler is bound to p immediately, then the join hook
// runs. When this admission fills a Forming room the room starts and the
// game's Run is called.
//
// Returns:
//   - true if p was admitted
func (r *Room) AddPlayer(p *player.Player) bool {
	r.mu.Lock()
	if r.state == Ended || r.stopping || r.admitted >= r.capacity {
		r.mu.Unlock()
		return false
	}

	if _, exists := r.players[p.ID()]; exists {
		r.mu.Unlock()
		return false
	}

	r.players[p.ID()] = p
	r.admitted++
	r.bindAllLocked(p)

	starting := r.state == Forming && r.admitted >= r.capacity
	if starting {
		r.startLocked()
	}

	size := len(r.players)
	r.mu.Unlock()

	r.logger.Info("player joined", logger.Field{Key: "player", Value: p.ID()}, logger.Field{Key: "players", Value: size})
	r.onJoin(p)

	if starting {
		r.run()
	}

	return true
}

// RemovePlayer removes p and unbinds the room's handlers from its session,
// then runs the leave hook. The lifecycle state does not change.
//
// Returns:
//   - false if p is not in the room
func (r *Room) RemovePlayer(p *player.Player) bool {
	r.mu.Lock()
	current, ok := r.players[p.ID()]
	if !ok {
		r.mu.Unlock()
		return false
	}

	delete(r.players, p.ID())
	events := r.bound[p.ID()]
	delete(r.bound, p.ID())
	if r.backfill && r.state != Ended {
		r.admitted--
	}

	size := len(r.players)
	r.mu.Unlock()

	for event := range events {
		current.Off(event)
	}

	r.logger.Info("player left", logger.Field{Key: "player", Value: p.ID()}, logger.Field{Key: "players", Value: size})
	r.onLeave(current)
	return true
}

// RegisterReceiveEvent makes h the room-level handler for event, replacing
// a previous one. Once the room has started the handler is bound to every
// current player at once; before that, binding happens as players join and
// again for everyone at start, so every player ends up with every handler
// registered during Forming whatever the join order.
func (r *Room) RegisterReceiveEvent(event string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.version++
	r.registered[event] = registration{handler: h, version: r.version}

	if r.state == Started {
		for _, p := range r.players {
			r.bindLocked(p, event)
		}
	}
}

// UnregisterReceiveEvent removes the room-level handler for event from the
// room and from every current player.
//
// Returns:
//   - true if a handler was registered
func (r *Room) UnregisterReceiveEvent(event string) bool {
	r.mu.Lock()
	if _, ok := r.registered[event]; !ok {
		r.mu.Unlock()
		return false
	}

	delete(r.registered, event)
	var unbind []*player.Player
	for id, events := range r.bound {
		if _, ok := events[event]; ok {
			delete(events, event)
			unbind = append(unbind, r.players[id])
		}
	}
	r.mu.Unlock()

	for _, p := range unbind {
		p.Off(event)
	}

	return true
}

// ForceStart starts a Forming room with whoever is present, shrinking the
// capacity to the current player count.
//
// Returns:
//   - false if the room is not Forming
func (r *Room) ForceStart() bool {
	r.mu.Lock()
	if r.state != Forming {
		r.mu.Unlock()
		return false
	}

	r.capacity = len(r.players)
	r.admitted = len(r.players)
	r.startLocked()
	r.mu.Unlock()

	r.run()
	return true
}

// Stop ends a started room and calls the game's Close. Close runs at most
// once per room and never before Run: a Stop issued while Run is still in
// progress is accepted, and the room moves to Ended and closes as soon as
// Run returns.
//
// Returns:
//   - false if the room was not Started or is already stopping
func (r *Room) Stop() bool {
	r.mu.Lock()
	if r.state != Started || r.stopping {
		r.mu.Unlock()
		return false
	}

	r.stopping = true
	if r.running {
		r.mu.Unlock()
		r.logger.Debug("stop deferred until run returns")
		return true
	}

	r.state = Ended
	r.mu.Unlock()

	r.finish()
	return true
}

// Broadcast sends pk tagged event to every player present at call time.
// Each copy is stamped with its recipient's identity. Order across players
// is unspecified.
func (r *Room) Broadcast(event string, pk packet.Packet) {
	r.List().Broadcast(event, pk)
}

// Apply calls fn for every current player.
//
// Returns:
//   - A view over the players fn was applied to
func (r *Room) Apply(fn func(p *player.Player)) *List {
	return r.List().Apply(fn)
}

// Filter returns a view of the players satisfying pred. Room membership is
// not changed.
func (r *Room) Filter(pred func(p *player.Player) bool) *List {
	return r.List().Filter(pred)
}

// List returns a view over the current players.
func (r *Room) List() *List {
	return newList(r.Players(), r.logger)
}

// Players returns a snapshot of the current players.
func (r *Room) Players() []*player.Player {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*player.Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}

	return out
}

// Player returns the member with the given identity.
func (r *Room) Player(id string) (*player.Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	return p, ok
}

// Len returns the current number of players.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Capacity returns the number of slots.
func (r *Room) Capacity() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity
}

// IsFull reports whether every slot is taken.
func (r *Room) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.admitted >= r.capacity
}

// State returns the lifecycle state.
func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Started reports whether the room has ever started. It never reverts.
func (r *Room) Started() bool {
	return r.State() != Forming
}

// Ended reports whether the room has been stopped. It turns true as soon
// as Stop succeeds, even while the Ended transition still waits for Run.
func (r *Room) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == Ended || r.stopping
}

func (r *Room) startLocked() {
	r.state = Started
	r.running = true
	for _, p := range r.players {
		r.bindAllLocked(p)
	}
}

func (r *Room) run() {
	r.monitor.Start()
	r.logger.Info("room started", logger.Field{Key: "players", Value: r.Len()})
	r.game.Run(r)

	r.mu.Lock()
	r.running = false
	stopped := r.stopping
	if stopped {
		r.state = Ended
	}
	r.mu.Unlock()

	if stopped {
		r.finish()
	}
}

func (r *Room) finish() {
	r.monitor.Stop()
	r.logger.Info("room ended", logger.Field{Key: "duration_ms", Value: r.monitor.ElapsedMilliseconds()})
	r.game.Close(r)
}

func (r *Room) bindAllLocked(p *player.Player) {
	for event := range r.registered {
		r.bindLocked(p, event)
	}
}

// bindLocked binds the current handler for event to p unless that exact
// version is already bound.
func (r *Room) bindLocked(p *player.Player, event string) {
	reg := r.registered[event]
	events := r.bound[p.ID()]
	if events == nil {
		events = make(map[string]uint64)
		r.bound[p.ID()] = events
	}

	if events[event] == reg.version {
		return
	}

	events[event] = reg.version
	h := reg.handler
	p.On(event, func(pk packet.Packet) {
		h(pk, p)
	})
}

func (r *Room) onJoin(p *player.Player) {
	if hook, ok := r.game.(JoinHook); ok {
		hook.OnPlayerJoin(r, p)
		return
	}

	r.Broadcast(EventPlayerJoin, packet.Packet{PlayerIDKey: p.ID()})
}

func (r *Room) onLeave(p *player.Player) {
	if hook, ok := r.game.(LeaveHook); ok {
		hook.OnPlayerLeave(r, p)
		return
	}

	r.Broadcast(EventPlayerLeave, packet.Packet{PlayerIDKey: p.ID()})
}
