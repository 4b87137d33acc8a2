// Package player wraps one live session with a stable identity and exposes
// the same send/on contract to room logic.
package player

import (
	"errors"
	"sync"

	"github.com/cyberinferno/go-rooms/packet"
	"github.com/cyberinferno/go-rooms/session"
)

// ErrNoSession is returned by Send before a session has been attached.
var ErrNoSession = errors.New("player has no session")

// Player is a named wrapper around one live connection. Games keep
// per-player state with Set and Get.
type Player struct {
	id string

	mu   sync.RWMutex
	sess session.Session

	data sync.Map
}

// New returns a player with the given identity and no session.
func New(id string) *Player {
	return &Player{id: id}
}

// NewWithSession returns a player already bound to s.
func NewWithSession(id string, s session.Session) *Player {
	p := New(id)
	p.SetSession(s)
	return p
}

// ID returns the player's identity.
func (p *Player) ID() string {
	return p.id
}

// SetSession attaches s. Only the first call has an effect so a reconnect
// racing with an active game cannot swap the session underneath it.
//
// Returns:
//   - true if s was attached
func (p *Player) SetSession(s session.Session) bool {
	if s == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sess != nil {
		return false
	}

	p.sess = s
	return true
}

// Session returns the attached session, or nil.
func (p *Player) Session() session.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sess
}

// On registers h for inbound packets tagged event. It is a no-op without a
// session.
func (p *Player) On(event string, h session.Handler) {
	if s := p.Session(); s != nil {
		s.On(event, h)
	}
}

// Off removes the handler for event.
func (p *Player) Off(event string) bool {
	if s := p.Session(); s != nil {
		return s.Off(event)
	}

	return false
}

// Send transmits a copy of pk tagged event. The copy's sender identity is
// always overwritten with the player's own, whatever the caller put there.
//
// Parameters:
//   - event: Event name
//   - pk: Payload; not modified
//
// Returns:
//   - ErrNoSession, or the session's send error
func (p *Player) Send(event string, pk packet.Packet) error {
	s := p.Session()
	if s == nil {
		return ErrNoSession
	}

	out := pk.Clone()
	out.SetSenderID(p.id)
	return s.Send(event, out)
}

// Disconnect destroys the attached session.
func (p *Player) Disconnect() {
	if s := p.Session(); s != nil {
		s.Destroy()
	}
}

// Connected reports whether the player has a live session.
func (p *Player) Connected() bool {
	s := p.Session()
	return s != nil && !s.Destroyed()
}

// Set stores game-defined state on the player.
func (p *Player) Set(key string, value any) {
	p.data.Store(key, value)
}

// Get returns state stored with Set.
func (p *Player) Get(key string) (any, bool) {
	return p.data.Load(key)
}
