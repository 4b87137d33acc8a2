// Package session normalizes live connections of every transport kind into
// one tagged send/receive model. Transport adapters implement Session; rooms
// and players only ever see this interface.
package session

import (
	"errors"

	"github.com/cyberinferno/go-rooms/packet"
)

var (
	// ErrDestroyed is returned by Send once the session has been destroyed.
	// Nothing is written in that case.
	ErrDestroyed = errors.New("session destroyed")

	// ErrSlowPeer is returned by Send when the outbound queue is full and the
	// packet was dropped.
	ErrSlowPeer = errors.New("slow peer: outbound queue full")
)

// Handler receives an inbound packet tagged with the event it was registered
// for. Handlers run on the connection's read goroutine, so packets from one
// peer are delivered in order.
type Handler func(p packet.Packet)

// Session is a transport-normalized live connection capable of tagged send
// and receive.
type Session interface {
	// ID returns the session identifier, unique among live sessions.
	ID() string

	// RemoteAddr returns the peer address for logging.
	RemoteAddr() string

	// On registers h for packets tagged event. At most one handler is active
	// per event; a second registration replaces the first.
	On(event string, h Handler)

	// Off removes the handler for event.
	//
	// Returns:
	//   - true if a handler was registered
	Off(event string) bool

	// Send tags p with event and queues it for transmission. The caller's
	// packet is not modified.
	//
	// Returns:
	//   - ErrDestroyed after Destroy, ErrSlowPeer when the queue is full,
	//     or an encoding error
	Send(event string, p packet.Packet) error

	// Destroy releases every handler and closes the underlying connection.
	// It is idempotent.
	Destroy()

	// OnDestroy registers fn to run once when the session is destroyed,
	// whether by the transport or by an explicit Destroy. Registering after
	// destruction runs fn immediately.
	OnDestroy(fn func())

	// Destroyed reports whether Destroy has run.
	Destroyed() bool
}
