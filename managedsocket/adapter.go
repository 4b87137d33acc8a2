package managedsocket

import (
	"errors"
	"sync"

	"github.com/cyberinferno/go-rooms/logger"
	"github.com/cyberinferno/go-rooms/packet"
	"github.com/cyberinferno/go-rooms/session"
)

// Session adapts a Socket to session.Session. Events use the socket's
// native multiplexing: each On maps to one native listener, and a second
// On for the same event removes the previous native listener first, so a
// packet is never delivered twice.
type Session struct {
	socket *Socket
	logger logger.Logger

	mu        sync.Mutex
	listeners map[string]uint64
}

// NewSession wraps socket.
func NewSession(socket *Socket) *Session {
	return &Session{
		socket:    socket,
		logger:    socket.logger,
		listeners: make(map[string]uint64),
	}
}

// Socket returns the native socket.
func (s *Session) Socket() *Socket {
	return s.socket
}

// ID implements session.Session.
func (s *Session) ID() string {
	return s.socket.ID()
}

// RemoteAddr implements session.Session.
func (s *Session) RemoteAddr() string {
	return s.socket.RemoteAddr()
}

// On implements session.Session. The first event argument must be a JSON
// object; anything else is dropped.
func (s *Session) On(event string, h session.Handler) {
	if s.socket.Closed() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.listeners[event]; ok {
		s.socket.RemoveListener(event, id)
	}

	s.listeners[event] = s.socket.On(event, func(args ...any) {
		var fields map[string]any
		if len(args) > 0 {
			var ok bool
			if fields, ok = args[0].(map[string]any); !ok {
				s.logger.Debug("dropping event with non-object payload", logger.Field{Key: "event", Value: event})
				return
			}
		}

		p := packet.New(fields)
		p.SetEvent(event)
		h(p)
	})
}

// Off implements session.Session.
func (s *Session) Off(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.listeners[event]
	if !ok {
		return false
	}

	delete(s.listeners, event)
	return s.socket.RemoveListener(event, id)
}

// Send implements session.Session. The packet travels as the event's single
// argument, with eventName set so peers that ignore the native event name
// still see it.
func (s *Session) Send(event string, p packet.Packet) error {
	out := p.Clone()
	out.SetEvent(event)

	err := s.socket.Emit(event, map[string]any(out))
	switch {
	case errors.Is(err, ErrSocketClosed):
		return session.ErrDestroyed
	case errors.Is(err, ErrSlowClient):
		return session.ErrSlowPeer
	default:
		return err
	}
}

// Destroy implements session.Session.
func (s *Session) Destroy() {
	s.mu.Lock()
	s.listeners = make(map[string]uint64)
	s.mu.Unlock()

	s.socket.RemoveAllListeners()
	s.socket.Disconnect()
}

// OnDestroy implements session.Session.
func (s *Session) OnDestroy(fn func()) {
	s.socket.OnDisconnect(func(string) {
		s.socket.RemoveAllListeners()
		fn()
	})
}

// Destroyed implements session.Session.
func (s *Session) Destroyed() bool {
	return s.socket.Closed()
}

var _ session.Session = (*Session)(nil)

// OnSession sets the connect handler to receive each socket wrapped as a
// session.Session.
func (s *Server) OnSession(fn func(session.Session)) {
	s.OnConnect(func(socket *Socket) {
		fn(NewSession(socket))
	})
}
