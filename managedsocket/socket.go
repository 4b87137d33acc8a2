package managedsocket

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyberinferno/go-rooms/logger"
)

var (
	// ErrSocketClosed is returned by Emit after the socket has closed.
	ErrSocketClosed = errors.New("socket closed")
	// ErrSlowClient is returned by Emit when the outbound queue is full.
	ErrSlowClient = errors.New("slow client")
)

// EventHandler receives the arguments of an inbound event.
type EventHandler func(args ...any)

type listener struct {
	id uint64
	fn EventHandler
}

// Socket is one connected client of the managed transport. Several
// listeners may be registered per event; they run in registration order on
// the socket's read goroutine.
type Socket struct {
	id     string
	conn   *websocket.Conn
	config Config
	logger logger.Logger

	outgoing  chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	// connected is set by the client's connect packet; onConnect runs then.
	connected atomic.Bool
	onConnect func()

	mu           sync.RWMutex
	listeners    map[string][]listener
	onDisconnect []func(reason string)
	nextID       atomic.Uint64

	timerMu   sync.Mutex
	pingTimer *time.Timer
	pongTimer *time.Timer
}

func newSocket(id string, conn *websocket.Conn, config Config, log logger.Logger) *Socket {
	return &Socket{
		id:        id,
		conn:      conn,
		config:    config,
		logger:    log.With(logger.Field{Key: "socket", Value: id}, logger.Field{Key: "remote", Value: conn.RemoteAddr().String()}),
		outgoing:  make(chan []byte, config.SendQueue),
		closed:    make(chan struct{}),
		listeners: make(map[string][]listener),
	}
}

// ID returns the socket id sent to the client in the handshake.
func (s *Socket) ID() string {
	return s.id
}

// RemoteAddr returns the peer address.
func (s *Socket) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// On adds a listener for event.
//
// Returns:
//   - The listener id, for RemoveListener
func (s *Socket) On(event string, fn EventHandler) uint64 {
	id := s.nextID.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(s.listeners[event], listener{id: id, fn: fn})
	return id
}

// RemoveListener removes one listener.
//
// Returns:
//   - true if the listener was registered
func (s *Socket) RemoveListener(event string, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.listeners[event]
	for i, l := range list {
		if l.id == id {
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(s.listeners, event)
			} else {
				s.listeners[event] = list
			}

			return true
		}
	}

	return false
}

// RemoveAllListeners drops every event listener.
func (s *Socket) RemoveAllListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = make(map[string][]listener)
}

// ListenerCount returns the number of listeners registered for event.
func (s *Socket) ListenerCount(event string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners[event])
}

// Emit queues event with args for the client.
//
// Returns:
//   - ErrSocketClosed, ErrSlowClient or an encoding error
func (s *Socket) Emit(event string, args ...any) error {
	data, err := encodeEvent(event, args...)
	if err != nil {
		return err
	}

	return s.send(data)
}

// OnDisconnect registers fn to run once when the socket closes. If the
// socket is already closed fn runs immediately.
func (s *Socket) OnDisconnect(fn func(reason string)) {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		fn("already closed")
		return
	default:
	}

	s.onDisconnect = append(s.onDisconnect, fn)
	s.mu.Unlock()
}

// Disconnect closes the socket from the server side.
func (s *Socket) Disconnect() {
	s.close("server disconnect", true)
}

// Connected reports whether the client has joined the default namespace.
func (s *Socket) Connected() bool {
	return s.connected.Load()
}

// Closed reports whether the socket has closed.
func (s *Socket) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Socket) start() {
	go s.writeLoop()
	s.schedulePing()
}

func (s *Socket) send(data []byte) error {
	select {
	case <-s.closed:
		return ErrSocketClosed
	default:
	}

	select {
	case s.outgoing <- data:
		return nil
	case <-s.closed:
		return ErrSocketClosed
	default:
		return ErrSlowClient
	}
}

func (s *Socket) close(reason string, notifyPeer bool) {
	var handlers []func(reason string)
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.closed)
		handlers = s.onDisconnect
		s.onDisconnect = nil
		s.mu.Unlock()

		s.stopTimers()

		deadline := time.Now().Add(time.Second)
		if notifyPeer {
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
		}
		_ = s.conn.Close()

		s.logger.Debug("socket closed", logger.Field{Key: "reason", Value: reason})
	})

	for _, fn := range handlers {
		fn(reason)
	}
}

func (s *Socket) readLoop() {
	reason := "transport close"
	defer func() { s.close(reason, false) }()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.Closed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Warn("transport read failed", logger.Field{Key: "error", Value: err.Error()})
				reason = "transport error"
			}

			return
		}

		if done := s.handleEngine(data); done {
			reason = "client disconnect"
			return
		}
	}
}

func (s *Socket) writeLoop() {
	for {
		select {
		case <-s.closed:
			return
		case data := <-s.outgoing:
			if s.config.WriteTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !s.Closed() {
					s.logger.Warn("transport write failed", logger.Field{Key: "error", Value: err.Error()})
				}

				s.close("write error", false)
				return
			}
		}
	}
}

// handleEngine processes one engine packet and reports whether the client
// asked to close.
func (s *Socket) handleEngine(data []byte) bool {
	t, body, err := decodeEngine(data)
	if err != nil {
		s.logger.Debug("dropping malformed frame", logger.Field{Key: "error", Value: err.Error()})
		return false
	}

	switch t {
	case EnginePing:
		_ = s.send(encodeEngine(EnginePong))
	case EnginePong:
		s.schedulePing()
	case EngineClose:
		return true
	case EngineMessage:
		return s.handleSocket(body)
	}

	return false
}

func (s *Socket) handleSocket(data []byte) bool {
	t, body, err := decodeSocket(data)
	if err != nil {
		s.logger.Debug("dropping malformed message", logger.Field{Key: "error", Value: err.Error()})
		return false
	}

	switch t {
	case SocketConnect:
		s.connect()
	case SocketDisconnect:
		return true
	case SocketEvent:
		if !s.Connected() {
			s.logger.Debug("dropping event before connect")
			return false
		}

		event, args, err := decodeEvent(body)
		if err != nil {
			s.logger.Debug("dropping malformed event", logger.Field{Key: "error", Value: err.Error()})
			return false
		}

		s.dispatch(event, args)
	}

	return false
}

// connect answers the client's connect packet with the socket id. Repeated
// connect packets are ignored.
func (s *Socket) connect() {
	if !s.connected.CompareAndSwap(false, true) {
		s.logger.Debug("ignoring repeated connect")
		return
	}

	reply, err := encodeConnect(s.id)
	if err != nil {
		s.logger.Warn("connect reply failed", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	if err := s.send(reply); err != nil {
		s.logger.Debug("connect reply dropped", logger.Field{Key: "error", Value: err.Error()})
		return
	}

	if s.onConnect != nil {
		s.onConnect()
	}
}

func (s *Socket) dispatch(event string, args []any) {
	s.mu.RLock()
	list := append([]listener(nil), s.listeners[event]...)
	s.mu.RUnlock()

	for _, l := range list {
		l.fn(args...)
	}
}

func (s *Socket) schedulePing() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.Closed() {
		return
	}

	if s.pongTimer != nil {
		s.pongTimer.Stop()
		s.pongTimer = nil
	}

	if s.pingTimer != nil {
		s.pingTimer.Stop()
	}

	s.pingTimer = time.AfterFunc(s.config.PingInterval, func() {
		if s.send(encodeEngine(EnginePing)) != nil {
			return
		}

		s.timerMu.Lock()
		defer s.timerMu.Unlock()
		s.pongTimer = time.AfterFunc(s.config.PingTimeout, func() {
			s.close("ping timeout", true)
		})
	})
}

func (s *Socket) stopTimers() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.pingTimer != nil {
		s.pingTimer.Stop()
	}

	if s.pongTimer != nil {
		s.pongTimer.Stop()
	}
}
