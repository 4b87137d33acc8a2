// Package managedsocket implements the managed-socket transport: an
// event-multiplexed websocket protocol in the engine/socket style with a
// handshake, heartbeat and named events, plus the adapter that exposes each
// connected Socket as a session.Session.
package managedsocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyberinferno/go-rooms/idgenerator"
	"github.com/cyberinferno/go-rooms/logger"
	"github.com/cyberinferno/go-rooms/safemap"
)

// Path is where the websocket endpoint is mounted.
const Path = "/socket.io/"

// Config holds the managed transport settings.
type Config struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	// MaxPayload caps one inbound websocket message in bytes.
	MaxPayload int
	// SendQueue is the outbound queue length per socket.
	SendQueue int
	// WriteTimeout bounds a single message write; 0 disables it.
	WriteTimeout time.Duration
}

// DefaultConfig returns a 25s ping interval, 20s ping timeout and 1MB
// payload limit.
func DefaultConfig() Config {
	return Config{
		PingInterval: 25 * time.Second,
		PingTimeout:  20 * time.Second,
		MaxPayload:   1_000_000,
		SendQueue:    256,
		WriteTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.MaxPayload <= 0 {
		c.MaxPayload = d.MaxPayload
	}
	if c.SendQueue <= 0 {
		c.SendQueue = d.SendQueue
	}

	return c
}

// Server accepts managed-socket clients over HTTP. It implements
// http.Handler and can also own its listener through Start and Stop.
type Server struct {
	config    Config
	upgrader  websocket.Upgrader
	sockets   *safemap.SafeMap[string, *Socket]
	ids       *idgenerator.IdGenerator
	onConnect func(*Socket)
	logger    logger.Logger

	addr       string
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a Server.
//
// Parameters:
//   - addr: Address used by Start, e.g. ":3000"
//   - config: Heartbeat and limits; zero fields take defaults
//   - log: Logger; nil discards output
//
// Returns:
//   - The server
func NewServer(addr string, config Config, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &Server{
		config: config.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sockets: safemap.NewSafeMap[string, *Socket](),
		ids:     idgenerator.NewIdGenerator(0),
		logger:  log.With(logger.Field{Key: "listener", Value: "managed"}),
		addr:    addr,
	}

	mux := http.NewServeMux()
	mux.Handle(Path, s)
	s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// OnConnect sets the handler called for every socket once its client has
// sent the connect packet. It must be set before the server accepts
// clients.
func (s *Server) OnConnect(fn func(*Socket)) {
	s.onConnect = fn
}

// ServeHTTP upgrades the request and runs the socket until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t := r.URL.Query().Get("transport"); t != "" && t != "websocket" {
		http.Error(w, "Only WebSocket transport is supported", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", logger.Field{Key: "error", Value: err.Error()})
		return
	}
	conn.SetReadLimit(int64(s.config.MaxPayload))

	socket := newSocket(s.ids.Tag("managed"), conn, s.config, s.logger)
	if err := s.handshake(socket); err != nil {
		s.logger.Warn("handshake failed", logger.Field{Key: "error", Value: err.Error()})
		_ = conn.Close()
		return
	}

	if s.onConnect != nil {
		socket.onConnect = func() { s.onConnect(socket) }
	}

	s.sockets.Store(socket.ID(), socket)
	socket.OnDisconnect(func(string) { s.sockets.Delete(socket.ID()) })
	socket.start()
	socket.readLoop()
}

// handshake sends the open packet. The connect reply follows once the
// client asks for it.
func (s *Server) handshake(socket *Socket) error {
	open, err := encodeOpen(socket.ID(), s.config.PingInterval, s.config.PingTimeout, s.config.MaxPayload)
	if err != nil {
		return err
	}

	return socket.conn.WriteMessage(websocket.TextMessage, open)
}

// Socket looks up a connected socket.
func (s *Server) Socket(id string) (*Socket, bool) {
	return s.sockets.Load(id)
}

// Len returns the number of connected sockets.
func (s *Server) Len() int {
	return s.sockets.Len()
}

// Start listens on the configured address and serves in a goroutine.
//
// Returns:
//   - An error if listening fails
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.logger.Error("server failed to start", logger.Field{Key: "error", Value: err.Error()})
		return fmt.Errorf("managed server failed to start: %w", err)
	}

	s.listener = ln
	s.logger.Info("managed server started", logger.Field{Key: "addr", Value: ln.Addr().String()})

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("managed server stopped unexpectedly", logger.Field{Key: "error", Value: err.Error()})
		}
	}()

	return nil
}

// BoundAddr returns the address actually listened on. Empty before Start.
func (s *Server) BoundAddr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Stop disconnects every socket and shuts the HTTP server down.
func (s *Server) Stop() {
	for _, socket := range s.sockets.Values() {
		socket.Disconnect()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("managed server shutdown", logger.Field{Key: "error", Value: err.Error()})
	}

	s.logger.Info("managed server stopped")
}
