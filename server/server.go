// Package server binds transport listeners to ports and feeds every
// accepted session to the room allocator.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-rooms/allocator"
	"github.com/cyberinferno/go-rooms/logger"
	"github.com/cyberinferno/go-rooms/managedsocket"
	"github.com/cyberinferno/go-rooms/session"
	"github.com/cyberinferno/go-rooms/tcpserver"
	"github.com/cyberinferno/go-rooms/wsserver"
)

// ErrNoRoomFactory is returned by Start when no allocator has been set.
var ErrNoRoomFactory = errors.New("no room factory configured")

// Port range accepted by BindPort.
const (
	MinPort = 1024
	MaxPort = 65535
)

// Kind selects a transport. Kinds are distinct bits so a set of them fits
// in one value, but every port carries exactly one kind.
type Kind int

const (
	// Managed is the event-multiplexed websocket transport.
	Managed Kind = 1 << iota
	// Framed is the plain websocket transport carrying one packet per text frame.
	Framed
	// Raw is the TCP byte stream transport.
	Raw
)

var kinds = []Kind{Managed, Framed, Raw}

// String returns the transport name.
func (k Kind) String() string {
	switch k {
	case Managed:
		return "managed"
	case Framed:
		return "framed"
	case Raw:
		return "raw"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

type binding struct {
	kind Kind
	port int
}

// listener is implemented by tcpserver.TCPServer and managedsocket.Server.
type listener interface {
	Start() error
	Stop()
	BoundAddr() string
}

type running struct {
	binding
	listener listener
}

// Server owns the transport listeners of one process.
type Server struct {
	host      string
	allocator *allocator.Allocator
	raw       tcpserver.RawConfig
	framed    wsserver.Config
	managed   managedsocket.Config
	logger    logger.Logger

	mu       sync.Mutex
	bindings []binding
	running  []running
}

// Option configures a Server.
type Option func(*Server)

// WithAllocator sets the allocator that receives every accepted session.
func WithAllocator(a *allocator.Allocator) Option {
	return func(s *Server) {
		s.allocator = a
	}
}

// WithHost sets the bind host for every listener. The default binds all
// interfaces.
func WithHost(host string) Option {
	return func(s *Server) {
		s.host = host
	}
}

// WithRawConfig sets the raw-stream adapter settings.
func WithRawConfig(c tcpserver.RawConfig) Option {
	return func(s *Server) {
		s.raw = c
	}
}

// WithFramedConfig sets the framed adapter settings.
func WithFramedConfig(c wsserver.Config) Option {
	return func(s *Server) {
		s.framed = c
	}
}

// WithManagedConfig sets the managed transport settings.
func WithManagedConfig(c managedsocket.Config) Option {
	return func(s *Server) {
		s.managed = c
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Server with no bound ports.
func New(opts ...Option) *Server {
	s := &Server{
		raw:     tcpserver.DefaultRawConfig(),
		framed:  wsserver.DefaultConfig(),
		managed: managedsocket.DefaultConfig(),
		logger:  logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// BindPort requests a listener of the given kind on port. Ports outside
// [MinPort, MaxPort], unknown or combined kinds, and ports already bound to
// another kind are rejected, since one port can only serve one transport.
// Binding the same kind and port twice has no further effect.
//
// Parameters:
//   - kind: Exactly one transport kind
//   - port: TCP port
//
// Returns:
//   - true if the binding is recorded
func (s *Server) BindPort(kind Kind, port int) bool {
	if port < MinPort || port > MaxPort {
		s.logger.Debug("ignoring out of range port", logger.Field{Key: "port", Value: port})
		return false
	}

	if !slices.Contains(kinds, kind) {
		s.logger.Warn("rejecting binding, a port takes exactly one known kind",
			logger.Field{Key: "kind", Value: kind.String()},
			logger.Field{Key: "port", Value: port})
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.bindings {
		if b.port != port {
			continue
		}
		if b.kind == kind {
			return true
		}

		s.logger.Warn("rejecting binding, port already taken",
			logger.Field{Key: "kind", Value: kind.String()},
			logger.Field{Key: "bound", Value: b.kind.String()},
			logger.Field{Key: "port", Value: port})
		return false
	}

	s.bindings = append(s.bindings, binding{kind: kind, port: port})
	return true
}

// Bindings returns the requested kind/port pairs ordered by port.
func (s *Server) Bindings() map[Kind][]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[Kind][]int)
	for _, b := range s.bindings {
		out[b.kind] = append(out[b.kind], b.port)
	}
	for _, ports := range out {
		sort.Ints(ports)
	}

	return out
}

// Start starts one listener per bound kind/port pair. A listener that
// fails to start is logged and skipped.
//
// Returns:
//   - ErrNoRoomFactory if no allocator has been set
func (s *Server) Start() error {
	if s.allocator == nil {
		return ErrNoRoomFactory
	}

	s.mu.Lock()
	bindings := append([]binding(nil), s.bindings...)
	s.mu.Unlock()

	ready := func(sess session.Session) {
		s.allocator.Route(sess)
	}

	var (
		g       errgroup.Group
		startMu sync.Mutex
		started []running
	)
	for _, b := range bindings {
		b := b
		l := s.newListener(b, ready)
		g.Go(func() error {
			if err := l.Start(); err != nil {
				s.logger.Error("listener failed to start",
					logger.Field{Key: "kind", Value: b.kind.String()},
					logger.Field{Key: "port", Value: b.port},
					logger.Field{Key: "error", Value: err.Error()})
				return nil
			}

			startMu.Lock()
			started = append(started, running{binding: b, listener: l})
			startMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	s.running = append(s.running, started...)
	s.mu.Unlock()

	s.logger.Info("server started", logger.Field{Key: "listeners", Value: len(started)})
	return nil
}

// Stop stops every running listener.
func (s *Server) Stop() {
	s.mu.Lock()
	list := s.running
	s.running = nil
	s.mu.Unlock()

	var g errgroup.Group
	for _, r := range list {
		r := r
		g.Go(func() error {
			r.listener.Stop()
			return nil
		})
	}
	_ = g.Wait()

	if len(list) > 0 {
		s.logger.Info("server stopped")
	}
}

// Run starts the server and blocks until ctx is done, then stops it.
//
// Returns:
//   - ErrNoRoomFactory, or nil after a clean stop
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	<-ctx.Done()
	s.Stop()
	return nil
}

// Addrs returns the actual listen addresses of running listeners by kind.
func (s *Server) Addrs() map[Kind][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[Kind][]string)
	for _, r := range s.running {
		out[r.kind] = append(out[r.kind], r.listener.BoundAddr())
	}

	return out
}

func (s *Server) newListener(b binding, ready tcpserver.ReadyFunc) listener {
	addr := net.JoinHostPort(s.host, strconv.Itoa(b.port))
	switch b.kind {
	case Managed:
		srv := managedsocket.NewServer(addr, s.managed, s.logger)
		srv.OnSession(ready)
		return srv
	case Framed:
		return wsserver.NewServer(addr, s.framed, ready, s.logger)
	default:
		return tcpserver.NewTCPServer("raw", addr, tcpserver.NewRawSessionFunc(s.raw, ready, s.logger), s.logger)
	}
}
