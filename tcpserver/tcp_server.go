// Package tcpserver runs the accept loop shared by the stream-based
// listeners and implements the raw-stream session adapter on top of it.
package tcpserver

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/go-rooms/idgenerator"
	"github.com/cyberinferno/go-rooms/logger"
	"github.com/cyberinferno/go-rooms/safemap"
)

// NewSessionFunc creates the session that will serve an accepted
// connection. It receives the assigned session ID and the accepted net.Conn.
type NewSessionFunc func(id string, conn net.Conn) TCPServerSession

// TCPServer accepts connections and delegates each one to a session created
// by NewSession. Live sessions are tracked by ID until their Handle returns.
type TCPServer struct {
	Logger      logger.Logger
	Name        string
	Addr        string
	Listener    net.Listener
	Sessions    *safemap.SafeMap[string, TCPServerSession]
	Running     atomic.Bool
	NewSession  NewSessionFunc
	IdGenerator *idgenerator.IdGenerator

	wg sync.WaitGroup
}

// NewTCPServer creates a stopped server.
//
// Parameters:
//   - name: Listener name; also the prefix of every session ID
//   - addr: Address to listen on, e.g. ":9000"
//   - newSession: Builds the session for each accepted connection
//   - log: Logger; nil discards output
//
// Returns:
//   - The server; call Start to listen
func NewTCPServer(name, addr string, newSession NewSessionFunc, log logger.Logger) *TCPServer {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &TCPServer{
		Logger:      log.With(logger.Field{Key: "listener", Value: name}),
		Name:        name,
		Addr:        addr,
		Sessions:    safemap.NewSafeMap[string, TCPServerSession](),
		NewSession:  newSession,
		IdGenerator: idgenerator.NewIdGenerator(0),
	}
}

// Start binds to Addr and runs the accept loop in a goroutine.
//
// Returns:
//   - An error if the server is already running or if listening on Addr fails
func (s *TCPServer) Start() error {
	if s.Running.Load() {
		s.Logger.Error("server already running")
		return fmt.Errorf("server %s already running", s.Name)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Field{Key: "error", Value: err.Error()})
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.Listener = ln
	s.Running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})
	s.wg.Add(1)
	go s.AcceptLoop()

	return nil
}

// BoundAddr returns the address actually listened on, which differs from
// Addr when port 0 was requested. Empty before Start.
func (s *TCPServer) BoundAddr() string {
	if s.Listener == nil {
		return ""
	}

	return s.Listener.Addr().String()
}

// Stop closes the listener and every live session, then waits for the
// session goroutines to return. Safe to call when the server is not running.
func (s *TCPServer) Stop() {
	if !s.Running.Swap(false) {
		s.Logger.Info(fmt.Sprintf("%s server not running", s.Name))
		return
	}

	if s.Listener != nil {
		_ = s.Listener.Close()
	}

	s.Sessions.Range(func(_ string, session TCPServerSession) bool {
		_ = session.Close()
		return true
	})

	s.wg.Wait()
	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// AddSession stores a session under the given id.
func (s *TCPServer) AddSession(id string, session TCPServerSession) {
	s.Sessions.Store(id, session)
}

// RemoveSession removes the session with the given id.
func (s *TCPServer) RemoveSession(id string) {
	s.Sessions.Delete(id)
}

// GetSession returns the session for the given id, if present.
//
// Parameters:
//   - id: The session ID to look up
//
// Returns:
//   - The session and true if found, or nil and false otherwise
func (s *TCPServer) GetSession(id string) (TCPServerSession, bool) {
	return s.Sessions.Load(id)
}

// AcceptLoop accepts connections until the server is stopped. Each
// connection gets an ID from IdGenerator, a session from NewSession and its
// own goroutine running Handle. The session is forgotten when Handle
// returns.
func (s *TCPServer) AcceptLoop() {
	defer s.wg.Done()

	for s.Running.Load() {
		conn, err := s.Listener.Accept()
		if err != nil {
			if !s.Running.Load() {
				return
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Field{Key: "error", Value: err.Error()})
			continue
		}

		id := s.IdGenerator.Tag(s.Name)
		session := s.NewSession(id, conn)
		s.AddSession(id, session)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.RemoveSession(id)
			session.Handle()
		}()
	}
}
