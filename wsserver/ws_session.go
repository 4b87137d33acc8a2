// Package wsserver implements the framed-message session adapter: a
// websocket connection, upgraded in place on a raw accepted conn, that
// carries one JSON packet per text frame.
package wsserver

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/cyberinferno/go-rooms/logger"
	"github.com/cyberinferno/go-rooms/packet"
	"github.com/cyberinferno/go-rooms/session"
	"github.com/cyberinferno/go-rooms/tcpserver"
)

// Config holds the framed adapter settings.
type Config struct {
	// MaxPayload caps one inbound message; <= 0 selects packet.MaxFrameSize.
	MaxPayload int
	// SendQueue is the outbound queue length per session.
	SendQueue int
	// HandshakeTimeout bounds the upgrade request.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds a single frame write; 0 disables it.
	WriteTimeout time.Duration
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxPayload:       packet.MaxFrameSize,
		SendQueue:        session.DefaultQueueSize,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// Session adapts a websocket connection to session.Session. Text frames
// are parsed as packets; binary frames and unparsable text are answered
// with a plain-text diagnostic and dropped.
type Session struct {
	*session.Stream

	conn   net.Conn
	config Config
	ready  tcpserver.ReadyFunc
	logger logger.Logger

	// wmu serializes data frames from the writer with control replies
	// produced while reading.
	wmu sync.Mutex
}

// NewSession wraps an accepted, not yet upgraded connection.
//
// Parameters:
//   - id: Session ID assigned by the listener
//   - conn: The accepted connection
//   - config: Limits
//   - ready: Called from Handle after a successful upgrade; may be nil
//   - log: Logger; nil discards output
//
// Returns:
//   - The session; the server runs Handle
func NewSession(id string, conn net.Conn, config Config, ready tcpserver.ReadyFunc, log logger.Logger) *Session {
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &Session{
		conn:   conn,
		config: config,
		ready:  ready,
		logger: log.With(logger.Field{Key: "session", Value: id}, logger.Field{Key: "remote", Value: conn.RemoteAddr().String()}),
	}
	s.Stream = session.NewStream(id, conn.RemoteAddr().String(), config.SendQueue, nil, s.closeConn)
	return s
}

// NewSessionFunc returns a tcpserver.NewSessionFunc building framed
// sessions.
func NewSessionFunc(config Config, ready tcpserver.ReadyFunc, log logger.Logger) tcpserver.NewSessionFunc {
	return func(id string, conn net.Conn) tcpserver.TCPServerSession {
		return NewSession(id, conn, config, ready, log)
	}
}

// Handle implements tcpserver.TCPServerSession. It performs the websocket
// upgrade and then serves frames until the connection ends.
func (s *Session) Handle() {
	if s.config.HandshakeTimeout > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(s.config.HandshakeTimeout))
	}

	if _, err := ws.Upgrade(s.conn); err != nil {
		s.logger.Warn("websocket upgrade failed", logger.Field{Key: "error", Value: err.Error()})
		_ = s.conn.Close()
		s.Destroy()
		return
	}
	_ = s.conn.SetDeadline(time.Time{})

	s.logger.Debug("session opened")
	go s.writeLoop()

	if s.ready != nil {
		s.ready(s)
	}

	s.readLoop()
	s.Destroy()
	s.logger.Debug("session closed")
}

// Close implements tcpserver.TCPServerSession.
func (s *Session) Close() error {
	s.Destroy()
	return nil
}

func (s *Session) readLoop() {
	limit := s.config.MaxPayload
	if limit <= 0 {
		limit = packet.MaxFrameSize
	}

	control := wsutil.ControlFrameHandler(writerFunc(s.writeControl), ws.StateServerSide)
	rd := &wsutil.Reader{
		Source:         s.conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		MaxFrameSize:   int64(limit),
		OnIntermediate: control,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			s.logReadError(err)
			return
		}

		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				s.logReadError(err)
				return
			}
			continue
		}

		if hdr.OpCode != ws.OpText {
			if err := rd.Discard(); err != nil {
				s.logReadError(err)
				return
			}
			s.reply([]byte(session.NonTextReply))
			continue
		}

		// Fragments are each within MaxFrameSize; the whole message is
		// capped here.
		data, err := io.ReadAll(io.LimitReader(rd, int64(limit)+1))
		if err != nil {
			s.logReadError(err)
			return
		}
		if len(data) > limit {
			s.logger.Warn("peer exceeded frame limit", logger.Field{Key: "limit", Value: limit})
			return
		}

		if err := s.Dispatch(data); err != nil {
			s.logger.Debug("dropping unparsable frame", logger.Field{Key: "error", Value: err.Error()})
			s.reply(session.ParseErrorReply(data))
		}
	}
}

func (s *Session) reply(text []byte) {
	if err := s.Enqueue(text); err != nil {
		s.logger.Debug("diagnostic reply dropped", logger.Field{Key: "error", Value: err.Error()})
	}
}

func (s *Session) writeLoop() {
	err := s.WriteLoop(func(data []byte) error {
		return s.writeFrame(ws.OpText, data)
	})
	if err == nil {
		return
	}

	if !s.Destroyed() {
		s.logger.Warn("transport write failed", logger.Field{Key: "error", Value: err.Error()})
	}
	s.Destroy()
}

func (s *Session) writeFrame(op ws.OpCode, data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.config.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}

	return wsutil.WriteServerMessage(s.conn, op, data)
}

func (s *Session) writeControl(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.Write(p)
}

// closeConn skips the close frame when a stalled writer still holds the
// write lock.
func (s *Session) closeConn() {
	if s.wmu.TryLock() {
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = wsutil.WriteServerMessage(s.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		s.wmu.Unlock()
	}
	_ = s.conn.Close()
}

func (s *Session) logReadError(err error) {
	var closed wsutil.ClosedError
	switch {
	case s.Destroyed(), errors.As(err, &closed), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return
	case errors.Is(err, wsutil.ErrFrameTooLarge):
		s.logger.Warn("peer exceeded frame limit", logger.Field{Key: "limit", Value: s.config.MaxPayload})
	default:
		s.logger.Warn("transport read failed", logger.Field{Key: "error", Value: err.Error()})
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) {
	return f(p)
}

var _ session.Session = (*Session)(nil)
