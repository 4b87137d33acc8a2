package tcpserver

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/cyberinferno/go-rooms/logger"
	"github.com/cyberinferno/go-rooms/packet"
	"github.com/cyberinferno/go-rooms/session"
)

// ReadyFunc receives a session once it is able to send and receive. The
// listener bootstrap hands it to the room allocator.
type ReadyFunc func(s session.Session)

// RawConfig holds the raw-stream adapter settings.
type RawConfig struct {
	// Framing delimits packets on the stream.
	Framing packet.Framing
	// MaxPayload caps one inbound frame; <= 0 selects packet.MaxFrameSize.
	MaxPayload int
	// SendQueue is the outbound queue length per session.
	SendQueue int
	// WriteTimeout bounds a single write; 0 disables it.
	WriteTimeout time.Duration
}

// DefaultRawConfig returns newline framing with default limits.
func DefaultRawConfig() RawConfig {
	return RawConfig{
		Framing:      packet.Newline,
		MaxPayload:   packet.MaxFrameSize,
		SendQueue:    session.DefaultQueueSize,
		WriteTimeout: 10 * time.Second,
	}
}

// RawSession adapts a raw byte stream to session.Session. Packets travel as
// JSON objects tagged with their event name, delimited by the configured
// framing. A frame that does not parse is answered with a plain-text
// diagnostic and dropped; the connection stays open.
type RawSession struct {
	*session.Stream

	conn   net.Conn
	config RawConfig
	ready  ReadyFunc
	logger logger.Logger
}

// NewRawSession wraps conn.
//
// Parameters:
//   - id: Session ID assigned by the listener
//   - conn: The accepted connection
//   - config: Framing and limits
//   - ready: Called from Handle once the session is live; may be nil
//   - log: Logger; nil discards output
//
// Returns:
//   - The session; the server runs Handle
func NewRawSession(id string, conn net.Conn, config RawConfig, ready ReadyFunc, log logger.Logger) *RawSession {
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &RawSession{
		conn:   conn,
		config: config,
		ready:  ready,
		logger: log.With(logger.Field{Key: "session", Value: id}, logger.Field{Key: "remote", Value: conn.RemoteAddr().String()}),
	}
	framing := config.Framing
	s.Stream = session.NewStream(id, conn.RemoteAddr().String(), config.SendQueue,
		func(data []byte) []byte { return packet.AppendFrame(framing, data) },
		func() { _ = conn.Close() })

	return s
}

// NewRawSessionFunc returns a NewSessionFunc building raw sessions.
func NewRawSessionFunc(config RawConfig, ready ReadyFunc, log logger.Logger) NewSessionFunc {
	return func(id string, conn net.Conn) TCPServerSession {
		return NewRawSession(id, conn, config, ready, log)
	}
}

// Handle implements TCPServerSession.
func (s *RawSession) Handle() {
	s.logger.Debug("session opened")
	go s.writeLoop()

	if s.ready != nil {
		s.ready(s)
	}

	s.readLoop()
	s.Destroy()
	s.logger.Debug("session closed")
}

// Close implements TCPServerSession.
func (s *RawSession) Close() error {
	s.Destroy()
	return nil
}

func (s *RawSession) readLoop() {
	reader := packet.NewFrameReader(s.conn, s.config.Framing, s.config.MaxPayload)
	for {
		frame, err := reader.Next()
		if err != nil {
			s.logReadError(err)
			return
		}

		if err := s.Dispatch(frame); err != nil {
			s.logger.Debug("dropping unparsable frame", logger.Field{Key: "error", Value: err.Error()})
			if err := s.Enqueue(session.ParseErrorReply(frame)); err != nil {
				s.logger.Debug("diagnostic reply dropped", logger.Field{Key: "error", Value: err.Error()})
			}
		}
	}
}

func (s *RawSession) writeLoop() {
	err := s.WriteLoop(func(data []byte) error {
		if s.config.WriteTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		}

		_, err := s.conn.Write(data)
		return err
	})
	if err == nil {
		return
	}

	if !s.Destroyed() {
		s.logger.Warn("transport write failed", logger.Field{Key: "error", Value: err.Error()})
	}
	s.Destroy()
}

func (s *RawSession) logReadError(err error) {
	switch {
	case s.Destroyed(), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return
	case errors.Is(err, packet.ErrFrameTooLarge):
		s.logger.Warn("peer exceeded frame limit", logger.Field{Key: "error", Value: err.Error()})
	default:
		s.logger.Warn("transport read failed", logger.Field{Key: "error", Value: err.Error()})
	}
}

var _ session.Session = (*RawSession)(nil)
