package session

import (
	"sync"
	"time"

	"github.com/cyberinferno/go-rooms/packet"
)

// DefaultQueueSize is the outbound queue length used when an adapter is
// configured with a non-positive size.
const DefaultQueueSize = 64

// FlushTimeout bounds how long Destroy waits for the writer to flush
// messages queued before destruction.
const FlushTimeout = time.Second

// Stream carries the state shared by adapters whose transport has no native
// event multiplexing: the handler table, the outbound queue drained by a
// writer goroutine, and the destroy-once lifecycle. Adapters embed it and
// supply the framing of outbound packets and the transport close.
type Stream struct {
	id         string
	remoteAddr string
	encode     func([]byte) []byte
	closeConn  func()

	events   Events
	outgoing chan []byte
	done     chan struct{}
	flushed  chan struct{}

	mu        sync.Mutex
	destroyed bool
	writing   bool
	onDestroy []func()
}

// NewStream builds the shared adapter state.
//
// Parameters:
//   - id: Session identifier
//   - remoteAddr: Peer address used in logs
//   - queueSize: Outbound queue length; <= 0 selects DefaultQueueSize
//   - encode: Wraps one encoded packet in the transport framing; nil sends as-is
//   - closeConn: Closes the transport; called once by Destroy
//
// Returns:
//   - A Stream ready to be embedded
func NewStream(id, remoteAddr string, queueSize int, encode func([]byte) []byte, closeConn func()) *Stream {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &Stream{
		id:         id,
		remoteAddr: remoteAddr,
		encode:     encode,
		closeConn:  closeConn,
		outgoing:   make(chan []byte, queueSize),
		done:       make(chan struct{}),
		flushed:    make(chan struct{}),
	}
}

// ID implements Session.
func (s *Stream) ID() string {
	return s.id
}

// RemoteAddr implements Session.
func (s *Stream) RemoteAddr() string {
	return s.remoteAddr
}

// On implements Session.
func (s *Stream) On(event string, h Handler) {
	if s.Destroyed() {
		return
	}

	s.events.Set(event, h)
}

// Off implements Session.
func (s *Stream) Off(event string) bool {
	return s.events.Remove(event)
}

// Send implements Session.
func (s *Stream) Send(event string, p packet.Packet) error {
	out := p.Clone()
	out.SetEvent(event)

	data, err := packet.Encode(out)
	if err != nil {
		return err
	}

	return s.Enqueue(data)
}

// Enqueue queues raw bytes for the writer after applying the framing. It is
// used for packets and for plain-text diagnostics alike.
func (s *Stream) Enqueue(data []byte) error {
	if s.encode != nil {
		data = s.encode(data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrDestroyed
	}

	select {
	case s.outgoing <- data:
		return nil
	default:
		return ErrSlowPeer
	}
}

// Dispatch routes one inbound message to its handler.
func (s *Stream) Dispatch(data []byte) error {
	return s.events.Dispatch(data)
}

// Handler returns the handler currently registered for event.
func (s *Stream) Handler(event string) (Handler, bool) {
	return s.events.Get(event)
}

// Outgoing returns the outbound queue.
func (s *Stream) Outgoing() <-chan []byte {
	return s.outgoing
}

// WriteLoop is the adapter's writer. It hands every queued message to write
// until the stream is destroyed, then flushes whatever was queued before
// that. It must be called at most once per stream.
//
// Parameters:
//   - write: Writes one framed message to the transport
//
// Returns:
//   - The first write error, or nil after a complete flush
func (s *Stream) WriteLoop(write func(data []byte) error) error {
	s.mu.Lock()
	s.writing = true
	s.mu.Unlock()
	defer close(s.flushed)

	for {
		select {
		case data := <-s.outgoing:
			if err := write(data); err != nil {
				return err
			}
		case <-s.done:
			for {
				select {
				case data := <-s.outgoing:
					if err := write(data); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		}
	}
}

// Done is closed once the session is destroyed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Destroy implements Session. Messages queued before the call are flushed
// by a running WriteLoop, for at most FlushTimeout, before the transport is
// closed.
func (s *Stream) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}

	s.destroyed = true
	callbacks := s.onDestroy
	s.onDestroy = nil
	writing := s.writing
	close(s.done)
	s.mu.Unlock()

	s.events.Clear()
	if writing {
		timer := time.NewTimer(FlushTimeout)
		select {
		case <-s.flushed:
		case <-timer.C:
		}
		timer.Stop()
	}

	if s.closeConn != nil {
		s.closeConn()
	}

	for _, fn := range callbacks {
		fn()
	}
}

// OnDestroy implements Session.
func (s *Stream) OnDestroy(fn func()) {
	s.mu.Lock()
	if !s.destroyed {
		s.onDestroy = append(s.onDestroy, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	fn()
}

// Destroyed implements Session.
func (s *Stream) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}
