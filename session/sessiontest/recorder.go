// Package sessiontest provides an in-memory session.Session for tests of
// code that sits above the transport adapters.
package sessiontest

import (
	"fmt"
	"sync"

	"github.com/cyberinferno/go-rooms/packet"
	"github.com/cyberinferno/go-rooms/session"
)

// Sent is one packet recorded by a Recorder.
type Sent struct {
	Event  string
	Packet packet.Packet
}

// Recorder is a session that records every sent packet and lets tests
// deliver inbound packets directly to registered handlers.
type Recorder struct {
	*session.Stream

	mu   sync.Mutex
	sent []Sent
}

// NewRecorder returns a live Recorder with the given id.
func NewRecorder(id string) *Recorder {
	r := &Recorder{}
	r.Stream = session.NewStream(id, "memory:"+id, 1024, nil, nil)
	return r
}

// Send records the tagged packet after the same cloning and tagging a real
// adapter performs.
func (r *Recorder) Send(event string, p packet.Packet) error {
	if r.Destroyed() {
		return session.ErrDestroyed
	}

	out := p.Clone()
	out.SetEvent(event)

	r.mu.Lock()
	r.sent = append(r.sent, Sent{Event: event, Packet: out})
	r.mu.Unlock()
	return nil
}

// Deliver runs the handler registered for p's event, as if the peer had
// sent p.
//
// Returns:
//   - true if a handler ran
func (r *Recorder) Deliver(p packet.Packet) bool {
	data, err := packet.Encode(p)
	if err != nil {
		panic(fmt.Sprintf("sessiontest: %v", err))
	}

	decoded, _ := packet.Decode(data)
	h, ok := r.Handler(decoded.Event())
	if !ok {
		return false
	}

	h(decoded)
	return true
}

// Emit is Deliver for a packet built from an event name and payload.
func (r *Recorder) Emit(event string, fields map[string]any) bool {
	p := packet.New(fields)
	p.SetEvent(event)
	return r.Deliver(p)
}

// Sent returns a copy of every recorded packet.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// SentFor returns the recorded packets tagged event.
func (r *Recorder) SentFor(event string) []packet.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []packet.Packet
	for _, s := range r.sent {
		if s.Event == event {
			out = append(out, s.Packet)
		}
	}

	return out
}

var _ session.Session = (*Recorder)(nil)
