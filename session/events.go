package session

import (
	"fmt"
	"sync"

	"github.com/cyberinferno/go-rooms/packet"
)

// Events is a concurrency-safe table mapping an event name to its single
// registered handler. The zero value is ready for use.
type Events struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// Set registers h for event, replacing any previous handler.
//
// Returns:
//   - true if a previous handler was replaced
func (e *Events) Set(event string, h Handler) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handlers == nil {
		e.handlers = make(map[string]Handler)
	}

	_, replaced := e.handlers[event]
	e.handlers[event] = h
	return replaced
}

// Get returns the handler registered for event.
func (e *Events) Get(event string) (Handler, bool) {
	if event == "" {
		return nil, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[event]
	return h, ok
}

// Remove deletes the handler for event.
func (e *Events) Remove(event string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.handlers[event]
	delete(e.handlers, event)
	return ok
}

// Clear drops every handler.
func (e *Events) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = nil
}

// Len returns the number of registered handlers.
func (e *Events) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}

// Dispatch parses one serialized packet and calls the handler registered for
// its event name. Packets without an event name, or with one nobody listens
// to, are dropped without error.
//
// Parameters:
//   - data: One complete serialized packet
//
// Returns:
//   - A parse error when data is not a packet; the caller replies with
//     ParseErrorReply and keeps the connection open
func (e *Events) Dispatch(data []byte) error {
	p, err := packet.Decode(data)
	if err != nil {
		return err
	}

	if h, ok := e.Get(p.Event()); ok {
		h(p)
	}

	return nil
}

// ParseErrorReply is the plain-text diagnostic sent back to a peer whose
// payload could not be parsed.
func ParseErrorReply(data []byte) []byte {
	return []byte(fmt.Sprintf("Error: Failed to parse data: %s.", data))
}

// NonTextReply is the plain-text diagnostic sent for binary frames on
// transports that only carry text.
const NonTextReply = "Error: Data type is not a string."
