// Package packet defines the message envelope exchanged between peers and
// rooms, its JSON text encoding, and the framing used on raw byte streams.
package packet

import (
	"encoding/json"
	"fmt"
)

// Wire keys reserved by the envelope. Every other key is caller payload.
const (
	EventKey  = "eventName"
	SenderKey = "senderId"
)

// Packet is a tagged message envelope. The event name and sender identity
// travel alongside caller-defined payload fields in the same JSON object.
type Packet map[string]any

// New returns a packet holding a shallow copy of fields.
//
// Parameters:
//   - fields: Payload fields to copy into the packet; may be nil
//
// Returns:
//   - A new Packet
func New(fields map[string]any) Packet {
	p := make(Packet, len(fields)+2)
	for k, v := range fields {
		p[k] = v
	}

	return p
}

// Event returns the event name carried by the packet, or "" when absent or
// not a string.
func (p Packet) Event() string {
	s, _ := p[EventKey].(string)
	return s
}

// SetEvent tags the packet with the given event name.
func (p Packet) SetEvent(event string) {
	p[EventKey] = event
}

// SenderID returns the sender identity carried by the packet, or "".
func (p Packet) SenderID() string {
	s, _ := p[SenderKey].(string)
	return s
}

// SetSenderID overwrites the sender identity.
func (p Packet) SetSenderID(id string) {
	p[SenderKey] = id
}

// Clone returns a shallow copy of the packet. A nil packet clones to an
// empty one so callers can always stamp the result.
func (p Packet) Clone() Packet {
	return New(p)
}

// Bind decodes the packet into v, which is usually a pointer to a struct
// with json tags describing the payload.
//
// Parameters:
//   - v: Destination value
//
// Returns:
//   - An error if the packet cannot be represented as v
func (p Packet) Bind(v any) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("packet bind: %w", err)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("packet bind: %w", err)
	}

	return nil
}

// Encode serializes the packet as compact JSON text. Compact output never
// contains a raw newline, which the newline framing relies on.
func Encode(p Packet) ([]byte, error) {
	if p == nil {
		p = Packet{}
	}

	data, err := json.Marshal(map[string]any(p))
	if err != nil {
		return nil, fmt.Errorf("packet encode: %w", err)
	}

	return data, nil
}

// Decode parses one serialized packet. Only JSON objects are packets;
// arrays, primitives and malformed text are errors.
//
// Parameters:
//   - data: UTF-8 JSON text
//
// Returns:
//   - The decoded Packet, or an error if data is not a JSON object
func Decode(data []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("packet decode: %w", err)
	}

	if p == nil {
		return nil, fmt.Errorf("packet decode: null is not a packet")
	}

	return p, nil
}
