package managedsocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// EngineType is the transport-level packet type, the first byte of every
// websocket text message.
type EngineType byte

const (
	EngineOpen EngineType = iota
	EngineClose
	EnginePing
	EnginePong
	EngineMessage
	EngineUpgrade
	EngineNoop
)

// String returns the packet type name.
func (t EngineType) String() string {
	switch t {
	case EngineOpen:
		return "open"
	case EngineClose:
		return "close"
	case EnginePing:
		return "ping"
	case EnginePong:
		return "pong"
	case EngineMessage:
		return "message"
	case EngineUpgrade:
		return "upgrade"
	case EngineNoop:
		return "noop"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// SocketType is the socket-level packet type carried inside an engine
// message.
type SocketType byte

const (
	SocketConnect SocketType = iota
	SocketDisconnect
	SocketEvent
)

var errEmptyFrame = errors.New("empty frame")

type handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

func encodeOpen(sid string, pingInterval, pingTimeout time.Duration, maxPayload int) ([]byte, error) {
	data, err := json.Marshal(handshake{
		SID:          sid,
		Upgrades:     []string{},
		PingInterval: pingInterval.Milliseconds(),
		PingTimeout:  pingTimeout.Milliseconds(),
		MaxPayload:   maxPayload,
	})
	if err != nil {
		return nil, err
	}

	return append([]byte{'0' + byte(EngineOpen)}, data...), nil
}

func encodeEngine(t EngineType) []byte {
	return []byte{'0' + byte(t)}
}

func encodeConnect(sid string) ([]byte, error) {
	data, err := json.Marshal(map[string]string{"sid": sid})
	if err != nil {
		return nil, err
	}

	return append([]byte{'0' + byte(EngineMessage), '0' + byte(SocketConnect)}, data...), nil
}

func encodeDisconnect() []byte {
	return []byte{'0' + byte(EngineMessage), '0' + byte(SocketDisconnect)}
}

// encodeEvent builds 42["event",arg...].
func encodeEvent(event string, args ...any) ([]byte, error) {
	list := make([]any, 0, len(args)+1)
	list = append(list, event)
	list = append(list, args...)

	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %q: %w", event, err)
	}

	return append([]byte{'0' + byte(EngineMessage), '0' + byte(SocketEvent)}, data...), nil
}

func decodeEngine(data []byte) (EngineType, []byte, error) {
	if len(data) == 0 {
		return 0, nil, errEmptyFrame
	}

	if data[0] < '0' || data[0] > '6' {
		return 0, nil, fmt.Errorf("invalid engine packet type %q", data[0])
	}

	return EngineType(data[0] - '0'), data[1:], nil
}

// decodeSocket splits a socket packet into its type and JSON body. Packets
// addressed to a non-default namespace are rejected.
func decodeSocket(data []byte) (SocketType, []byte, error) {
	if len(data) == 0 {
		return 0, nil, errEmptyFrame
	}

	if data[0] < '0' || data[0] > '6' {
		return 0, nil, fmt.Errorf("invalid socket packet type %q", data[0])
	}

	body := data[1:]
	if len(body) > 0 && body[0] == '/' {
		return 0, nil, fmt.Errorf("namespace %q not supported", body)
	}

	return SocketType(data[0] - '0'), body, nil
}

// decodeEvent parses ["event",arg...].
func decodeEvent(body []byte) (string, []any, error) {
	var list []any
	if err := json.Unmarshal(body, &list); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if len(list) == 0 {
		return "", nil, errors.New("event without name")
	}

	name, ok := list[0].(string)
	if !ok {
		return "", nil, errors.New("event name is not a string")
	}

	return name, list[1:], nil
}
