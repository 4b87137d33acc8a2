// Package tcpclient is an event-driven peer for the raw-stream transport. It
// frames outbound packets, dispatches inbound packets by event name and
// reports plain-text diagnostics, connection state changes and errors
// through registered handlers. It is used by bots, load tools and the
// integration tests.
package tcpclient

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-rooms/packet"
	"github.com/cyberinferno/go-rooms/session"
)

var (
	// ErrNotConnected is returned by Send while no connection is established.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("client is closed")
)

// ConnectionState is the current state of the client connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected and not attempting to connect
	Connecting                          // Dial in progress
	Connected                           // Connection established
	Reconnecting                        // Connection lost, waiting to redial
	Closed                              // Client closed for good
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is passed to the OnConnectionState handler.
type ConnectionStateEvent struct {
	State     ConnectionState
	Address   string
	Timestamp time.Time
	Error     error // set when the change was caused by an error
}

// ConnectionStateHandler is called on every state change. Handlers run on
// their own goroutine.
type ConnectionStateHandler func(event ConnectionStateEvent)

// TextHandler receives inbound frames that are not packets, such as the
// server's parse diagnostics.
type TextHandler func(text string)

// ErrorHandler is called on dial, read and write errors.
type ErrorHandler func(err error)

// Config holds the client settings.
type Config struct {
	// Address is the "host:port" to connect to.
	Address string
	// Framing must match the server's raw-stream framing.
	Framing packet.Framing
	// MaxPayload caps one inbound frame; <= 0 selects packet.MaxFrameSize.
	MaxPayload int
	// AutoReconnect redials after the connection is lost.
	AutoReconnect bool
	// ReconnectInterval is the delay before each redial.
	ReconnectInterval time.Duration
	// WriteTimeout bounds a single write; 0 disables it.
	WriteTimeout time.Duration
	// ConnectionTimeout bounds the dial.
	ConnectionTimeout time.Duration
}

// DefaultConfig returns the defaults for address: newline framing, no
// auto-reconnect, 10s write and dial timeouts.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config; override fields as needed before calling New
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		Framing:           packet.Newline,
		MaxPayload:        packet.MaxFrameSize,
		ReconnectInterval: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		ConnectionTimeout: 10 * time.Second,
	}
}

// Client is an event-driven raw-stream client. Register handlers, then call
// Connect. Packet handlers run on the read goroutine in arrival order. Safe
// for concurrent use.
type Client struct {
	config Config
	events session.Events

	mu                sync.RWMutex
	conn              net.Conn
	state             ConnectionState
	closed            bool
	reconnecting      bool
	onConnectionState ConnectionStateHandler
	onText            TextHandler
	onError           ErrorHandler

	writeMu       sync.Mutex
	stopChan      chan struct{}
	reconnectChan chan struct{}
	wg            sync.WaitGroup
}

// New creates a disconnected client.
func New(config Config) *Client {
	return &Client{
		config:        config,
		state:         Disconnected,
		stopChan:      make(chan struct{}),
		reconnectChan: make(chan struct{}, 1),
	}
}

// On registers h for inbound packets tagged event, replacing any previous
// handler.
func (c *Client) On(event string, h session.Handler) {
	c.events.Set(event, h)
}

// Off removes the handler for event.
func (c *Client) Off(event string) bool {
	return c.events.Remove(event)
}

// OnText registers the handler for non-packet frames. Pass nil to clear.
func (c *Client) OnText(handler TextHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onText = handler
}

// OnConnectionState registers the handler for state changes. Pass nil to
// clear.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// OnError registers the handler for errors. Pass nil to clear.
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect dials the configured address and starts the read loop.
//
// Returns:
//   - An error if the client is closed, already connected, or the dial fails
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return fmt.Errorf("already connected or connecting")
	}
	c.mu.Unlock()

	if err := c.connect(); err != nil {
		return err
	}

	if c.config.AutoReconnect {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		c.wg.Add(1)
		c.mu.Unlock()
		go c.reconnectHandler()
	}

	return nil
}

// Send frames pk tagged event and writes it.
//
// Returns:
//   - ErrNotConnected, an encoding error or the write error
func (c *Client) Send(event string, pk packet.Packet) error {
	out := pk.Clone()
	out.SetEvent(event)
	data, err := packet.Encode(out)
	if err != nil {
		return err
	}

	return c.SendRaw(packet.AppendFrame(c.config.Framing, data))
}

// SendRaw writes data unmodified. Tests use it to send malformed input.
func (c *Client) SendRaw(data []byte) error {
	c.mu.RLock()
	conn, state := c.conn, c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}

	if _, err := conn.Write(data); err != nil {
		c.emitError(err)
		c.triggerReconnect()
		return err
	}

	return nil
}

// Disconnect closes the connection. Connect may be called again.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close()
	c.setState(Disconnected, nil)
	return err
}

// Close shuts the client down and waits for its goroutines. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	close(c.stopChan)
	c.wg.Wait()
	c.setState(Closed, nil)
	return nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is Connected.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// connect dials and starts a read loop. Close may run at any point; once
// it has, a freshly dialed conn is closed again instead of being kept.
func (c *Client) connect() error {
	if !c.setState(Connecting, nil) {
		return ErrClosed
	}

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		if c.setState(Disconnected, err) {
			c.emitError(err)
		}
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.wg.Add(1)
	c.mu.Unlock()

	c.setState(Connected, nil)
	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()

	reader := packet.NewFrameReader(conn, c.config.Framing, c.config.MaxPayload)
	for {
		frame, err := reader.Next()
		if err != nil {
			c.mu.Lock()
			current := c.conn == conn
			if current {
				c.conn = nil
			}
			c.mu.Unlock()

			if current && !c.isClosed() {
				_ = conn.Close()
				c.setState(Disconnected, err)
				c.emitError(err)
				c.triggerReconnect()
			}

			return
		}

		if err := c.events.Dispatch(frame); err != nil {
			c.emitText(string(frame))
		}
	}
}

func (c *Client) reconnectHandler() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		case <-c.reconnectChan:
		}

		c.mu.Lock()
		if c.reconnecting {
			c.mu.Unlock()
			continue
		}
		c.reconnecting = true
		c.mu.Unlock()

		_ = c.Disconnect()
		c.setState(Reconnecting, nil)

		select {
		case <-c.stopChan:
			return
		case <-time.After(c.config.ReconnectInterval):
		}

		err := c.connect()

		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()

		if err != nil {
			c.triggerReconnect()
		}
	}
}

func (c *Client) triggerReconnect() {
	if !c.config.AutoReconnect || c.isClosed() {
		return
	}

	select {
	case c.reconnectChan <- struct{}{}:
	default:
	}
}

// setState records state unless the client is closed, which is final.
//
// Returns:
//   - false if the change was ignored
func (c *Client) setState(state ConnectionState, err error) bool {
	c.mu.Lock()
	if c.closed && (state != Closed || c.state == Closed) {
		c.mu.Unlock()
		return false
	}
	c.state = state
	handler := c.onConnectionState
	c.mu.Unlock()

	if handler != nil {
		go handler(ConnectionStateEvent{State: state, Address: c.config.Address, Timestamp: time.Now(), Error: err})
	}

	return true
}

func (c *Client) emitText(text string) {
	c.mu.RLock()
	handler := c.onText
	c.mu.RUnlock()

	if handler != nil {
		handler(text)
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		go handler(err)
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
