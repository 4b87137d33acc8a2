package tcpclient

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-rooms/packet"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

func TestClient_SendAndDispatch(t *testing.T) {
	ln := listen(t)
	serverSide := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			serverSide <- conn
		}
	}()

	c := New(DefaultConfig(ln.Addr().String()))
	defer c.Close()

	got := make(chan packet.Packet, 1)
	c.On("pong", func(p packet.Packet) { got <- p })
	texts := make(chan string, 1)
	c.OnText(func(text string) { texts <- text })

	require.NoError(t, c.Connect())
	assert.True(t, c.IsConnected())

	conn := <-serverSide
	defer conn.Close()

	require.NoError(t, c.Send("ping", packet.Packet{"n": 1}))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)
	sent, err := packet.Decode(line[:len(line)-1])
	require.NoError(t, err)
	assert.Equal(t, "ping", sent.Event())
	assert.Equal(t, float64(1), sent["n"])

	_, err = conn.Write([]byte("{\"eventName\":\"pong\",\"n\":2}\nError: nope.\n"))
	require.NoError(t, err)

	select {
	case p := <-got:
		assert.Equal(t, float64(2), p["n"])
	case <-time.After(2 * time.Second):
		t.Fatal("packet not dispatched")
	}

	select {
	case text := <-texts:
		assert.Equal(t, "Error: nope.", text)
	case <-time.After(2 * time.Second):
		t.Fatal("text not reported")
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := New(DefaultConfig("127.0.0.1:1"))
	assert.ErrorIs(t, c.Send("x", packet.Packet{}), ErrNotConnected)
	assert.Equal(t, Disconnected, c.State())
}

func TestClient_PeerClose(t *testing.T) {
	ln := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()

	c := New(DefaultConfig(ln.Addr().String()))
	defer c.Close()
	require.NoError(t, c.Connect())

	assert.Eventually(t, func() bool { return c.State() == Disconnected }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_Close(t *testing.T) {
	c := New(DefaultConfig("127.0.0.1:1"))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, Closed, c.State())
	assert.Error(t, c.Connect())
}

// Close lands at varying points of a reconnect cycle; whatever the timing,
// it must leave no connection open and the state must stay Closed.
func TestClient_CloseDuringReconnect(t *testing.T) {
	for i := 0; i < 15; i++ {
		ln := listen(t)
		kept := make(chan net.Conn, 16)
		go func() {
			first := true
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				if first {
					first = false
					_ = conn.Close()
					continue
				}
				kept <- conn
			}
		}()

		config := DefaultConfig(ln.Addr().String())
		config.AutoReconnect = true
		config.ReconnectInterval = 10 * time.Millisecond
		c := New(config)
		require.NoError(t, c.Connect())

		time.Sleep(time.Duration(5+i) * time.Millisecond)

		closed := make(chan struct{})
		go func() {
			_ = c.Close()
			close(closed)
		}()
		select {
		case <-closed:
		case <-time.After(2 * time.Second):
			t.Fatal("Close did not return")
		}

		assert.Never(t, func() bool { return c.State() != Closed }, 50*time.Millisecond, 5*time.Millisecond)
		assert.ErrorIs(t, c.Connect(), ErrClosed)

		require.NoError(t, ln.Close())
	drain:
		for {
			select {
			case conn := <-kept:
				require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
				_, err := conn.Read(make([]byte, 1))
				assert.ErrorIs(t, err, io.EOF, "client left a connection open")
				_ = conn.Close()
			default:
				break drain
			}
		}
	}
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Unknown", ConnectionState(42).String())
}
