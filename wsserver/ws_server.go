package wsserver

import (
	"github.com/cyberinferno/go-rooms/logger"
	"github.com/cyberinferno/go-rooms/tcpserver"
)

// NewServer returns a stopped listener serving framed sessions on addr.
// Session IDs are prefixed "ws".
func NewServer(addr string, config Config, ready tcpserver.ReadyFunc, log logger.Logger) *tcpserver.TCPServer {
	return tcpserver.NewTCPServer("ws", addr, NewSessionFunc(config, ready, log), log)
}
