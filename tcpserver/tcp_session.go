package tcpserver

// TCPServerSession is implemented by each connection session. The server
// creates a session per connection and runs Handle in a goroutine; the
// session reads, dispatches and writes until the connection ends or Close
// is called.
type TCPServerSession interface {
	// ID returns the session's identifier assigned by the server.
	ID() string

	// Handle runs the session's main loop. It returns once the connection is
	// finished and the session has been torn down.
	Handle()

	// Close tears the session down. It is safe to call multiple times.
	//
	// Returns:
	//   - An error if closing failed
	Close() error
}
