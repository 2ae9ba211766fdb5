package terminal

// ClientConn is the client side of a terminal session, typically a
// websocket. Implementations must serialize WriteFrame internally; the
// session writes from more than one goroutine.
type ClientConn interface {
	// ReadFrame blocks for the next client frame.
	ReadFrame() (*Frame, error)
	// WriteFrame sends a frame to the client.
	WriteFrame(*Frame) error
	// Close tears the client connection down. Must be idempotent.
	Close() error
}
