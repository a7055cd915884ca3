package transport

import "context"

// Reserved control frames.
const (
	FramePing      = "ping"
	FramePong      = "pong"
	FrameHeartbeat = "heartbeat"
)

// IsControlFrame reports whether payload is a reserved liveness frame that
// must not be shown to the user.
func IsControlFrame(payload string) bool {
	return payload == FrameHeartbeat || payload == FramePong
}

// Conn is an open log stream connection.
// Implemented by WebsocketConn.
type Conn interface {
	// ReadText blocks until the next text frame arrives or the connection fails.
	ReadText() (string, error)

	// WriteText sends a text frame. Safe for concurrent use.
	WriteText(payload string) error

	// IsOpen reports whether the connection still believes itself open.
	IsOpen() bool

	// Close closes the connection gracefully. Safe to call more than once.
	Close() error
}

// Dialer opens log stream connections.
// Implemented by WebsocketDialer.
type Dialer interface {
	// Dial opens a connection to url.
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

// Dial calls f(ctx, url).
func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

// Compile-time interface satisfaction checks.
var (
	_ Conn   = (*WebsocketConn)(nil)
	_ Dialer = (*WebsocketDialer)(nil)
	_ Dialer = DialerFunc(nil)
)
