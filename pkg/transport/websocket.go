package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Websocket defaults.
const (
	// DefaultHandshakeTimeout bounds a dial when the context has no deadline.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 5 * time.Second

	// closeGracePeriod bounds the write of the close frame.
	closeGracePeriod = time.Second

	// CloseReasonClient is sent in the close frame of a client-initiated close.
	CloseReasonClient = "Client disconnected"
)

// ErrConnectionClosed is returned by WriteText after Close.
var ErrConnectionClosed = errors.New("connection closed")

// WebsocketDialer opens log streams over websocket.
type WebsocketDialer struct {
	// Dialer is the underlying websocket dialer. Nil uses websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Header is sent with the opening handshake.
	Header http.Header

	// HandshakeTimeout bounds the dial when ctx has no deadline.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write on the resulting connection.
	WriteTimeout time.Duration
}

// NewWebsocketDialer creates a dialer with default timeouts.
func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
	}
}

// Dial opens a websocket connection to url.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && d.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.HandshakeTimeout)
		defer cancel()
	}

	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := NewWebsocketConn(ws)
	if d.WriteTimeout > 0 {
		c.writeTimeout = d.WriteTimeout
	}
	return c, nil
}

// WebsocketConn wraps a gorilla websocket connection as a Conn.
// It is used on both ends of the stream.
type WebsocketConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	open      atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewWebsocketConn wraps an established websocket connection.
func NewWebsocketConn(ws *websocket.Conn) *WebsocketConn {
	c := &WebsocketConn{
		ws:           ws,
		writeTimeout: DefaultWriteTimeout,
	}
	c.open.Store(true)
	return c
}

// ReadText returns the next data frame as a string. Binary frames are
// accepted and converted.
func (c *WebsocketConn) ReadText() (string, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.open.Store(false)
		return "", err
	}
	return string(data), nil
}

// WriteText sends payload as a text frame.
func (c *WebsocketConn) WriteText(payload string) error {
	if !c.open.Load() {
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(payload))
}

// IsOpen reports whether neither side has closed the connection yet.
func (c *WebsocketConn) IsOpen() bool {
	return c.open.Load()
}

// Close sends a normal-closure frame and closes the underlying connection.
func (c *WebsocketConn) Close() error {
	c.closeOnce.Do(func() {
		wasOpen := c.open.Swap(false)

		c.writeMu.Lock()
		if wasOpen {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, CloseReasonClient)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		}
		c.writeMu.Unlock()

		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer address as a string.
func (c *WebsocketConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// CloseReason renders a read error as a short human-readable reason.
func CloseReason(err error) string {
	if err == nil {
		return "closed"
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		text := ce.Text
		if text == "" {
			text = "none"
		}
		return fmt.Sprintf("closed: code=%d, reason=%s", ce.Code, text)
	}
	return err.Error()
}

// IsNormalClose reports whether err is an orderly close by the peer.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
