package loghub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const closeGrace = time.Second

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan string
	done chan struct{}

	writeMu sync.Mutex
	once    sync.Once
}

func newSubscriber(conn *websocket.Conn, buffer int) *subscriber {
	return &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan string, buffer),
		done: make(chan struct{}),
	}
}

// enqueue queues payload without blocking and reports whether it fit.
// A closed subscriber accepts and discards everything.
func (s *subscriber) enqueue(payload string) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// close shuts the subscriber down once and reports whether this call did it.
func (s *subscriber) close(code int, reason string) bool {
	closed := false
	s.once.Do(func() {
		closed = true
		close(s.done)
		if code != 0 {
			msg := websocket.FormatCloseMessage(code, reason)
			s.writeMu.Lock()
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
			s.writeMu.Unlock()
		}
		_ = s.conn.Close()
	})
	return closed
}
