package loghub

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instance-portal/portal-go/pkg/metrics"
)

func identity(line string) string { return line }

func serveHub(t *testing.T, h *Hub) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestHubReplaysHistoryThenStreams(t *testing.T) {
	m := metrics.NewCollector()
	h := New(Config{Format: identity, Metrics: m})
	t.Cleanup(func() { _ = h.Close() })

	h.Publish("one")
	h.Publish("  ")
	h.Publish("two\n")
	assert.Equal(t, []string{"one", "two"}, h.History())

	conn := dial(t, serveHub(t, h))
	assert.Equal(t, "one", readText(t, conn))
	assert.Equal(t, "two", readText(t, conn))

	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, time.Second, time.Millisecond)
	h.Publish("three")
	assert.Equal(t, "three", readText(t, conn))

	expected := `
# HELP portal_hub_subscribers The number of connected log stream subscribers.
# TYPE portal_hub_subscribers gauge
portal_hub_subscribers 1
`
	assert.NoError(t, testutil.CollectAndCompare(m, strings.NewReader(expected), "portal_hub_subscribers"))
}

func TestHubHistoryBounded(t *testing.T) {
	h := New(Config{Format: identity, HistoryLines: 2})
	t.Cleanup(func() { _ = h.Close() })
	for _, l := range []string{"a", "b", "c"} {
		h.Publish(l)
	}
	assert.Equal(t, []string{"b", "c"}, h.History())
}

func TestHubHeartbeat(t *testing.T) {
	mock := clock.NewMock()
	h := New(Config{Format: identity, Clock: mock})
	t.Cleanup(func() { _ = h.Close() })

	conn := dial(t, serveHub(t, h))
	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, time.Second, time.Millisecond)

	mock.Add(DefaultHeartbeatInterval)
	assert.Equal(t, "heartbeat", readText(t, conn))
}

func TestHubAnswersPing(t *testing.T) {
	h := New(Config{Format: identity})
	t.Cleanup(func() { _ = h.Close() })

	conn := dial(t, serveHub(t, h))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	assert.Equal(t, "pong", readText(t, conn))

	// Other inbound frames are ignored.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	h.Publish("after")
	assert.Equal(t, "after", readText(t, conn))
}

func TestHubDropsDisconnectedSubscriber(t *testing.T) {
	h := New(Config{Format: identity})
	t.Cleanup(func() { _ = h.Close() })

	conn := dial(t, serveHub(t, h))
	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.Subscribers() == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestSubscriberEnqueue(t *testing.T) {
	s := &subscriber{send: make(chan string, 1), done: make(chan struct{})}
	assert.True(t, s.enqueue("a"))
	assert.False(t, s.enqueue("b"))

	close(s.done)
	assert.True(t, s.enqueue("c"))
}

func TestHubClose(t *testing.T) {
	h := New(Config{Format: identity})
	url := serveHub(t, h)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return h.Subscribers() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()

	assert.ErrorIs(t, h.Start(), ErrHubClosed)
	h.Publish("ignored")
	assert.Empty(t, h.History())
}

func TestHubTailsDirectory(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(existing, []byte("booting\nready\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me\n"), 0o644))

	h := New(Config{Directory: dir, Format: identity, Poll: true})
	t.Cleanup(func() { _ = h.Close() })
	require.NoError(t, h.Start())

	assert.Equal(t, []string{existing}, h.Files())
	require.Eventually(t, func() bool { return len(h.History()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"booting", "ready"}, h.History())

	conn := dial(t, serveHub(t, h))
	assert.Equal(t, "booting", readText(t, conn))
	assert.Equal(t, "ready", readText(t, conn))

	created := filepath.Join(dir, "worker.log")
	require.NoError(t, os.WriteFile(created, []byte("worker up\n"), 0o644))
	require.Eventually(t, func() bool { return len(h.Files()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "worker up", readText(t, conn))

	require.NoError(t, os.Remove(created))
	require.Eventually(t, func() bool { return len(h.Files()) == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestHubStartMissingDirectory(t *testing.T) {
	h := New(Config{Directory: filepath.Join(t.TempDir(), "missing")})
	t.Cleanup(func() { _ = h.Close() })
	assert.Error(t, h.Start())
}
