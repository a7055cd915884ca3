package tunnel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instance-portal/portal-go/pkg/probe"
)

const testTunnel = "https://t.example.com"

func fastWaiterConfig() WaiterConfig {
	return WaiterConfig{
		MaxAttempts: 4,
		Interval:    time.Millisecond,
		Budget:      10 * time.Millisecond,
	}
}

func TestWaiterDefaults(t *testing.T) {
	c := WaiterConfig{}.withDefaults()
	assert.Equal(t, 10, c.MaxAttempts)
	assert.Equal(t, 1500*time.Millisecond, c.Interval)
	assert.Equal(t, 5*time.Second, c.Budget)
}

func TestWaiterBecomesActive(t *testing.T) {
	prober := newFakeProber()
	prober.script(testTunnel, false, false, true)

	var tr transitions
	w := NewWaiter(prober, fastWaiterConfig())
	w.OnStatusChange(tr.record)

	h := NewHandle(KindQuick, "http://localhost:8080", testTunnel, time.Now())
	status := w.Wait(context.Background(), h)

	assert.Equal(t, StatusActive, status)
	assert.True(t, h.IsActive())
	assert.Equal(t, 3, prober.callCount(testTunnel))
	assert.Equal(t, []string{"http://localhost:8080:pending->active"}, tr.get())
}

func TestWaiterGivesUp(t *testing.T) {
	prober := newFakeProber()

	var (
		mu       sync.Mutex
		failed   *Handle
		attempts int
	)
	cfg := fastWaiterConfig()
	cfg.OnFailure = func(h *Handle, n int) {
		mu.Lock()
		defer mu.Unlock()
		failed, attempts = h, n
	}
	w := NewWaiter(prober, cfg)

	h := NewHandle(KindQuick, "http://localhost:8080", testTunnel, time.Now())
	assert.Equal(t, StatusError, w.Wait(context.Background(), h))
	assert.Equal(t, 4, prober.callCount(testTunnel))

	mu.Lock()
	defer mu.Unlock()
	assert.Same(t, h, failed)
	assert.Equal(t, 4, attempts)
}

func TestWaiterInvalidTunnelURL(t *testing.T) {
	prober := newFakeProber()
	prober.errs["bad"] = probe.ErrInvalidURL

	failures := 0
	cfg := fastWaiterConfig()
	cfg.OnFailure = func(*Handle, int) { failures++ }
	w := NewWaiter(prober, cfg)

	h := NewHandle(KindQuick, "http://localhost:8080", "bad", time.Now())
	assert.Equal(t, StatusError, w.Wait(context.Background(), h))
	assert.Equal(t, 1, prober.callCount("bad"))
	assert.Equal(t, 1, failures)
}

func TestWaiterCancelledLeavesPending(t *testing.T) {
	prober := newFakeProber()
	w := NewWaiter(prober, fastWaiterConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := NewHandle(KindQuick, "http://localhost:8080", testTunnel, time.Now())
	assert.Equal(t, StatusPending, w.Wait(ctx, h))
}

func TestWaiterIgnoresRefreshedHandle(t *testing.T) {
	prober := newFakeProber()
	prober.script(testTunnel, true)

	h := NewHandle(KindQuick, "http://localhost:8080", testTunnel, time.Now())
	prober.onCall = func(string) { h.replaceURL("https://new.example.com") }

	w := NewWaiter(prober, fastWaiterConfig())
	assert.Equal(t, StatusPending, w.Wait(context.Background(), h))
	assert.Equal(t, "https://new.example.com", h.TunnelURL())
}

func TestWaitForActiveClose(t *testing.T) {
	prober := newFakeProber()
	cfg := fastWaiterConfig()
	cfg.Clock = clock.NewMock()
	w := NewWaiter(prober, cfg)

	h := NewHandle(KindQuick, "http://localhost:8080", testTunnel, time.Now())
	w.WaitForActive(h)

	require.Eventually(t, func() bool { return prober.callCount(testTunnel) == 1 }, time.Second, time.Millisecond)
	w.Close()
	assert.Equal(t, StatusPending, h.Status())
}

func TestWaitForActiveAfterClose(t *testing.T) {
	prober := newFakeProber()
	w := NewWaiter(prober, fastWaiterConfig())
	w.Close()

	h := NewHandle(KindQuick, "http://localhost:8080", testTunnel, time.Now())
	w.WaitForActive(h)
	w.Close()

	assert.Equal(t, 0, prober.callCount(testTunnel))
	assert.Equal(t, StatusPending, h.Status())
}

func TestWaitForActiveConcurrentWithClose(t *testing.T) {
	prober := newFakeProber()
	w := NewWaiter(prober, fastWaiterConfig())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.WaitForActive(NewHandle(KindQuick, "http://localhost:8080", testTunnel, time.Now()))
		}()
	}
	w.Close()
	wg.Wait()
	w.Close()
}
