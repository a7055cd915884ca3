package tunnel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	portallog "github.com/instance-portal/portal-go/pkg/log"
	"github.com/instance-portal/portal-go/pkg/metrics"
)

type eventSink struct {
	events chan portallog.Event
}

func (s *eventSink) Log(e portallog.Event) {
	select {
	case s.events <- e:
	default:
	}
}

func newTestRegistry(t *testing.T, api API, prober Prober, mod func(*RegistryConfig)) *Registry {
	t.Helper()
	cfg := RegistryConfig{
		API:    api,
		Prober: prober,
		Waiter: fastWaiterConfig(),
	}
	if mod != nil {
		mod(&cfg)
	}
	r, err := NewRegistry(cfg)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestNewRegistryRequiresDependencies(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{Prober: newFakeProber()})
	assert.Error(t, err)
	_, err = NewRegistry(RegistryConfig{API: newFakeAPI()})
	assert.Error(t, err)
}

func TestRegistryFetch(t *testing.T) {
	api := newFakeAPI()
	api.named = []Record{
		{TargetURL: "http://localhost:1111", TunnelURL: "https://portal.example.com"},
		{TargetURL: "", TunnelURL: "https://ignored.example.com"},
	}
	api.quick["http://localhost:8080"] = "https://q1.example.com"

	r := newTestRegistry(t, api, newFakeProber(), nil)
	require.NoError(t, r.Fetch(context.Background()))

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, KindNamed, all[0].Kind())
	assert.Equal(t, KindQuick, all[1].Kind())
	assert.Equal(t, StatusPending, all[1].Status())

	h, ok := r.FindByTunnelURL("https://q1.example.com")
	require.True(t, ok)
	assert.Equal(t, "http://localhost:8080", h.TargetURL())

	_, ok = r.FindByTargetURL(KindNamed, "http://localhost:8080")
	assert.False(t, ok)
}

func TestRegistryFetchKeepsUnchangedHandles(t *testing.T) {
	api := newFakeAPI()
	api.quick["http://localhost:8080"] = "https://q1.example.com"
	api.quick["http://localhost:9090"] = "https://q2.example.com"

	prober := newFakeProber()
	prober.script("https://q1.example.com", true)
	r := newTestRegistry(t, api, prober, nil)
	ctx := context.Background()

	require.NoError(t, r.Fetch(ctx))
	first, _ := r.FindByTargetURL(KindQuick, "http://localhost:8080")
	r.Check(ctx, first)
	require.True(t, first.IsActive())

	api.quick["http://localhost:9090"] = "https://q3.example.com"
	require.NoError(t, r.Fetch(ctx))

	again, _ := r.FindByTargetURL(KindQuick, "http://localhost:8080")
	assert.Same(t, first, again)
	assert.True(t, again.IsActive())

	changed, _ := r.FindByTargetURL(KindQuick, "http://localhost:9090")
	assert.Equal(t, "https://q3.example.com", changed.TunnelURL())
	assert.Equal(t, StatusPending, changed.Status())
}

func TestRegistryFetchErrors(t *testing.T) {
	api := newFakeAPI()
	api.named = []Record{{TargetURL: "http://localhost:1111", TunnelURL: "https://portal.example.com"}}
	r := newTestRegistry(t, api, newFakeProber(), nil)
	ctx := context.Background()
	require.NoError(t, r.Fetch(ctx))

	api.namedErr = errors.New("backend down")
	api.quick["http://localhost:8080"] = "https://q1.example.com"
	err := r.Fetch(ctx)
	assert.ErrorContains(t, err, "fetch named tunnels")

	// The named list is kept, the quick list is updated.
	assert.Len(t, r.Named(), 1)
	assert.Len(t, r.Quick(), 1)

	api.quickErr = errors.New("also down")
	err = r.Fetch(ctx)
	assert.ErrorContains(t, err, "fetch named tunnels")
	assert.ErrorContains(t, err, "fetch quick tunnels")
}

func TestRegistryCheckAll(t *testing.T) {
	api := newFakeAPI()
	api.named = []Record{{TargetURL: "http://localhost:1111", TunnelURL: "https://portal.example.com"}}
	api.quick["http://localhost:8080"] = "https://q1.example.com"

	prober := newFakeProber()
	prober.script("https://portal.example.com", true)

	var tr transitions
	r := newTestRegistry(t, api, prober, nil)
	r.OnStatusChange(tr.record)
	ctx := context.Background()
	require.NoError(t, r.Fetch(ctx))
	require.NoError(t, r.CheckAll(ctx))

	named, _ := r.FindByTargetURL(KindNamed, "http://localhost:1111")
	quick, _ := r.FindByTargetURL(KindQuick, "http://localhost:8080")
	assert.Equal(t, StatusActive, named.Status())
	assert.Equal(t, StatusError, quick.Status())
	assert.Contains(t, tr.get(), "http://localhost:1111:pending->active")
	assert.Contains(t, tr.get(), "http://localhost:8080:pending->error")
}

func TestRegistryStatusChecks(t *testing.T) {
	api := newFakeAPI()
	api.quick["http://localhost:8080"] = "https://q1.example.com"
	prober := newFakeProber()
	prober.script("https://q1.example.com", true)

	mock := clock.NewMock()
	r := newTestRegistry(t, api, prober, func(c *RegistryConfig) { c.Clock = mock })
	require.NoError(t, r.Fetch(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := r.StartStatusChecks(ctx, 30*time.Second)

	mock.Add(29 * time.Second)
	assert.Equal(t, 0, prober.callCount("https://q1.example.com"))

	mock.Add(time.Second)
	require.Eventually(t, func() bool {
		return prober.callCount("https://q1.example.com") == 1
	}, time.Second, time.Millisecond)

	h, _ := r.FindByTargetURL(KindQuick, "http://localhost:8080")
	require.Eventually(t, h.IsActive, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("status checks did not stop")
	}
}

func TestRegistryCreateQuick(t *testing.T) {
	api := newFakeAPI()
	prober := newFakeProber()
	prober.script("https://quick-a.example.com", false, true)

	m := metrics.NewCollector()
	events := &eventSink{events: make(chan portallog.Event, 16)}
	r := newTestRegistry(t, api, prober, func(c *RegistryConfig) {
		c.Metrics = m
		c.EventLogger = events
	})

	h, err := r.CreateQuick(context.Background(), "localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, KindQuick, h.Kind())
	assert.Equal(t, "http://localhost:8080", h.TargetURL())
	assert.Equal(t, "https://quick-a.example.com", h.TunnelURL())

	require.Eventually(t, h.IsActive, time.Second, time.Millisecond)
	assert.Equal(t, 2, prober.callCount(h.TunnelURL()))

	found, ok := r.FindByTargetURL(KindQuick, "http://localhost:8080")
	require.True(t, ok)
	assert.Same(t, h, found)

	assert.Eventually(t, func() bool {
		return testutil.CollectAndCount(m, "portal_tunnel_status") == 1
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return len(events.events) == 2 }, time.Second, time.Millisecond)
	var states []string
	for len(events.events) > 0 {
		e := <-events.events
		require.NotNil(t, e.StateChange)
		assert.Equal(t, portallog.StateEntityTunnel, e.StateChange.Entity)
		states = append(states, e.StateChange.NewState)
	}
	assert.Equal(t, []string{"pending", "active"}, states)
}

func TestRegistryCreateQuickErrors(t *testing.T) {
	api := newFakeAPI()
	r := newTestRegistry(t, api, newFakeProber(), nil)

	_, err := r.CreateQuick(context.Background(), " ")
	assert.Error(t, err)

	api.startErr = errors.New("cloudflared missing")
	_, err = r.CreateQuick(context.Background(), "localhost:8080")
	assert.ErrorContains(t, err, "cloudflared missing")
	assert.Empty(t, r.Quick())
}

func TestRegistryStopQuick(t *testing.T) {
	api := newFakeAPI()
	api.named = []Record{{TargetURL: "http://localhost:1111", TunnelURL: "https://portal.example.com"}}
	api.quick["http://localhost:8080"] = "https://q1.example.com"
	r := newTestRegistry(t, api, newFakeProber(), nil)
	ctx := context.Background()
	require.NoError(t, r.Fetch(ctx))

	assert.ErrorIs(t, r.StopQuick(ctx, "http://localhost:1111"), ErrNotQuick)
	assert.ErrorIs(t, r.StopQuick(ctx, "http://localhost:5555"), ErrNotFound)

	require.NoError(t, r.StopQuick(ctx, "localhost:8080"))
	assert.Empty(t, r.Quick())
	assert.Empty(t, api.quick)
}

func TestRegistryRefreshQuick(t *testing.T) {
	api := newFakeAPI()
	api.named = []Record{{TargetURL: "http://localhost:1111", TunnelURL: "https://portal.example.com"}}
	api.quick["http://localhost:8080"] = "https://q1.example.com"

	prober := newFakeProber()
	prober.script("https://q1.example.com", true)
	prober.script("https://quick-a.example.com", true)

	var tr transitions
	r := newTestRegistry(t, api, prober, nil)
	r.OnStatusChange(tr.record)
	ctx := context.Background()
	require.NoError(t, r.Fetch(ctx))

	h, _ := r.FindByTargetURL(KindQuick, "http://localhost:8080")
	r.Check(ctx, h)
	require.True(t, h.IsActive())

	refreshed, err := r.RefreshQuick(ctx, "http://localhost:8080")
	require.NoError(t, err)
	assert.Same(t, h, refreshed)
	assert.Equal(t, "https://quick-a.example.com", h.TunnelURL())
	assert.True(t, h.IsActive())
	assert.Equal(t, 1, prober.callCount("https://quick-a.example.com"))
	assert.Contains(t, tr.get(), "http://localhost:8080:active->pending")

	_, err = r.RefreshQuick(ctx, "http://localhost:1111")
	assert.ErrorIs(t, err, ErrNotQuick)
}

func TestHandleInfoAndString(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := NewHandle(KindNamed, "http://localhost:1111", "https://portal.example.com", created)

	info := h.Info()
	assert.Equal(t, KindNamed, info.Kind)
	assert.Equal(t, StatusPending, info.Status)
	assert.Equal(t, created, info.CreatedAt)
	assert.Equal(t, "named tunnel: http://localhost:1111 → https://portal.example.com (pending)", h.String())

	assert.Equal(t, StatusPending, h.setStatus(StatusActive))
	assert.True(t, h.IsActive())
}
