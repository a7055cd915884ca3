package tunnel

import (
	"context"
	"sync"
	"time"
)

// fakeProber answers from a per-URL script. The last result repeats and
// unknown URLs are unreachable.
type fakeProber struct {
	mu      sync.Mutex
	results map[string][]bool
	errs    map[string]error
	calls   map[string]int
	onCall  func(target string)
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		results: make(map[string][]bool),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (p *fakeProber) script(target string, results ...bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[target] = results
}

func (p *fakeProber) ProbeWithin(ctx context.Context, target string, _, _ time.Duration) (bool, error) {
	p.mu.Lock()
	n := p.calls[target]
	p.calls[target] = n + 1
	err := p.errs[target]
	script := p.results[target]
	hook := p.onCall
	p.mu.Unlock()

	if hook != nil {
		hook(target)
	}
	if err != nil {
		return false, err
	}
	if ctx.Err() != nil || len(script) == 0 {
		return false, nil
	}
	if n >= len(script) {
		return script[len(script)-1], nil
	}
	return script[n], nil
}

func (p *fakeProber) callCount(target string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[target]
}

// fakeAPI is an in-memory tunnel manager backend.
type fakeAPI struct {
	mu       sync.Mutex
	named    []Record
	quick    map[string]string
	namedErr error
	quickErr error
	startErr error
	next     int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{quick: make(map[string]string)}
}

func (a *fakeAPI) NamedTunnels(context.Context) ([]Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.namedErr != nil {
		return nil, a.namedErr
	}
	return append([]Record(nil), a.named...), nil
}

func (a *fakeAPI) QuickTunnels(context.Context) ([]Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.quickErr != nil {
		return nil, a.quickErr
	}
	out := make([]Record, 0, len(a.quick))
	for target, u := range a.quick {
		out = append(out, Record{TargetURL: target, TunnelURL: u})
	}
	return out, nil
}

func (a *fakeAPI) StartQuick(_ context.Context, target string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return "", a.startErr
	}
	if u, ok := a.quick[target]; ok {
		return u, nil
	}
	return a.issue(target), nil
}

func (a *fakeAPI) StopQuick(_ context.Context, target string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.quick, target)
	return nil
}

func (a *fakeAPI) RefreshQuick(_ context.Context, target string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.issue(target), nil
}

func (a *fakeAPI) issue(target string) string {
	a.next++
	u := "https://quick-" + string(rune('a'+a.next-1)) + ".example.com"
	a.quick[target] = u
	return u
}

// transitions records status change callbacks.
type transitions struct {
	mu   sync.Mutex
	list []string
}

func (tr *transitions) record(h *Handle, old, status Status) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.list = append(tr.list, h.TargetURL()+":"+string(old)+"->"+string(status))
}

func (tr *transitions) get() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.list...)
}
