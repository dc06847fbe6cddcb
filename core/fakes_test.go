package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mihomo-launcher/core/engine"
)

// fakeAdapter is a scripted engine.Adapter safe for concurrent use.
type fakeAdapter struct {
	mu    sync.Mutex
	calls map[string]int

	running   bool
	startRes  engine.Result
	startGate chan struct{}
	stopRes   engine.Result
	stopPanic bool
	load      engine.ConfigResult
	fetch     engine.ConfigResult
	proxies   map[string]engine.ProxyEntry
	proxyGate chan struct{}
	selRes    engine.Result
	delays    map[string]int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		calls:    map[string]int{},
		startRes: engine.Result{Success: true},
		stopRes:  engine.Result{Success: true},
		load:     engine.ConfigResult{Success: true},
		fetch:    engine.ConfigResult{Success: true},
		selRes:   engine.Result{Success: true},
	}
}

func (f *fakeAdapter) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeAdapter) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAdapter) set(fn func(f *fakeAdapter)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeAdapter) Status(context.Context) (engine.Status, error) {
	f.record("status")
	f.mu.Lock()
	defer f.mu.Unlock()
	return engine.Status{IsRunning: f.running, PID: 100, Version: "test"}, nil
}

func (f *fakeAdapter) Start(context.Context) (engine.Result, error) {
	f.record("start")
	f.mu.Lock()
	gate := f.startGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startRes.Success {
		f.running = true
	}
	return f.startRes, nil
}

func (f *fakeAdapter) Stop(context.Context) (engine.Result, error) {
	f.record("stop")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopPanic {
		panic("stop exploded")
	}
	if f.stopRes.Success {
		f.running = false
	}
	return f.stopRes, nil
}

func (f *fakeAdapter) LoadConfig(context.Context) (engine.ConfigResult, error) {
	f.record("load")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load, nil
}

func (f *fakeAdapter) SaveConfig(context.Context, map[string]any) (engine.Result, error) {
	f.record("save")
	return engine.Result{Success: true}, nil
}

func (f *fakeAdapter) FetchConfigFromURL(context.Context, string) (engine.ConfigResult, error) {
	f.record("fetch")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetch, nil
}

func (f *fakeAdapter) GetProxies(context.Context) (engine.ProxiesResult, error) {
	f.record("proxies")
	f.mu.Lock()
	gate := f.proxyGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return engine.ProxiesResult{Success: true, Proxies: f.proxies}, nil
}

func (f *fakeAdapter) SelectProxy(context.Context, string, string) (engine.Result, error) {
	f.record("select")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selRes, nil
}

func (f *fakeAdapter) TestProxyDelay(_ context.Context, node string) (engine.DelayResult, error) {
	f.record("delay")
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.delays[node]
	if !ok {
		return engine.DelayResult{}, errors.New("probe timeout")
	}
	return engine.DelayResult{Success: true, Delay: d}, nil
}

// fakeTicker is fired by hand.
type fakeTicker struct {
	interval time.Duration
	ch       chan time.Time
	mu       sync.Mutex
	stopped  bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type tickerFactory struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (f *tickerFactory) New(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{interval: d, ch: make(chan time.Time, 1)}
	f.tickers = append(f.tickers, t)
	return t
}

// active returns the tickers that have not been stopped.
func (f *tickerFactory) active() []*fakeTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeTicker
	for _, t := range f.tickers {
		if !t.isStopped() {
			out = append(out, t)
		}
	}
	return out
}

// fire delivers one tick to every live ticker and reports how many got it.
func (f *tickerFactory) fire() int {
	n := 0
	for _, t := range f.active() {
		select {
		case t.ch <- time.Now():
			n++
		default:
		}
	}
	return n
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type memoryPrefs struct {
	mu   sync.Mutex
	url  string
	auto bool
}

func (m *memoryPrefs) VPNURL() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url, nil
}

func (m *memoryPrefs) SetVPNURL(url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
	return nil
}

func (m *memoryPrefs) ProxyAutoStart() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.auto, nil
}

func (m *memoryPrefs) SetProxyAutoStart(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auto = enabled
	return nil
}
