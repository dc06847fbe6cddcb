package services

import (
	"context"
	"sync"

	"mihomo-launcher/core/engine"
)

// fakeAdapter is a scripted engine.Adapter. Zero values report success.
type fakeAdapter struct {
	mu    sync.Mutex
	calls map[string]int

	status    engine.Status
	statusErr error
	start     engine.Result
	startErr  error
	stop      engine.Result
	load      engine.ConfigResult
	loadErr   error
	save      engine.Result
	saved     map[string]any
	fetch     engine.ConfigResult
	fetchErr  error
	proxies   engine.ProxiesResult
	sel       engine.Result
	selErr    error
	selected  [2]string

	delays     map[string]int
	delayErrs  map[string]error
	delayPanic map[string]bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		calls:   map[string]int{},
		start:   engine.Result{Success: true},
		stop:    engine.Result{Success: true},
		load:    engine.ConfigResult{Success: true},
		save:    engine.Result{Success: true},
		fetch:   engine.ConfigResult{Success: true},
		proxies: engine.ProxiesResult{Success: true},
		sel:     engine.Result{Success: true},
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

func (f *fakeAdapter) Status(context.Context) (engine.Status, error) {
	f.record("status")
	return f.status, f.statusErr
}

func (f *fakeAdapter) Start(context.Context) (engine.Result, error) {
	f.record("start")
	return f.start, f.startErr
}

func (f *fakeAdapter) Stop(context.Context) (engine.Result, error) {
	f.record("stop")
	return f.stop, nil
}

func (f *fakeAdapter) LoadConfig(context.Context) (engine.ConfigResult, error) {
	f.record("load")
	return f.load, f.loadErr
}

func (f *fakeAdapter) SaveConfig(_ context.Context, cfg map[string]any) (engine.Result, error) {
	f.record("save")
	f.mu.Lock()
	f.saved = cfg
	f.mu.Unlock()
	return f.save, nil
}

func (f *fakeAdapter) FetchConfigFromURL(context.Context, string) (engine.ConfigResult, error) {
	f.record("fetch")
	return f.fetch, f.fetchErr
}

func (f *fakeAdapter) GetProxies(context.Context) (engine.ProxiesResult, error) {
	f.record("proxies")
	return f.proxies, nil
}

func (f *fakeAdapter) SelectProxy(_ context.Context, group, node string) (engine.Result, error) {
	f.record("select")
	f.mu.Lock()
	f.selected = [2]string{group, node}
	f.mu.Unlock()
	return f.sel, f.selErr
}

func (f *fakeAdapter) TestProxyDelay(_ context.Context, node string) (engine.DelayResult, error) {
	f.record("delay")
	if f.delayPanic[node] {
		panic("probe exploded")
	}
	if err := f.delayErrs[node]; err != nil {
		return engine.DelayResult{}, err
	}
	d, ok := f.delays[node]
	if !ok {
		return engine.DelayResult{Success: false, Error: "timeout"}, nil
	}
	return engine.DelayResult{Success: true, Delay: d}, nil
}
