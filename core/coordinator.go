// Package core wires the launcher together: the Coordinator owns the single
// state record and runs every command against the proxy engine.
package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"mihomo-launcher/core/engine"
	"mihomo-launcher/core/services"
	"mihomo-launcher/core/state"
	"mihomo-launcher/internal/debuglog"
	"mihomo-launcher/internal/diagnostics"
	"mihomo-launcher/internal/prefs"
)

// Diagnoser runs connectivity checks for RefreshDiagnostics.
type Diagnoser interface {
	Check(ctx context.Context, proxyAddr string) diagnostics.Report
}

type batch struct {
	actions []state.Action
	done    chan struct{}
}

// Coordinator is an actor: one goroutine owns the state and applies action
// batches sent to it. Readers get immutable snapshots.
type Coordinator struct {
	adapter engine.Adapter
	prefs   prefs.Store
	diag    Diagnoser

	lifecycle *services.LifecycleService
	staging   *services.StagingService
	health    *services.HealthService
	groups    *services.GroupService

	now       func() time.Time
	newTicker func(time.Duration) Ticker
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex // guards closed and subs
	closed bool

	inbox      chan batch
	snapshot   atomic.Pointer[state.State]
	subs       map[int]chan state.State
	nextSub    int
	refreshing atomic.Bool
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithPrefs sets the persistence side channel.
func WithPrefs(p prefs.Store) Option {
	return func(c *Coordinator) { c.prefs = p }
}

// WithDiagnoser sets the connectivity checker.
func WithDiagnoser(d Diagnoser) Option {
	return func(c *Coordinator) { c.diag = d }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithTicker replaces the auto-refresh ticker factory.
func WithTicker(f func(time.Duration) Ticker) Option {
	return func(c *Coordinator) { c.newTicker = f }
}

// WithInitialState seeds the state before the first action. APIAvailable is
// always derived from the adapter.
func WithInitialState(s state.State) Option {
	return func(c *Coordinator) { c.snapshot.Store(&s) }
}

// New starts a coordinator around adapter. A nil adapter leaves every engine
// operation failing with engine.ErrAdapterUnavailable.
func New(adapter engine.Adapter, opts ...Option) *Coordinator {
	c := &Coordinator{
		adapter:   adapter,
		now:       time.Now,
		newTicker: newTimeTicker,
		log:       debuglog.WithComponent("coordinator"),
		inbox:     make(chan batch),
		subs:      make(map[int]chan state.State),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.lifecycle = services.NewLifecycleService(adapter)
	c.lifecycle.Now = c.now
	c.staging = services.NewStagingService(adapter, c.prefs)
	c.staging.Background = c.background
	c.health = services.NewHealthService(adapter)
	c.groups = services.NewGroupService(adapter)

	initial := state.Initial()
	if seeded := c.snapshot.Load(); seeded != nil {
		initial = *seeded
	}
	initial.APIAvailable = adapter != nil
	c.snapshot.Store(&initial)

	c.wg.Add(1)
	go c.loop(initial)
	return c
}

// Snapshot returns the current state. The value must be treated as read-only.
func (c *Coordinator) Snapshot() state.State {
	return *c.snapshot.Load()
}

// Subscribe returns a channel receiving every new snapshot. Slow readers only
// see the latest one. The channel is closed by cancel or Close.
func (c *Coordinator) Subscribe() (<-chan state.State, func()) {
	ch := make(chan state.State, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.Snapshot()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

// Close stops the coordinator and waits for in-flight commands. Their
// results are discarded. Later calls do nothing.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()
	c.log.Debug().Msg("coordinator closed")
}

// track registers a unit of work with Close. It fails once Close has begun.
func (c *Coordinator) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

// background runs fn as tracked work. fn is dropped after Close.
func (c *Coordinator) background(fn func()) {
	if !c.track() {
		return
	}
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// dispatch hands actions to the state goroutine and waits until they are
// applied. It is a no-op once ctx or the coordinator is done.
func (c *Coordinator) dispatch(ctx context.Context, actions ...state.Action) {
	if len(actions) == 0 || ctx.Err() != nil || c.ctx.Err() != nil {
		return
	}
	b := batch{actions: actions, done: make(chan struct{})}
	select {
	case c.inbox <- b:
	case <-c.ctx.Done():
		return
	}
	select {
	case <-b.done:
	case <-c.ctx.Done():
	}
}

func (c *Coordinator) loop(s state.State) {
	defer c.wg.Done()
	var (
		ticker   Ticker
		tick     <-chan time.Time
		interval time.Duration
	)
	disarm := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer disarm()

	for {
		select {
		case <-c.ctx.Done():
			return
		case b := <-c.inbox:
			s = state.ReduceAll(s, b.actions...)
			c.publish(s)
			switch {
			case !s.AutoRefreshArmed():
				if ticker != nil {
					c.log.Debug().Msg("auto refresh disarmed")
				}
				disarm()
			case ticker == nil || interval != s.RefreshInterval:
				disarm()
				interval = s.RefreshInterval
				ticker = c.newTicker(interval)
				tick = ticker.C()
				c.log.Debug().Dur("interval", interval).Msg("auto refresh armed")
			}
			close(b.done)
		case <-tick:
			c.onTick()
		}
	}
}

func (c *Coordinator) publish(s state.State) {
	snap := s
	c.snapshot.Store(&snap)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}
