package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"mihomo-launcher/core/engine"
	"mihomo-launcher/core/state"
)

// operation computes the actions of one command from the state it started on.
type operation func(ctx context.Context, s state.State) ([]state.Action, error)

// execute runs op as one command. Errors and panics never escape: they are
// recorded in the error state, and a success clears it. Results are dropped
// when ctx or the coordinator ends first. It reports whether op succeeded.
func (c *Coordinator) execute(parent context.Context, name string, loading bool, op operation) (ok bool) {
	if !c.track() {
		return false
	}
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	log := c.log.With().Str("op", name).Str("id", uuid.NewString()[:8]).Logger()
	if loading {
		c.dispatch(c.ctx, state.SetLoading{Loading: true})
		defer c.dispatch(c.ctx, state.SetLoading{Loading: false})
	}

	start := time.Now()
	actions, err := c.safely(ctx, op)
	if ctx.Err() != nil {
		log.Debug().Err(ctx.Err()).Msg("discarded")
		return false
	}
	if err != nil {
		log.Warn().Err(err).Dur("took", time.Since(start)).Msg("failed")
		c.dispatch(ctx, state.SetError{Err: err})
		return false
	}
	log.Debug().Int("actions", len(actions)).Dur("took", time.Since(start)).Msg("done")
	c.dispatch(ctx, append(actions, state.ClearError{})...)
	return true
}

func (c *Coordinator) safely(ctx context.Context, op operation) (actions []state.Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			actions = nil
			err = fmt.Errorf("%w: panic: %v", engine.ErrUnexpected, r)
		}
	}()
	return op(ctx, c.Snapshot())
}

// whileRunning makes op's result conditional on the engine still running
// at commit time.
func whileRunning(op operation) operation {
	return func(ctx context.Context, s state.State) ([]state.Action, error) {
		actions, err := op(ctx, s)
		if err != nil || len(actions) == 0 {
			return actions, err
		}
		return []state.Action{state.WhileRunning{Actions: actions}}, nil
	}
}

// StartProxy starts the engine and, once it runs, refreshes status, groups
// and metrics.
func (c *Coordinator) StartProxy(ctx context.Context) {
	if !c.execute(ctx, "start", true, c.lifecycle.Start) {
		return
	}
	c.RefreshStatus(ctx)
	c.RefreshProxyGroups(ctx)
	c.RefreshMetrics(ctx)
}

// StopProxy stops the engine.
func (c *Coordinator) StopProxy(ctx context.Context) {
	c.execute(ctx, "stop", true, c.lifecycle.Stop)
}

// SelectProxy switches group to node once the engine confirms it.
func (c *Coordinator) SelectProxy(ctx context.Context, group, node string) {
	c.execute(ctx, "select", false, whileRunning(func(ctx context.Context, _ state.State) ([]state.Action, error) {
		return c.groups.Select(ctx, group, node)
	}))
}

// TestAllDelays probes every node of every group and replaces latency data
// and metrics. Nothing is probed while the engine is stopped.
func (c *Coordinator) TestAllDelays(ctx context.Context) {
	if c.ctx.Err() != nil || !c.Snapshot().IsRunning {
		return
	}
	c.dispatch(ctx, state.SetTestingDelays{Testing: true})
	defer c.dispatch(c.ctx, state.SetTestingDelays{Testing: false})
	c.execute(ctx, "test-delays", false, whileRunning(c.health.TestAll))
}

// RefreshStatus reads the engine status.
func (c *Coordinator) RefreshStatus(ctx context.Context) {
	c.execute(ctx, "refresh-status", false, c.lifecycle.Status)
}

// RefreshConnectionInfo reads the listener ports.
func (c *Coordinator) RefreshConnectionInfo(ctx context.Context) {
	c.execute(ctx, "refresh-connection", false, c.lifecycle.ConnectionInfo)
}

// RefreshProxyGroups replaces the group snapshot. Nothing is fetched while
// the engine is stopped.
func (c *Coordinator) RefreshProxyGroups(ctx context.Context) {
	if !c.Snapshot().IsRunning {
		return
	}
	c.execute(ctx, "refresh-groups", false, whileRunning(c.groups.Refresh))
}

// RefreshMetrics recomputes metrics from the current snapshot.
func (c *Coordinator) RefreshMetrics(ctx context.Context) {
	if !c.Snapshot().IsRunning {
		return
	}
	c.execute(ctx, "refresh-metrics", false, whileRunning(c.health.Metrics))
}

// RefreshAll runs status, connection info, groups and metrics in order.
func (c *Coordinator) RefreshAll(ctx context.Context) {
	c.RefreshStatus(ctx)
	c.RefreshConnectionInfo(ctx)
	c.RefreshProxyGroups(ctx)
	c.RefreshMetrics(ctx)
}

// FetchConfigFromURL downloads and stages the provider's configuration.
func (c *Coordinator) FetchConfigFromURL(ctx context.Context, url string) {
	c.execute(ctx, "fetch-config", true, func(ctx context.Context, _ state.State) ([]state.Action, error) {
		return c.staging.FetchFromURL(ctx, url)
	})
}

// LoadConfig stages the configuration currently on disk.
func (c *Coordinator) LoadConfig(ctx context.Context) {
	c.execute(ctx, "load-config", true, c.staging.Load)
}

// SaveConfig merges the advanced settings and writes the configuration.
func (c *Coordinator) SaveConfig(ctx context.Context) {
	c.execute(ctx, "save-config", true, c.staging.Save)
}

// RefreshDiagnostics checks the public address and the local SOCKS listener.
// Failures land in the diagnostics record, not in the error state.
func (c *Coordinator) RefreshDiagnostics(ctx context.Context) {
	c.execute(ctx, "diagnostics", false, func(ctx context.Context, s state.State) ([]state.Action, error) {
		if c.diag == nil {
			return nil, errors.New("diagnostics are not configured")
		}
		r := c.diag.Check(ctx, proxyAddr(s))
		d := state.Diagnostics{PublicIP: r.PublicIP, ProxyReachable: r.ProxyReachable, CheckedAt: r.CheckedAt}
		if r.Err != nil {
			d.Error = r.Err.Error()
		}
		return []state.Action{state.SetDiagnostics{Diagnostics: d}}, nil
	})
}

// proxyAddr picks the local listener that speaks SOCKS: mixed first, then socks.
func proxyAddr(s state.State) string {
	if !s.IsRunning {
		return ""
	}
	for _, p := range []int{s.Connection.MixedPort, s.Connection.SocksPort} {
		if p > 0 {
			return net.JoinHostPort("127.0.0.1", strconv.Itoa(p))
		}
	}
	return ""
}

// Init restores persisted preferences, stages the on-disk configuration and
// reads the engine status. When auto start is on and the engine can start,
// it is started.
func (c *Coordinator) Init(ctx context.Context) {
	if c.prefs != nil {
		if url, err := c.prefs.VPNURL(); err != nil {
			c.log.Warn().Err(err).Msg("failed to read provider URL")
		} else if url != "" {
			c.dispatch(ctx, state.SetConfigURL{URL: url})
		}
		if auto, err := c.prefs.ProxyAutoStart(); err != nil {
			c.log.Warn().Err(err).Msg("failed to read auto start flag")
		} else {
			c.dispatch(ctx, state.SetProxyAutoStart{Enabled: auto})
		}
	}
	c.LoadConfig(ctx)
	c.RefreshStatus(ctx)

	s := c.Snapshot()
	switch {
	case s.IsRunning:
		c.dispatch(ctx, state.AdvanceWorkflowStep{Step: state.StepStarted})
		c.RefreshAll(ctx)
	case s.ProxyAutoStart && s.CanStart():
		c.log.Info().Msg("auto starting engine")
		c.StartProxy(ctx)
	}
}
