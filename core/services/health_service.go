package services

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"mihomo-launcher/core/engine"
	"mihomo-launcher/core/state"
	"mihomo-launcher/internal/debuglog"
)

// Membership is one (group, node) pair of the current snapshot. A node that
// belongs to several groups yields several memberships.
type Membership struct {
	Group  string
	Node   string
	Active bool // node is the group's current selection
}

// Probe is the delay measured for one membership, or engine.FailedDelay.
type Probe struct {
	Membership
	Delay int
}

// Memberships lists every (group, node) pair in group order. Duplicates
// across groups are kept.
func Memberships(groups []*state.ProxyGroup) []Membership {
	var out []Membership
	for _, g := range groups {
		if g == nil {
			continue
		}
		for _, node := range g.Proxies {
			out = append(out, Membership{Group: g.Name, Node: node, Active: g.Now == node})
		}
	}
	return out
}

// WithDelays pairs memberships with delays looked up by node name. Nodes
// without an entry get engine.FailedDelay.
func WithDelays(ms []Membership, delays map[string]int) []Probe {
	out := make([]Probe, len(ms))
	for i, m := range ms {
		d, ok := delays[m.Node]
		if !ok || d <= 0 {
			d = engine.FailedDelay
		}
		out[i] = Probe{Membership: m, Delay: d}
	}
	return out
}

// ComputeMetrics aggregates probes. Every count is per membership, so a node
// listed in two groups counts twice.
func ComputeMetrics(probes []Probe) state.Metrics {
	m := state.Metrics{TotalProxies: len(probes)}
	sum := 0
	for _, p := range probes {
		if p.Active {
			m.ActiveProxies++
		}
		if p.Delay > 0 {
			m.HealthyProxies++
			sum += p.Delay
		}
	}
	if m.HealthyProxies > 0 {
		m.AvgDelay = int(math.Round(float64(sum) / float64(m.HealthyProxies)))
	}
	return m
}

// LatencyMap turns probes into a node-keyed map. A later probe of the same
// node overwrites an earlier one.
func LatencyMap(probes []Probe) map[string]int {
	out := make(map[string]int, len(probes))
	for _, p := range probes {
		out[p.Node] = p.Delay
	}
	return out
}

// HealthService runs latency probes against the engine.
type HealthService struct {
	Adapter engine.Adapter
}

// NewHealthService creates a HealthService.
func NewHealthService(adapter engine.Adapter) *HealthService {
	return &HealthService{Adapter: adapter}
}

// ProbeNode measures one node. It never fails: errors, refusals, non-positive
// delays and panics all come back as engine.FailedDelay.
func (h *HealthService) ProbeNode(ctx context.Context, node string) (delay int) {
	defer func() {
		if r := recover(); r != nil {
			debuglog.WarnLog("ProbeNode: %v for %s: panic: %v", engine.ErrProbeFailure, node, r)
			delay = engine.FailedDelay
		}
	}()
	res, err := h.Adapter.TestProxyDelay(ctx, node)
	switch {
	case err != nil:
		debuglog.DebugLog("ProbeNode: %v", fmt.Errorf("%w for %s: %w", engine.ErrProbeFailure, node, err))
		return engine.FailedDelay
	case !res.Success:
		debuglog.DebugLog("ProbeNode: %v for %s: %s", engine.ErrProbeFailure, node, res.Error)
		return engine.FailedDelay
	case res.Delay <= 0:
		return engine.FailedDelay
	}
	return res.Delay
}

// ProbeAll issues one probe per membership, all at once, and returns after
// every probe has settled. Results keep the order of ms.
func (h *HealthService) ProbeAll(ctx context.Context, ms []Membership) []Probe {
	probes := make([]Probe, len(ms))
	var g errgroup.Group
	for i, m := range ms {
		g.Go(func() error {
			probes[i] = Probe{Membership: m, Delay: h.ProbeNode(ctx, m.Node)}
			return nil
		})
	}
	_ = g.Wait()
	return probes
}

// TestAll probes every membership of the current groups and replaces the
// latency map and metrics.
func (h *HealthService) TestAll(ctx context.Context, s state.State) ([]state.Action, error) {
	if err := requireAdapter(h.Adapter, "test delays"); err != nil {
		return nil, err
	}
	probes := h.ProbeAll(ctx, Memberships(s.ProxyGroups))
	debuglog.DebugLog("TestAll: settled %d probes", len(probes))
	return []state.Action{
		state.SetLatencyData{Data: LatencyMap(probes)},
		state.SetMetrics{Metrics: ComputeMetrics(probes)},
	}, nil
}

// Metrics recomputes metrics for the current groups without probing. Fresh
// latency data wins over the delays remembered by the engine.
func (h *HealthService) Metrics(_ context.Context, s state.State) ([]state.Action, error) {
	if err := requireAdapter(h.Adapter, "refresh metrics"); err != nil {
		return nil, err
	}
	delays := make(map[string]int, len(s.Nodes)+len(s.LatencyData))
	for name, n := range s.Nodes {
		delays[name] = n.Delay
	}
	for name, d := range s.LatencyData {
		delays[name] = d
	}
	probes := WithDelays(Memberships(s.ProxyGroups), delays)
	return []state.Action{state.SetMetrics{Metrics: ComputeMetrics(probes)}}, nil
}
