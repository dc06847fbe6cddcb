// Package engine defines the contract between the launcher and the local proxy
// engine, and provides LocalAdapter, the implementation driving a mihomo binary
// through its process and external controller.
package engine

import (
	"context"
	"errors"
)

var (
	// ErrAdapterUnavailable is returned when no adapter is wired in; every
	// operation short-circuits with it before touching the engine.
	ErrAdapterUnavailable = errors.New("proxy engine adapter is unavailable")
	// ErrEngineFailure wraps a result the engine reported as unsuccessful.
	ErrEngineFailure = errors.New("proxy engine reported a failure")
	// ErrProbeFailure marks a single failed delay probe. It never leaves the health engine.
	ErrProbeFailure = errors.New("delay probe failed")
	// ErrUnexpected wraps errors raised by the adapter itself and recovered panics.
	ErrUnexpected = errors.New("unexpected error")
)

// FailedDelay is the sentinel delay for failed or unknown probes.
const FailedDelay = -1

// Status is the engine status as reported by the adapter.
type Status struct {
	IsRunning bool
	PID       int
	Version   string
}

// Result is the outcome of an engine command.
type Result struct {
	Success bool
	Error   string
}

// ConfigResult carries a decoded configuration mapping.
type ConfigResult struct {
	Success bool
	Data    map[string]any
	Error   string
}

// DelayHistory is one delay measurement the engine remembers for a proxy.
type DelayHistory struct {
	Time  string `json:"time"`
	Delay int    `json:"delay"`
}

// ProxyEntry is one entry of the engine's proxy table. Groups carry All (or
// Proxies) and Now; plain nodes carry only Type and History.
type ProxyEntry struct {
	Name    string         `json:"name"`
	Type    string         `json:"type"`
	Now     string         `json:"now,omitempty"`
	All     []string       `json:"all,omitempty"`
	Proxies []string       `json:"proxies,omitempty"`
	History []DelayHistory `json:"history,omitempty"`
}

// Members returns the group members, preferring All over Proxies.
func (p ProxyEntry) Members() []string {
	if len(p.All) > 0 {
		return p.All
	}
	return p.Proxies
}

// IsGroup reports whether the entry lists members.
func (p ProxyEntry) IsGroup() bool {
	return p.All != nil || p.Proxies != nil
}

// LastDelay returns the newest remembered delay, or FailedDelay.
func (p ProxyEntry) LastDelay() int {
	if len(p.History) == 0 {
		return FailedDelay
	}
	d := p.History[len(p.History)-1].Delay
	if d <= 0 {
		return FailedDelay
	}
	return d
}

// ProxiesResult is the engine's proxy table keyed by name.
type ProxiesResult struct {
	Success bool
	Proxies map[string]ProxyEntry
	Error   string
}

// DelayResult is the outcome of one delay probe in milliseconds.
type DelayResult struct {
	Success bool
	Delay   int
	Error   string
}

// Adapter is the bridge to the proxy engine. A non-nil error means the call
// itself failed; a result with Success=false means the engine refused.
type Adapter interface {
	Status(ctx context.Context) (Status, error)
	Start(ctx context.Context) (Result, error)
	Stop(ctx context.Context) (Result, error)
	LoadConfig(ctx context.Context) (ConfigResult, error)
	SaveConfig(ctx context.Context, cfg map[string]any) (Result, error)
	FetchConfigFromURL(ctx context.Context, url string) (ConfigResult, error)
	GetProxies(ctx context.Context) (ProxiesResult, error)
	SelectProxy(ctx context.Context, group, node string) (Result, error)
	TestProxyDelay(ctx context.Context, node string) (DelayResult, error)
}
