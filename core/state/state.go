// Package state holds the launcher's single state record and the pure reducer
// that is the only way to change it.
//
// A State is a value. Slices and maps reachable from a published State are
// never mutated; every action that changes them installs a fresh copy.
package state

import (
	"errors"
	"time"

	"mihomo-launcher/core/config"
)

// WorkflowStep is the provisioning stage used for readiness gating.
type WorkflowStep int

const (
	StepProviderSet WorkflowStep = iota + 1
	StepConfigFetched
	StepConfigValidated
	StepStarted
)

func (s WorkflowStep) String() string {
	switch s {
	case StepProviderSet:
		return "provider set"
	case StepConfigFetched:
		return "config fetched"
	case StepConfigValidated:
		return "config validated"
	case StepStarted:
		return "started"
	default:
		return "unknown"
	}
}

// ProxyNode is a single upstream with its last known delay (FailedDelay when unknown).
type ProxyNode struct {
	Name  string
	Delay int
}

// ProxyGroup is a named set of nodes with one active selection. Now is empty
// or one of Proxies.
type ProxyGroup struct {
	Name    string
	Type    string
	Proxies []string
	Now     string
}

// Has reports whether node is a member of the group.
func (g *ProxyGroup) Has(node string) bool {
	for _, p := range g.Proxies {
		if p == node {
			return true
		}
	}
	return false
}

// ConnectionInfo describes the local listeners of the running engine.
type ConnectionInfo struct {
	HTTPPort        int
	SocksPort       int
	MixedPort       int
	IsRunning       bool
	LastStatusCheck time.Time
}

// Uptime is the time elapsed since the last status check while running.
func (c ConnectionInfo) Uptime(now time.Time) time.Duration {
	if !c.IsRunning || c.LastStatusCheck.IsZero() {
		return 0
	}
	return now.Sub(c.LastStatusCheck)
}

// Metrics are recomputed wholesale on every refresh.
type Metrics struct {
	TotalProxies   int
	ActiveProxies  int
	HealthyProxies int
	AvgDelay       int
}

// EngineInfo is what the engine reported about itself on the last status check.
type EngineInfo struct {
	PID     int
	Version string
}

// ErrUnknown stands in when the error count grows without a recorded error.
var ErrUnknown = errors.New("unknown error")

// ErrorState keeps the last error and the number of consecutive failures.
// LastError is non-nil iff Count > 0.
type ErrorState struct {
	LastError error
	Count     int
}

// Message returns the human-readable text of the last error, or "".
func (e ErrorState) Message() string {
	if e.LastError == nil {
		return ""
	}
	return e.LastError.Error()
}

// ConfigState is the staged configuration and the advanced toggles.
type ConfigState struct {
	URL       string
	Text      string
	HasConfig bool
	IsValid   bool
	Advanced  config.Advanced
}

// Diagnostics is the outcome of the last connectivity check.
type Diagnostics struct {
	PublicIP       string
	ProxyReachable bool
	CheckedAt      time.Time
	Error          string
}

// State is the complete coordinator state.
type State struct {
	APIAvailable bool
	Loading      int
	IsRunning    bool
	Engine       EngineInfo
	Connection   ConnectionInfo

	ProxyGroups   []*ProxyGroup
	Nodes         map[string]ProxyNode
	LatencyData   map[string]int
	Metrics       *Metrics
	TestingDelays bool

	Config ConfigState
	Step   WorkflowStep
	Errors ErrorState

	AutoRefresh     bool
	RefreshInterval time.Duration
	ProxyAutoStart  bool

	Diagnostics *Diagnostics
}

// DefaultRefreshInterval is the auto-refresh period of a fresh state.
const DefaultRefreshInterval = 10 * time.Second

// Initial returns a new initial state. Every call allocates its own maps and
// slices so states never alias each other.
func Initial() State {
	return State{
		ProxyGroups:     []*ProxyGroup{},
		Nodes:           map[string]ProxyNode{},
		LatencyData:     map[string]int{},
		Config:          ConfigState{Advanced: config.DefaultAdvanced()},
		Step:            StepProviderSet,
		AutoRefresh:     true,
		RefreshInterval: DefaultRefreshInterval,
	}
}

// IsLoading reports whether any operation is in flight.
func (s State) IsLoading() bool {
	return s.Loading > 0
}

// CanStart reports whether the start command should be offered.
func (s State) CanStart() bool {
	return s.APIAvailable && s.Config.HasConfig && s.Config.IsValid && !s.IsLoading()
}

// CanStop reports whether the stop command should be offered.
func (s State) CanStop() bool {
	return s.APIAvailable && s.IsRunning && !s.IsLoading()
}

// AutoRefreshArmed reports whether the periodic refresh must be running.
func (s State) AutoRefreshArmed() bool {
	return s.AutoRefresh && s.IsRunning && s.APIAvailable
}

// Group returns the group with the given name.
func (s State) Group(name string) (*ProxyGroup, bool) {
	for _, g := range s.ProxyGroups {
		if g.Name == name {
			return g, true
		}
	}
	return nil, false
}

// Quality is the presentation class of a delay.
type Quality int

const (
	QualityFailed Quality = iota
	QualityExcellent
	QualityFair
	QualityPoor
)

func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	default:
		return "failed"
	}
}

// Classify maps a delay in milliseconds to a Quality.
func Classify(delay int) Quality {
	switch {
	case delay <= 0:
		return QualityFailed
	case delay < 100:
		return QualityExcellent
	case delay < 300:
		return QualityFair
	default:
		return QualityPoor
	}
}
