package state

import (
	"time"

	"mihomo-launcher/core/config"
)

// Action is a state transition request. Reduce ignores unknown implementations.
type Action interface {
	isAction()
}

// SetLoading marks an operation as started (true) or finished (false).
type SetLoading struct{ Loading bool }

type SetAPIAvailable struct{ Available bool }

type SetRunning struct{ Running bool }

type SetEngineInfo struct{ Info EngineInfo }

type SetLastStatusCheck struct{ At time.Time }

// SetConnectionInfo replaces the listener ports; the running flag and the
// status timestamp stay owned by SetRunning and SetLastStatusCheck.
type SetConnectionInfo struct{ HTTPPort, SocksPort, MixedPort int }

type SetProxyGroups struct {
	Groups []*ProxyGroup
	Nodes  map[string]ProxyNode
}

type UpdateProxySelection struct{ Group, Node string }

type SetLatencyData struct{ Data map[string]int }

type SetMetrics struct{ Metrics Metrics }

type SetTestingDelays struct{ Testing bool }

// InvalidateRuntime clears everything that only exists while the engine runs.
type InvalidateRuntime struct{}

// WhileRunning applies Actions only if the engine is running when the batch
// is committed. Runtime reads that finish after a stop are dropped this way.
type WhileRunning struct{ Actions []Action }

type SetConfigURL struct{ URL string }

type SetConfigText struct{ Text string }

type SetHasConfig struct{ HasConfig bool }

type SetAdvanced struct{ Advanced config.Advanced }

type SetTunMode struct{ Enabled bool }

type SetUnifiedDelay struct{ Enabled bool }

type SetTCPConcurrent struct{ Enabled bool }

type SetEnableSniffer struct{ Enabled bool }

type SetPort struct{ Port int }

type SetSocksPort struct{ Port int }

type SetMixedPort struct{ Port int }

type SetMode struct{ Mode string }

type SetLogLevel struct{ Level string }

// AdvanceWorkflowStep moves the step forward, never back.
type AdvanceWorkflowStep struct{ Step WorkflowStep }

// SetWorkflowStep sets the step unconditionally; used when the engine stops.
type SetWorkflowStep struct{ Step WorkflowStep }

type SetError struct{ Err error }

type IncrementErrorCount struct{}

type ClearError struct{}

type SetAutoRefresh struct{ Enabled bool }

type SetRefreshInterval struct{ Interval time.Duration }

type SetProxyAutoStart struct{ Enabled bool }

type SetDiagnostics struct{ Diagnostics Diagnostics }

type ResetState struct{}

func (SetLoading) isAction()           {}
func (SetAPIAvailable) isAction()      {}
func (SetRunning) isAction()           {}
func (SetEngineInfo) isAction()        {}
func (SetLastStatusCheck) isAction()   {}
func (SetConnectionInfo) isAction()    {}
func (SetProxyGroups) isAction()       {}
func (UpdateProxySelection) isAction() {}
func (SetLatencyData) isAction()       {}
func (SetMetrics) isAction()           {}
func (SetTestingDelays) isAction()     {}
func (InvalidateRuntime) isAction()    {}
func (WhileRunning) isAction()         {}
func (SetConfigURL) isAction()         {}
func (SetConfigText) isAction()        {}
func (SetHasConfig) isAction()         {}
func (SetAdvanced) isAction()          {}
func (SetTunMode) isAction()           {}
func (SetUnifiedDelay) isAction()      {}
func (SetTCPConcurrent) isAction()     {}
func (SetEnableSniffer) isAction()     {}
func (SetPort) isAction()              {}
func (SetSocksPort) isAction()         {}
func (SetMixedPort) isAction()         {}
func (SetMode) isAction()              {}
func (SetLogLevel) isAction()          {}
func (AdvanceWorkflowStep) isAction()  {}
func (SetWorkflowStep) isAction()      {}
func (SetError) isAction()             {}
func (IncrementErrorCount) isAction()  {}
func (ClearError) isAction()           {}
func (SetAutoRefresh) isAction()       {}
func (SetRefreshInterval) isAction()   {}
func (SetProxyAutoStart) isAction()    {}
func (SetDiagnostics) isAction()       {}
func (ResetState) isAction()           {}
