package state

import (
	"maps"

	"mihomo-launcher/core/config"
)

// Reduce returns the state that results from applying a to s. It never
// mutates s or anything reachable from it. Unknown actions return s unchanged.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case SetLoading:
		if a.Loading {
			s.Loading++
		} else if s.Loading > 0 {
			s.Loading--
		}
	case SetAPIAvailable:
		s.APIAvailable = a.Available
	case SetRunning:
		s.IsRunning = a.Running
		s.Connection.IsRunning = a.Running
	case SetEngineInfo:
		s.Engine = a.Info
	case SetLastStatusCheck:
		s.Connection.LastStatusCheck = a.At
	case SetConnectionInfo:
		s.Connection.HTTPPort = a.HTTPPort
		s.Connection.SocksPort = a.SocksPort
		s.Connection.MixedPort = a.MixedPort
	case SetProxyGroups:
		s.ProxyGroups = cloneGroups(a.Groups)
		s.Nodes = maps.Clone(a.Nodes)
		if s.Nodes == nil {
			s.Nodes = map[string]ProxyNode{}
		}
	case UpdateProxySelection:
		s.ProxyGroups = selectInGroups(s.ProxyGroups, a.Group, a.Node)
	case SetLatencyData:
		s.LatencyData = maps.Clone(a.Data)
		if s.LatencyData == nil {
			s.LatencyData = map[string]int{}
		}
	case SetMetrics:
		m := a.Metrics
		s.Metrics = &m
	case SetTestingDelays:
		s.TestingDelays = a.Testing
	case InvalidateRuntime:
		s.ProxyGroups = []*ProxyGroup{}
		s.Nodes = map[string]ProxyNode{}
		s.LatencyData = map[string]int{}
		s.Metrics = nil
		s.TestingDelays = false
	case WhileRunning:
		if s.IsRunning {
			s = ReduceAll(s, a.Actions...)
		}
	case SetConfigURL:
		s.Config.URL = a.URL
	case SetConfigText:
		s.Config.Text = a.Text
		s.Config.IsValid = config.IsValid(a.Text)
	case SetHasConfig:
		s.Config.HasConfig = a.HasConfig
	case SetAdvanced:
		s.Config.Advanced = a.Advanced
	case SetTunMode:
		s.Config.Advanced.TunMode = a.Enabled
	case SetUnifiedDelay:
		s.Config.Advanced.UnifiedDelay = a.Enabled
	case SetTCPConcurrent:
		s.Config.Advanced.TCPConcurrent = a.Enabled
	case SetEnableSniffer:
		s.Config.Advanced.EnableSniffer = a.Enabled
	case SetPort:
		s.Config.Advanced.Port = a.Port
	case SetSocksPort:
		s.Config.Advanced.SocksPort = a.Port
	case SetMixedPort:
		s.Config.Advanced.MixedPort = a.Port
	case SetMode:
		s.Config.Advanced.Mode = a.Mode
	case SetLogLevel:
		s.Config.Advanced.LogLevel = a.Level
	case AdvanceWorkflowStep:
		if validStep(a.Step) && a.Step > s.Step {
			s.Step = a.Step
		}
	case SetWorkflowStep:
		if validStep(a.Step) {
			s.Step = a.Step
		}
	case SetError:
		if a.Err == nil {
			return s
		}
		s.Errors = ErrorState{LastError: a.Err, Count: s.Errors.Count + 1}
	case IncrementErrorCount:
		s.Errors.Count++
		if s.Errors.LastError == nil {
			s.Errors.LastError = ErrUnknown
		}
	case ClearError:
		s.Errors = ErrorState{}
	case SetAutoRefresh:
		s.AutoRefresh = a.Enabled
	case SetRefreshInterval:
		if a.Interval > 0 {
			s.RefreshInterval = a.Interval
		}
	case SetProxyAutoStart:
		s.ProxyAutoStart = a.Enabled
	case SetDiagnostics:
		d := a.Diagnostics
		s.Diagnostics = &d
	case ResetState:
		available := s.APIAvailable
		s = Initial()
		s.APIAvailable = available
	}
	return s
}

// ReduceAll folds actions over s in order.
func ReduceAll(s State, actions ...Action) State {
	for _, a := range actions {
		s = Reduce(s, a)
	}
	return s
}

func validStep(step WorkflowStep) bool {
	return step >= StepProviderSet && step <= StepStarted
}

func cloneGroups(groups []*ProxyGroup) []*ProxyGroup {
	out := make([]*ProxyGroup, 0, len(groups))
	for _, g := range groups {
		if g == nil {
			continue
		}
		cp := *g
		cp.Proxies = append([]string(nil), g.Proxies...)
		out = append(out, &cp)
	}
	return out
}

// selectInGroups returns groups with only the named group's Now replaced.
// Other groups keep their identity. Unknown groups and non-members leave the
// slice as it was.
func selectInGroups(groups []*ProxyGroup, group, node string) []*ProxyGroup {
	for i, g := range groups {
		if g.Name != group {
			continue
		}
		if !g.Has(node) || g.Now == node {
			return groups
		}
		out := make([]*ProxyGroup, len(groups))
		copy(out, groups)
		patched := *g
		patched.Now = node
		out[i] = &patched
		return out
	}
	return groups
}
