package services

import (
	"context"
	"fmt"
	"time"

	"mihomo-launcher/core/config"
	"mihomo-launcher/core/engine"
	"mihomo-launcher/core/state"
	"mihomo-launcher/internal/debuglog"
)

// LifecycleService starts and stops the engine and reports its status.
// Start and stop are single attempts; nothing here retries.
type LifecycleService struct {
	Adapter engine.Adapter
	Now     func() time.Time
}

// NewLifecycleService creates a LifecycleService using the wall clock.
func NewLifecycleService(adapter engine.Adapter) *LifecycleService {
	return &LifecycleService{Adapter: adapter, Now: time.Now}
}

// Status reads the engine status.
func (l *LifecycleService) Status(ctx context.Context, _ state.State) ([]state.Action, error) {
	if err := requireAdapter(l.Adapter, "status"); err != nil {
		return nil, err
	}
	st, err := l.Adapter.Status(ctx)
	if err != nil {
		return nil, unexpected("status", err)
	}
	return []state.Action{
		state.SetRunning{Running: st.IsRunning},
		state.SetEngineInfo{Info: state.EngineInfo{PID: st.PID, Version: st.Version}},
		state.SetLastStatusCheck{At: l.Now()},
	}, nil
}

// Start launches the engine. Configuration readiness is checked on every
// call before anything else, including adapter availability.
func (l *LifecycleService) Start(ctx context.Context, s state.State) ([]state.Action, error) {
	if !s.Config.HasConfig || !s.Config.IsValid {
		return nil, fmt.Errorf("start: %w", config.ErrConfigNotReady)
	}
	if err := requireAdapter(l.Adapter, "start"); err != nil {
		return nil, err
	}
	res, err := l.Adapter.Start(ctx)
	if err != nil {
		return nil, unexpected("start", err)
	}
	if !res.Success {
		return nil, engineFailure("start", res.Error)
	}
	debuglog.InfoLog("Start: engine started")
	return []state.Action{
		state.SetRunning{Running: true},
		state.SetLastStatusCheck{At: l.Now()},
		state.AdvanceWorkflowStep{Step: state.StepStarted},
	}, nil
}

// Stop stops the engine and drops everything that only exists while it runs.
func (l *LifecycleService) Stop(ctx context.Context, _ state.State) ([]state.Action, error) {
	if err := requireAdapter(l.Adapter, "stop"); err != nil {
		return nil, err
	}
	res, err := l.Adapter.Stop(ctx)
	if err != nil {
		return nil, unexpected("stop", err)
	}
	if !res.Success {
		return nil, engineFailure("stop", res.Error)
	}
	debuglog.InfoLog("Stop: engine stopped")
	return []state.Action{
		state.SetRunning{Running: false},
		state.SetWorkflowStep{Step: state.StepConfigValidated},
		state.InvalidateRuntime{},
	}, nil
}

// ConnectionInfo reads the listener ports from the engine's on-disk
// configuration. Ports the file does not set, or sets out of range, fall back
// to the staged advanced settings.
func (l *LifecycleService) ConnectionInfo(ctx context.Context, s state.State) ([]state.Action, error) {
	if err := requireAdapter(l.Adapter, "connection info"); err != nil {
		return nil, err
	}
	adv := s.Config.Advanced
	httpPort, socks, mixed := adv.Port, adv.SocksPort, adv.MixedPort

	res, err := l.Adapter.LoadConfig(ctx)
	if err != nil {
		return nil, unexpected("connection info", err)
	}
	if res.Success && res.Data != nil {
		doc := config.FromMap(res.Data)
		httpPort = portOr(doc.Port, httpPort)
		socks = portOr(doc.SocksPort, socks)
		mixed = portOr(doc.MixedPort, mixed)
	} else if !res.Success {
		debuglog.DebugLog("ConnectionInfo: using staged ports: %s", res.Error)
	}
	return []state.Action{state.SetConnectionInfo{HTTPPort: httpPort, SocksPort: socks, MixedPort: mixed}}, nil
}

func portOr(p *int, fallback int) int {
	if p != nil && config.ValidPort(*p) {
		return *p
	}
	return fallback
}
