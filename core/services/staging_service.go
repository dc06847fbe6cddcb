package services

import (
	"context"
	"fmt"
	"strings"

	"mihomo-launcher/core/config"
	"mihomo-launcher/core/engine"
	"mihomo-launcher/core/state"
	"mihomo-launcher/internal/debuglog"
	"mihomo-launcher/internal/prefs"
)

// StagingService moves configuration between the provider, the staged text
// and the engine's config file.
type StagingService struct {
	Adapter engine.Adapter
	Prefs   prefs.Store
	// Background runs best-effort side work. Defaults to a plain goroutine.
	Background func(fn func())
}

// NewStagingService creates a StagingService. store may be nil.
func NewStagingService(adapter engine.Adapter, store prefs.Store) *StagingService {
	return &StagingService{
		Adapter:    adapter,
		Prefs:      store,
		Background: func(fn func()) { go fn() },
	}
}

// stage builds the actions that install a decoded configuration as the
// staged text.
func stage(op string, data map[string]any) ([]state.Action, error) {
	if data == nil {
		return nil, fmt.Errorf("%s: %w", op, config.ErrNotObject)
	}
	doc := config.FromMap(data)
	text, err := doc.Canonical()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return []state.Action{
		state.SetConfigText{Text: text},
		state.SetHasConfig{HasConfig: true},
		state.SetAdvanced{Advanced: config.AdvancedFromDocument(doc)},
		state.AdvanceWorkflowStep{Step: state.StepConfigFetched},
	}, nil
}

// FetchFromURL downloads a configuration from the provider and stages it.
// On success the URL is persisted in the background; a failure there is only
// logged.
func (st *StagingService) FetchFromURL(ctx context.Context, url string) ([]state.Action, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("fetch config: %w: provider URL is empty", config.ErrInvalidInput)
	}
	if err := requireAdapter(st.Adapter, "fetch config"); err != nil {
		return nil, err
	}
	res, err := st.Adapter.FetchConfigFromURL(ctx, url)
	if err != nil {
		return nil, unexpected("fetch config", err)
	}
	if !res.Success {
		return nil, engineFailure("fetch config", res.Error)
	}
	actions, err := stage("fetch config", res.Data)
	if err != nil {
		return nil, err
	}
	st.persistURL(url)
	debuglog.InfoLog("FetchFromURL: staged configuration from %s", url)
	return append([]state.Action{state.SetConfigURL{URL: url}}, actions...), nil
}

func (st *StagingService) persistURL(url string) {
	if st.Prefs == nil {
		return
	}
	run := st.Background
	if run == nil {
		run = func(fn func()) { go fn() }
	}
	run(func() {
		if err := st.Prefs.SetVPNURL(url); err != nil {
			debuglog.WarnLog("FetchFromURL: failed to persist provider URL: %v", err)
		}
	})
}

// Load stages the configuration the engine currently has on disk. A missing
// file is not an error; nothing is staged.
func (st *StagingService) Load(ctx context.Context, _ state.State) ([]state.Action, error) {
	if err := requireAdapter(st.Adapter, "load config"); err != nil {
		return nil, err
	}
	res, err := st.Adapter.LoadConfig(ctx)
	if err != nil {
		return nil, unexpected("load config", err)
	}
	if !res.Success {
		return nil, engineFailure("load config", res.Error)
	}
	if res.Data == nil {
		debuglog.DebugLog("Load: no configuration on disk")
		return nil, nil
	}
	return stage("load config", res.Data)
}

// Save merges the advanced settings onto the staged text, hands the result to
// the engine and replaces the staged text with its canonical form.
func (st *StagingService) Save(ctx context.Context, s state.State) ([]state.Action, error) {
	merged, canonical, err := config.Merge(s.Config.Text, s.Config.Advanced)
	if err != nil {
		return nil, fmt.Errorf("save config: %w", err)
	}
	if err := requireAdapter(st.Adapter, "save config"); err != nil {
		return nil, err
	}
	res, err := st.Adapter.SaveConfig(ctx, merged)
	if err != nil {
		return nil, unexpected("save config", err)
	}
	if !res.Success {
		return nil, engineFailure("save config", res.Error)
	}
	debuglog.InfoLog("Save: configuration written")
	return []state.Action{
		state.SetConfigText{Text: canonical},
		state.SetHasConfig{HasConfig: true},
		state.AdvanceWorkflowStep{Step: state.StepConfigValidated},
	}, nil
}
