package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mihomo-launcher/api"
	"mihomo-launcher/core/config"
	"mihomo-launcher/internal/debuglog"
	"mihomo-launcher/internal/platform"
	"mihomo-launcher/internal/process"
)

const (
	// restartAttempts is the maximum number of consecutive crash restart attempts
	restartAttempts = 3

	// stabilityThreshold is how long the engine must run before the crash
	// counter is reset
	stabilityThreshold = 180 * time.Second

	// gracefulShutdownTimeout is the maximum time to wait for graceful
	// shutdown before forcing kill
	gracefulShutdownTimeout = 2 * time.Second

	defaultRestartDelay = 2 * time.Second
	defaultReadyTimeout = 10 * time.Second
	readyPollInterval   = 200 * time.Millisecond
	statusTimeout       = 2 * time.Second
)

// LocalOptions locate the engine binary and its files.
type LocalOptions struct {
	BinaryPath string
	WorkDir    string
	ConfigPath string
	LogPath    string

	// Controller and Secret are used when the configuration file does not
	// name an external controller.
	Controller string
	Secret     string

	DelayURL     string
	DelayTimeout time.Duration
	ReadyTimeout time.Duration
}

// run is one engine process. exited is closed once it has been reaped.
type run struct {
	cmd     *exec.Cmd
	logFile *os.File
	exited  chan struct{}
}

// LocalAdapter drives a mihomo binary on this machine: it owns the child
// process, restarts it after crashes and talks to its external controller.
type LocalAdapter struct {
	opts    LocalOptions
	fetcher *Fetcher
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	restartDelay       time.Duration
	stabilityThreshold time.Duration

	mu            sync.Mutex
	current       *run
	stoppedByUser bool
	crashAttempts int

	client       *api.Client
	clientAddr   string
	clientSecret string
}

// NewLocalAdapter returns an adapter for the engine described by opts.
func NewLocalAdapter(opts LocalOptions) *LocalAdapter {
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Dir(opts.ConfigPath)
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalAdapter{
		opts:               opts,
		fetcher:            NewFetcher(),
		log:                debuglog.WithComponent("engine"),
		ctx:                ctx,
		cancel:             cancel,
		restartDelay:       defaultRestartDelay,
		stabilityThreshold: stabilityThreshold,
	}
}

// Close cancels pending restarts. The engine process is left alone.
func (a *LocalAdapter) Close() {
	a.cancel()
}

// apiClient returns a controller client for the address currently configured.
func (a *LocalAdapter) apiClient() (*api.Client, error) {
	addr, secret, err := api.LoadControllerConfig(a.opts.ConfigPath)
	if err != nil {
		if a.opts.Controller == "" {
			return nil, err
		}
		addr, secret = a.opts.Controller, a.opts.Secret
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.client
	if c == nil || a.clientAddr != addr || a.clientSecret != secret {
		c = api.NewClient(addr, secret)
		if a.opts.DelayURL != "" {
			c.DelayURL = a.opts.DelayURL
		}
		if a.opts.DelayTimeout > 0 {
			c.DelayTimeout = a.opts.DelayTimeout
		}
		a.client, a.clientAddr, a.clientSecret = c, addr, secret
	}
	return c, nil
}

func (a *LocalAdapter) trackedPID() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return 0
	}
	return a.current.cmd.Process.Pid
}

// externalPID finds an engine this adapter did not start.
func (a *LocalAdapter) externalPID() int {
	p, found, err := process.FindByName(platform.GetProcessNameForCheck())
	if err != nil {
		a.log.Debug().Err(err).Msg("process lookup failed")
		return 0
	}
	if !found {
		return 0
	}
	return p.PID
}

// Status reports whether an engine runs and, when its controller answers,
// its version.
func (a *LocalAdapter) Status(ctx context.Context) (Status, error) {
	pid := a.trackedPID()
	if pid == 0 {
		pid = a.externalPID()
	}
	if pid == 0 {
		return Status{}, nil
	}
	st := Status{IsRunning: true, PID: pid}
	if c, err := a.apiClient(); err == nil {
		vctx, cancel := context.WithTimeout(ctx, statusTimeout)
		defer cancel()
		if v, err := c.Version(vctx); err == nil {
			st.Version = v
		} else {
			a.log.Debug().Err(err).Msg("version query failed")
		}
	}
	return st, nil
}

// Start launches the engine and waits for its controller to answer.
func (a *LocalAdapter) Start(ctx context.Context) (Result, error) {
	if pid := a.trackedPID(); pid != 0 {
		a.log.Info().Int("pid", pid).Msg("engine already running")
		return Result{Success: true}, nil
	}
	if _, err := os.Stat(a.opts.BinaryPath); err != nil {
		return Result{Error: fmt.Sprintf("engine binary not found at %s", a.opts.BinaryPath)}, nil
	}
	if pid := a.externalPID(); pid != 0 {
		return Result{Error: fmt.Sprintf("another mihomo process is already running (PID %d)", pid)}, nil
	}

	a.mu.Lock()
	a.stoppedByUser = false
	r, err := a.startLocked()
	a.mu.Unlock()
	if err != nil {
		return Result{Error: err.Error()}, nil
	}

	if err := a.waitReady(ctx, r); err != nil {
		a.log.Warn().Err(err).Msg("engine did not become ready")
		_, _ = a.Stop(context.Background())
		return Result{Error: err.Error()}, nil
	}
	return Result{Success: true}, nil
}

// startLocked spawns the process. a.mu must be held.
func (a *LocalAdapter) startLocked() (*run, error) {
	cmd := exec.Command(a.opts.BinaryPath, "-d", a.opts.WorkDir, "-f", a.opts.ConfigPath)
	platform.PrepareCommand(cmd)
	cmd.Dir = a.opts.WorkDir

	var logFile *os.File
	if a.opts.LogPath != "" {
		f, err := debuglog.OpenFileWithRotation(a.opts.LogPath)
		if err != nil {
			a.log.Warn().Err(err).Msg("engine log file not available, output will not be logged")
		} else {
			logFile = f
			cmd.Stdout = f
			cmd.Stderr = f
		}
	}

	if err := cmd.Start(); err != nil {
		debuglog.CloseWithLog("engine log", logFile)
		return nil, fmt.Errorf("failed to start engine process: %w", err)
	}
	r := &run{cmd: cmd, logFile: logFile, exited: make(chan struct{})}
	a.current = r
	a.log.Info().Int("pid", cmd.Process.Pid).Msg("engine started")
	go a.monitor(r)
	return r, nil
}

// waitReady polls the controller until it answers. Without a controller
// there is nothing to wait for.
func (a *LocalAdapter) waitReady(ctx context.Context, r *run) error {
	c, err := a.apiClient()
	if err != nil {
		a.log.Debug().Err(err).Msg("no controller to wait for")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.opts.ReadyTimeout)
	defer cancel()
	t := time.NewTicker(readyPollInterval)
	defer t.Stop()
	for {
		if _, err := c.Version(ctx); err == nil {
			return nil
		}
		select {
		case <-r.exited:
			return errors.New("engine exited during startup, check its log for details")
		case <-ctx.Done():
			return fmt.Errorf("controller at %s did not answer: %w", c.BaseURL, ctx.Err())
		case <-t.C:
		}
	}
}

// monitor reaps the process and restarts it after a crash.
func (a *LocalAdapter) monitor(r *run) {
	err := r.cmd.Wait()
	pid := r.cmd.Process.Pid
	debuglog.CloseWithLog("engine log", r.logFile)
	close(r.exited)

	a.mu.Lock()
	defer a.mu.Unlock()

	// A newer run owns the adapter now.
	if a.current != r {
		return
	}
	a.current = nil

	if a.stoppedByUser {
		a.log.Info().Int("pid", pid).Msg("engine exited as requested")
		a.crashAttempts = 0
		a.stoppedByUser = false
		return
	}
	if err == nil {
		a.log.Info().Int("pid", pid).Msg("engine exited gracefully")
		a.crashAttempts = 0
		return
	}

	a.crashAttempts++
	if a.crashAttempts > restartAttempts {
		a.log.Error().Err(err).Int("attempts", restartAttempts).Msg("engine keeps crashing, giving up")
		a.crashAttempts = 0
		return
	}
	a.log.Warn().Err(err).Int("attempt", a.crashAttempts).Int("max", restartAttempts).Msg("engine crashed, restarting")

	a.mu.Unlock()
	select {
	case <-a.ctx.Done():
		a.mu.Lock()
		return
	case <-time.After(a.restartDelay):
	}
	a.mu.Lock()

	if a.current != nil || a.stoppedByUser {
		return
	}
	next, err := a.startLocked()
	if err != nil {
		a.log.Error().Err(err).Int("attempt", a.crashAttempts).Msg("restart failed")
		return
	}
	attempts := a.crashAttempts
	go a.resetWhenStable(next, attempts)
}

func (a *LocalAdapter) resetWhenStable(r *run, attempts int) {
	select {
	case <-a.ctx.Done():
	case <-r.exited:
	case <-time.After(a.stabilityThreshold):
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.current == r && a.crashAttempts == attempts {
			a.log.Debug().Dur("stable_for", a.stabilityThreshold).Msg("resetting crash counter")
			a.crashAttempts = 0
		}
	}
}

// Stop interrupts the engine and kills it if it lingers. An engine started
// outside the launcher is killed outright.
func (a *LocalAdapter) Stop(ctx context.Context) (Result, error) {
	a.mu.Lock()
	a.crashAttempts = 0
	r := a.current
	if r != nil {
		a.stoppedByUser = true
	}
	a.mu.Unlock()

	if r == nil {
		if pid := a.externalPID(); pid != 0 {
			a.log.Info().Int("pid", pid).Msg("killing engine started outside the launcher")
			if err := platform.KillProcessByPID(pid); err != nil {
				return Result{Error: fmt.Sprintf("failed to kill PID %d: %v", pid, err)}, nil
			}
		}
		return Result{Success: true}, nil
	}

	a.log.Info().Msg("attempting graceful shutdown")
	if err := platform.Interrupt(r.cmd.Process); err != nil {
		a.log.Warn().Err(err).Msg("graceful signal failed, forcing kill")
		if err := r.cmd.Process.Kill(); err != nil {
			a.log.Error().Err(err).Msg("failed to kill engine process")
		}
	}

	select {
	case <-r.exited:
		return Result{Success: true}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(gracefulShutdownTimeout):
	}

	pid := r.cmd.Process.Pid
	if _, found, err := process.FindProcess(pid); err == nil && found {
		a.log.Debug().Int("pid", pid).Msg("still running after timeout, forcing kill")
		_ = platform.KillProcessByPID(pid)
	}
	_ = r.cmd.Process.Kill()

	select {
	case <-r.exited:
		return Result{Success: true}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(gracefulShutdownTimeout):
		return Result{Error: fmt.Sprintf("engine process %d did not exit", pid)}, nil
	}
}

// LoadConfig reads the configuration file. A missing file is not an error:
// the result carries no data.
func (a *LocalAdapter) LoadConfig(context.Context) (ConfigResult, error) {
	data, err := os.ReadFile(a.opts.ConfigPath)
	if errors.Is(err, os.ErrNotExist) {
		return ConfigResult{Success: true}, nil
	}
	if err != nil {
		return ConfigResult{Error: fmt.Sprintf("failed to read %s: %v", a.opts.ConfigPath, err)}, nil
	}
	doc, err := config.Parse(string(data))
	if err != nil {
		return ConfigResult{Error: err.Error()}, nil
	}
	return ConfigResult{Success: true, Data: doc.Map()}, nil
}

// SaveConfig writes cfg as canonical YAML and, when the engine runs, asks it
// to reload.
func (a *LocalAdapter) SaveConfig(ctx context.Context, cfg map[string]any) (Result, error) {
	text, err := config.Canonical(cfg)
	if err != nil {
		return Result{Error: err.Error()}, nil
	}
	if err := writeFileAtomic(a.opts.ConfigPath, []byte(text)); err != nil {
		return Result{Error: err.Error()}, nil
	}
	a.log.Info().Str("path", a.opts.ConfigPath).Msg("configuration saved")

	if a.trackedPID() == 0 {
		return Result{Success: true}, nil
	}
	c, err := a.apiClient()
	if err != nil {
		return Result{Success: true}, nil
	}
	abs, err := filepath.Abs(a.opts.ConfigPath)
	if err != nil {
		abs = a.opts.ConfigPath
	}
	if err := c.ReloadConfig(ctx, abs); err != nil {
		return Result{Error: fmt.Sprintf("configuration saved but reload failed: %v", err)}, nil
	}
	return Result{Success: true}, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// FetchConfigFromURL downloads a provider configuration and decodes it.
func (a *LocalAdapter) FetchConfigFromURL(ctx context.Context, url string) (ConfigResult, error) {
	body, err := a.fetcher.Fetch(ctx, url)
	if err != nil {
		return ConfigResult{Error: err.Error()}, nil
	}
	doc, err := config.Parse(string(body))
	if err != nil {
		decoded, ok := decodeBase64(body)
		if !ok {
			return ConfigResult{Error: fmt.Sprintf("provider did not return a configuration: %v", err)}, nil
		}
		if doc, err = config.Parse(string(decoded)); err != nil {
			return ConfigResult{Error: fmt.Sprintf("provider did not return a configuration: %v", err)}, nil
		}
	}
	return ConfigResult{Success: true, Data: doc.Map()}, nil
}

// GetProxies returns the controller's proxy table.
func (a *LocalAdapter) GetProxies(ctx context.Context) (ProxiesResult, error) {
	c, err := a.apiClient()
	if err != nil {
		return ProxiesResult{Error: err.Error()}, nil
	}
	proxies, err := c.Proxies(ctx)
	if err != nil {
		return ProxiesResult{Error: err.Error()}, nil
	}
	out := make(map[string]ProxyEntry, len(proxies))
	for key, p := range proxies {
		e := ProxyEntry{Name: p.Name, Type: p.Type, Now: p.Now, All: p.All}
		for _, h := range p.History {
			e.History = append(e.History, DelayHistory{Time: h.Time, Delay: h.Delay})
		}
		out[key] = e
	}
	return ProxiesResult{Success: true, Proxies: out}, nil
}

// SelectProxy switches group to node through the controller.
func (a *LocalAdapter) SelectProxy(ctx context.Context, group, node string) (Result, error) {
	c, err := a.apiClient()
	if err != nil {
		return Result{Error: err.Error()}, nil
	}
	if err := c.SwitchProxy(ctx, group, node); err != nil {
		return Result{Error: err.Error()}, nil
	}
	return Result{Success: true}, nil
}

// TestProxyDelay asks the controller to probe node.
func (a *LocalAdapter) TestProxyDelay(ctx context.Context, node string) (DelayResult, error) {
	c, err := a.apiClient()
	if err != nil {
		return DelayResult{Error: err.Error()}, nil
	}
	d, err := c.Delay(ctx, node)
	if err != nil {
		return DelayResult{Error: err.Error()}, nil
	}
	return DelayResult{Success: true, Delay: d}, nil
}
