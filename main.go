package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/driver/desktop"

	"mihomo-launcher/core"
	"mihomo-launcher/core/engine"
	"mihomo-launcher/core/state"
	"mihomo-launcher/internal/constants"
	"mihomo-launcher/internal/debuglog"
	"mihomo-launcher/internal/diagnostics"
	"mihomo-launcher/internal/platform"
	"mihomo-launcher/internal/prefs"
	"mihomo-launcher/internal/settings"
	"mihomo-launcher/ui"
)

func main() {
	headless := flag.Bool("headless", false, "run without the system tray until interrupted")
	dir := flag.String("dir", "", "directory holding launcher.yaml (defaults to the executable's directory)")
	flag.Parse()

	baseDir := *dir
	if baseDir == "" {
		exe, err := os.Executable()
		if err != nil {
			log.Fatalf("Failed to locate executable: %v", err)
		}
		baseDir = filepath.Dir(exe)
	}

	cfg, err := settings.Load(baseDir)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}
	if err := platform.EnsureDirectories(cfg.LogDir, cfg.WorkDir); err != nil {
		log.Fatalf("Failed to prepare directories: %v", err)
	}
	logFile, err := debuglog.OpenFileWithRotation(cfg.LauncherLogPath())
	if err != nil {
		log.Printf("Launcher log file not available: %v", err)
		debuglog.Init(os.Stderr, cfg.LogLevel)
	} else {
		defer debuglog.CloseWithLog("launcher log", logFile)
		debuglog.Init(io.MultiWriter(os.Stderr, logFile), cfg.LogLevel)
	}
	logger := debuglog.WithComponent("main")
	logger.Info().Str("version", constants.AppVersion).Str("settings", cfg.Path).Msg("launcher starting")

	adapter := engine.NewLocalAdapter(engine.LocalOptions{
		BinaryPath:   cfg.EngineBinary,
		WorkDir:      cfg.WorkDir,
		ConfigPath:   cfg.ConfigFile,
		LogPath:      cfg.EngineLogPath(),
		Controller:   cfg.Controller,
		Secret:       cfg.Secret,
		DelayURL:     cfg.DelayTestURL,
		DelayTimeout: cfg.DelayTimeout,
	})
	defer adapter.Close()

	initial := state.Initial()
	initial.AutoRefresh = cfg.AutoRefresh
	initial.RefreshInterval = cfg.RefreshInterval
	opts := []core.Option{
		core.WithInitialState(initial),
		core.WithDiagnoser(&diagnostics.Checker{STUNServer: cfg.STUNServer, Target: diagnostics.DefaultTarget}),
	}

	if *headless {
		runHeadless(adapter, prefs.NewFileStore(filepath.Join(baseDir, constants.StateFileName)), opts)
		return
	}
	runDesktop(adapter, opts)
}

func runHeadless(adapter engine.Adapter, store prefs.Store, opts []core.Option) {
	logger := debuglog.WithComponent("main")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coord := core.New(adapter, append(opts, core.WithPrefs(store))...)
	defer coord.Close()

	updates, unsubscribe := coord.Subscribe()
	defer unsubscribe()
	go func() {
		for s := range updates {
			if msg := s.Errors.Message(); msg != "" {
				logger.Warn().Int("count", s.Errors.Count).Msg(msg)
			}
		}
	}()

	coord.Init(ctx)
	s := coord.Snapshot()
	logger.Info().Bool("running", s.IsRunning).Str("step", s.Step.String()).Msg("initialised, waiting for interrupt")
	<-ctx.Done()
	logger.Info().Msg("shutting down")
}

func runDesktop(adapter engine.Adapter, opts []core.Option) {
	logger := debuglog.WithComponent("main")
	a := app.NewWithID(constants.AppID)
	coord := core.New(adapter, append(opts, core.WithPrefs(prefs.NewFyneStore(a.Preferences())))...)
	ctx, cancel := context.WithCancel(context.Background())

	desk, ok := a.(desktop.App)
	if !ok {
		logger.Error().Msg("system tray is not supported here, use -headless")
		cancel()
		coord.Close()
		return
	}

	tray := ui.NewTray(ctx, coord, a.Quit)
	a.Lifecycle().SetOnStarted(func() {
		updates, _ := coord.Subscribe()
		go tray.Run(desk, updates)
		go coord.Init(ctx)
	})

	a.Run()
	logger.Info().Msg("application shutting down")
	cancel()
	coord.Close()
}
