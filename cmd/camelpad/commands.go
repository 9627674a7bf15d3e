package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/camelpad/internal/client"
	"github.com/eliteGoblin/camelpad/internal/clock"
	"github.com/eliteGoblin/camelpad/internal/config"
	"github.com/eliteGoblin/camelpad/internal/daemon"
	"github.com/eliteGoblin/camelpad/internal/device"
	"github.com/eliteGoblin/camelpad/internal/infra"
	"github.com/eliteGoblin/camelpad/internal/telemetry"
)

// resolveConfigPath prefers the positional argument, then --config, then
// the per-user default.
func resolveConfigPath(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return filepath.Abs(args[0])
	}
	if configPath != "" {
		return filepath.Abs(configPath)
	}
	return config.DefaultPath()
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func runDaemon(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath(args)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	cfg, found, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config %s:\n", path)
		for _, problem := range config.Problems(err) {
			fmt.Fprintf(os.Stderr, "  - %s\n", problem)
		}
		os.Exit(1)
	}

	paths := infra.DetectPaths()
	if err := paths.EnsureDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create %s: %v\n", paths.DataDir, err)
	}

	logger := createLogger(paths.LogFile, debug)
	defer func() { _ = logger.Sync() }()

	if !found {
		logger.Warn("config file not found, using defaults", zap.String("path", path))
	}

	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(paths.PIDFile, pm)
	if alive, inst := registry.IsAlive(); alive && inst.PID != pm.GetCurrentPID() {
		return fmt.Errorf("camelpad is already running (pid %d)", inst.PID)
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, otlpEndpoint, Version, otlpInsecure)
	if err != nil {
		logger.Warn("metrics export disabled", zap.Error(err))
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("failed to flush metrics", zap.Error(err))
		}
	}()

	recorder, err := telemetry.NewRecorder(telemetry.Meter())
	if err != nil {
		logger.Warn("metrics disabled", zap.Error(err))
		recorder = nil
	}

	backend := infra.NewHIDBackend()
	defer func() { _ = backend.Close() }()

	dcfg := daemon.DefaultConfig(path)
	dcfg.AppVersion = Version
	d := daemon.New(dcfg, cfg, backend, clock.Real(), registry, pm, recorder, logger)
	return d.Run(ctx)
}

func runListDevices(cmd *cobra.Command, args []string) error {
	backend := infra.NewHIDBackend()
	defer func() { _ = backend.Close() }()

	infos, err := backend.Enumerate()
	if err != nil {
		return fmt.Errorf("enumerate HID devices: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No HID devices found.")
		return nil
	}

	fmt.Println("\n=== HID Devices ===")
	for _, info := range infos {
		fmt.Println(device.Describe(info))
	}
	fmt.Println("===================")
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	endpoint := sendEndpoint
	if endpoint == "" {
		endpoint = client.DefaultEndpoint
		if path, err := resolveConfigPath(nil); err == nil {
			if cfg, _, err := config.Load(path); err == nil {
				endpoint = cfg.Endpoint()
			}
		}
	}

	ctx, cancel := signalContext(zap.NewNop())
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 5*time.Second)
	c, err := client.Dial(dialCtx, endpoint)
	dialCancel()
	if err != nil {
		return fmt.Errorf("connect to %s: %w", endpoint, err)
	}
	defer c.Close()

	fmt.Printf("Sent to %s, waiting for a gesture...\n", endpoint)
	resp, err := c.Notify(ctx, args[0], sendCategory, sendTimeout)
	if err != nil {
		return err
	}
	fmt.Printf("Reply: action=%s label=%s\n", resp.Action, resp.Label)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	paths := infra.DetectPaths()
	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(paths.PIDFile, pm)

	fmt.Println("\n=== camelpad Status ===")

	alive, inst := registry.IsAlive()
	if inst == nil {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'camelpad run' to start the bridge.")
		return nil
	}
	if !alive {
		fmt.Printf("Status: NOT RUNNING (stale record for pid %d)\n", inst.PID)
		return nil
	}

	fmt.Printf("Status: RUNNING (pid %d)\n", inst.PID)
	fmt.Printf("Started: %s ago\n", time.Since(inst.StartedAt).Round(time.Second))
	fmt.Printf("Config: %s\n", inst.ConfigPath)
	fmt.Printf("Endpoint: %s\n", inst.Endpoint)
	if inst.AppVersion != "" {
		fmt.Printf("Version: %s\n", inst.AppVersion)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, inst.Endpoint)
	if err != nil {
		fmt.Printf("Bridge: unreachable (%v)\n", err)
		return nil
	}
	defer c.Close()

	st, err := c.Status(ctx)
	if err != nil {
		fmt.Printf("Bridge: no status (%v)\n", err)
		return nil
	}
	if st.Connected {
		fmt.Printf("Device: connected (%s)\n", st.Device)
	} else {
		fmt.Println("Device: disconnected (retrying)")
	}
	fmt.Printf("Pending prompts: %d\n", st.Pending)
	if st.Active != "" {
		fmt.Printf("Showing: %q\n", st.Active)
	}
	fmt.Println("=======================")
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	path, err := resolveConfigPath(args)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	paths := infra.DetectPaths()
	if err := paths.EnsureDirs(); err != nil {
		return fmt.Errorf("create data directories: %w", err)
	}

	manager := infra.NewLaunchAgentManager(paths)
	if manager.IsInstalled() && !manager.NeedsUpdate(execPath, path) {
		fmt.Printf("LaunchAgent already installed at %s\n", manager.GetPlistPath())
		return nil
	}
	if err := manager.Install(execPath, path); err != nil {
		return fmt.Errorf("install LaunchAgent: %w", err)
	}
	fmt.Printf("Installed LaunchAgent at %s\n", manager.GetPlistPath())
	fmt.Println("camelpad will start at login.")
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	manager := infra.NewLaunchAgentManager(infra.DetectPaths())
	if !manager.IsInstalled() {
		fmt.Println("LaunchAgent is not installed.")
		return nil
	}
	if err := manager.Uninstall(); err != nil {
		return fmt.Errorf("uninstall LaunchAgent: %w", err)
	}
	fmt.Println("LaunchAgent removed.")
	return nil
}

func createLogger(logFile string, debug bool) *zap.Logger {
	if debug {
		if logger, err := zap.NewDevelopment(); err == nil {
			return logger
		}
	}

	config := zap.NewProductionConfig()
	config.OutputPaths = []string{logFile, "stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Fallback to stderr only if the log file cannot be opened
		logger, _ = zap.NewProduction()
	}
	return logger
}
