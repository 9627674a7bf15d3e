// Package daemon runs the bridge as a long-lived process: config
// watcher, device bridge and prompt server under one lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/camelpad/internal/clock"
	"github.com/eliteGoblin/camelpad/internal/config"
	"github.com/eliteGoblin/camelpad/internal/domain"
	"github.com/eliteGoblin/camelpad/internal/server"
	"github.com/eliteGoblin/camelpad/internal/telemetry"
	"github.com/eliteGoblin/camelpad/internal/usecase"
)

// Config holds daemon configuration.
type Config struct {
	ConfigPath     string        // File watched for reloads
	AppVersion     string        // Recorded in the instance registry
	StatusInterval time.Duration // How often to log a status line (default 60s)
}

// DefaultConfig returns default daemon configuration.
func DefaultConfig(configPath string) Config {
	return Config{
		ConfigPath:     configPath,
		StatusInterval: 60 * time.Second,
	}
}

// Daemon owns the bridge, the prompt server and the config watcher.
type Daemon struct {
	config   Config
	bridge   *usecase.Bridge
	server   *server.Server
	watcher  *config.Watcher
	registry domain.InstanceRegistry
	pm       domain.ProcessManager
	logger   *zap.Logger

	ready chan struct{}
	once  sync.Once
}

// New wires a daemon from a validated configuration snapshot.
func New(
	dcfg Config,
	cfg *config.Config,
	backend domain.HIDBackend,
	clk clock.Clock,
	registry domain.InstanceRegistry,
	pm domain.ProcessManager,
	recorder *telemetry.Recorder,
	logger *zap.Logger,
) *Daemon {
	if dcfg.StatusInterval <= 0 {
		dcfg.StatusInterval = 60 * time.Second
	}

	d := &Daemon{
		config:   dcfg,
		registry: registry,
		pm:       pm,
		logger:   logger,
		ready:    make(chan struct{}),
	}
	d.bridge = usecase.NewBridge(cfg, backend, clk, recorder, logger.Named("bridge"))
	d.server = server.New(server.DefaultConfig(cfg.ListenAddr()), d.bridge, logger.Named("server"))
	d.watcher = config.NewWatcher(dcfg.ConfigPath, cfg, clk, func(next, _ *config.Config) {
		d.bridge.ApplyConfig(next)
	}, logger.Named("config"))
	return d
}

// Bridge returns the orchestrator.
func (d *Daemon) Bridge() *usecase.Bridge {
	return d.bridge
}

// Ready is closed once the prompt server is listening.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Addr returns the server's bound address, empty before Ready.
func (d *Daemon) Addr() string {
	return d.server.Addr()
}

// Run starts everything and blocks until ctx is canceled or the server
// fails. On the way out every pending prompt is rejected, the device is
// released and the instance record is cleared.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.watcher.Current()
	inst := domain.Instance{
		PID:        d.pm.GetCurrentPID(),
		StartedAt:  time.Now(),
		ConfigPath: d.config.ConfigPath,
		Endpoint:   cfg.Endpoint(),
		AppVersion: d.config.AppVersion,
	}
	if err := d.registry.Register(inst); err != nil {
		return fmt.Errorf("register instance: %w", err)
	}
	defer func() {
		if err := d.registry.Clear(); err != nil {
			d.logger.Warn("failed to clear instance record", zap.Error(err))
		}
	}()

	d.logger.Info("camelpad starting",
		zap.Int("pid", inst.PID),
		zap.String("config", d.config.ConfigPath),
		zap.String("device", fmt.Sprintf("vendor=0x%04x product=0x%04x", cfg.VendorID(), cfg.ProductID())),
		zap.String("endpoint", inst.Endpoint))

	d.bridge.Start()

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()

	g.Go(func() error {
		if err := d.watcher.Run(gctx); err != nil {
			d.logger.Warn("config hot reload disabled", zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		return d.server.Start(serverCtx)
	})

	g.Go(func() error {
		d.awaitListening(gctx)
		return nil
	})

	g.Go(func() error {
		d.statusLoop(gctx)
		// Reject prompts first so their replies are flushed before the
		// server closes connections.
		d.bridge.Shutdown()
		stopServer()
		return nil
	})

	err := g.Wait()
	d.logger.Info("camelpad stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (d *Daemon) awaitListening(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if d.server.Addr() != "" {
			d.once.Do(func() { close(d.ready) })
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// statusLoop logs a status line on every tick until ctx is done.
func (d *Daemon) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(d.config.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("received shutdown, stopping bridge")
			return

		case <-ticker.C:
			st := d.bridge.Status()
			d.logger.Debug("status",
				zap.Bool("connected", st.Connected),
				zap.Int("pending", st.Pending))
		}
	}
}
