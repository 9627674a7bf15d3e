package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eliteGoblin/camelpad/internal/clock"
)

// DebounceInterval coalesces the burst of events an editor save produces.
const DebounceInterval = 100 * time.Millisecond

// ReloadFunc receives each new valid snapshot with the one it replaces.
type ReloadFunc func(next, prev *Config)

// Watcher reloads the config file when it changes. Invalid or unreadable
// files are logged and the previous snapshot stays in effect.
type Watcher struct {
	path     string
	clock    clock.Clock
	onReload ReloadFunc
	logger   *zap.Logger

	mu       sync.Mutex
	current  *Config
	debounce *clock.Timer
	gen      uint64
}

// NewWatcher creates a watcher whose initial snapshot is initial.
func NewWatcher(path string, initial *Config, clk clock.Clock, onReload ReloadFunc, logger *zap.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		clock:    clk,
		onReload: onReload,
		logger:   logger,
		current:  initial,
	}
}

// Current returns the snapshot in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run watches the file's directory until ctx is canceled. The directory
// is watched rather than the file so that atomic saves (write temp, then
// rename) are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.logger.Info("watching config file", zap.String("path", w.path))
	defer w.stopDebounce()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopping")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("config file event", zap.String("op", ev.Op.String()))
			w.Trigger()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("config watcher error", zap.Error(err))
		}
	}
}

// Trigger schedules a reload after DebounceInterval, replacing any reload
// already scheduled.
func (w *Watcher) Trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.gen++
	gen := w.gen
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = w.clock.AfterFunc(DebounceInterval, func() {
		w.mu.Lock()
		if w.gen != gen {
			w.mu.Unlock()
			return
		}
		w.debounce = nil
		w.mu.Unlock()

		w.Reload()
	})
}

func (w *Watcher) stopDebounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}
}

// Reload reads the file now. It returns false when the file was
// unreadable or invalid.
func (w *Watcher) Reload() bool {
	next, found, err := Load(w.path)
	if err != nil {
		w.logger.Error("failed to reload config", zap.Error(err))
		return false
	}
	if !found {
		w.logger.Warn("config file missing, keeping current config", zap.String("path", w.path))
		return false
	}
	if err := next.Validate(); err != nil {
		w.logger.Error("config validation errors, keeping current config",
			zap.Strings("errors", Problems(err)))
		return false
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	w.mu.Unlock()

	w.logger.Info("config reloaded", zap.String("path", w.path))
	if w.onReload != nil {
		w.onReload(next, prev)
	}
	return true
}
