package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eliteGoblin/camelpad/internal/domain"
)

// ErrAlreadyRunning is returned by Register when a live instance holds the file.
var ErrAlreadyRunning = errors.New("another instance is running")

// FileRegistry implements domain.InstanceRegistry as a JSON PID file.
type FileRegistry struct {
	path           string
	processManager domain.ProcessManager
}

// NewFileRegistry creates a registry at path.
func NewFileRegistry(path string, pm domain.ProcessManager) *FileRegistry {
	return &FileRegistry{
		path:           path,
		processManager: pm,
	}
}

// GetPath returns the PID file path.
func (r *FileRegistry) GetPath() string {
	return r.path
}

// Register records inst, refusing if a different live process already
// holds the file. Stale records are overwritten.
func (r *FileRegistry) Register(inst domain.Instance) error {
	if alive, other := r.IsAlive(); alive && other.PID != inst.PID {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, other.PID)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	return r.atomicWrite(&inst)
}

// Get returns the recorded instance, or nil if there is none.
func (r *FileRegistry) Get() (*domain.Instance, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var inst domain.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.path, err)
	}
	return &inst, nil
}

// IsAlive reports whether the recorded process is still running.
func (r *FileRegistry) IsAlive() (bool, *domain.Instance) {
	inst, err := r.Get()
	if err != nil || inst == nil {
		return false, nil
	}
	return r.processManager.IsRunning(inst.PID), inst
}

// Clear removes the PID file. A missing file is not an error.
func (r *FileRegistry) Clear() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// atomicWrite writes the record to file atomically (write + rename).
func (r *FileRegistry) atomicWrite(inst *domain.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	// Write to temp file first (unique per process to avoid race)
	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	// Atomic rename
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return err
	}
	return nil
}

// Ensure FileRegistry implements domain.InstanceRegistry.
var _ domain.InstanceRegistry = (*FileRegistry)(nil)
