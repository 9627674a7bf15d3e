package domain

import "time"

// ProcessManager handles OS process queries.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// InstanceRegistry records the running daemon so a second one refuses to start.
// Implementation: PID file in the data directory.
type InstanceRegistry interface {
	// Register records the current instance.
	Register(inst Instance) error

	// Get returns the recorded instance, or nil if none.
	Get() (*Instance, error)

	// IsAlive reports whether the recorded instance is still running.
	IsAlive() (bool, *Instance)

	// Clear removes the record.
	Clear() error

	// GetPath returns the record's file path (for tests).
	GetPath() string
}

// HIDBackend enumerates and opens HID interfaces.
// Implementation: hidapi via go-hid.
type HIDBackend interface {
	// Enumerate lists every HID interface currently attached.
	Enumerate() ([]DeviceInfo, error)

	// Open opens the interface at path.
	Open(path string) (DeviceHandle, error)
}

// DeviceHandle is an open HID interface.
type DeviceHandle interface {
	// ReadTimeout reads one input report. Returns (0, nil) when nothing
	// arrived within timeout.
	ReadTimeout(p []byte, timeout time.Duration) (int, error)

	// Write sends one output report.
	Write(p []byte) (int, error)

	// Close releases the interface.
	Close() error
}

// EdgeSink receives raw button transitions, serially, in transport order.
type EdgeSink interface {
	OnEdge(id InputID, pressed bool)
}

// GestureSink receives classified gestures.
type GestureSink interface {
	OnGesture(ev GestureEvent)
}

// DisplaySink shows prompt text on the device. Empty text clears it.
type DisplaySink interface {
	Display(text string)
}

// LinkObserver is told about device connection changes.
type LinkObserver interface {
	DeviceConnected(info DeviceInfo)
	DeviceDisconnected(err error)
}

// LaunchAgentManager handles the macOS LaunchAgent that starts the daemon at login.
type LaunchAgentManager interface {
	// Install creates and loads the LaunchAgent plist.
	Install(execPath, configPath string) error

	// Uninstall unloads and removes the LaunchAgent plist.
	Uninstall() error

	// IsInstalled checks if LaunchAgent is installed.
	IsInstalled() bool

	// GetPlistPath returns the plist file path.
	GetPlistPath() string
}
