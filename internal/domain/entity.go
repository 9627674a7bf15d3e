// Package domain contains core business entities and interfaces.
// This is the innermost layer - no external dependencies.
package domain

import "time"

// InputID names one physical button (e.g. "key0").
type InputID string

// Gesture is the classified outcome of a button interaction.
type Gesture string

const (
	GesturePress       Gesture = "press"
	GestureDoublePress Gesture = "doublePress"
	GestureLongPress   Gesture = "longPress"
)

// Valid reports whether g is one of the three known gestures.
func (g Gesture) Valid() bool {
	switch g {
	case GesturePress, GestureDoublePress, GestureLongPress:
		return true
	}
	return false
}

// ButtonState is the per-button classifier state.
type ButtonState string

const (
	StateIdle          ButtonState = "idle"
	StatePressed       ButtonState = "pressed"
	StateWaitDouble    ButtonState = "waitDouble"
	StateDoublePressed ButtonState = "doublePressed"
)

// GestureEvent is emitted once per completed interaction.
type GestureEvent struct {
	Input   InputID
	Gesture Gesture
	HeldFor time.Duration // Time since the last press edge
}

// ActionBinding is the semantic action a gesture resolves to.
type ActionBinding struct {
	Action string `yaml:"action" json:"action"`
	Label  string `yaml:"label" json:"label"`
}

// KeyMapping holds the optional bindings for one button.
type KeyMapping struct {
	Press       *ActionBinding `yaml:"press,omitempty" json:"press,omitempty"`
	DoublePress *ActionBinding `yaml:"doublePress,omitempty" json:"doublePress,omitempty"`
	LongPress   *ActionBinding `yaml:"longPress,omitempty" json:"longPress,omitempty"`
}

// For returns the binding for gesture g, or nil.
func (m KeyMapping) For(g Gesture) *ActionBinding {
	switch g {
	case GesturePress:
		return m.Press
	case GestureDoublePress:
		return m.DoublePress
	case GestureLongPress:
		return m.LongPress
	}
	return nil
}

// KeyBindings maps buttons to their gesture bindings.
// Replaced wholesale on reload, never mutated in place.
type KeyBindings map[InputID]KeyMapping

// Lookup returns the binding for (id, g).
func (k KeyBindings) Lookup(id InputID, g Gesture) (ActionBinding, bool) {
	m, ok := k[id]
	if !ok {
		return ActionBinding{}, false
	}
	b := m.For(g)
	if b == nil {
		return ActionBinding{}, false
	}
	return *b, true
}

// Request is an inbound prompt submitted by an agent.
type Request struct {
	RequestID  string // Client-side correlation id
	Text       string
	Category   string
	Timeout    time.Duration // Zero means use the configured default
	NoDeadline bool          // Prompt never expires, whatever Timeout and the default say
}

// Prompt is one outstanding request awaiting a gesture.
type Prompt struct {
	ID        string // Process-unique UUID
	RequestID string
	Text      string
	Category  string
	Timeout   time.Duration
	CreatedAt time.Time
	Deadline  time.Time // Zero when the prompt never expires
}

// Reply settles exactly one Prompt. Err is nil for a resolved response.
type Reply struct {
	PromptID  string
	RequestID string
	Action    string
	Label     string
	Err       error
}

// DeviceInfo describes one enumerated HID interface.
type DeviceInfo struct {
	Path         string
	VendorID     uint16
	ProductID    uint16
	UsagePage    uint16
	Usage        uint16
	Interface    int
	Product      string
	Manufacturer string
}

// Instance is the record a running daemon leaves for `status`.
type Instance struct {
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	ConfigPath string    `json:"config_path"`
	Endpoint   string    `json:"endpoint"`
	AppVersion string    `json:"app_version,omitempty"`
}

// BridgeStatus is a point-in-time view of the bridge.
type BridgeStatus struct {
	Connected bool        `json:"connected"`
	Device    *DeviceInfo `json:"device,omitempty"`
	Pending   int         `json:"pending"`
	Active    *Prompt     `json:"active,omitempty"`
}
