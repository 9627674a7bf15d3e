// Package fixtures provides test doubles shared by unit and integration tests.
package fixtures

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/eliteGoblin/camelpad/internal/domain"
)

// ErrHandleClosed is returned by reads and writes on a closed FakeHandle.
var ErrHandleClosed = errors.New("fake hid: handle closed")

// PadInfo is a vendor-page interface of the default 0x1234/0x5678 pad.
func PadInfo() domain.DeviceInfo {
	return domain.DeviceInfo{
		Path:      "fake://pad/vendor",
		VendorID:  0x1234,
		ProductID: 0x5678,
		UsagePage: 0xFF60,
		Usage:     0x61,
		Interface: 1,
		Product:   "camel-pad",
	}
}

// FakeHID is an in-memory domain.HIDBackend.
type FakeHID struct {
	mu           sync.Mutex
	devices      []domain.DeviceInfo
	enumerateErr error
	openErr      error
	handles      []*FakeHandle
}

// NewFakeHID creates a backend exposing devices.
func NewFakeHID(devices ...domain.DeviceInfo) *FakeHID {
	return &FakeHID{devices: devices}
}

// Enumerate returns a copy of the attached devices.
func (f *FakeHID) Enumerate() ([]domain.DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enumerateErr != nil {
		return nil, f.enumerateErr
	}
	out := make([]domain.DeviceInfo, len(f.devices))
	copy(out, f.devices)
	return out, nil
}

// Open returns a new FakeHandle for path.
func (f *FakeHID) Open(path string) (domain.DeviceHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	h := newFakeHandle(path)
	f.handles = append(f.handles, h)
	return h, nil
}

// SetDevices replaces the attached devices (simulates plug/unplug).
func (f *FakeHID) SetDevices(devices ...domain.DeviceInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
}

// SetEnumerateErr makes Enumerate fail.
func (f *FakeHID) SetEnumerateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enumerateErr = err
}

// SetOpenErr makes Open fail.
func (f *FakeHID) SetOpenErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

// Opens returns how many handles have been opened.
func (f *FakeHID) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

// Last returns the most recently opened handle, or nil.
func (f *FakeHID) Last() *FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	return f.handles[len(f.handles)-1]
}

// FakeHandle is an in-memory domain.DeviceHandle.
type FakeHandle struct {
	Path string

	reports   chan []byte
	readErr   chan error
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error
	gate     chan struct{}
}

func newFakeHandle(path string) *FakeHandle {
	return &FakeHandle{
		Path:    path,
		reports: make(chan []byte, 64),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

// ReadTimeout returns the next queued report, or (0, nil) after timeout.
func (h *FakeHandle) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	select {
	case <-h.closed:
		return 0, ErrHandleClosed
	case err := <-h.readErr:
		return 0, err
	case r := <-h.reports:
		return copy(p, r), nil
	case <-time.After(timeout):
		return 0, nil
	}
}

// Write records p. It blocks while writes are held.
func (h *FakeHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	gate := h.gate
	h.mu.Unlock()
	if gate != nil {
		<-gate
	}

	select {
	case <-h.closed:
		return 0, ErrHandleClosed
	default:
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writeErr != nil {
		return 0, h.writeErr
	}
	h.written = append(h.written, append([]byte(nil), p...))
	return len(p), nil
}

// Close marks the handle closed.
func (h *FakeHandle) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })
	return nil
}

// Edge queues a button report for button index.
func (h *FakeHandle) Edge(index byte, pressed bool) {
	state := byte(0)
	if pressed {
		state = 1
	}
	h.reports <- []byte{0x02, index, state}
}

// Report queues a raw inbound report.
func (h *FakeHandle) Report(r []byte) {
	h.reports <- r
}

// FailRead makes the next read return err.
func (h *FakeHandle) FailRead(err error) {
	h.readErr <- err
}

// SetWriteErr makes writes fail with err.
func (h *FakeHandle) SetWriteErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writeErr = err
}

// HoldWrites makes every Write block until the returned release is called.
func (h *FakeHandle) HoldWrites() (release func()) {
	gate := make(chan struct{})
	h.mu.Lock()
	h.gate = gate
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			h.gate = nil
			h.mu.Unlock()
			close(gate)
		})
	}
}

// Written returns a copy of every report written.
func (h *FakeHandle) Written() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.written))
	copy(out, h.written)
	return out
}

// Texts returns the text payloads of every display report written.
func (h *FakeHandle) Texts() []string {
	var out []string
	for _, r := range h.Written() {
		if len(r) == 0 || r[0] != 0x01 {
			continue
		}
		out = append(out, string(bytes.TrimRight(r[1:], "\x00")))
	}
	return out
}

// IsClosed reports whether Close was called.
func (h *FakeHandle) IsClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}
