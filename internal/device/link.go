// Package device owns the HID transport to the pad: discovery, the
// report codec, and a link that reconnects on its own.
package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/camelpad/internal/clock"
	"github.com/eliteGoblin/camelpad/internal/domain"
	"github.com/eliteGoblin/camelpad/internal/telemetry"
)

var (
	// ErrNotFound means no interface matched the configured identity.
	ErrNotFound = errors.New("device not found")
	// ErrNotConnected is returned for writes while the link is down.
	ErrNotConnected = errors.New("device not connected")
)

// LinkConfig holds link configuration.
type LinkConfig struct {
	VendorID          uint16
	ProductID         uint16
	ReconnectInterval time.Duration // Fixed retry interval (default 2s)
	ReadTimeout       time.Duration // Poll interval of the read loop (default 100ms)
}

// DefaultLinkConfig returns default link configuration for the given identity.
func DefaultLinkConfig(vendorID, productID uint16) LinkConfig {
	return LinkConfig{
		VendorID:          vendorID,
		ProductID:         productID,
		ReconnectInterval: 2 * time.Second,
		ReadTimeout:       100 * time.Millisecond,
	}
}

// maxOutbox bounds display texts waiting for the writer. The oldest are
// dropped first; only the latest text is visible anyway.
const maxOutbox = 16

// session is one open handle. Its read loop owns the handle and closes
// it on exit, after the writer has stopped.
type session struct {
	handle     domain.DeviceHandle
	info       domain.DeviceInfo
	stop       chan struct{}
	done       chan struct{}
	writerDone chan struct{}
	wake       chan struct{}
	once       sync.Once

	outMu  sync.Mutex
	outbox []string
}

func (s *session) halt() {
	s.once.Do(func() { close(s.stop) })
}

func (s *session) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// enqueue hands text to the writer without waiting for the device.
func (s *session) enqueue(text string) (dropped int) {
	s.outMu.Lock()
	s.outbox = append(s.outbox, text)
	if over := len(s.outbox) - maxOutbox; over > 0 {
		s.outbox = append([]string(nil), s.outbox[over:]...)
		dropped = over
	}
	s.outMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return dropped
}

func (s *session) takeOutbox() []string {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	out := s.outbox
	s.outbox = nil
	return out
}

// Link connects to the pad, forwards button edges, and writes display
// text. Transport faults are transient: the link drops the session and
// retries at a fixed interval until it succeeds or Disconnect is called.
type Link struct {
	mu           sync.Mutex
	cfg          LinkConfig
	backend      domain.HIDBackend
	clock        clock.Clock
	edges        domain.EdgeSink
	observer     domain.LinkObserver
	recorder     *telemetry.Recorder
	logger       *zap.Logger
	current      *session
	reconnect    *clock.Timer
	reconnectGen uint64
}

// NewLink creates a link. It does not connect until Connect is called.
func NewLink(
	cfg LinkConfig,
	backend domain.HIDBackend,
	clk clock.Clock,
	edges domain.EdgeSink,
	observer domain.LinkObserver,
	recorder *telemetry.Recorder,
	logger *zap.Logger,
) *Link {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	return &Link{
		cfg:      cfg,
		backend:  backend,
		clock:    clk,
		edges:    edges,
		observer: observer,
		recorder: recorder,
		logger:   logger,
	}
}

// Connect locates and opens the configured device. On failure exactly
// one retry is scheduled.
func (l *Link) Connect() bool {
	l.mu.Lock()
	s, connected, err := l.openLocked()
	l.mu.Unlock()

	l.announce(s, err)
	return connected
}

// openLocked returns the new session when one was opened, or the error
// that scheduled a retry.
func (l *Link) openLocked() (*session, bool, error) {
	if l.current != nil {
		return nil, true, nil
	}

	infos, err := l.backend.Enumerate()
	if err != nil {
		l.scheduleReconnectLocked()
		return nil, false, fmt.Errorf("enumerate: %w", err)
	}

	info, ok := SelectDevice(infos, l.cfg.VendorID, l.cfg.ProductID)
	if !ok {
		l.scheduleReconnectLocked()
		return nil, false, fmt.Errorf("%w: vendor=%s product=%s",
			ErrNotFound, FormatID(l.cfg.VendorID), FormatID(l.cfg.ProductID))
	}

	handle, err := l.backend.Open(info.Path)
	if err != nil {
		l.scheduleReconnectLocked()
		return nil, false, fmt.Errorf("open %s: %w", info.Path, err)
	}

	l.cancelReconnectLocked()
	s := &session{
		handle:     handle,
		info:       info,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		wake:       make(chan struct{}, 1),
	}
	l.current = s
	go l.writeLoop(s)
	go l.readLoop(s)
	return s, true, nil
}

func (l *Link) announce(s *session, err error) {
	if err != nil {
		l.recorder.DeviceFault()
		if errors.Is(err, ErrNotFound) {
			l.logger.Warn("device not found, will retry",
				zap.String("vendor", FormatID(l.cfg.VendorID)),
				zap.String("product", FormatID(l.cfg.ProductID)),
				zap.Duration("retry_in", l.cfg.ReconnectInterval))
		} else {
			l.logger.Error("failed to open device, will retry",
				zap.Error(err),
				zap.Duration("retry_in", l.cfg.ReconnectInterval))
		}
		return
	}
	if s == nil {
		return
	}

	l.recorder.DeviceConnected()
	l.logger.Info("connected to device",
		zap.String("product", s.info.Product),
		zap.String("path", s.info.Path),
		zap.String("usage_page", fmt.Sprintf("0x%04x", s.info.UsagePage)))
	if l.observer != nil {
		l.observer.DeviceConnected(s.info)
	}
}

// scheduleReconnectLocked arms the retry timer unless one is pending.
func (l *Link) scheduleReconnectLocked() {
	if l.reconnect != nil {
		return
	}
	gen := l.reconnectGen
	l.reconnect = l.clock.AfterFunc(l.cfg.ReconnectInterval, func() {
		l.mu.Lock()
		if l.reconnectGen != gen {
			l.mu.Unlock()
			return
		}
		l.reconnect = nil
		l.logger.Info("attempting to reconnect")
		s, _, err := l.openLocked()
		l.mu.Unlock()

		l.announce(s, err)
	})
}

func (l *Link) cancelReconnectLocked() {
	l.reconnectGen++
	if l.reconnect != nil {
		l.reconnect.Stop()
		l.reconnect = nil
	}
}

// ReconnectPending reports whether a retry is armed.
func (l *Link) ReconnectPending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reconnect != nil
}

func (l *Link) readLoop(s *session) {
	defer close(s.done)
	defer func() {
		s.halt()
		<-s.writerDone
		if err := s.handle.Close(); err != nil {
			l.logger.Debug("close device handle", zap.Error(err))
		}
	}()

	buf := make([]byte, ReportSize)
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		n, err := s.handle.ReadTimeout(buf, l.cfg.ReadTimeout)
		if err != nil {
			l.fault(s, fmt.Errorf("read: %w", err))
			return
		}
		if n == 0 {
			continue
		}
		edge, ok := DecodeEdge(buf[:n])
		if !ok {
			continue
		}
		if l.edges != nil {
			l.edges.OnEdge(edge.Input, edge.Pressed)
		}
	}
}

// fault drops s after a transport error and schedules a retry. Safe to
// call from the read and write loops; stale sessions are ignored.
func (l *Link) fault(s *session, err error) {
	l.mu.Lock()
	if l.current != s {
		l.mu.Unlock()
		return
	}
	l.current = nil
	s.halt()
	l.scheduleReconnectLocked()
	l.mu.Unlock()

	l.recorder.DeviceFault()
	l.logger.Error("device error, reconnecting",
		zap.Error(err),
		zap.Duration("retry_in", l.cfg.ReconnectInterval))
	if l.observer != nil {
		l.observer.DeviceDisconnected(err)
	}
}

// writeLoop writes queued display texts in order. A failed write drops
// the session and schedules a reconnect.
func (l *Link) writeLoop(s *session) {
	defer close(s.writerDone)
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}
		for _, text := range s.takeOutbox() {
			if s.stopped() {
				return
			}
			if _, err := s.handle.Write(EncodeText(text)); err != nil {
				l.fault(s, fmt.Errorf("write: %w", err))
				return
			}
		}
	}
}

// SendText queues text for the display and returns without waiting for
// the device. Returns false when not connected. A write that fails later
// triggers a reconnect.
func (l *Link) SendText(text string) bool {
	l.mu.Lock()
	s := l.current
	l.mu.Unlock()

	if s == nil {
		l.logger.Warn("cannot display text", zap.Error(ErrNotConnected))
		return false
	}
	if dropped := s.enqueue(text); dropped > 0 {
		l.logger.Warn("device write backlog, dropped stale display texts", zap.Int("dropped", dropped))
	}
	return true
}

// Disconnect cancels any pending retry and releases the handle. It is
// idempotent. It must not be called from the EdgeSink, which runs on
// the read loop it waits for.
func (l *Link) Disconnect() {
	l.mu.Lock()
	l.cancelReconnectLocked()
	s := l.current
	l.current = nil
	l.mu.Unlock()

	if s == nil {
		return
	}
	s.halt()
	<-s.done

	l.logger.Info("disconnected from device", zap.String("path", s.info.Path))
	if l.observer != nil {
		l.observer.DeviceDisconnected(nil)
	}
}

// Retarget switches to a new vendor/product identity, reconnecting if
// it changed.
func (l *Link) Retarget(vendorID, productID uint16) {
	l.mu.Lock()
	if l.cfg.VendorID == vendorID && l.cfg.ProductID == productID {
		l.mu.Unlock()
		return
	}
	l.cfg.VendorID = vendorID
	l.cfg.ProductID = productID
	l.mu.Unlock()

	l.logger.Info("device identity changed",
		zap.String("vendor", FormatID(vendorID)),
		zap.String("product", FormatID(productID)))
	l.Disconnect()
	l.Connect()
}

// IsConnected reports whether a handle is open.
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current != nil
}

// Device returns the connected interface.
func (l *Link) Device() (domain.DeviceInfo, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return domain.DeviceInfo{}, false
	}
	return l.current.info, true
}
