// Package usecase contains application business logic.
package usecase

import (
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/camelpad/internal/clock"
	"github.com/eliteGoblin/camelpad/internal/config"
	"github.com/eliteGoblin/camelpad/internal/device"
	"github.com/eliteGoblin/camelpad/internal/domain"
	"github.com/eliteGoblin/camelpad/internal/gesture"
	"github.com/eliteGoblin/camelpad/internal/prompt"
	"github.com/eliteGoblin/camelpad/internal/telemetry"
)

// Bridge wires the device link, the gesture classifier and the prompt
// queue together:
//
//	link edges -> classifier -> queue -> link display
//
// It is the sink for each stage and applies config reloads to all three.
type Bridge struct {
	classifier *gesture.Classifier
	queue      *prompt.Queue
	link       *device.Link
	recorder   *telemetry.Recorder
	logger     *zap.Logger

	mu  sync.Mutex
	cfg *config.Config
}

var (
	_ domain.EdgeSink     = (*Bridge)(nil)
	_ domain.GestureSink  = (*Bridge)(nil)
	_ domain.DisplaySink  = (*Bridge)(nil)
	_ domain.LinkObserver = (*Bridge)(nil)
)

// NewBridge builds the three core components from cfg. Nothing touches
// the device until Start.
func NewBridge(
	cfg *config.Config,
	backend domain.HIDBackend,
	clk clock.Clock,
	recorder *telemetry.Recorder,
	logger *zap.Logger,
) *Bridge {
	b := &Bridge{
		recorder: recorder,
		logger:   logger,
		cfg:      cfg,
	}
	b.classifier = gesture.NewClassifier(
		gesture.Timings{LongPress: cfg.LongPress(), DoublePress: cfg.DoublePress()},
		clk, b, logger.Named("gesture"))
	b.queue = prompt.NewQueue(
		prompt.Options{Bindings: cfg.Bindings(), DefaultTimeout: cfg.DefaultTimeout()},
		clk, b, recorder, logger.Named("queue"))
	b.link = device.NewLink(
		device.DefaultLinkConfig(cfg.VendorID(), cfg.ProductID()),
		backend, clk, b, b, recorder, logger.Named("device"))
	return b
}

// Start connects to the device. A missing device is not an error; the
// link keeps retrying in the background.
func (b *Bridge) Start() {
	b.link.Connect()
}

// Shutdown rejects every pending prompt, releases the device and clears
// gesture state. It is safe to call more than once.
func (b *Bridge) Shutdown() {
	b.logger.Info("shutting down bridge")
	b.queue.Close()
	b.link.Disconnect()
	b.classifier.Reset()
}

// Submit queues a prompt for the operator.
func (b *Bridge) Submit(req domain.Request) (*prompt.Ticket, error) {
	return b.queue.Submit(req)
}

// Cancel withdraws a prompt that has not been answered yet.
func (b *Bridge) Cancel(promptID string) bool {
	return b.queue.Cancel(promptID)
}

// OnEdge feeds raw button transitions from the link to the classifier.
func (b *Bridge) OnEdge(id domain.InputID, pressed bool) {
	b.logger.Debug("button edge", zap.String("button", string(id)), zap.Bool("pressed", pressed))
	b.classifier.OnEdge(id, pressed)
}

// OnGesture routes a classified gesture to the active prompt.
func (b *Bridge) OnGesture(ev domain.GestureEvent) {
	b.recorder.Gesture(string(ev.Gesture))
	b.logger.Info("gesture",
		zap.String("button", string(ev.Input)),
		zap.String("gesture", string(ev.Gesture)))

	if !b.queue.HandleGesture(ev.Input, ev.Gesture) {
		b.logger.Info("no pending notifications")
	}
}

// Display hands prompt text to the device writer. It runs under the
// queue lock, so it must not call back into the queue; SendText only
// enqueues and never waits on the device.
func (b *Bridge) Display(text string) {
	if text == "" {
		b.logger.Debug("clearing display")
	} else {
		b.logger.Info("displaying prompt", zap.String("text", text))
	}
	if !b.link.SendText(text) {
		b.logger.Debug("display deferred until the device reconnects")
	}
}

// DeviceConnected shows the active prompt on a fresh connection.
func (b *Bridge) DeviceConnected(info domain.DeviceInfo) {
	if b.queue.Redisplay() {
		b.logger.Info("redisplayed active prompt after connect", zap.String("path", info.Path))
	}
}

// DeviceDisconnected only logs. It can be reached from inside Display,
// so it must not touch the queue.
func (b *Bridge) DeviceDisconnected(err error) {
	if err != nil {
		b.logger.Warn("device lost, queued prompts keep waiting", zap.Error(err))
	}
}

// ApplyConfig pushes a reloaded snapshot into the components. Live
// timers and deadlines are left alone.
func (b *Bridge) ApplyConfig(next *config.Config) {
	b.mu.Lock()
	prev := b.cfg
	b.cfg = next
	b.mu.Unlock()

	b.logger.Info("applying new configuration")

	b.classifier.UpdateTimings(gesture.Timings{
		LongPress:   next.LongPress(),
		DoublePress: next.DoublePress(),
	})
	b.queue.UpdateConfig(prompt.Options{
		Bindings:       next.Bindings(),
		DefaultTimeout: next.DefaultTimeout(),
	})

	if prev != nil && prev.ListenAddr() != next.ListenAddr() {
		b.logger.Warn("server address change takes effect after restart",
			zap.String("current", prev.ListenAddr()),
			zap.String("configured", next.ListenAddr()))
	}
	if prev == nil || prev.VendorID() != next.VendorID() || prev.ProductID() != next.ProductID() {
		b.link.Retarget(next.VendorID(), next.ProductID())
	}
}

// Config returns the snapshot in effect.
func (b *Bridge) Config() *config.Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// Status reports connection and queue state.
func (b *Bridge) Status() domain.BridgeStatus {
	st := domain.BridgeStatus{
		Connected: b.link.IsConnected(),
		Pending:   b.queue.Len(),
	}
	if info, ok := b.link.Device(); ok {
		st.Device = &info
	}
	if p, ok := b.queue.Active(); ok {
		st.Active = &p
	}
	return st
}
