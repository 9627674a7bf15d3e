// Package gesture turns raw button edges into press, doublePress and
// longPress gestures.
//
// Each button runs a four-state machine:
//
//	idle --press--> pressed            (arm long-press timer)
//	pressed --release--> waitDouble    (arm double-press timer)
//	pressed --long-press timer--> idle (emit longPress)
//	waitDouble --press--> doublePressed
//	waitDouble --double-press timer--> idle (emit press)
//	doublePressed --release--> idle    (emit doublePress)
//
// Every other edge is ignored. A long press fires while the button is
// still held; the release that follows is swallowed by idle.
package gesture

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/camelpad/internal/clock"
	"github.com/eliteGoblin/camelpad/internal/domain"
)

const (
	DefaultLongPress   = 500 * time.Millisecond
	DefaultDoublePress = 300 * time.Millisecond
)

// Timings are the two classification windows.
type Timings struct {
	LongPress   time.Duration
	DoublePress time.Duration
}

// DefaultTimings returns the 500ms/300ms windows.
func DefaultTimings() Timings {
	return Timings{LongPress: DefaultLongPress, DoublePress: DefaultDoublePress}
}

func (t Timings) normalized() Timings {
	if t.LongPress <= 0 {
		t.LongPress = DefaultLongPress
	}
	if t.DoublePress <= 0 {
		t.DoublePress = DefaultDoublePress
	}
	return t
}

// buttonContext is the mutable record for one button. At most one timer
// is armed: the long-press timer in pressed, the double-press timer in
// waitDouble.
type buttonContext struct {
	state     domain.ButtonState
	pressedAt time.Time
	timer     *clock.Timer
	gen       uint64
}

// Classifier implements the per-button gesture state machine.
type Classifier struct {
	mu      sync.Mutex
	timings Timings
	buttons map[domain.InputID]*buttonContext
	clock   clock.Clock
	sink    domain.GestureSink
	logger  *zap.Logger
}

// NewClassifier creates a classifier that reports gestures to sink.
func NewClassifier(timings Timings, clk clock.Clock, sink domain.GestureSink, logger *zap.Logger) *Classifier {
	return &Classifier{
		timings: timings.normalized(),
		buttons: make(map[domain.InputID]*buttonContext),
		clock:   clk,
		sink:    sink,
		logger:  logger,
	}
}

// OnEdge feeds one raw transition. Edges for the same button must be
// delivered serially.
func (c *Classifier) OnEdge(id domain.InputID, pressed bool) {
	c.mu.Lock()
	ctx, ok := c.buttons[id]
	if !ok {
		ctx = &buttonContext{state: domain.StateIdle}
		c.buttons[id] = ctx
	}

	var ev *domain.GestureEvent
	if pressed {
		c.handlePress(id, ctx)
	} else {
		ev = c.handleRelease(id, ctx)
	}
	c.mu.Unlock()

	c.emit(ev)
}

func (c *Classifier) handlePress(id domain.InputID, ctx *buttonContext) {
	switch ctx.state {
	case domain.StateIdle:
		ctx.state = domain.StatePressed
		ctx.pressedAt = c.clock.Now()
		c.arm(id, ctx, c.timings.LongPress, domain.StatePressed, domain.GestureLongPress)

	case domain.StateWaitDouble:
		c.disarm(ctx)
		ctx.state = domain.StateDoublePressed
		ctx.pressedAt = c.clock.Now()

	default:
		c.logger.Debug("ignoring press edge",
			zap.String("button", string(id)),
			zap.String("state", string(ctx.state)))
	}
}

func (c *Classifier) handleRelease(id domain.InputID, ctx *buttonContext) *domain.GestureEvent {
	switch ctx.state {
	case domain.StatePressed:
		c.disarm(ctx)
		ctx.state = domain.StateWaitDouble
		c.arm(id, ctx, c.timings.DoublePress, domain.StateWaitDouble, domain.GesturePress)
		return nil

	case domain.StateDoublePressed:
		ctx.state = domain.StateIdle
		return &domain.GestureEvent{
			Input:   id,
			Gesture: domain.GestureDoublePress,
			HeldFor: c.clock.Now().Sub(ctx.pressedAt),
		}

	default:
		c.logger.Debug("ignoring release edge",
			zap.String("button", string(id)),
			zap.String("state", string(ctx.state)))
		return nil
	}
}

// arm starts the single timer for ctx. When it fires in the expected
// state, the button returns to idle and gesture is emitted.
func (c *Classifier) arm(id domain.InputID, ctx *buttonContext, d time.Duration, expect domain.ButtonState, gesture domain.Gesture) {
	ctx.gen++
	gen := ctx.gen
	ctx.timer = c.clock.AfterFunc(d, func() {
		c.mu.Lock()
		if c.buttons[id] != ctx || ctx.gen != gen || ctx.state != expect {
			c.mu.Unlock()
			return
		}
		ctx.timer = nil
		ctx.state = domain.StateIdle
		ev := &domain.GestureEvent{
			Input:   id,
			Gesture: gesture,
			HeldFor: c.clock.Now().Sub(ctx.pressedAt),
		}
		c.mu.Unlock()

		c.emit(ev)
	})
}

// disarm cancels the armed timer. The generation bump invalidates a
// callback that is already past Stop.
func (c *Classifier) disarm(ctx *buttonContext) {
	ctx.gen++
	if ctx.timer != nil {
		ctx.timer.Stop()
		ctx.timer = nil
	}
}

func (c *Classifier) emit(ev *domain.GestureEvent) {
	if ev == nil {
		return
	}
	c.logger.Debug("gesture",
		zap.String("button", string(ev.Input)),
		zap.String("gesture", string(ev.Gesture)),
		zap.Duration("held", ev.HeldFor))
	if c.sink != nil {
		c.sink.OnGesture(*ev)
	}
}

// UpdateTimings replaces the windows for timers armed from now on.
// Timers already running keep their original duration.
func (c *Classifier) UpdateTimings(t Timings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timings = t.normalized()
}

// Timings returns the current windows.
func (c *Classifier) Timings() Timings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timings
}

// State returns the state of id; unknown buttons are idle.
func (c *Classifier) State(id domain.InputID) domain.ButtonState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx, ok := c.buttons[id]; ok {
		return ctx.state
	}
	return domain.StateIdle
}

// Reset cancels all timers and forgets every button.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ctx := range c.buttons {
		c.disarm(ctx)
	}
	c.buttons = make(map[domain.InputID]*buttonContext)
}
