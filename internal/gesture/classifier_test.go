package gesture

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/eliteGoblin/camelpad/internal/clock"
	"github.com/eliteGoblin/camelpad/internal/domain"
)

// recordingSink collects emitted gestures.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.GestureEvent
}

func (s *recordingSink) OnGesture(ev domain.GestureEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) gestures() []domain.Gesture {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Gesture, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Gesture
	}
	return out
}

func newTestClassifier() (*Classifier, *clock.FakeClock, *recordingSink) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sink := &recordingSink{}
	c := NewClassifier(Timings{LongPress: 500 * time.Millisecond, DoublePress: 300 * time.Millisecond}, clk, sink, zap.NewNop())
	return c, clk, sink
}

const key0 = domain.InputID("key0")

func TestClassifier_SinglePressEmittedAfterWindow(t *testing.T) {
	c, clk, sink := newTestClassifier()

	c.OnEdge(key0, true)
	clk.Advance(100 * time.Millisecond)
	c.OnEdge(key0, false)
	assert.Equal(t, domain.StateWaitDouble, c.State(key0))

	clk.Advance(299 * time.Millisecond)
	assert.Empty(t, sink.gestures(), "press must wait for the double-press window")

	clk.Advance(time.Millisecond)
	assert.Equal(t, []domain.Gesture{domain.GesturePress}, sink.gestures())
	assert.Equal(t, domain.StateIdle, c.State(key0))
	assert.Equal(t, 0, clk.Pending())
}

func TestClassifier_DoublePress(t *testing.T) {
	c, clk, sink := newTestClassifier()

	c.OnEdge(key0, true)
	clk.Advance(50 * time.Millisecond)
	c.OnEdge(key0, false)
	clk.Advance(100 * time.Millisecond)
	c.OnEdge(key0, true)
	assert.Equal(t, domain.StateDoublePressed, c.State(key0))
	assert.Equal(t, 0, clk.Pending(), "doublePressed arms no timer")

	clk.Advance(time.Second)
	assert.Empty(t, sink.gestures(), "nothing until the second release")

	c.OnEdge(key0, false)
	assert.Equal(t, []domain.Gesture{domain.GestureDoublePress}, sink.gestures())
	assert.Equal(t, domain.StateIdle, c.State(key0))
}

func TestClassifier_LongPressFiresWhileHeld(t *testing.T) {
	c, clk, sink := newTestClassifier()

	c.OnEdge(key0, true)
	clk.Advance(500 * time.Millisecond)
	assert.Equal(t, []domain.Gesture{domain.GestureLongPress}, sink.gestures())
	assert.Equal(t, domain.StateIdle, c.State(key0))

	// Release after the long press is swallowed.
	c.OnEdge(key0, false)
	clk.Advance(time.Second)
	assert.Equal(t, []domain.Gesture{domain.GestureLongPress}, sink.gestures())
	assert.Equal(t, 0, clk.Pending())
}

func TestClassifier_ReleaseJustBeforeLongPress(t *testing.T) {
	c, clk, sink := newTestClassifier()

	c.OnEdge(key0, true)
	clk.Advance(499 * time.Millisecond)
	c.OnEdge(key0, false)
	clk.Advance(time.Second)

	assert.Equal(t, []domain.Gesture{domain.GesturePress}, sink.gestures())
}

func TestClassifier_SecondPressAfterWindowIsNewCycle(t *testing.T) {
	c, clk, sink := newTestClassifier()

	c.OnEdge(key0, true)
	c.OnEdge(key0, false)
	clk.Advance(300 * time.Millisecond)
	c.OnEdge(key0, true)
	c.OnEdge(key0, false)
	clk.Advance(300 * time.Millisecond)

	assert.Equal(t, []domain.Gesture{domain.GesturePress, domain.GesturePress}, sink.gestures())
}

func TestClassifier_IgnoresUnexpectedEdges(t *testing.T) {
	c, clk, sink := newTestClassifier()

	// Release while idle.
	c.OnEdge(key0, false)
	assert.Equal(t, domain.StateIdle, c.State(key0))

	// Duplicate press while pressed keeps the original long-press timer.
	c.OnEdge(key0, true)
	clk.Advance(300 * time.Millisecond)
	c.OnEdge(key0, true)
	assert.Equal(t, 1, clk.Pending())
	clk.Advance(200 * time.Millisecond)
	assert.Equal(t, []domain.Gesture{domain.GestureLongPress}, sink.gestures())

	// Duplicate press while doublePressed.
	c.OnEdge(key0, true)
	c.OnEdge(key0, false)
	c.OnEdge(key0, true)
	c.OnEdge(key0, true)
	assert.Equal(t, domain.StateDoublePressed, c.State(key0))
	c.OnEdge(key0, false)
	assert.Equal(t, []domain.Gesture{domain.GestureLongPress, domain.GestureDoublePress}, sink.gestures())
}

func TestClassifier_ButtonsAreIndependent(t *testing.T) {
	c, clk, sink := newTestClassifier()
	key1 := domain.InputID("key1")

	c.OnEdge(key0, true)
	c.OnEdge(key1, true)
	clk.Advance(100 * time.Millisecond)
	c.OnEdge(key1, false)
	clk.Advance(400 * time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.events, 2)
	byButton := map[domain.InputID]domain.Gesture{}
	for _, ev := range sink.events {
		byButton[ev.Input] = ev.Gesture
	}
	assert.Equal(t, domain.GestureLongPress, byButton[key0])
	assert.Equal(t, domain.GesturePress, byButton[key1])
}

func TestClassifier_UpdateTimingsLeavesLiveTimers(t *testing.T) {
	c, clk, sink := newTestClassifier()

	c.OnEdge(key0, true)
	c.UpdateTimings(Timings{LongPress: 2 * time.Second, DoublePress: time.Second})

	clk.Advance(500 * time.Millisecond)
	assert.Equal(t, []domain.Gesture{domain.GestureLongPress}, sink.gestures(), "armed timer keeps 500ms")

	c.OnEdge(key0, false)
	c.OnEdge(key0, true)
	clk.Advance(500 * time.Millisecond)
	assert.Len(t, sink.gestures(), 1, "new cycle uses the 2s window")
	clk.Advance(1500 * time.Millisecond)
	assert.Len(t, sink.gestures(), 2)
}

func TestClassifier_ResetCancelsTimers(t *testing.T) {
	c, clk, sink := newTestClassifier()

	c.OnEdge(key0, true)
	c.OnEdge(domain.InputID("key1"), true)
	c.OnEdge(domain.InputID("key1"), false)
	c.Reset()

	assert.Equal(t, 0, clk.Pending())
	clk.Advance(time.Second)
	assert.Empty(t, sink.gestures())
	assert.Equal(t, domain.StateIdle, c.State(key0))
}

func TestClassifier_DefaultsForNonPositiveTimings(t *testing.T) {
	clk := clock.Fake(time.Now())
	c := NewClassifier(Timings{}, clk, nil, zap.NewNop())
	assert.Equal(t, DefaultTimings(), c.Timings())
}

func TestClassifier_HeldForIsReported(t *testing.T) {
	c, clk, sink := newTestClassifier()

	c.OnEdge(key0, true)
	clk.Advance(500 * time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if assert.Len(t, sink.events, 1) {
		assert.Equal(t, 500*time.Millisecond, sink.events[0].HeldFor)
	}
}
