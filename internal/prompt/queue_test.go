package prompt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/camelpad/internal/clock"
	"github.com/eliteGoblin/camelpad/internal/domain"
)

// recordingDisplay remembers every text shown.
type recordingDisplay struct {
	mu    sync.Mutex
	texts []string
}

func (d *recordingDisplay) Display(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts = append(d.texts, text)
}

func (d *recordingDisplay) shown() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.texts...)
}

func testBindings() domain.KeyBindings {
	return domain.KeyBindings{
		"key0": {
			Press:     &domain.ActionBinding{Action: "ack", Label: "OK"},
			LongPress: &domain.ActionBinding{Action: "deny", Label: "No"},
		},
	}
}

func newTestQueue(timeout time.Duration) (*Queue, *clock.FakeClock, *recordingDisplay) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	display := &recordingDisplay{}
	q := NewQueue(Options{Bindings: testBindings(), DefaultTimeout: timeout}, clk, display, nil, zap.NewNop())
	return q, clk, display
}

func submit(t *testing.T, q *Queue, requestID, text string) *Ticket {
	t.Helper()
	ticket, err := q.Submit(domain.Request{RequestID: requestID, Text: text})
	require.NoError(t, err)
	return ticket
}

func settled(t *testing.T, ticket *Ticket) domain.Reply {
	t.Helper()
	select {
	case <-ticket.Done():
		return ticket.Reply()
	default:
		t.Fatalf("ticket %s not settled", ticket.RequestID)
		return domain.Reply{}
	}
}

func assertPending(t *testing.T, ticket *Ticket) {
	t.Helper()
	select {
	case <-ticket.Done():
		t.Fatalf("ticket %s settled unexpectedly: %+v", ticket.RequestID, ticket.Reply())
	default:
	}
}

func TestQueue_SubmitThenGestureResolves(t *testing.T) {
	q, _, display := newTestQueue(30 * time.Second)

	ticket := submit(t, q, "a1", "Confirm?")
	assert.Equal(t, []string{"Confirm?"}, display.shown())
	assert.True(t, q.HasPending())

	assert.True(t, q.HandleGesture("key0", domain.GesturePress))
	r := settled(t, ticket)
	assert.NoError(t, r.Err)
	assert.Equal(t, "a1", r.RequestID)
	assert.Equal(t, ticket.ID, r.PromptID)
	assert.Equal(t, "ack", r.Action)
	assert.Equal(t, "OK", r.Label)

	assert.False(t, q.HasPending())
	assert.Equal(t, []string{"Confirm?", ""}, display.shown(), "drained queue clears the display")
}

func TestQueue_SecondGestureHasNoEffect(t *testing.T) {
	q, _, _ := newTestQueue(30 * time.Second)
	ticket := submit(t, q, "a1", "Confirm?")

	require.True(t, q.HandleGesture("key0", domain.GesturePress))
	assert.False(t, q.HandleGesture("key0", domain.GesturePress))

	r := settled(t, ticket)
	assert.Equal(t, "ack", r.Action)
	assert.Equal(t, r, ticket.Reply(), "reply is not replaced")
}

func TestQueue_UnmappedGestureRejectsActive(t *testing.T) {
	q, _, _ := newTestQueue(30 * time.Second)
	ticket := submit(t, q, "a1", "Confirm?")

	assert.True(t, q.HandleGesture("key0", domain.GestureDoublePress))
	r := settled(t, ticket)
	require.Error(t, r.Err)
	assert.True(t, errors.Is(r.Err, ErrUnmappedGesture))
	assert.Equal(t, "no action mapped for key0 doublePress", r.Err.Error())

	again := submit(t, q, "a2", "Again?")
	assert.True(t, q.HandleGesture("key9", domain.GesturePress))
	assert.EqualError(t, settled(t, again).Err, "no action mapped for key9 press")
}

func TestQueue_GestureWithoutActivePrompt(t *testing.T) {
	q, clk, display := newTestQueue(30 * time.Second)

	assert.False(t, q.HandleGesture("key0", domain.GesturePress))
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, display.shown())
	assert.Equal(t, 0, clk.Pending())
}

func TestQueue_FIFOPromotion(t *testing.T) {
	q, _, display := newTestQueue(30 * time.Second)

	first := submit(t, q, "1", "first")
	second := submit(t, q, "2", "second")
	third := submit(t, q, "3", "third")

	active, ok := q.Active()
	require.True(t, ok)
	assert.Equal(t, "1", active.RequestID)
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []string{"first"}, display.shown(), "waiting prompts are not displayed")

	q.HandleGesture("key0", domain.GesturePress)
	assert.Equal(t, "ack", settled(t, first).Action)
	assertPending(t, second)

	q.HandleGesture("key0", domain.GestureLongPress)
	assert.Equal(t, "deny", settled(t, second).Action)

	q.HandleGesture("key0", domain.GesturePress)
	settled(t, third)

	assert.Equal(t, []string{"first", "second", "third", ""}, display.shown())
}

func TestQueue_TimeoutSettlesAndPromotes(t *testing.T) {
	q, clk, display := newTestQueue(5 * time.Second)

	first := submit(t, q, "1", "first")
	second := submit(t, q, "2", "second")

	clk.Advance(4999 * time.Millisecond)
	assertPending(t, first)

	clk.Advance(time.Millisecond)
	r := settled(t, first)
	assert.ErrorIs(t, r.Err, ErrTimeout)
	assert.Equal(t, "timeout", r.Err.Error())

	// second was submitted at the same instant and expires with it.
	assert.ErrorIs(t, settled(t, second).Err, ErrTimeout)
	assert.Equal(t, []string{"first", "second", ""}, display.shown())
	assert.Equal(t, 0, clk.Pending())
}

func TestQueue_WaitingPromptTimesOutInPlace(t *testing.T) {
	q, clk, display := newTestQueue(0)

	first := submit(t, q, "1", "first")
	waiting, err := q.Submit(domain.Request{RequestID: "2", Text: "second", Timeout: time.Second})
	require.NoError(t, err)
	third := submit(t, q, "3", "third")

	clk.Advance(time.Second)
	assert.ErrorIs(t, settled(t, waiting).Err, ErrTimeout)
	assertPending(t, first)
	assert.Equal(t, []string{"first"}, display.shown(), "active prompt stays on display")

	q.HandleGesture("key0", domain.GesturePress)
	settled(t, first)
	active, _ := q.Active()
	assert.Equal(t, third.ID, active.ID)
}

func TestQueue_ZeroTimeoutNeverExpires(t *testing.T) {
	q, clk, _ := newTestQueue(0)
	ticket := submit(t, q, "1", "forever")

	assert.Equal(t, 0, clk.Pending())
	clk.Advance(24 * time.Hour)
	assertPending(t, ticket)

	active, _ := q.Active()
	assert.True(t, active.Deadline.IsZero())
}

func TestQueue_GestureBeatsTimeout(t *testing.T) {
	q, clk, _ := newTestQueue(time.Second)
	ticket := submit(t, q, "1", "race")

	q.HandleGesture("key0", domain.GesturePress)
	clk.Advance(time.Second)

	r := settled(t, ticket)
	assert.NoError(t, r.Err)
	assert.Equal(t, r, ticket.Reply(), "late timer does not overwrite the reply")
}

func TestQueue_UpdateConfigKeepsDeadlines(t *testing.T) {
	q, clk, _ := newTestQueue(time.Second)
	early := submit(t, q, "1", "early")

	q.UpdateConfig(Options{
		Bindings:       domain.KeyBindings{"key1": {Press: &domain.ActionBinding{Action: "new", Label: "New"}}},
		DefaultTimeout: time.Minute,
	})
	late := submit(t, q, "2", "late")

	clk.Advance(time.Second)
	assert.ErrorIs(t, settled(t, early).Err, ErrTimeout)
	assertPending(t, late)

	assert.True(t, q.HandleGesture("key1", domain.GesturePress))
	assert.Equal(t, "new", settled(t, late).Action)
}

func TestQueue_Cancel(t *testing.T) {
	q, clk, display := newTestQueue(time.Minute)
	first := submit(t, q, "1", "first")
	second := submit(t, q, "2", "second")

	assert.True(t, q.Cancel(first.ID))
	assert.False(t, q.Cancel(first.ID))
	assert.False(t, q.Cancel("unknown"))
	assert.ErrorIs(t, settled(t, first).Err, ErrCanceled)

	assert.Equal(t, []string{"first", "second"}, display.shown())
	assert.Equal(t, 1, clk.Pending(), "cancelled prompt's timer is stopped")
	assertPending(t, second)
}

func TestQueue_WaitCancelsOnContext(t *testing.T) {
	q, _, _ := newTestQueue(time.Minute)
	ticket := submit(t, q, "1", "abandoned")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := ticket.Wait(ctx)
	assert.ErrorIs(t, r.Err, ErrCanceled)
	assert.False(t, q.HasPending())
}

func TestQueue_WaitReturnsReply(t *testing.T) {
	q, _, _ := newTestQueue(time.Minute)
	ticket := submit(t, q, "1", "answer me")

	go q.HandleGesture("key0", domain.GesturePress)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Equal(t, "ack", ticket.Wait(ctx).Action)
}

func TestQueue_NoDeadlineOverridesDefault(t *testing.T) {
	q, clk, _ := newTestQueue(time.Second)
	ticket, err := q.Submit(domain.Request{RequestID: "1", Text: "forever", Timeout: time.Second, NoDeadline: true})
	require.NoError(t, err)

	assert.Equal(t, 0, clk.Pending(), "no timer armed")
	clk.Advance(time.Hour)
	assertPending(t, ticket)

	p, ok := q.Active()
	require.True(t, ok)
	assert.True(t, p.Deadline.IsZero())
}

func TestTicket_ReplyCanBeReadRepeatedly(t *testing.T) {
	q, _, _ := newTestQueue(time.Minute)
	ticket := submit(t, q, "1", "answer me")
	assert.Equal(t, domain.Reply{}, ticket.Reply(), "no reply before settlement")

	require.True(t, q.HandleGesture("key0", domain.GesturePress))

	<-ticket.Done()
	first := ticket.Reply()
	assert.Equal(t, "ack", first.Action)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Equal(t, first, ticket.Wait(ctx))
	assert.Equal(t, first, ticket.Wait(ctx), "second Wait does not block")
	<-ticket.Done()
	assert.Equal(t, first, ticket.Reply())
}

func TestQueue_CloseRejectsEverything(t *testing.T) {
	q, clk, _ := newTestQueue(time.Minute)
	first := submit(t, q, "1", "first")
	second := submit(t, q, "2", "second")

	q.Close()
	q.Close()

	assert.ErrorIs(t, settled(t, first).Err, ErrShutdown)
	r := settled(t, second)
	assert.ErrorIs(t, r.Err, ErrShutdown)
	assert.Equal(t, "bridge shutting down", r.Err.Error())
	assert.Equal(t, 0, clk.Pending())
	assert.False(t, q.HasPending())

	_, err := q.Submit(domain.Request{RequestID: "3", Text: "late"})
	assert.ErrorIs(t, err, ErrShutdown)
	assert.False(t, q.HandleGesture("key0", domain.GesturePress))
}

func TestQueue_UniqueIDs(t *testing.T) {
	q, _, _ := newTestQueue(0)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		ticket := submit(t, q, "same", "x")
		assert.False(t, seen[ticket.ID])
		seen[ticket.ID] = true
	}
	assert.Len(t, q.Snapshot(), 100)
}

func TestQueue_ConcurrentSettlementIsSingleShot(t *testing.T) {
	q, clk, _ := newTestQueue(time.Second)
	ticket := submit(t, q, "1", "contended")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); q.HandleGesture("key0", domain.GesturePress) }()
		go func() { defer wg.Done(); q.Cancel(ticket.ID) }()
		go func() { defer wg.Done(); clk.Advance(time.Second) }()
	}
	wg.Wait()

	r := settled(t, ticket)
	assert.Equal(t, r, ticket.Reply())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_Redisplay(t *testing.T) {
	q, _, display := newTestQueue(time.Minute)
	assert.False(t, q.Redisplay())

	submit(t, q, "1", "first")
	submit(t, q, "2", "second")
	assert.True(t, q.Redisplay())
	assert.Equal(t, []string{"first", "first"}, display.shown())
}
