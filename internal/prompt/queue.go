// Package prompt queues outstanding prompts and settles each one exactly
// once, by gesture, by deadline, or by cancellation.
package prompt

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/camelpad/internal/clock"
	"github.com/eliteGoblin/camelpad/internal/domain"
	"github.com/eliteGoblin/camelpad/internal/telemetry"
)

var (
	// ErrTimeout settles a prompt whose deadline passed.
	ErrTimeout = errors.New("timeout")
	// ErrUnmappedGesture settles the active prompt when the gesture has no binding.
	ErrUnmappedGesture = errors.New("no action mapped")
	// ErrShutdown settles every unsettled prompt on Close, and rejects Submit afterwards.
	ErrShutdown = errors.New("bridge shutting down")
	// ErrCanceled settles a prompt cancelled by its submitter.
	ErrCanceled = errors.New("canceled")
)

// DefaultTimeout applies to requests that carry no timeout of their own.
const DefaultTimeout = 30 * time.Second

// Options are the reloadable parts of the queue.
type Options struct {
	Bindings       domain.KeyBindings
	DefaultTimeout time.Duration // Zero means prompts never expire
}

// entry is one queued prompt. settled flips once, under the queue lock;
// reply is written before done is closed.
type entry struct {
	prompt  domain.Prompt
	done    chan struct{}
	reply   domain.Reply
	timer   *clock.Timer
	elem    *list.Element
	settled bool
}

func (e *entry) settle(reply domain.Reply) {
	e.settled = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	reply.PromptID = e.prompt.ID
	reply.RequestID = e.prompt.RequestID
	e.reply = reply
	close(e.done)
}

// Ticket is the submitter's handle on a prompt.
type Ticket struct {
	ID        string
	RequestID string
	entry     *entry
	queue     *Queue
}

// Done is closed once the prompt settles.
func (t *Ticket) Done() <-chan struct{} {
	return t.entry.done
}

// Reply returns the settled reply. It is only meaningful after Done is
// closed, and returns the same value every time.
func (t *Ticket) Reply() domain.Reply {
	select {
	case <-t.entry.done:
		return t.entry.reply
	default:
		return domain.Reply{}
	}
}

// Wait blocks until the prompt settles. If ctx ends first the prompt is
// cancelled, and the reply that actually settled it is returned. Wait may
// be called any number of times.
func (t *Ticket) Wait(ctx context.Context) domain.Reply {
	select {
	case <-t.entry.done:
	case <-ctx.Done():
		t.queue.Cancel(t.ID)
		<-t.entry.done
	}
	return t.entry.reply
}

// Queue is the FIFO of pending prompts. The front element is the active
// prompt: the only one a gesture can settle, and the one on the display.
type Queue struct {
	mu       sync.Mutex
	opts     Options
	order    *list.List // of *entry
	byID     map[string]*entry
	closed   bool
	clock    clock.Clock
	display  domain.DisplaySink
	recorder *telemetry.Recorder
	logger   *zap.Logger
}

// NewQueue creates an empty queue that shows the active prompt on display.
func NewQueue(opts Options, clk clock.Clock, display domain.DisplaySink, recorder *telemetry.Recorder, logger *zap.Logger) *Queue {
	return &Queue{
		opts:     opts,
		order:    list.New(),
		byID:     make(map[string]*entry),
		clock:    clk,
		display:  display,
		recorder: recorder,
		logger:   logger,
	}
}

// Submit enqueues req. The prompt becomes active, and is displayed, when
// nothing else is waiting ahead of it.
func (q *Queue) Submit(req domain.Request) (*Ticket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrShutdown
	}

	timeout := req.Timeout
	switch {
	case req.NoDeadline:
		timeout = 0
	case timeout <= 0:
		timeout = q.opts.DefaultTimeout
	}
	now := q.clock.Now()
	p := domain.Prompt{
		ID:        uuid.NewString(),
		RequestID: req.RequestID,
		Text:      req.Text,
		Category:  req.Category,
		Timeout:   timeout,
		CreatedAt: now,
	}
	if timeout > 0 {
		p.Deadline = now.Add(timeout)
	}

	e := &entry{prompt: p, done: make(chan struct{})}
	e.elem = q.order.PushBack(e)
	q.byID[p.ID] = e
	if timeout > 0 {
		id := p.ID
		e.timer = q.clock.AfterFunc(timeout, func() { q.expire(id) })
	}

	q.recorder.PromptSubmitted(p.Category)
	q.logger.Info("prompt queued",
		zap.String("prompt_id", p.ID),
		zap.String("request_id", p.RequestID),
		zap.String("category", p.Category),
		zap.Duration("timeout", timeout),
		zap.Int("position", q.order.Len()))

	if q.order.Front() == e.elem {
		q.show(p.Text)
	}

	return &Ticket{ID: p.ID, RequestID: p.RequestID, entry: e, queue: q}, nil
}

// HandleGesture settles the active prompt with the binding for (id, g).
// Returns false, changing nothing, when no prompt is active.
func (q *Queue) HandleGesture(id domain.InputID, g domain.Gesture) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.order.Front()
	if front == nil {
		return false
	}
	e := front.Value.(*entry)

	binding, ok := q.opts.Bindings.Lookup(id, g)
	if !ok {
		q.settleLocked(e, domain.Reply{
			Err: fmt.Errorf("%w for %s %s", ErrUnmappedGesture, id, g),
		}, telemetry.OutcomeUnmapped)
		return true
	}
	q.settleLocked(e, domain.Reply{Action: binding.Action, Label: binding.Label}, telemetry.OutcomeResolved)
	return true
}

func (q *Queue) expire(promptID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[promptID]
	if !ok {
		return
	}
	q.settleLocked(e, domain.Reply{Err: ErrTimeout}, telemetry.OutcomeTimeout)
}

// Cancel settles promptID with ErrCanceled. Returns false if it was
// already settled or never existed.
func (q *Queue) Cancel(promptID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[promptID]
	if !ok {
		return false
	}
	return q.settleLocked(e, domain.Reply{Err: ErrCanceled}, telemetry.OutcomeCanceled)
}

// settleLocked delivers reply, retires e and, if e was active, promotes
// the next prompt. A drained queue clears the display.
func (q *Queue) settleLocked(e *entry, reply domain.Reply, outcome telemetry.Outcome) bool {
	if e.settled {
		return false
	}
	e.settle(reply)
	reply = e.reply

	wasActive := q.order.Front() == e.elem
	q.order.Remove(e.elem)
	delete(q.byID, e.prompt.ID)

	waited := q.clock.Now().Sub(e.prompt.CreatedAt)
	q.recorder.PromptSettled(outcome, waited)
	fields := []zap.Field{
		zap.String("prompt_id", e.prompt.ID),
		zap.String("request_id", e.prompt.RequestID),
		zap.String("outcome", string(outcome)),
		zap.Duration("waited", waited),
	}
	if reply.Err != nil {
		q.logger.Warn("prompt rejected", append(fields, zap.Error(reply.Err))...)
	} else {
		q.logger.Info("prompt resolved", append(fields,
			zap.String("action", reply.Action),
			zap.String("label", reply.Label))...)
	}

	if !wasActive {
		return true
	}
	if next := q.order.Front(); next != nil {
		q.show(next.Value.(*entry).prompt.Text)
	} else {
		q.show("")
	}
	return true
}

// show runs under q.mu so display order follows promotion order.
func (q *Queue) show(text string) {
	if q.display != nil {
		q.display.Display(text)
	}
}

// Redisplay shows the active prompt again, e.g. after the device
// reconnects. Returns false when nothing is active.
func (q *Queue) Redisplay() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.order.Front()
	if front == nil {
		return false
	}
	q.show(front.Value.(*entry).prompt.Text)
	return true
}

// HasPending reports whether any prompt, active or waiting, is queued.
func (q *Queue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len() > 0
}

// Len returns the number of queued prompts.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}

// Active returns the prompt at the head of the queue.
func (q *Queue) Active() (domain.Prompt, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.order.Front()
	if front == nil {
		return domain.Prompt{}, false
	}
	return front.Value.(*entry).prompt, true
}

// Snapshot returns every queued prompt in service order.
func (q *Queue) Snapshot() []domain.Prompt {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Prompt, 0, q.order.Len())
	for el := q.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry).prompt)
	}
	return out
}

// UpdateConfig swaps bindings and the default timeout. Deadlines already
// armed are unchanged.
func (q *Queue) UpdateConfig(opts Options) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.opts = opts
}

// Close rejects every unsettled prompt with ErrShutdown and refuses
// further submissions. It is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true

	for el := q.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		e.settle(domain.Reply{Err: ErrShutdown})
		q.recorder.PromptSettled(telemetry.OutcomeShutdown, q.clock.Now().Sub(e.prompt.CreatedAt))
		q.order.Remove(el)
		el = next
	}
	if n := len(q.byID); n > 0 {
		q.logger.Info("rejected pending prompts on shutdown", zap.Int("count", n))
	}
	q.byID = make(map[string]*entry)
}
