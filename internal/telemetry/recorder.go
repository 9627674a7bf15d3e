package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome labels a prompt settlement.
type Outcome string

const (
	OutcomeResolved Outcome = "resolved"
	OutcomeUnmapped Outcome = "unmapped"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeCanceled Outcome = "canceled"
	OutcomeShutdown Outcome = "shutdown"
)

// Recorder holds the bridge's instruments. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	submitted metric.Int64Counter
	settled   metric.Int64Counter
	waitMs    metric.Float64Histogram
	gestures  metric.Int64Counter
	connects  metric.Int64Counter
	faults    metric.Int64Counter
}

// NewRecorder creates instruments on meter. Instruments that fail to
// register are replaced by no-ops inside the otel API, so errors are
// returned only for visibility.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error
	if r.submitted, err = meter.Int64Counter("camelpad.prompts.submitted",
		metric.WithDescription("Prompts accepted into the queue")); err != nil {
		return nil, err
	}
	if r.settled, err = meter.Int64Counter("camelpad.prompts.settled",
		metric.WithDescription("Prompts settled, by outcome")); err != nil {
		return nil, err
	}
	if r.waitMs, err = meter.Float64Histogram("camelpad.prompt.wait_ms",
		metric.WithDescription("Time from submission to settlement"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if r.gestures, err = meter.Int64Counter("camelpad.gestures",
		metric.WithDescription("Classified gestures, by kind")); err != nil {
		return nil, err
	}
	if r.connects, err = meter.Int64Counter("camelpad.device.connects"); err != nil {
		return nil, err
	}
	if r.faults, err = meter.Int64Counter("camelpad.device.faults"); err != nil {
		return nil, err
	}
	return r, nil
}

// PromptSubmitted counts one accepted prompt.
func (r *Recorder) PromptSubmitted(category string) {
	if r == nil {
		return
	}
	r.submitted.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("category", category)))
}

// PromptSettled counts one settlement and records how long it waited.
func (r *Recorder) PromptSettled(outcome Outcome, waited time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", string(outcome)))
	r.settled.Add(context.Background(), 1, attrs)
	r.waitMs.Record(context.Background(), float64(waited.Milliseconds()), attrs)
}

// Gesture counts one classified gesture.
func (r *Recorder) Gesture(kind string) {
	if r == nil {
		return
	}
	r.gestures.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("gesture", kind)))
}

// DeviceConnected counts one successful open.
func (r *Recorder) DeviceConnected() {
	if r == nil {
		return
	}
	r.connects.Add(context.Background(), 1)
}

// DeviceFault counts one transport error or failed open.
func (r *Recorder) DeviceFault() {
	if r == nil {
		return
	}
	r.faults.Add(context.Background(), 1)
}
