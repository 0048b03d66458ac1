// Package otel holds the OpenTelemetry instruments and exporter setup for
// agentpod.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fkorte/agentpod/internal/domain/handoff"
	"github.com/fkorte/agentpod/internal/lifecycle"
)

const meterName = "agentpod"

// Metrics holds all agentpod metric instruments.
type Metrics struct {
	HandoffsStarted  metric.Int64Counter
	HandoffsFinished metric.Int64Counter
	HandoffsRetried  metric.Int64Counter
	UnitTransitions  metric.Int64Counter
	AlertsRaised     metric.Int64Counter
	HandoffDuration  metric.Float64Histogram
	ExecutionSeconds metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.HandoffsStarted, err = meter.Int64Counter("agentpod.handoffs.started",
		metric.WithDescription("Number of handoffs started"))
	if err != nil {
		return nil, err
	}

	m.HandoffsFinished, err = meter.Int64Counter("agentpod.handoffs.finished",
		metric.WithDescription("Number of handoffs reaching a terminal status"))
	if err != nil {
		return nil, err
	}

	m.HandoffsRetried, err = meter.Int64Counter("agentpod.handoffs.retried",
		metric.WithDescription("Number of handoff retry attempts"))
	if err != nil {
		return nil, err
	}

	m.UnitTransitions, err = meter.Int64Counter("agentpod.unit.transitions",
		metric.WithDescription("Number of unit lifecycle transitions"))
	if err != nil {
		return nil, err
	}

	m.AlertsRaised, err = meter.Int64Counter("agentpod.alerts.raised",
		metric.WithDescription("Number of monitor alerts raised"))
	if err != nil {
		return nil, err
	}

	m.HandoffDuration, err = meter.Float64Histogram("agentpod.handoff.duration_seconds",
		metric.WithDescription("Handoff duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ExecutionSeconds, err = meter.Float64Histogram("agentpod.unit.execution_seconds",
		metric.WithDescription("Task execution duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// UnitTransition implements lifecycle.Observer.
func (m *Metrics) UnitTransition(unitID string, from, to lifecycle.State) {
	m.UnitTransitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("unit.id", unitID),
		attribute.String("state.from", string(from)),
		attribute.String("state.to", string(to)),
	))
}

// ExecutionObserved implements lifecycle.Observer.
func (m *Metrics) ExecutionObserved(unitID string, d time.Duration, err error) {
	m.ExecutionSeconds.Record(context.Background(), d.Seconds(), metric.WithAttributes(
		attribute.String("unit.id", unitID),
		attribute.Bool("error", err != nil),
	))
}

// HandoffStarted implements coordination.Observer.
func (m *Metrics) HandoffStarted(senderID, receiverID string) {
	m.HandoffsStarted.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("sender.id", senderID),
		attribute.String("receiver.id", receiverID),
	))
}

// HandoffRetried implements coordination.Observer.
func (m *Metrics) HandoffRetried(protocolID string, attempt int) {
	m.HandoffsRetried.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("protocol.id", protocolID),
		attribute.Int("attempt", attempt),
	))
}

// HandoffFinished implements coordination.Observer.
func (m *Metrics) HandoffFinished(status handoff.Status, elapsed time.Duration) {
	m.HandoffsFinished.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("status", string(status)),
	))
	m.HandoffDuration.Record(context.Background(), elapsed.Seconds())
}

// AlertRaised counts one alert by kind and severity.
func (m *Metrics) AlertRaised(kind, severity string) {
	m.AlertsRaised.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("severity", severity),
	))
}
