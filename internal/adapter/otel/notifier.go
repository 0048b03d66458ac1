package otel

import (
	"context"

	"github.com/fkorte/agentpod/internal/port/alert"
)

// AlertNotifier counts monitor alerts on the metrics instruments. It sits in
// the notifier fan-out next to the real delivery channels.
type AlertNotifier struct {
	metrics *Metrics
}

// NewAlertNotifier wraps the instruments as an alert notifier.
func NewAlertNotifier(m *Metrics) *AlertNotifier {
	return &AlertNotifier{metrics: m}
}

// Name implements alert.Notifier.
func (n *AlertNotifier) Name() string { return "otel" }

// Notify implements alert.Notifier.
func (n *AlertNotifier) Notify(_ context.Context, a alert.Alert) error {
	n.metrics.AlertRaised(a.Kind, a.Severity)
	return nil
}
