// Package monitor polls unit health, recomputes fleet metrics from live
// state, and raises alerts on anomalies.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fkorte/agentpod/internal/domain"
	"github.com/fkorte/agentpod/internal/lifecycle"
	"github.com/fkorte/agentpod/internal/port/alert"
	"github.com/fkorte/agentpod/internal/port/broadcast"
	"github.com/fkorte/agentpod/internal/port/cache"
)

// Alert kinds raised by the monitor.
const (
	AlertUnhealthy     = "unit_unhealthy"
	AlertSlowExecution = "slow_execution"
	AlertErrorBudget   = "error_budget_exceeded"
)

// Cache keys for the latest poll results.
const (
	keyFleetMetrics  = "monitor:fleet"
	keySnapshotOfFmt = "monitor:unit:%s"
)

// Config tunes the polling loop and alert thresholds.
type Config struct {
	Interval      time.Duration
	SlowExecution time.Duration
	MaxErrorCount int
}

// FleetMetrics aggregates the pod's units. Values are recomputed from live
// unit state on every poll, never carried over.
type FleetMetrics struct {
	TotalUnits     int       `json:"total_units"`
	HealthyUnits   int       `json:"healthy_units"`
	TasksCompleted int       `json:"tasks_completed"`
	Errors         int       `json:"errors"`
	ObservedAt     time.Time `json:"observed_at"`
}

// UnitSource provides the monitor's view of the fleet. *lifecycle.Registry
// satisfies it.
type UnitSource interface {
	Snapshots() []lifecycle.Snapshot
	Get(unitID string) (*lifecycle.Manager, error)
}

// Monitor watches the unit registry on an interval.
type Monitor struct {
	units     UnitSource
	notifiers []alert.Notifier
	cache     cache.Cache
	hub       broadcast.Broadcaster
	cfg       Config
	log       *slog.Logger

	mu        sync.Mutex
	alerted   map[string]string          // unit_id -> last alert kind, dedup between polls
	lastState map[string]lifecycle.State // unit_id -> state seen on previous poll

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Option configures optional monitor collaborators.
type Option func(*Monitor)

// WithBroadcaster publishes unit state changes and alerts as runtime events.
func WithBroadcaster(b broadcast.Broadcaster) Option {
	return func(m *Monitor) { m.hub = b }
}

// New creates a monitor. The cache holds the latest snapshots for cheap
// read access by the HTTP layer; a nil-safe no-op cache is not provided,
// callers pass a real implementation.
func New(units UnitSource, notifiers []alert.Notifier, c cache.Cache, cfg Config, log *slog.Logger, opts ...Option) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	m := &Monitor{
		units:     units,
		notifiers: notifiers,
		cache:     c,
		hub:       broadcast.Nop{},
		cfg:       cfg,
		log:       log,
		alerted:   make(map[string]string),
		lastState: make(map[string]lifecycle.State),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the polling loop. It returns immediately; Stop shuts the
// loop down and waits for it to exit.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		m.poll(ctx)
		for {
			select {
			case <-ticker.C:
				m.poll(ctx)
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the polling loop.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// poll takes one pass over the fleet: refresh cached snapshots, recompute
// aggregates, raise alerts.
func (m *Monitor) poll(ctx context.Context) {
	snaps := m.units.Snapshots()

	fleet := FleetMetrics{ObservedAt: time.Now()}
	for _, s := range snaps {
		fleet.TotalUnits++
		if s.Healthy {
			fleet.HealthyUnits++
		}
		fleet.TasksCompleted += s.Metrics.TasksCompleted
		fleet.Errors += s.Metrics.ErrorCount

		m.cacheJSON(fmt.Sprintf(keySnapshotOfFmt, s.UnitID), s)
		m.observeState(ctx, s)
		m.check(ctx, s)
	}
	m.cacheJSON(keyFleetMetrics, fleet)
}

// observeState publishes a unit_state event when a unit's state differs from
// the previous poll. The first sighting is published with an empty "from".
func (m *Monitor) observeState(ctx context.Context, s lifecycle.Snapshot) {
	m.mu.Lock()
	prev, seen := m.lastState[s.UnitID]
	if seen && prev == s.State {
		m.mu.Unlock()
		return
	}
	m.lastState[s.UnitID] = s.State
	m.mu.Unlock()

	m.hub.BroadcastEvent(ctx, broadcast.EventUnitState, broadcast.UnitStateEvent{
		UnitID: s.UnitID,
		From:   string(prev),
		To:     string(s.State),
	})
}

func (m *Monitor) cacheJSON(key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		m.log.Error("marshaling monitor snapshot failed", "key", key, "error", err)
		return
	}
	if err := m.cache.Set(key, b); err != nil {
		m.log.Warn("caching monitor snapshot failed", "key", key, "error", err)
	}
}

// check raises at most one alert per unit per condition change.
func (m *Monitor) check(ctx context.Context, s lifecycle.Snapshot) {
	var kind, msg, severity string
	switch {
	case !s.Healthy && s.State != lifecycle.StateUninitialized && s.State != lifecycle.StateInitializing:
		kind = AlertUnhealthy
		msg = fmt.Sprintf("unit is %s", s.State)
		severity = "critical"
	case m.cfg.MaxErrorCount > 0 && s.Metrics.ErrorCount >= m.cfg.MaxErrorCount:
		kind = AlertErrorBudget
		msg = fmt.Sprintf("error count %d reached threshold %d", s.Metrics.ErrorCount, m.cfg.MaxErrorCount)
		severity = "warning"
	case m.cfg.SlowExecution > 0 && s.State == lifecycle.StateExecuting && s.Metrics.ExecutionTime > m.cfg.SlowExecution:
		kind = AlertSlowExecution
		msg = fmt.Sprintf("cumulative execution time %s exceeds %s", s.Metrics.ExecutionTime, m.cfg.SlowExecution)
		severity = "warning"
	default:
		m.mu.Lock()
		delete(m.alerted, s.UnitID)
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	if m.alerted[s.UnitID] == kind {
		m.mu.Unlock()
		return
	}
	m.alerted[s.UnitID] = kind
	m.mu.Unlock()

	m.raise(ctx, alert.Alert{
		UnitID:   s.UnitID,
		Kind:     kind,
		Message:  msg,
		Severity: severity,
		At:       time.Now(),
	})
}

// raise fans the alert out to every notifier, logging failures and moving
// on so one broken destination cannot silence the rest.
func (m *Monitor) raise(ctx context.Context, a alert.Alert) {
	m.log.Warn("alert raised",
		"unit_id", a.UnitID, "kind", a.Kind, "severity", a.Severity, "message", a.Message)
	m.hub.BroadcastEvent(ctx, broadcast.EventAlert, broadcast.AlertEvent{
		UnitID:   a.UnitID,
		Kind:     a.Kind,
		Severity: a.Severity,
		Message:  a.Message,
	})
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, a); err != nil {
			m.log.Error("notifier failed", "notifier", n.Name(), "error", err)
		}
	}
}

// GetHealth returns a unit's latest cached snapshot, falling back to a
// live read on cache miss.
func (m *Monitor) GetHealth(ctx context.Context, unitID string) (lifecycle.Snapshot, error) {
	if b, err := m.cache.Get(fmt.Sprintf(keySnapshotOfFmt, unitID)); err == nil {
		var s lifecycle.Snapshot
		if err := json.Unmarshal(b, &s); err == nil {
			return s, nil
		}
	}
	mgr, err := m.units.Get(unitID)
	if err != nil {
		return lifecycle.Snapshot{}, domain.ErrNotFound
	}
	return mgr.Health(), nil
}

// GetMetrics returns the latest fleet aggregate, recomputing when the
// cache has nothing yet.
func (m *Monitor) GetMetrics(ctx context.Context) (FleetMetrics, error) {
	if b, err := m.cache.Get(keyFleetMetrics); err == nil {
		var f FleetMetrics
		if err := json.Unmarshal(b, &f); err == nil {
			return f, nil
		}
	}

	fleet := FleetMetrics{ObservedAt: time.Now()}
	for _, s := range m.units.Snapshots() {
		fleet.TotalUnits++
		if s.Healthy {
			fleet.HealthyUnits++
		}
		fleet.TasksCompleted += s.Metrics.TasksCompleted
		fleet.Errors += s.Metrics.ErrorCount
	}
	return fleet, nil
}
