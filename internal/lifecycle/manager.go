// Package lifecycle drives a unit through its state machine from
// initialization to termination and tracks per-unit health metrics.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fkorte/agentpod/internal/domain"
	"github.com/fkorte/agentpod/internal/domain/resource"
	"github.com/fkorte/agentpod/internal/domain/unit"
	"github.com/fkorte/agentpod/internal/port/tool"
)

// State is a unit's position in its lifecycle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateExecuting     State = "executing"
	StatePaused        State = "paused"
	StateCompleting    State = "completing"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateTerminated    State = "terminated"
)

// Terminal reports whether no further transitions are possible except
// termination.
func (s State) Terminal() bool {
	return s == StateTerminated
}

// Transition is one recorded state change.
type Transition struct {
	From    State       `json:"from"`
	To      State       `json:"to"`
	At      time.Time   `json:"at"`
	Reason  string      `json:"reason,omitempty"`
	ErrKind domain.Kind `json:"err_kind,omitempty"`
	ErrMsg  string      `json:"err_msg,omitempty"`
}

// Metrics aggregates a unit's execution counters.
type Metrics struct {
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	ExecutionTime  time.Duration `json:"execution_time"`
	ErrorCount     int           `json:"error_count"`
	TasksCompleted int           `json:"tasks_completed"`
}

// Snapshot is a point-in-time view of a unit for monitoring.
type Snapshot struct {
	UnitID  string  `json:"unit_id"`
	State   State   `json:"state"`
	Healthy bool    `json:"healthy"`
	Metrics Metrics `json:"metrics"`
}

// Task is one unit of work routed to a tool.
type Task struct {
	ID     string      `json:"id"`
	Tool   string      `json:"tool"`
	Inputs tool.Inputs `json:"inputs"`
}

// Observer receives lifecycle events; wired to metrics and the event hub.
type Observer interface {
	UnitTransition(unitID string, from, to State)
	ExecutionObserved(unitID string, d time.Duration, err error)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) UnitTransition(string, State, State)            {}
func (NopObserver) ExecutionObserved(string, time.Duration, error) {}

// Manager owns one unit's state machine. All transitions are serialized
// behind a mutex; Execute itself runs outside the lock so pause and
// terminate stay responsive.
type Manager struct {
	unitID string
	spec   *unit.Specification

	limitDefaults resource.Limits
	limitCeiling  resource.Limits

	mu          sync.Mutex
	state       State
	metrics     Metrics
	transitions []Transition
	tools       map[string]tool.Tool
	limits      resource.Limits
	done        chan struct{}

	onTerminate func()
	log         *slog.Logger
	obs         Observer
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.obs = o }
}

// WithTerminateHook runs fn once when the unit terminates.
func WithTerminateHook(fn func()) Option {
	return func(m *Manager) { m.onTerminate = fn }
}

// WithLimits sets pod-level default and ceiling resource limits. The unit's
// effective limits are its declared limits merged over the defaults and
// capped at the ceiling; they take effect on Initialize.
func WithLimits(defaults, ceiling resource.Limits) Option {
	return func(m *Manager) {
		m.limitDefaults = defaults
		m.limitCeiling = ceiling
	}
}

// NewManager creates an uninitialized manager for the unit described by spec.
func NewManager(unitID string, spec *unit.Specification, opts ...Option) *Manager {
	m := &Manager{
		unitID: unitID,
		spec:   spec,
		state:  StateUninitialized,
		done:   make(chan struct{}),
		log:    slog.Default(),
		obs:    NopObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("unit_id", unitID)
	return m
}

// UnitID returns the managed unit's identifier.
func (m *Manager) UnitID() string { return m.unitID }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Done is closed when the unit reaches TERMINATED.
func (m *Manager) Done() <-chan struct{} { return m.done }

// transitionLocked records and applies a state change. Callers hold m.mu.
func (m *Manager) transitionLocked(to State, reason string, cause error) {
	from := m.state
	tr := Transition{From: from, To: to, At: time.Now(), Reason: reason}
	if cause != nil {
		tr.ErrKind = domain.KindOf(cause)
		tr.ErrMsg = cause.Error()
	}
	m.state = to
	m.transitions = append(m.transitions, tr)
	m.log.Info("unit state changed", "from", from, "to", to, "reason", reason)
	m.obs.UnitTransition(m.unitID, from, to)
}

// Initialize validates the spec, binds the unit's tools and moves it to
// READY. Any failure lands the unit in FAILED with the cause recorded.
func (m *Manager) Initialize(ctx context.Context) error {
	const op = "lifecycle.Initialize"

	m.mu.Lock()
	if m.state != StateUninitialized {
		st := m.state
		m.mu.Unlock()
		return domain.E(domain.KindState, op, fmt.Sprintf("cannot initialize from %s", st))
	}
	m.transitionLocked(StateInitializing, "initialize requested", nil)
	m.mu.Unlock()

	err := m.initialize(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.metrics.ErrorCount++
		m.transitionLocked(StateFailed, "initialization failed", err)
		return err
	}
	m.metrics.StartTime = time.Now()
	m.transitionLocked(StateReady, "initialization complete", nil)
	return nil
}

func (m *Manager) initialize(ctx context.Context) error {
	const op = "lifecycle.Initialize"

	if problems := m.spec.Validate(); len(problems) > 0 {
		return domain.E(domain.KindValidation, op,
			fmt.Sprintf("spec invalid: %d problems, first: %s", len(problems), problems[0]))
	}

	mapping := unit.MapTools(m.spec, tool.Available)
	if gaps := unit.ValidateCoverage(mapping); len(gaps) > 0 {
		return domain.E(domain.KindTool, op, gaps[0])
	}

	tools := make(map[string]tool.Tool)
	for _, decl := range unit.MergedToolSet(mapping) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		t, err := tool.New(decl.Name, nil)
		if err != nil {
			return domain.Wrap(domain.KindTool, op, err)
		}
		tools[decl.Name] = t
	}

	// Readiness check: every required tool resolved to an instance.
	for _, decl := range m.spec.Tools {
		if !decl.Required {
			continue
		}
		if _, ok := tools[decl.Name]; !ok {
			if decl.Alternative == "" || tools[decl.Alternative] == nil {
				return domain.E(domain.KindTool, op,
					fmt.Sprintf("required tool %q unavailable", decl.Name))
			}
		}
	}

	m.mu.Lock()
	m.tools = tools
	m.limits = resource.Cap(resource.Merge(m.limitDefaults, m.spec.Constraints.Limits), m.limitCeiling)
	m.mu.Unlock()
	return nil
}

// Limits returns the unit's effective resource limits.
func (m *Manager) Limits() resource.Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits
}

// Execute runs one task through its tool. The unit must be READY (or
// COMPLETED, for follow-up tasks); a unit mid-execution rejects concurrent
// tasks with a state error and no transition. Tool failure moves the unit
// to FAILED.
func (m *Manager) Execute(ctx context.Context, task Task) (tool.Outputs, error) {
	const op = "lifecycle.Execute"

	m.mu.Lock()
	if m.state != StateReady && m.state != StateCompleted {
		st := m.state
		m.mu.Unlock()
		return nil, domain.E(domain.KindState, op, fmt.Sprintf("cannot execute from %s", st))
	}
	t, ok := m.tools[task.Tool]
	if !ok {
		m.mu.Unlock()
		return nil, domain.E(domain.KindTool, op, fmt.Sprintf("tool %q not bound to unit", task.Tool))
	}
	if kb := m.limits.MaxPayloadKB; kb > 0 {
		if b, err := json.Marshal(task.Inputs); err == nil && len(b) > kb*1024 {
			m.mu.Unlock()
			return nil, domain.E(domain.KindValidation, op,
				fmt.Sprintf("task payload %d bytes exceeds limit of %d KB", len(b), kb))
		}
	}
	m.transitionLocked(StateExecuting, "task "+task.ID, nil)
	m.mu.Unlock()

	if limit := m.spec.Constraints.MaxExecution; limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	start := time.Now()
	out, err := t.Invoke(ctx, task.Inputs)
	elapsed := time.Since(start)
	m.obs.ExecutionObserved(m.unitID, elapsed, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	// Per-call timing is recorded on every path out of the invoke,
	// success, failure and mid-flight termination alike.
	m.metrics.StartTime = start
	m.metrics.EndTime = start.Add(elapsed)
	m.metrics.ExecutionTime += elapsed

	if m.state == StateTerminated {
		// Terminated mid-flight; drop the result.
		return nil, domain.E(domain.KindState, op, "unit terminated during execution")
	}

	if err != nil {
		m.metrics.ErrorCount++
		wrapped := domain.Wrap(domain.KindTool, op, err)
		m.transitionLocked(StateFailed, "task "+task.ID+" failed", wrapped)
		return nil, wrapped
	}

	m.metrics.TasksCompleted++
	m.transitionLocked(StateCompleting, "task "+task.ID+" finishing", nil)
	m.transitionLocked(StateCompleted, "task "+task.ID+" complete", nil)
	return out, nil
}

// Pause suspends an executing unit.
func (m *Manager) Pause() error {
	const op = "lifecycle.Pause"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateExecuting {
		return domain.E(domain.KindState, op, fmt.Sprintf("cannot pause from %s", m.state))
	}
	m.transitionLocked(StatePaused, "pause requested", nil)
	return nil
}

// Resume returns a paused unit to execution.
func (m *Manager) Resume() error {
	const op = "lifecycle.Resume"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePaused {
		return domain.E(domain.KindState, op, fmt.Sprintf("cannot resume from %s", m.state))
	}
	m.transitionLocked(StateExecuting, "resume requested", nil)
	return nil
}

// Terminate moves the unit to TERMINATED from any state, releasing its
// tools and running the terminate hook. Calling it again is a no-op.
func (m *Manager) Terminate(ctx context.Context, reason string) error {
	m.mu.Lock()
	if m.state == StateTerminated {
		m.mu.Unlock()
		return nil
	}
	m.transitionLocked(StateTerminated, reason, nil)
	m.metrics.EndTime = time.Now()
	m.tools = nil
	hook := m.onTerminate
	close(m.done)
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

// Health returns the unit's snapshot. A unit is healthy while it is ready,
// executing or completed.
func (m *Manager) Health() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	healthy := false
	switch m.state {
	case StateReady, StateExecuting, StateCompleted:
		healthy = true
	}
	return Snapshot{
		UnitID:  m.unitID,
		State:   m.state,
		Healthy: healthy,
		Metrics: m.metrics,
	}
}

// History returns a copy of the recorded transitions.
func (m *Manager) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.transitions))
	copy(out, m.transitions)
	return out
}
