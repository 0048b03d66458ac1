package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fkorte/agentpod/internal/domain"
	"github.com/fkorte/agentpod/internal/domain/resource"
	"github.com/fkorte/agentpod/internal/domain/unit"
	"github.com/fkorte/agentpod/internal/port/tool"
)

// fakeTool blocks until released when gate is non-nil.
type fakeTool struct {
	name  string
	gate  chan struct{}
	delay time.Duration
	fail  error
	out   tool.Outputs
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Invoke(ctx context.Context, _ tool.Inputs) (tool.Outputs, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		return nil, f.fail
	}
	return f.out, nil
}

var toolSeq atomic.Int64

// registerFakeTool installs a fake tool under a unique name and returns a
// spec whose single capability uses it.
func registerFakeTool(t *testing.T, ft *fakeTool) *unit.Specification {
	t.Helper()
	name := fmt.Sprintf("fake-tool-%d", toolSeq.Add(1))
	ft.name = name
	tool.Register(name, func(tool.Config) (tool.Tool, error) { return ft, nil })

	return &unit.Specification{
		ID:      "test-unit",
		Name:    "Test Unit",
		Version: "0.1.0",
		Capabilities: []unit.Capability{
			{Name: "work", Description: "do work", Priority: unit.PriorityMedium, Tools: []string{name}},
		},
		Tools:   []unit.ToolDecl{{Name: name, Purpose: "testing", Required: true}},
		Inputs:  []unit.IOField{{Name: "in", Type: "string", Required: true}},
		Outputs: []unit.IOField{{Name: "out", Type: "string", Required: true}},
		SuccessCriteria: []unit.SuccessCriterion{
			{Metric: "done", Threshold: 1},
		},
	}
}

func TestInitializeHappyPath(t *testing.T) {
	spec := registerFakeTool(t, &fakeTool{out: tool.Outputs{"out": "ok"}})
	m := NewManager("u1", spec)

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := m.State(); got != StateReady {
		t.Fatalf("state = %s, want ready", got)
	}
	if !m.Health().Healthy {
		t.Fatal("ready unit must be healthy")
	}
}

func TestInitializeInvalidSpecFails(t *testing.T) {
	spec := registerFakeTool(t, &fakeTool{})
	spec.ID = "Bad ID"
	m := NewManager("u2", spec)

	err := m.Initialize(context.Background())
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation kind, got %v", err)
	}
	if got := m.State(); got != StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
	if m.Health().Metrics.ErrorCount != 1 {
		t.Fatalf("error count = %d, want 1", m.Health().Metrics.ErrorCount)
	}
}

func TestExecuteBeforeInitialize(t *testing.T) {
	spec := registerFakeTool(t, &fakeTool{})
	m := NewManager("u3", spec)

	_, err := m.Execute(context.Background(), Task{ID: "t1", Tool: spec.Tools[0].Name})
	if !domain.IsKind(err, domain.KindState) {
		t.Fatalf("expected state kind, got %v", err)
	}
	if got := m.State(); got != StateUninitialized {
		t.Fatalf("rejected execute must not transition, state = %s", got)
	}
}

func TestExecuteSuccess(t *testing.T) {
	spec := registerFakeTool(t, &fakeTool{out: tool.Outputs{"out": "done"}})
	m := NewManager("u4", spec)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	out, err := m.Execute(context.Background(), Task{ID: "t1", Tool: spec.Tools[0].Name})
	if err != nil {
		t.Fatal(err)
	}
	if out["out"] != "done" {
		t.Fatalf("unexpected outputs: %v", out)
	}

	snap := m.Health()
	if snap.State != StateCompleted {
		t.Fatalf("state = %s, want completed", snap.State)
	}
	if snap.Metrics.TasksCompleted != 1 {
		t.Fatalf("tasks completed = %d, want 1", snap.Metrics.TasksCompleted)
	}
	if !snap.Healthy {
		t.Fatal("completed unit must be healthy")
	}

	// A completed unit accepts follow-up tasks.
	if _, err := m.Execute(context.Background(), Task{ID: "t2", Tool: spec.Tools[0].Name}); err != nil {
		t.Fatalf("follow-up task: %v", err)
	}
	if got := m.Health().Metrics.TasksCompleted; got != 2 {
		t.Fatalf("tasks completed = %d, want 2", got)
	}
}

func TestExecuteToolFailure(t *testing.T) {
	boom := errors.New("tool exploded")
	spec := registerFakeTool(t, &fakeTool{fail: boom})
	m := NewManager("u5", spec)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := m.Execute(context.Background(), Task{ID: "t1", Tool: spec.Tools[0].Name})
	if !domain.IsKind(err, domain.KindTool) {
		t.Fatalf("expected tool kind, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatal("cause must be preserved")
	}

	snap := m.Health()
	if snap.State != StateFailed {
		t.Fatalf("state = %s, want failed", snap.State)
	}
	if snap.Metrics.ErrorCount != 1 {
		t.Fatalf("error count = %d, want 1", snap.Metrics.ErrorCount)
	}
	if snap.Healthy {
		t.Fatal("failed unit must be unhealthy")
	}
}

func TestConcurrentExecuteRejected(t *testing.T) {
	gate := make(chan struct{})
	spec := registerFakeTool(t, &fakeTool{gate: gate, out: tool.Outputs{}})
	m := NewManager("u6", spec)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := m.Execute(context.Background(), Task{ID: "slow", Tool: spec.Tools[0].Name}); err != nil {
			t.Errorf("slow task: %v", err)
		}
	}()

	// Wait for the first task to reach EXECUTING.
	deadline := time.After(2 * time.Second)
	for m.State() != StateExecuting {
		select {
		case <-deadline:
			t.Fatal("first task never started executing")
		case <-time.After(time.Millisecond):
		}
	}

	_, err := m.Execute(context.Background(), Task{ID: "fast", Tool: spec.Tools[0].Name})
	if !domain.IsKind(err, domain.KindState) {
		t.Fatalf("concurrent execute: expected state kind, got %v", err)
	}

	close(gate)
	wg.Wait()
}

func TestPauseResume(t *testing.T) {
	gate := make(chan struct{})
	spec := registerFakeTool(t, &fakeTool{gate: gate, out: tool.Outputs{}})
	m := NewManager("u7", spec)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := m.Pause(); !domain.IsKind(err, domain.KindState) {
		t.Fatalf("pause from ready must fail with state kind, got %v", err)
	}

	go m.Execute(context.Background(), Task{ID: "t", Tool: spec.Tools[0].Name})
	deadline := time.After(2 * time.Second)
	for m.State() != StateExecuting {
		select {
		case <-deadline:
			t.Fatal("task never started executing")
		case <-time.After(time.Millisecond):
		}
	}

	if err := m.Pause(); err != nil {
		t.Fatal(err)
	}
	if got := m.State(); got != StatePaused {
		t.Fatalf("state = %s, want paused", got)
	}
	if err := m.Resume(); err != nil {
		t.Fatal(err)
	}
	if got := m.State(); got != StateExecuting {
		t.Fatalf("state = %s, want executing", got)
	}
	close(gate)
}

func TestTerminateIdempotent(t *testing.T) {
	spec := registerFakeTool(t, &fakeTool{})
	var hooks atomic.Int32
	m := NewManager("u8", spec, WithTerminateHook(func() { hooks.Add(1) }))
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := m.Terminate(context.Background(), "shutdown"); err != nil {
		t.Fatal(err)
	}
	if err := m.Terminate(context.Background(), "shutdown again"); err != nil {
		t.Fatal(err)
	}
	if got := hooks.Load(); got != 1 {
		t.Fatalf("terminate hook ran %d times, want 1", got)
	}

	select {
	case <-m.Done():
	default:
		t.Fatal("Done must be closed after terminate")
	}

	_, err := m.Execute(context.Background(), Task{ID: "t", Tool: spec.Tools[0].Name})
	if !domain.IsKind(err, domain.KindState) {
		t.Fatalf("execute after terminate: expected state kind, got %v", err)
	}
}

func TestExecuteRecordsPerTaskTiming(t *testing.T) {
	spec := registerFakeTool(t, &fakeTool{delay: 5 * time.Millisecond, out: tool.Outputs{}})
	m := NewManager("u11", spec)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	initialized := m.Health().Metrics.StartTime

	before := time.Now()
	if _, err := m.Execute(context.Background(), Task{ID: "t1", Tool: spec.Tools[0].Name}); err != nil {
		t.Fatal(err)
	}

	got := m.Health().Metrics
	if got.StartTime.Before(before) {
		t.Fatalf("start time %v predates the call, still the initialize time %v", got.StartTime, initialized)
	}
	if got.EndTime.IsZero() {
		t.Fatal("end time not recorded after a completed task")
	}
	if got.EndTime.Before(got.StartTime) {
		t.Fatalf("end time %v precedes start time %v", got.EndTime, got.StartTime)
	}
	if got.ExecutionTime <= 0 {
		t.Fatalf("execution time = %v, want > 0", got.ExecutionTime)
	}

	// Timing is recorded on failure too.
	failSpec := registerFakeTool(t, &fakeTool{delay: time.Millisecond, fail: errors.New("boom")})
	mf := NewManager("u12", failSpec)
	if err := mf.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := mf.Execute(context.Background(), Task{ID: "t1", Tool: failSpec.Tools[0].Name}); err == nil {
		t.Fatal("expected tool failure")
	}
	if mf.Health().Metrics.EndTime.IsZero() {
		t.Fatal("end time not recorded after a failed task")
	}
}

func TestLimitsMergeAndPayloadCap(t *testing.T) {
	spec := registerFakeTool(t, &fakeTool{out: tool.Outputs{}})
	spec.Constraints.Limits = resource.Limits{MemoryMB: 4096, MaxPayloadKB: 1}
	m := NewManager("u9", spec, WithLimits(
		resource.Limits{MemoryMB: 512, CPUQuota: 2},
		resource.Limits{MemoryMB: 2048},
	))
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Declared memory is capped at the ceiling; unset fields fall back to
	// the pod defaults.
	limits := m.Limits()
	if limits.MemoryMB != 2048 || limits.CPUQuota != 2 || limits.MaxPayloadKB != 1 {
		t.Fatalf("effective limits = %+v", limits)
	}

	big := make([]byte, 2048)
	_, err := m.Execute(context.Background(), Task{
		ID:     "oversized",
		Tool:   spec.Tools[0].Name,
		Inputs: tool.Inputs{"blob": string(big)},
	})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("oversized payload: expected validation kind, got %v", err)
	}
	if got := m.State(); got != StateReady {
		t.Fatalf("rejected payload must not transition, state = %s", got)
	}

	if _, err := m.Execute(context.Background(), Task{
		ID:     "small",
		Tool:   spec.Tools[0].Name,
		Inputs: tool.Inputs{"blob": "ok"},
	}); err != nil {
		t.Fatalf("small payload: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	specA := registerFakeTool(t, &fakeTool{})
	specB := registerFakeTool(t, &fakeTool{})
	r.Register(NewManager("alpha", specA))
	r.Register(NewManager("beta", specB))

	if _, err := r.Get("alpha"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	snaps := r.Snapshots()
	if len(snaps) != 2 || snaps[0].UnitID != "alpha" || snaps[1].UnitID != "beta" {
		t.Fatalf("unexpected snapshots: %+v", snaps)
	}

	r.Deregister("alpha")
	if got := len(r.All()); got != 1 {
		t.Fatalf("after deregister: %d managers", got)
	}
}
