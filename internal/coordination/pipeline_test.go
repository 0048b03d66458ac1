package coordination

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fkorte/agentpod/internal/adapter/archive/memory"
	"github.com/fkorte/agentpod/internal/domain"
	"github.com/fkorte/agentpod/internal/domain/handoff"
	"github.com/fkorte/agentpod/internal/port/broadcast"
	"github.com/fkorte/agentpod/internal/port/dispatch"
)

// recordingDispatcher remembers the order receivers were dispatched to.
type recordingDispatcher struct {
	mu    sync.Mutex
	order []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, del dispatch.Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.order = append(d.order, del.ReceiverID)
	return nil
}

func (d *recordingDispatcher) receivers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

func chainProtocol(sender, receiver string) *handoff.Protocol {
	p := handoff.New(sender, receiver)
	p.PayloadSchema = map[string]handoff.FieldType{}
	p.Payload = map[string]any{}
	p.RetryDelay = time.Millisecond
	return p
}

func TestRunPipelineStrictOrder(t *testing.T) {
	d := &recordingDispatcher{}
	store := memory.New()
	e := NewEngine(d, store, handoff.NewStrategyRegistry(), broadcast.Nop{})

	g := &handoff.Graph{
		ID:    "research-pipeline",
		Shape: handoff.ShapeChain,
		Protocols: []*handoff.Protocol{
			chainProtocol("research", "analysis"),
			chainProtocol("analysis", "writing"),
			chainProtocol("writing", "review"),
		},
	}
	if err := e.RunPipeline(context.Background(), g); err != nil {
		t.Fatal(err)
	}

	want := []string{"analysis", "writing", "review"}
	got := d.receivers()
	if len(got) != len(want) {
		t.Fatalf("dispatched to %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage %d dispatched to %q, want %q", i, got[i], want[i])
		}
	}

	recs, err := store.ListByGraph(context.Background(), "research-pipeline")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("archived %d records, want 3", len(recs))
	}
}

func TestRunPipelineStopsOnGatedStage(t *testing.T) {
	d := &recordingDispatcher{}
	reg := handoff.NewStrategyRegistry()
	reg.RegisterTrigger("never", func(context.Context, *handoff.Protocol) (bool, error) {
		return false, nil
	})
	e := NewEngine(d, memory.New(), reg, broadcast.Nop{})

	second := chainProtocol("b", "c")
	second.Trigger = handoff.StrategyRef{Name: "never"}
	g := &handoff.Graph{
		ID:    "gated",
		Shape: handoff.ShapeChain,
		Protocols: []*handoff.Protocol{
			chainProtocol("a", "b"),
			second,
			chainProtocol("c", "d"),
		},
	}

	err := e.RunPipeline(context.Background(), g)
	if !domain.IsKind(err, domain.KindHandoffFailure) {
		t.Fatalf("expected handoff failure kind, got %v", err)
	}
	if got := d.receivers(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("dispatched to %v, want only [b]", got)
	}
}

func TestRunFanOutAllComplete(t *testing.T) {
	d := &recordingDispatcher{}
	e := NewEngine(d, memory.New(), handoff.NewStrategyRegistry(), broadcast.Nop{})

	g := &handoff.Graph{
		ID:    "fan",
		Shape: handoff.ShapeFanOut,
		Protocols: []*handoff.Protocol{
			chainProtocol("coordinator", "w1"),
			chainProtocol("coordinator", "w2"),
			chainProtocol("coordinator", "w3"),
		},
	}
	res, err := e.RunFanOut(context.Background(), g)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Completed() {
		t.Fatalf("failed branches: %v", res.Failed)
	}
	if got := len(d.receivers()); got != 3 {
		t.Fatalf("dispatched %d deliveries, want 3", got)
	}
	if got := len(res.Outcomes); got != 3 {
		t.Fatalf("aggregated %d outcomes, want 3", got)
	}
}

// faultyReceiverDispatcher refuses every delivery to one receiver.
type faultyReceiverDispatcher struct {
	recordingDispatcher
	refuse string
}

func (d *faultyReceiverDispatcher) Dispatch(ctx context.Context, del dispatch.Delivery) error {
	_ = d.recordingDispatcher.Dispatch(ctx, del)
	if del.ReceiverID == d.refuse {
		return errors.New("receiver offline")
	}
	return nil
}

func TestRunFanOutFailingBranchLeavesSiblingsAlone(t *testing.T) {
	d := &faultyReceiverDispatcher{refuse: "w2"}
	e := NewEngine(d, memory.New(), handoff.NewStrategyRegistry(), broadcast.Nop{})

	healthy1 := chainProtocol("coordinator", "w1")
	broken := chainProtocol("coordinator", "w2")
	broken.MaxRetries = 2
	healthy2 := chainProtocol("coordinator", "w3")

	g := &handoff.Graph{
		ID:        "fan-partial",
		Shape:     handoff.ShapeFanOut,
		Protocols: []*handoff.Protocol{healthy1, broken, healthy2},
	}
	res, err := e.RunFanOut(context.Background(), g)
	if !domain.IsKind(err, domain.KindHandoffFailure) {
		t.Fatalf("expected handoff failure kind, got %v", err)
	}

	// The failing branch must not drag its siblings down.
	if healthy1.Status != handoff.StatusCompleted || healthy2.Status != handoff.StatusCompleted {
		t.Fatalf("sibling statuses = %q, %q, want both completed", healthy1.Status, healthy2.Status)
	}
	if broken.Status != handoff.StatusFailed {
		t.Fatalf("broken branch status = %q, want failed", broken.Status)
	}
	if len(res.Failed) != 1 || res.Failed[0] != broken.ID {
		t.Fatalf("failed branches = %v, want only %q", res.Failed, broken.ID)
	}
	if res.Outcomes[healthy1.ID] != OutcomeCompleted || res.Outcomes[healthy2.ID] != OutcomeCompleted {
		t.Fatalf("healthy outcomes = %v", res.Outcomes)
	}
	if broken.Attempts != 2 {
		t.Fatalf("broken branch attempts = %d, want its own full retry budget of 2", broken.Attempts)
	}
}

func TestRouteExactlyOne(t *testing.T) {
	d := &recordingDispatcher{}
	reg := handoff.NewStrategyRegistry()
	reg.RegisterTrigger("is-code", func(_ context.Context, p *handoff.Protocol) (bool, error) {
		return p.Payload["topic"] == "code", nil
	})
	reg.RegisterTrigger("is-docs", func(_ context.Context, p *handoff.Protocol) (bool, error) {
		return p.Payload["topic"] == "docs", nil
	})
	e := NewEngine(d, memory.New(), reg, broadcast.Nop{})

	route := func(trigger, receiver, topic string) *handoff.Protocol {
		p := chainProtocol("router", receiver)
		p.Trigger = handoff.StrategyRef{Name: trigger}
		p.PayloadSchema = map[string]handoff.FieldType{"topic": handoff.FieldString}
		p.Payload = map[string]any{"topic": topic}
		return p
	}

	g := &handoff.Graph{
		ID:    "topic-router",
		Shape: handoff.ShapeRouter,
		Protocols: []*handoff.Protocol{
			route("is-code", "coder", "code"),
			route("is-docs", "writer", "code"),
		},
	}
	outcome, err := e.Route(context.Background(), g)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeCompleted)
	}
	if got := d.receivers(); len(got) != 1 || got[0] != "coder" {
		t.Fatalf("dispatched to %v, want only [coder]", got)
	}
}

func TestRouteNoMatchDropsEvent(t *testing.T) {
	d := &recordingDispatcher{}
	reg := handoff.NewStrategyRegistry()
	reg.RegisterTrigger("never", func(context.Context, *handoff.Protocol) (bool, error) {
		return false, nil
	})
	e := NewEngine(d, memory.New(), reg, broadcast.Nop{})

	p1 := chainProtocol("router", "a")
	p1.Trigger = handoff.StrategyRef{Name: "never"}
	p2 := chainProtocol("router", "b")
	p2.Trigger = handoff.StrategyRef{Name: "never"}

	g := &handoff.Graph{ID: "r", Shape: handoff.ShapeRouter, Protocols: []*handoff.Protocol{p1, p2}}
	outcome, err := e.Route(context.Background(), g)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeTriggerNotMet {
		t.Fatalf("outcome = %q, want %q", outcome, OutcomeTriggerNotMet)
	}
	if len(d.receivers()) != 0 {
		t.Fatal("no-match routing must not dispatch")
	}
}

func TestRouteMultipleMatchesConflict(t *testing.T) {
	d := &recordingDispatcher{}
	reg := handoff.NewStrategyRegistry()
	reg.RegisterTrigger("ever", func(context.Context, *handoff.Protocol) (bool, error) {
		return true, nil
	})
	e := NewEngine(d, memory.New(), reg, broadcast.Nop{})

	p1 := chainProtocol("router", "a")
	p1.Trigger = handoff.StrategyRef{Name: "ever"}
	p2 := chainProtocol("router", "b")
	p2.Trigger = handoff.StrategyRef{Name: "ever"}

	g := &handoff.Graph{ID: "r2", Shape: handoff.ShapeRouter, Protocols: []*handoff.Protocol{p1, p2}}
	_, err := e.Route(context.Background(), g)
	if !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("expected conflict kind, got %v", err)
	}
	if len(d.receivers()) != 0 {
		t.Fatal("ambiguous routing must not dispatch")
	}
}
