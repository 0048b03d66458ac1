package coordination

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fkorte/agentpod/internal/domain"
	"github.com/fkorte/agentpod/internal/domain/handoff"
)

// RunPipeline executes a chain graph stage by stage, in declared order.
// A stage runs only after the previous one completed; a failed or
// trigger-gated stage stops the pipeline.
func (e *Engine) RunPipeline(ctx context.Context, g *handoff.Graph) error {
	const op = "coordination.RunPipeline"
	if g.Shape != handoff.ShapeChain {
		return domain.E(domain.KindValidation, op,
			fmt.Sprintf("graph %s is a %s, not a chain", g.ID, g.Shape))
	}
	if err := g.Validate(); err != nil {
		return err
	}

	for i, p := range g.Protocols {
		p.GraphID = g.ID
		outcome, err := e.Initiate(ctx, p)
		if err != nil {
			return fmt.Errorf("%s: stage %d (%s → %s): %w", op, i, p.SenderID, p.ReceiverID, err)
		}
		if outcome != OutcomeCompleted {
			return domain.E(domain.KindHandoffFailure, op,
				fmt.Sprintf("stage %d ended with %s, pipeline stopped", i, outcome))
		}
	}
	return nil
}

// FanOutResult aggregates the terminal report of every fan-out branch.
type FanOutResult struct {
	Outcomes map[string]string // protocol ID to outcome
	Failed   []string          // protocol IDs that did not complete
}

// Completed reports whether every branch reached its completed status.
func (r *FanOutResult) Completed() bool { return len(r.Failed) == 0 }

// RunFanOut executes a fan-out graph: all outbound handoffs from the
// coordinator run concurrently, and each branch is driven to its own
// terminal status regardless of how its siblings fare. Aggregation
// happens only after every branch has reported back; a failed branch
// surfaces in the result and the returned error, never as a
// cancellation of the others.
func (e *Engine) RunFanOut(ctx context.Context, g *handoff.Graph) (*FanOutResult, error) {
	const op = "coordination.RunFanOut"
	if g.Shape != handoff.ShapeFanOut {
		return nil, domain.E(domain.KindValidation, op,
			fmt.Sprintf("graph %s is a %s, not a fan_out", g.ID, g.Shape))
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	res := &FanOutResult{Outcomes: make(map[string]string, len(g.Protocols))}
	var (
		mu  sync.Mutex
		grp errgroup.Group
	)
	for _, p := range g.Protocols {
		p.GraphID = g.ID
		grp.Go(func() error {
			outcome, err := e.Initiate(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			res.Outcomes[p.ID] = outcome
			if err != nil || outcome != OutcomeCompleted {
				res.Failed = append(res.Failed, p.ID)
				e.log.Warn("fan-out branch did not complete",
					"graph_id", g.ID, "protocol_id", p.ID,
					"receiver_id", p.ReceiverID, "outcome", outcome, "error", err)
			}
			return nil
		})
	}
	_ = grp.Wait() // branches report through res; none returns an error

	sort.Strings(res.Failed)
	if !res.Completed() {
		return res, domain.E(domain.KindHandoffFailure, op,
			fmt.Sprintf("%d of %d branches did not complete", len(res.Failed), len(g.Protocols)))
	}
	return res, nil
}

// Route evaluates a router graph's trigger-guarded routes and initiates
// exactly the one whose trigger fires. No match drops the event with a
// log line; more than one match is a conflict.
func (e *Engine) Route(ctx context.Context, g *handoff.Graph) (string, error) {
	const op = "coordination.Route"
	if g.Shape != handoff.ShapeRouter {
		return "", domain.E(domain.KindValidation, op,
			fmt.Sprintf("graph %s is a %s, not a router", g.ID, g.Shape))
	}
	if err := g.Validate(); err != nil {
		return "", err
	}

	var matched []*handoff.Protocol
	for _, p := range g.Protocols {
		trigger, ok := e.strategies.Trigger(p.Trigger.Name)
		if !ok {
			return "", domain.E(domain.KindValidation, op,
				fmt.Sprintf("unknown trigger strategy %q", p.Trigger.Name))
		}
		fire, err := trigger(ctx, p)
		if err != nil {
			return "", domain.Wrap(domain.KindHandoffFailure, op, err)
		}
		if fire {
			matched = append(matched, p)
		}
	}

	switch len(matched) {
	case 0:
		e.log.Info("router matched no route, event dropped", "graph_id", g.ID)
		return OutcomeTriggerNotMet, nil
	case 1:
		p := matched[0]
		p.GraphID = g.ID
		return e.Initiate(ctx, p)
	default:
		return "", domain.E(domain.KindConflict, op,
			fmt.Sprintf("%d routes matched for graph %s, want exactly one", len(matched), g.ID))
	}
}
