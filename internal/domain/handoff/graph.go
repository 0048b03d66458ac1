package handoff

import (
	"fmt"
	"time"

	"github.com/fkorte/agentpod/internal/domain"
)

// Shape is the topology of a coordination graph.
type Shape string

const (
	ShapeChain  Shape = "chain"   // sequential pipeline
	ShapeFanOut Shape = "fan_out" // coordinator → workers → report back
	ShapeRouter Shape = "router"  // one of N receivers, trigger-guarded
)

// Graph groups the handoff protocols of one coordination pattern.
type Graph struct {
	ID        string      `json:"id"`
	Shape     Shape       `json:"shape"`
	Protocols []*Protocol `json:"protocols"`
}

// Validate checks graph-level invariants per shape.
func (g *Graph) Validate() error {
	const op = "handoff.Graph.Validate"
	if g.ID == "" {
		return domain.E(domain.KindValidation, op, "graph id is required")
	}
	if len(g.Protocols) == 0 {
		return domain.E(domain.KindValidation, op, "graph has no protocols")
	}
	for i, p := range g.Protocols {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("protocol %d: %w", i, err)
		}
	}

	switch g.Shape {
	case ShapeChain:
		// Each link must start where the previous one ended.
		for i := 1; i < len(g.Protocols); i++ {
			if g.Protocols[i].SenderID != g.Protocols[i-1].ReceiverID {
				return domain.E(domain.KindValidation, op, fmt.Sprintf(
					"chain broken at link %d: sender %q does not match previous receiver %q",
					i, g.Protocols[i].SenderID, g.Protocols[i-1].ReceiverID))
			}
		}
	case ShapeFanOut:
		sender := g.Protocols[0].SenderID
		for i, p := range g.Protocols {
			if p.SenderID != sender {
				return domain.E(domain.KindValidation, op, fmt.Sprintf(
					"fan-out protocol %d has sender %q, expected coordinator %q", i, p.SenderID, sender))
			}
		}
	case ShapeRouter:
		sender := g.Protocols[0].SenderID
		seen := make(map[string]bool, len(g.Protocols))
		for i, p := range g.Protocols {
			if p.SenderID != sender {
				return domain.E(domain.KindValidation, op, fmt.Sprintf(
					"route %d has sender %q, expected %q", i, p.SenderID, sender))
			}
			if p.Trigger.Name == TriggerAlways {
				return domain.E(domain.KindValidation, op, fmt.Sprintf(
					"route %d must be guarded by a conditional trigger", i))
			}
			if seen[p.ReceiverID] {
				return domain.E(domain.KindValidation, op, fmt.Sprintf(
					"duplicate route receiver %q", p.ReceiverID))
			}
			seen[p.ReceiverID] = true
		}
	default:
		return domain.E(domain.KindValidation, op, fmt.Sprintf("unknown graph shape %q", g.Shape))
	}
	return nil
}

// Record is the archived outcome of one executed handoff, kept for
// debugging and audit after the protocol instance is destroyed.
type Record struct {
	ProtocolID string        `json:"protocol_id"`
	GraphID    string        `json:"graph_id,omitempty"`
	SenderID   string        `json:"sender_id"`
	ReceiverID string        `json:"receiver_id"`
	Status     Status        `json:"status"`
	Attempts   int           `json:"attempts"`
	Outcome    string        `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Elapsed    time.Duration `json:"elapsed"`
}
