package conflict

import (
	"context"
	"fmt"

	"github.com/fkorte/agentpod/internal/domain"
)

// maxNegotiationRounds bounds any negotiation regardless of configuration.
const maxNegotiationRounds = 5

// Proposer emits a (possibly revised) proposal each negotiation round.
// The previous counter-proposal from the other side is passed in after
// round one so proposers can converge.
type Proposer interface {
	Propose(ctx context.Context, round int, counter *Proposal) (Proposal, error)
}

// Arbitrator decides between two proposals when negotiation stalls.
type Arbitrator interface {
	Arbitrate(ctx context.Context, a, b Proposal) (Proposal, error)
}

// Negotiation runs a bounded exchange between two proposers, merging their
// proposals once they become compatible. Without an arbitrator, exhausting
// the round budget is a conflict error.
type Negotiation struct {
	A, B       Proposer
	Compatible func(a, b Proposal) bool
	Merge      func(a, b Proposal) Proposal
	Arbitrator Arbitrator
	MaxRounds  int
}

// Run executes the negotiation and returns the agreed or arbitrated proposal.
func (n *Negotiation) Run(ctx context.Context) (Proposal, error) {
	const op = "conflict.Negotiation.Run"
	if n.A == nil || n.B == nil {
		return Proposal{}, domain.E(domain.KindValidation, op, "both proposers are required")
	}
	if n.Compatible == nil || n.Merge == nil {
		return Proposal{}, domain.E(domain.KindValidation, op, "compatibility and merge functions are required")
	}

	rounds := n.MaxRounds
	if rounds <= 0 || rounds > maxNegotiationRounds {
		rounds = maxNegotiationRounds
	}

	var lastA, lastB *Proposal
	for round := 1; round <= rounds; round++ {
		if err := ctx.Err(); err != nil {
			return Proposal{}, fmt.Errorf("%s: %w", op, err)
		}

		a, err := n.A.Propose(ctx, round, lastB)
		if err != nil {
			return Proposal{}, fmt.Errorf("%s: proposer a: %w", op, err)
		}
		b, err := n.B.Propose(ctx, round, &a)
		if err != nil {
			return Proposal{}, fmt.Errorf("%s: proposer b: %w", op, err)
		}

		if n.Compatible(a, b) {
			return n.Merge(a, b), nil
		}
		lastA, lastB = &a, &b
	}

	if n.Arbitrator != nil {
		return n.Arbitrator.Arbitrate(ctx, *lastA, *lastB)
	}
	return Proposal{}, domain.E(domain.KindConflict, op,
		fmt.Sprintf("no agreement after %d rounds and no arbitrator", rounds))
}
