// Package conflict resolves competing proposals from multiple units over a
// shared decision using pluggable strategies.
package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/fkorte/agentpod/internal/domain"
)

// Proposal is one unit's candidate decision.
type Proposal struct {
	ID        string         `json:"id"`
	Priority  int            `json:"priority"`
	Submitted time.Time      `json:"submitted"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Vote records one participant's choice among proposals.
type Vote struct {
	Participant string `json:"participant"`
	ProposalID  string `json:"proposal_id"`
}

// Conflict bundles the competing proposals and any votes cast over them.
type Conflict struct {
	Proposals []Proposal `json:"proposals"`
	Votes     []Vote     `json:"votes,omitempty"`
}

// Strategy picks a winning proposal out of a conflict.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, c Conflict) (Proposal, error)
}

// PriorityStrategy picks the proposal with the highest priority; ties go to
// the earliest submission.
type PriorityStrategy struct{}

func (PriorityStrategy) Name() string { return "priority" }

func (PriorityStrategy) Resolve(_ context.Context, c Conflict) (Proposal, error) {
	const op = "conflict.PriorityStrategy.Resolve"
	if len(c.Proposals) == 0 {
		return Proposal{}, domain.E(domain.KindConflict, op, "no proposals")
	}
	winner := c.Proposals[0]
	for _, p := range c.Proposals[1:] {
		if p.Priority > winner.Priority ||
			(p.Priority == winner.Priority && p.Submitted.Before(winner.Submitted)) {
			winner = p
		}
	}
	return winner, nil
}

// VotingStrategy picks the proposal with the most votes. Each participant
// votes exactly once; ties fall back to priority, then submission time.
type VotingStrategy struct{}

func (VotingStrategy) Name() string { return "voting" }

func (VotingStrategy) Resolve(_ context.Context, c Conflict) (Proposal, error) {
	const op = "conflict.VotingStrategy.Resolve"
	if len(c.Proposals) == 0 {
		return Proposal{}, domain.E(domain.KindConflict, op, "no proposals")
	}

	byID := make(map[string]Proposal, len(c.Proposals))
	for _, p := range c.Proposals {
		byID[p.ID] = p
	}

	voted := make(map[string]bool, len(c.Votes))
	tally := make(map[string]int, len(c.Proposals))
	for _, v := range c.Votes {
		if voted[v.Participant] {
			return Proposal{}, domain.E(domain.KindValidation, op,
				fmt.Sprintf("participant %q voted more than once", v.Participant))
		}
		voted[v.Participant] = true
		if _, ok := byID[v.ProposalID]; !ok {
			return Proposal{}, domain.E(domain.KindValidation, op,
				fmt.Sprintf("vote for unknown proposal %q", v.ProposalID))
		}
		tally[v.ProposalID]++
	}

	winner := c.Proposals[0]
	for _, p := range c.Proposals[1:] {
		pv, wv := tally[p.ID], tally[winner.ID]
		switch {
		case pv > wv:
			winner = p
		case pv == wv && p.Priority > winner.Priority:
			winner = p
		case pv == wv && p.Priority == winner.Priority && p.Submitted.Before(winner.Submitted):
			winner = p
		}
	}
	return winner, nil
}
