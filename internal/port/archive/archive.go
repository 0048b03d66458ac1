// Package archive defines the handoff history persistence port.
package archive

import (
	"context"

	"github.com/fkorte/agentpod/internal/domain/handoff"
)

// Store persists the outcome of terminal handoffs for later inspection.
type Store interface {
	Append(ctx context.Context, rec *handoff.Record) error
	ListByUnit(ctx context.Context, unitID string) ([]handoff.Record, error)
	ListByGraph(ctx context.Context, graphID string) ([]handoff.Record, error)
}
