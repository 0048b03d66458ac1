package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fkorte/agentpod/internal/domain/handoff"
)

// Store implements the archive port on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates an archive store over the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Append persists one terminal handoff record.
func (s *Store) Append(ctx context.Context, rec *handoff.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO handoff_records
			(protocol_id, graph_id, sender_id, receiver_id, status, attempts, outcome, error, started_at, finished_at, elapsed_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ProtocolID, rec.GraphID, rec.SenderID, rec.ReceiverID,
		string(rec.Status), rec.Attempts, rec.Outcome, rec.Error,
		rec.StartedAt, rec.FinishedAt, int64(rec.Elapsed),
	)
	if err != nil {
		return fmt.Errorf("insert handoff record: %w", err)
	}
	return nil
}

// ListByUnit returns records where the unit was sender or receiver, newest
// first.
func (s *Store) ListByUnit(ctx context.Context, unitID string) ([]handoff.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT protocol_id, graph_id, sender_id, receiver_id, status, attempts, outcome, error, started_at, finished_at, elapsed_ns
		FROM handoff_records
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY finished_at DESC`, unitID)
	if err != nil {
		return nil, fmt.Errorf("query handoff records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListByGraph returns records of one coordination graph, newest first.
func (s *Store) ListByGraph(ctx context.Context, graphID string) ([]handoff.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT protocol_id, graph_id, sender_id, receiver_id, status, attempts, outcome, error, started_at, finished_at, elapsed_ns
		FROM handoff_records
		WHERE graph_id = $1
		ORDER BY finished_at DESC`, graphID)
	if err != nil {
		return nil, fmt.Errorf("query handoff records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]handoff.Record, error) {
	var out []handoff.Record
	for rows.Next() {
		var (
			rec       handoff.Record
			status    string
			elapsedNS int64
		)
		if err := rows.Scan(
			&rec.ProtocolID, &rec.GraphID, &rec.SenderID, &rec.ReceiverID,
			&status, &rec.Attempts, &rec.Outcome, &rec.Error,
			&rec.StartedAt, &rec.FinishedAt, &elapsedNS,
		); err != nil {
			return nil, fmt.Errorf("scan handoff record: %w", err)
		}
		rec.Status = handoff.Status(status)
		rec.Elapsed = time.Duration(elapsedNS)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate handoff records: %w", err)
	}
	return out, nil
}
