// Package memory is the in-memory handoff archive, used in tests and
// single-process deployments without Postgres.
package memory

import (
	"context"
	"sync"

	"github.com/fkorte/agentpod/internal/domain/handoff"
)

// Store keeps records in insertion order behind a mutex.
type Store struct {
	mu      sync.RWMutex
	records []handoff.Record
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Append stores a copy of the record.
func (s *Store) Append(_ context.Context, rec *handoff.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

// ListByUnit returns records where the unit was sender or receiver.
func (s *Store) ListByUnit(_ context.Context, unitID string) ([]handoff.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []handoff.Record
	for _, r := range s.records {
		if r.SenderID == unitID || r.ReceiverID == unitID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListByGraph returns records belonging to a coordination graph.
func (s *Store) ListByGraph(_ context.Context, graphID string) ([]handoff.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []handoff.Record
	for _, r := range s.records {
		if r.GraphID == graphID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Len reports how many records are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
