package coordination

import (
	"context"
	"sync"

	"github.com/fkorte/agentpod/internal/domain/handoff"
)

// activeSet tracks in-flight protocols so duplicate initiations are
// rejected and per-unit cancellation can find them.
type activeSet struct {
	mu      sync.Mutex
	entries map[string]*activeEntry
}

type activeEntry struct {
	proto  *handoff.Protocol
	cancel context.CancelFunc
}

func newActiveSet() *activeSet {
	return &activeSet{entries: make(map[string]*activeEntry)}
}

// add registers a protocol; returns false when its ID is already in flight.
func (s *activeSet) add(p *handoff.Protocol, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[p.ID]; exists {
		return false
	}
	s.entries[p.ID] = &activeEntry{proto: p, cancel: cancel}
	return true
}

func (s *activeSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// cancelForUnit cancels every in-flight protocol the unit participates in.
func (s *activeSet) cancelForUnit(unitID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.proto.SenderID == unitID || e.proto.ReceiverID == unitID {
			e.cancel()
			n++
		}
	}
	return n
}
