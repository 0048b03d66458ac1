// Package handoff defines the handoff protocol domain model: a directed
// transfer of work from one unit to another with optional delivery
// acknowledgment, bounded retries and configurable backoff.
package handoff

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fkorte/agentpod/internal/domain"
)

// Status represents the delivery state of a handoff protocol instance.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// CanTransition reports whether a handoff may move from s to next.
// The only legal path is pending → in_progress → {completed|failed|timeout}.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress
	case StatusInProgress:
		return next.Terminal()
	}
	return false
}

// BackoffKind selects how the retry delay grows between attempts.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// StrategyRef names a registry-resolvable trigger or fallback strategy,
// keeping protocols plain data rather than carriers of opaque closures.
type StrategyRef struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// Protocol is one handoff between a sender and a receiver. Instances are
// created per coordination event and archived to history once terminal.
type Protocol struct {
	ID         string `json:"id"`
	GraphID    string `json:"graph_id,omitempty"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`

	Trigger  StrategyRef  `json:"trigger"`
	Fallback *StrategyRef `json:"fallback,omitempty"`

	Payload       map[string]any       `json:"payload"`
	PayloadSchema map[string]FieldType `json:"payload_schema"`

	RequiresAck bool          `json:"requires_ack"`
	AckTimeout  time.Duration `json:"ack_timeout"`
	MaxRetries  int           `json:"max_retries"`
	RetryDelay  time.Duration `json:"retry_delay"`
	Backoff     BackoffKind   `json:"backoff"`

	Status   Status `json:"status"`
	Attempts int    `json:"attempts"`
}

// New creates a pending protocol with a fresh ID and the "always" trigger.
func New(senderID, receiverID string) *Protocol {
	return &Protocol{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Trigger:    StrategyRef{Name: TriggerAlways},
		MaxRetries: 1,
		Status:     StatusPending,
	}
}

// Validate checks the protocol for structural correctness before initiation.
func (p *Protocol) Validate() error {
	const op = "handoff.Validate"
	if p == nil {
		return domain.E(domain.KindValidation, op, "protocol is nil")
	}
	if p.ID == "" {
		return domain.E(domain.KindValidation, op, "id is required")
	}
	if p.SenderID == "" {
		return domain.E(domain.KindValidation, op, "sender_id is required")
	}
	if p.ReceiverID == "" {
		return domain.E(domain.KindValidation, op, "receiver_id is required")
	}
	if p.Trigger.Name == "" {
		return domain.E(domain.KindValidation, op, "trigger is required")
	}
	if p.PayloadSchema == nil {
		return domain.E(domain.KindValidation, op, "payload_schema is required")
	}
	if p.MaxRetries < 1 {
		return domain.E(domain.KindValidation, op, "max_retries must be at least 1")
	}
	if p.RequiresAck && p.AckTimeout <= 0 {
		return domain.E(domain.KindValidation, op, "ack_timeout must be positive when requires_ack is set")
	}
	switch p.Backoff {
	case "", BackoffFixed, BackoffLinear, BackoffExponential:
	default:
		return domain.E(domain.KindValidation, op, fmt.Sprintf("unknown backoff kind %q", p.Backoff))
	}
	return nil
}

// RetryDelayFor computes the delay before the next attempt, given how many
// attempts have failed so far (attempt >= 1). An unset backoff kind behaves
// as fixed.
func (p *Protocol) RetryDelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch p.Backoff {
	case BackoffLinear:
		return p.RetryDelay * time.Duration(attempt)
	case BackoffExponential:
		return p.RetryDelay * time.Duration(1<<(attempt-1))
	default:
		return p.RetryDelay
	}
}
