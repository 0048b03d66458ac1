// Package coordination executes handoff protocols between units: trigger
// evaluation, delivery, acknowledgment tracking, bounded retries with
// backoff, and fallback once retries are exhausted.
package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fkorte/agentpod/internal/domain"
	"github.com/fkorte/agentpod/internal/domain/handoff"
	"github.com/fkorte/agentpod/internal/lifecycle"
	"github.com/fkorte/agentpod/internal/port/archive"
	"github.com/fkorte/agentpod/internal/port/broadcast"
	"github.com/fkorte/agentpod/internal/port/dispatch"
)

// Outcomes reported to callers and archived with the handoff record.
const (
	OutcomeCompleted     = "handoff_completed"
	OutcomeFailed        = "handoff_failed"
	OutcomeTriggerNotMet = "trigger_not_met"
)

// Observer receives engine events; wired to metrics.
type Observer interface {
	HandoffStarted(senderID, receiverID string)
	HandoffRetried(protocolID string, attempt int)
	HandoffFinished(status handoff.Status, elapsed time.Duration)
}

// NopObserver ignores all events.
type NopObserver struct{}

func (NopObserver) HandoffStarted(string, string)                 {}
func (NopObserver) HandoffRetried(string, int)                    {}
func (NopObserver) HandoffFinished(handoff.Status, time.Duration) {}

// Engine runs handoff protocols. One Initiate call drives one protocol
// instance to a terminal status; the engine serializes nothing across
// protocols, so independent handoffs proceed concurrently.
type Engine struct {
	dispatcher dispatch.Dispatcher
	store      archive.Store
	strategies *handoff.StrategyRegistry
	hub        broadcast.Broadcaster

	acks   *ackWaiter[dispatch.Ack]
	active *activeSet

	defaults ProtocolDefaults

	log *slog.Logger
	obs Observer
}

// ProtocolDefaults fill unset delivery settings on initiated protocols.
type ProtocolDefaults struct {
	AckTimeout time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Backoff    handoff.BackoffKind
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithProtocolDefaults sets pod-level delivery defaults applied to
// protocols whose corresponding fields are zero.
func WithProtocolDefaults(d ProtocolDefaults) EngineOption {
	return func(e *Engine) { e.defaults = d }
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// WithObserver sets the engine observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.obs = o }
}

// NewEngine wires an engine to its delivery, persistence and broadcast
// ports.
func NewEngine(d dispatch.Dispatcher, store archive.Store, strategies *handoff.StrategyRegistry, hub broadcast.Broadcaster, opts ...EngineOption) *Engine {
	e := &Engine{
		dispatcher: d,
		store:      store,
		strategies: strategies,
		hub:        hub,
		acks:       newAckWaiter[dispatch.Ack](),
		active:     newActiveSet(),
		log:        slog.Default(),
		obs:        NopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ack implements dispatch.AckSink: receivers (or broker subscribers) feed
// acknowledgments back through here.
func (e *Engine) Ack(a dispatch.Ack) bool {
	return e.acks.deliver(a.ProtocolID, a)
}

// Initiate drives one protocol to a terminal status and returns the
// outcome. Validation and payload-schema failures are reported before any
// delivery side effect; an unmet trigger ends the handoff with
// OutcomeTriggerNotMet and no side effects.
func (e *Engine) Initiate(ctx context.Context, p *handoff.Protocol) (string, error) {
	const op = "coordination.Initiate"

	e.applyDefaults(p)
	if err := p.Validate(); err != nil {
		return "", err
	}
	trigger, ok := e.strategies.Trigger(p.Trigger.Name)
	if !ok {
		return "", domain.E(domain.KindValidation, op,
			fmt.Sprintf("unknown trigger strategy %q", p.Trigger.Name))
	}
	if p.Fallback != nil {
		if _, ok := e.strategies.Fallback(p.Fallback.Name); !ok {
			return "", domain.E(domain.KindValidation, op,
				fmt.Sprintf("unknown fallback strategy %q", p.Fallback.Name))
		}
	}
	if err := p.CheckPayload(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !e.active.add(p, cancel) {
		return "", domain.E(domain.KindState, op,
			fmt.Sprintf("protocol %s is already in flight", p.ID))
	}
	defer e.active.remove(p.ID)

	fire, err := trigger(ctx, p)
	if err != nil {
		return "", domain.Wrap(domain.KindHandoffFailure, op, err)
	}
	if !fire {
		e.log.Info("handoff trigger not met",
			"protocol_id", p.ID, "trigger", p.Trigger.Name)
		return OutcomeTriggerNotMet, nil
	}

	start := time.Now()
	e.setStatus(ctx, p, handoff.StatusInProgress)
	e.obs.HandoffStarted(p.SenderID, p.ReceiverID)

	outcome, cause := e.run(ctx, p, trigger)

	e.obs.HandoffFinished(p.Status, time.Since(start))
	rec := &handoff.Record{
		ProtocolID: p.ID,
		GraphID:    p.GraphID,
		SenderID:   p.SenderID,
		ReceiverID: p.ReceiverID,
		Status:     p.Status,
		Attempts:   p.Attempts,
		Outcome:    outcome,
		StartedAt:  start,
		FinishedAt: time.Now(),
		Elapsed:    time.Since(start),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := e.store.Append(ctx, rec); err != nil {
		e.log.Error("archiving handoff record failed",
			"protocol_id", p.ID, "error", err)
	}
	return outcome, cause
}

// applyDefaults overlays the pod-level delivery defaults onto zero fields.
func (e *Engine) applyDefaults(p *handoff.Protocol) {
	if p.AckTimeout == 0 {
		p.AckTimeout = e.defaults.AckTimeout
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = e.defaults.MaxRetries
	}
	if p.RetryDelay == 0 {
		p.RetryDelay = e.defaults.RetryDelay
	}
	if p.Backoff == "" {
		p.Backoff = e.defaults.Backoff
	}
}

// run performs the attempt loop. Each retry re-evaluates the trigger
// before redelivery; a trigger that stopped matching ends the handoff
// instead of being retried against. run mutates p's Status and Attempts
// and returns the outcome plus the terminal error, if any.
func (e *Engine) run(ctx context.Context, p *handoff.Protocol, trigger handoff.TriggerFunc) (string, error) {
	const op = "coordination.run"
	var lastErr error

	for {
		if p.Attempts > 0 {
			fire, err := trigger(ctx, p)
			if err != nil {
				e.setStatus(ctx, p, handoff.StatusFailed)
				return OutcomeFailed, domain.Wrap(domain.KindHandoffFailure, op, err)
			}
			if !fire {
				e.log.Info("handoff trigger no longer met, retries abandoned",
					"protocol_id", p.ID, "trigger", p.Trigger.Name, "attempts", p.Attempts)
				e.setStatus(ctx, p, handoff.StatusFailed)
				return OutcomeTriggerNotMet, lastErr
			}
		}

		attempt := p.Attempts + 1
		e.log.Info("dispatching handoff",
			"protocol_id", p.ID, "receiver_id", p.ReceiverID, "attempt", attempt)

		lastErr = e.attempt(ctx, p)
		if lastErr == nil {
			e.setStatus(ctx, p, handoff.StatusCompleted)
			return OutcomeCompleted, nil
		}
		p.Attempts++

		if ctx.Err() != nil {
			e.setStatus(ctx, p, handoff.StatusFailed)
			return OutcomeFailed, domain.Wrap(domain.KindHandoffFailure, op, ctx.Err())
		}

		if p.Attempts >= p.MaxRetries {
			e.runFallback(ctx, p)
			if domain.IsKind(lastErr, domain.KindHandoffTimeout) {
				e.setStatus(ctx, p, handoff.StatusTimeout)
			} else {
				e.setStatus(ctx, p, handoff.StatusFailed)
			}
			return OutcomeFailed, lastErr
		}

		e.obs.HandoffRetried(p.ID, p.Attempts)
		delay := p.RetryDelayFor(p.Attempts)
		e.log.Warn("handoff attempt failed, retrying",
			"protocol_id", p.ID, "attempt", p.Attempts, "delay", delay, "error", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			e.setStatus(ctx, p, handoff.StatusFailed)
			return OutcomeFailed, domain.Wrap(domain.KindHandoffFailure, op, ctx.Err())
		}
	}
}

// attempt performs a single delivery and, when required, waits for its
// acknowledgment.
func (e *Engine) attempt(ctx context.Context, p *handoff.Protocol) error {
	const op = "coordination.attempt"

	var ackCh <-chan dispatch.Ack
	if p.RequiresAck {
		ackCh = e.acks.expect(p.ID)
		defer e.acks.forget(p.ID)
	}

	d := dispatch.Delivery{
		ProtocolID:  p.ID,
		SenderID:    p.SenderID,
		ReceiverID:  p.ReceiverID,
		RequiresAck: p.RequiresAck,
		Payload:     p.Payload,
	}
	if err := e.dispatcher.Dispatch(ctx, d); err != nil {
		return domain.Wrap(domain.KindHandoffFailure, op, err)
	}
	if !p.RequiresAck {
		return nil
	}

	timer := time.NewTimer(p.AckTimeout)
	defer timer.Stop()
	select {
	case a := <-ackCh:
		if !a.OK {
			return domain.E(domain.KindHandoffFailure, op,
				fmt.Sprintf("receiver rejected delivery: %s", a.Reason))
		}
		return nil
	case <-timer.C:
		return domain.E(domain.KindHandoffTimeout, op,
			fmt.Sprintf("no acknowledgment within %s", p.AckTimeout))
	case <-ctx.Done():
		return domain.Wrap(domain.KindHandoffFailure, op, ctx.Err())
	}
}

func (e *Engine) runFallback(ctx context.Context, p *handoff.Protocol) {
	if p.Fallback == nil {
		return
	}
	fb, ok := e.strategies.Fallback(p.Fallback.Name)
	if !ok {
		return
	}
	if err := fb(ctx, p); err != nil {
		e.log.Error("handoff fallback failed",
			"protocol_id", p.ID, "fallback", p.Fallback.Name, "error", err)
		return
	}
	e.log.Info("handoff fallback executed",
		"protocol_id", p.ID, "fallback", p.Fallback.Name)
}

func (e *Engine) setStatus(ctx context.Context, p *handoff.Protocol, next handoff.Status) {
	if !p.Status.CanTransition(next) {
		e.log.Error("illegal handoff status transition",
			"protocol_id", p.ID, "from", p.Status, "to", next)
		return
	}
	p.Status = next
	e.hub.BroadcastEvent(ctx, broadcast.EventHandoffStatus, map[string]any{
		"protocol_id": p.ID,
		"sender_id":   p.SenderID,
		"receiver_id": p.ReceiverID,
		"status":      next,
		"attempts":    p.Attempts,
	})
}

// CancelForUnit aborts every in-flight handoff that the unit participates
// in, as sender or receiver, and returns how many were cancelled.
func (e *Engine) CancelForUnit(unitID string) int {
	return e.active.cancelForUnit(unitID)
}

// History returns the archived records involving a unit.
func (e *Engine) History(ctx context.Context, unitID string) ([]handoff.Record, error) {
	return e.store.ListByUnit(ctx, unitID)
}

// TriggerUnitCompleted fires when the unit named by the trigger's
// "unit_id" param has reached COMPLETED.
const TriggerUnitCompleted = "unit_completed"

// RegisterLifecycleTriggers installs trigger strategies that observe unit
// lifecycle state, letting protocols gate on the sender's progress.
func RegisterLifecycleTriggers(reg *handoff.StrategyRegistry, units *lifecycle.Registry) {
	reg.RegisterTrigger(TriggerUnitCompleted, func(_ context.Context, p *handoff.Protocol) (bool, error) {
		unitID := p.SenderID
		if v, ok := p.Trigger.Params["unit_id"].(string); ok && v != "" {
			unitID = v
		}
		m, err := units.Get(unitID)
		if err != nil {
			return false, fmt.Errorf("trigger %s: unit %q: %w", TriggerUnitCompleted, unitID, err)
		}
		return m.State() == lifecycle.StateCompleted, nil
	})
}
