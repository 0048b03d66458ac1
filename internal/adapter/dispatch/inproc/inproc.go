// Package inproc delivers handoffs to receiver units living in the same
// process, acknowledging synchronously through the engine's ack sink.
package inproc

import (
	"context"
	"fmt"
	"sync"

	"github.com/fkorte/agentpod/internal/port/dispatch"
)

// Receiver handles one delivery for a unit and reports acceptance.
type Receiver func(ctx context.Context, d dispatch.Delivery) error

// Dispatcher routes deliveries to registered in-process receivers.
type Dispatcher struct {
	mu        sync.RWMutex
	receivers map[string]Receiver
	sink      dispatch.AckSink
}

// New creates a dispatcher that reports acknowledgments to sink. The
// sink may be nil when the engine consuming the acks does not exist yet;
// bind it with BindSink before deliveries requiring acks are dispatched.
func New(sink dispatch.AckSink) *Dispatcher {
	return &Dispatcher{
		receivers: make(map[string]Receiver),
		sink:      sink,
	}
}

// BindSink sets the acknowledgment sink. The engine is constructed with
// its dispatcher, so in-process wiring binds the sink afterwards.
func (d *Dispatcher) BindSink(sink dispatch.AckSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

// Register binds a receiver to a unit ID, replacing any previous binding.
func (d *Dispatcher) Register(unitID string, r Receiver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.receivers[unitID] = r
}

// Deregister removes a unit's receiver.
func (d *Dispatcher) Deregister(unitID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.receivers, unitID)
}

// Dispatch hands the delivery to the receiver's handler. When the delivery
// requires an acknowledgment, the handler's verdict is forwarded to the
// ack sink asynchronously so the engine's wait path is exercised the same
// way as with a broker.
func (d *Dispatcher) Dispatch(ctx context.Context, del dispatch.Delivery) error {
	d.mu.RLock()
	r, ok := d.receivers[del.ReceiverID]
	sink := d.sink
	d.mu.RUnlock()

	if !ok {
		return fmt.Errorf("inproc: no receiver registered for unit %q", del.ReceiverID)
	}

	if !del.RequiresAck {
		return r(ctx, del)
	}
	if sink == nil {
		return fmt.Errorf("inproc: delivery %s requires an ack but no sink is bound", del.ProtocolID)
	}

	go func() {
		err := r(ctx, del)
		ack := dispatch.Ack{ProtocolID: del.ProtocolID, OK: err == nil}
		if err != nil {
			ack.Reason = err.Error()
		}
		sink.Ack(ack)
	}()
	return nil
}
