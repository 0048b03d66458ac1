// Package nats implements broker-backed handoff dispatch and alert
// publishing over NATS JetStream, for pods whose units span processes.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/fkorte/agentpod/internal/port/alert"
	"github.com/fkorte/agentpod/internal/port/dispatch"
	"github.com/fkorte/agentpod/internal/resilience"
)

const (
	streamName = "AGENTPOD"

	subjectDispatchPrefix = "handoffs.dispatch."
	subjectAcks           = "handoffs.acks"
	subjectAlerts         = "alerts.raised"
)

// Broker connects the pod to NATS JetStream. It carries handoff
// deliveries, their acknowledgments, and monitor alerts.
type Broker struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	breaker *resilience.Breaker
	log     *slog.Logger
}

// Connect establishes a connection to NATS and ensures the JetStream
// stream exists. Publishes go through the circuit breaker.
func Connect(ctx context.Context, url string, breaker *resilience.Breaker, log *slog.Logger) (*Broker, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"handoffs.>", "alerts.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	log.Info("nats connected", "url", url, "stream", streamName)
	return &Broker{nc: nc, js: js, breaker: breaker, log: log}, nil
}

// publish sends data through the circuit breaker.
func (b *Broker) publish(ctx context.Context, subject string, data []byte) error {
	return b.breaker.Execute(func() error {
		if _, err := b.js.Publish(ctx, subject, data); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	})
}

// Dispatch implements dispatch.Dispatcher: deliveries are published to the
// receiver's subject and picked up by its process.
func (b *Broker) Dispatch(ctx context.Context, d dispatch.Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}
	return b.publish(ctx, subjectDispatchPrefix+d.ReceiverID, data)
}

// PublishAck publishes a receiver's acknowledgment back to the sender's
// process.
func (b *Broker) PublishAck(ctx context.Context, a dispatch.Ack) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal ack: %w", err)
	}
	return b.publish(ctx, subjectAcks, data)
}

// StartAckSubscriber consumes acknowledgments and feeds them to the
// engine's ack sink. The returned func stops the consumer.
func (b *Broker) StartAckSubscriber(ctx context.Context, sink dispatch.AckSink) (func(), error) {
	return b.consume(ctx, "agentpod-acks", subjectAcks, func(data []byte) error {
		var a dispatch.Ack
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("unmarshal ack: %w", err)
		}
		if !sink.Ack(a) {
			b.log.Debug("ack without waiter", "protocol_id", a.ProtocolID)
		}
		return nil
	})
}

// StartDeliverySubscriber consumes deliveries addressed to a unit and
// hands them to fn. The returned func stops the consumer.
func (b *Broker) StartDeliverySubscriber(ctx context.Context, unitID string, fn func(context.Context, dispatch.Delivery) error) (func(), error) {
	return b.consume(ctx, "agentpod-unit-"+unitID, subjectDispatchPrefix+unitID, func(data []byte) error {
		var d dispatch.Delivery
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("unmarshal delivery: %w", err)
		}
		handleErr := fn(ctx, d)
		if !d.RequiresAck {
			return handleErr
		}
		a := dispatch.Ack{ProtocolID: d.ProtocolID, OK: handleErr == nil}
		if handleErr != nil {
			a.Reason = handleErr.Error()
		}
		return b.PublishAck(ctx, a)
	})
}

func (b *Broker) consume(ctx context.Context, durable, subject string, handler func([]byte) error) (func(), error) {
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := handler(msg.Data()); err != nil {
			b.log.Error("message handler failed", "subject", msg.Subject(), "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				b.log.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			b.log.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}
	return cons.Stop, nil
}

// Notifier publishes monitor alerts to the alert subject.
type Notifier struct {
	broker *Broker
}

// NewNotifier creates an alert notifier backed by the broker.
func NewNotifier(b *Broker) *Notifier {
	return &Notifier{broker: b}
}

// Name implements alert.Notifier.
func (n *Notifier) Name() string { return "nats" }

// RegisterNotifier makes the broker-backed notifier constructible through
// the alert factory under the name "nats".
func RegisterNotifier(b *Broker) {
	alert.Register("nats", func(map[string]any) (alert.Notifier, error) {
		return NewNotifier(b), nil
	})
}

// Notify publishes the alert.
func (n *Notifier) Notify(ctx context.Context, a alert.Alert) error {
	if n.broker == nil {
		return alert.ErrNotConfigured
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return n.broker.publish(ctx, subjectAlerts, data)
}

// Close shuts down the NATS connection.
func (b *Broker) Close() error {
	b.nc.Close()
	return nil
}
