package inproc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fkorte/agentpod/internal/port/dispatch"
)

type chanSink struct {
	acks chan dispatch.Ack
}

func newChanSink() *chanSink {
	return &chanSink{acks: make(chan dispatch.Ack, 1)}
}

func (s *chanSink) Ack(a dispatch.Ack) bool {
	s.acks <- a
	return true
}

func (s *chanSink) wait(t *testing.T) dispatch.Ack {
	t.Helper()
	select {
	case a := <-s.acks:
		return a
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack")
		return dispatch.Ack{}
	}
}

func TestDispatchToRegisteredReceiver(t *testing.T) {
	d := New(newChanSink())

	var got dispatch.Delivery
	d.Register("writer", func(_ context.Context, del dispatch.Delivery) error {
		got = del
		return nil
	})

	del := dispatch.Delivery{ProtocolID: "p1", SenderID: "analyst", ReceiverID: "writer"}
	if err := d.Dispatch(context.Background(), del); err != nil {
		t.Fatal(err)
	}
	if got.ProtocolID != "p1" || got.SenderID != "analyst" {
		t.Fatalf("receiver saw %+v", got)
	}
}

func TestDispatchUnknownReceiver(t *testing.T) {
	d := New(newChanSink())

	err := d.Dispatch(context.Background(), dispatch.Delivery{ReceiverID: "ghost"})
	if err == nil {
		t.Fatal("expected error for unregistered receiver")
	}
}

func TestDispatchWithAckForwardsVerdict(t *testing.T) {
	sink := newChanSink()
	d := New(sink)
	d.Register("writer", func(context.Context, dispatch.Delivery) error { return nil })

	del := dispatch.Delivery{ProtocolID: "p2", ReceiverID: "writer", RequiresAck: true}
	if err := d.Dispatch(context.Background(), del); err != nil {
		t.Fatal(err)
	}

	a := sink.wait(t)
	if !a.OK || a.ProtocolID != "p2" {
		t.Fatalf("unexpected ack %+v", a)
	}
}

func TestDispatchWithAckReportsReceiverError(t *testing.T) {
	sink := newChanSink()
	d := New(sink)
	d.Register("writer", func(context.Context, dispatch.Delivery) error {
		return errors.New("payload rejected")
	})

	del := dispatch.Delivery{ProtocolID: "p3", ReceiverID: "writer", RequiresAck: true}
	if err := d.Dispatch(context.Background(), del); err != nil {
		t.Fatal(err)
	}

	a := sink.wait(t)
	if a.OK || a.Reason != "payload rejected" {
		t.Fatalf("unexpected ack %+v", a)
	}
}

func TestBindSinkAfterConstruction(t *testing.T) {
	d := New(nil)
	d.Register("writer", func(context.Context, dispatch.Delivery) error { return nil })

	del := dispatch.Delivery{ProtocolID: "p4", ReceiverID: "writer", RequiresAck: true}
	if err := d.Dispatch(context.Background(), del); err == nil {
		t.Fatal("expected error for ack-requiring delivery with no sink bound")
	}

	sink := newChanSink()
	d.BindSink(sink)
	if err := d.Dispatch(context.Background(), del); err != nil {
		t.Fatal(err)
	}
	if a := sink.wait(t); !a.OK || a.ProtocolID != "p4" {
		t.Fatalf("unexpected ack %+v", a)
	}
}

func TestDeregister(t *testing.T) {
	d := New(newChanSink())
	d.Register("writer", func(context.Context, dispatch.Delivery) error { return nil })
	d.Deregister("writer")

	if err := d.Dispatch(context.Background(), dispatch.Delivery{ReceiverID: "writer"}); err == nil {
		t.Fatal("expected error after deregistration")
	}
}
