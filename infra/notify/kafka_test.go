package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	skafka "github.com/segmentio/kafka-go"

	"github.com/openfleet/dispatchd/core/model"
	corenotify "github.com/openfleet/dispatchd/core/notify"
)

type fakeWriter struct {
	msgs   []skafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...skafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaTransportDeliver(t *testing.T) {
	w := &fakeWriter{}
	tr := NewKafkaTransportWithWriter(w)

	n := corenotify.Notification{
		ID:         "n-1",
		UserID:     "cust-1",
		Role:       model.RoleCustomer,
		ShipmentID: "shp-1",
		Reference:  "REF-1",
		Event:      corenotify.EventDelivered,
		Title:      "Delivered",
		Message:    "Your shipment REF-1 has been delivered.",
		Severity:   corenotify.SeverityInfo,
		CreatedAt:  time.Now(),
	}
	if err := tr.Deliver(context.Background(), n); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "cust-1" {
		t.Errorf("key = %q, want the user id", w.msgs[0].Key)
	}
	var decoded corenotify.Notification
	if err := json.Unmarshal(w.msgs[0].Value, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.ID != n.ID || decoded.Event != n.Event || decoded.UserID != n.UserID {
		t.Errorf("decoded = %+v, want the original notification", decoded)
	}
}

func TestKafkaTransportDeliverError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker gone")}
	tr := NewKafkaTransportWithWriter(w)

	err := tr.Deliver(context.Background(), corenotify.Notification{ID: "n-1", UserID: "u"})
	if err == nil {
		t.Fatal("Deliver swallowed the writer error")
	}
}

func TestKafkaTransportClose(t *testing.T) {
	w := &fakeWriter{}
	tr := NewKafkaTransportWithWriter(w)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !w.closed {
		t.Fatal("underlying writer not closed")
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	if cfg.Backend != "log" {
		t.Errorf("backend = %q, want log", cfg.Backend)
	}
	if cfg.Topic != "shipment-notifications" {
		t.Errorf("topic = %q", cfg.Topic)
	}
}
