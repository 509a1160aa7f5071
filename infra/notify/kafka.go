// Package notify provides transports for the notification dispatcher:
// a Kafka publisher for downstream delivery services and a log transport
// for development.
package notify

import (
	"context"
	"encoding/json"

	skafka "github.com/segmentio/kafka-go"

	corenotify "github.com/openfleet/dispatchd/core/notify"
)

// Config parameterizes the Kafka transport.
type Config struct {
	Backend string `json:"backend"` // "kafka" or "log"
	Broker  string `json:"broker"`
	Topic   string `json:"topic"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "log"
	}
	if c.Topic == "" {
		c.Topic = "shipment-notifications"
	}
}

// Writer is the subset of the kafka writer the transport needs, kept as an
// interface so tests can inject a fake.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// KafkaTransport publishes notifications as JSON messages keyed by user id.
// A downstream consumer owns channel fan-out (push, SMS, email).
type KafkaTransport struct {
	writer Writer
}

// NewKafkaTransport creates a transport writing to the given broker/topic.
func NewKafkaTransport(cfg Config) *KafkaTransport {
	w := &skafka.Writer{
		Addr:     skafka.TCP(cfg.Broker),
		Topic:    cfg.Topic,
		Balancer: &skafka.LeastBytes{},
	}
	return &KafkaTransport{writer: w}
}

// NewKafkaTransportWithWriter allows injecting a test writer.
func NewKafkaTransportWithWriter(w Writer) *KafkaTransport {
	return &KafkaTransport{writer: w}
}

// Deliver marshals the notification and writes one Kafka message.
func (t *KafkaTransport) Deliver(ctx context.Context, n corenotify.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return t.writer.WriteMessages(ctx, skafka.Message{Key: []byte(n.UserID), Value: b})
}

// Close closes the underlying writer.
func (t *KafkaTransport) Close() error {
	return t.writer.Close()
}
