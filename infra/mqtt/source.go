// Package mqtt ingests telemetry pings published by vehicle trackers over an
// MQTT broker and feeds them to the telemetry ingestor.
package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/openfleet/dispatchd/core/logger"
	"github.com/openfleet/dispatchd/core/model"
	"github.com/openfleet/dispatchd/core/telemetry"
)

// Config defines the connection parameters for the telemetry source.
type Config struct {
	Enabled  bool   `json:"enabled"`
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	// Topic is the subscription filter, e.g. "fleet/telemetry/+".
	Topic string `json:"topic"`
	QoS   byte   `json:"qos"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "dispatchd-telemetry"
	}
	if c.Topic == "" {
		c.Topic = "fleet/telemetry/+"
	}
}

// pingMessage is the wire format trackers publish.
type pingMessage struct {
	ShipmentID string    `json:"shipment_id"`
	DriverID   string    `json:"driver_id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	SpeedKmh   *float64  `json:"speed_kmh,omitempty"`
	HeadingDeg *float64  `json:"heading_deg,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Ingestor is the slice of the telemetry ingestor the source needs.
type Ingestor interface {
	SubmitPing(ctx context.Context, in telemetry.PingInput) (*model.Shipment, error)
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Source subscribes to the telemetry topic and submits decoded pings.
// Stop is idempotent.
type Source struct {
	cfg      Config
	ingestor Ingestor
	log      logger.Logger

	mu      sync.Mutex
	cli     pahoClient
	stopped bool
}

// NewSource creates a stopped source. Call Start to connect.
func NewSource(cfg Config, ing Ingestor, log logger.Logger) *Source {
	cfg.SetDefaults()
	if log == nil {
		log = logger.Nop{}
	}
	return &Source{cfg: cfg, ingestor: ing, log: log}
}

// Start connects to the broker and subscribes to the telemetry topic.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cli != nil {
		return nil
	}
	opts := paho.NewClientOptions().AddBroker(s.cfg.Broker).SetClientID(s.cfg.ClientID)
	opts.AutoReconnect = true
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	opts.OnConnect = func(c paho.Client) {
		s.log.Infof("MQTT connected")
		if token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage(ctx)); token.Wait() && token.Error() != nil {
			s.log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		s.log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		s.log.Warnf("reconnecting to MQTT broker")
	}
	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	s.cli = cli
	s.stopped = false
	return nil
}

// Stop disconnects from the broker. Repeated calls are no-ops.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.cli == nil {
		s.stopped = true
		return
	}
	s.cli.Disconnect(250)
	s.cli = nil
	s.stopped = true
}

func (s *Source) onMessage(ctx context.Context) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		var pm pingMessage
		if err := json.Unmarshal(msg.Payload(), &pm); err != nil {
			s.log.Warnf("discard malformed ping on %s: %v", msg.Topic(), err)
			return
		}
		in := telemetry.PingInput{
			ShipmentID: pm.ShipmentID,
			DriverID:   pm.DriverID,
			Coord:      model.Coordinate{Lat: pm.Lat, Lon: pm.Lon},
			SpeedKmh:   pm.SpeedKmh,
			HeadingDeg: pm.HeadingDeg,
			RecordedAt: pm.RecordedAt,
		}
		if _, err := s.ingestor.SubmitPing(ctx, in); err != nil {
			s.log.Warnf("ping rejected for shipment %s: %v", pm.ShipmentID, err)
		}
	}
}
