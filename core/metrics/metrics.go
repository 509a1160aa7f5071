// Package metrics defines the observability sink the core reports into.
// Implementations live under infra/metrics; the core never depends on a
// concrete backend.
package metrics

import (
	"time"

	"github.com/openfleet/dispatchd/core/model"
)

// PingSample is one ingested telemetry ping.
type PingSample struct {
	ShipmentID  string
	DriverID    string
	Coord       model.Coordinate
	SpeedKmh    *float64
	ProgressPct int
	At          time.Time
}

// TransitionSample is one applied lifecycle transition.
type TransitionSample struct {
	ShipmentID string
	From       model.ShipmentStatus
	To         model.ShipmentStatus
	At         time.Time
}

// NotificationSample is one triggered stakeholder notification.
type NotificationSample struct {
	Role     model.Role
	Event    string
	Severity string
}

// AssignmentSample is one matching outcome.
type AssignmentSample struct {
	Auto    bool
	Matched bool
}

// Sink records dispatch engine activity. Implementations must be safe for
// concurrent use and must never block the caller for long.
type Sink interface {
	RecordPing(s PingSample)
	RecordDriverEvent(e model.DriverEvent)
	RecordTransition(t TransitionSample)
	RecordNotification(n NotificationSample)
	RecordAssignment(a AssignmentSample)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) RecordPing(PingSample)                 {}
func (NopSink) RecordDriverEvent(model.DriverEvent)   {}
func (NopSink) RecordTransition(TransitionSample)     {}
func (NopSink) RecordNotification(NotificationSample) {}
func (NopSink) RecordAssignment(AssignmentSample)     {}

// MultiSink fans records out to several sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks; nil entries are skipped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) RecordPing(s PingSample) {
	for _, sk := range m.sinks {
		sk.RecordPing(s)
	}
}

func (m *MultiSink) RecordDriverEvent(e model.DriverEvent) {
	for _, sk := range m.sinks {
		sk.RecordDriverEvent(e)
	}
}

func (m *MultiSink) RecordTransition(t TransitionSample) {
	for _, sk := range m.sinks {
		sk.RecordTransition(t)
	}
}

func (m *MultiSink) RecordNotification(n NotificationSample) {
	for _, sk := range m.sinks {
		sk.RecordNotification(n)
	}
}

func (m *MultiSink) RecordAssignment(a AssignmentSample) {
	for _, sk := range m.sinks {
		sk.RecordAssignment(a)
	}
}
