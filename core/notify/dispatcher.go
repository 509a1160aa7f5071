// Package notify resolves shipment events to stakeholder notifications and
// hands them to a transport through the outbound queue. Transport failures
// are logged and retried; they never propagate to the caller.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openfleet/dispatchd/core/logger"
	"github.com/openfleet/dispatchd/core/model"
	"github.com/openfleet/dispatchd/internal/outbox"
)

// Notification is one message addressed to a single stakeholder.
type Notification struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Role       model.Role `json:"role"`
	ShipmentID string     `json:"shipment_id"`
	Reference  string     `json:"reference"`
	Event      EventType  `json:"event"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Severity   Severity   `json:"severity"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Transport delivers a notification to an external channel. Implementations
// live under infra/notify.
type Transport interface {
	Deliver(ctx context.Context, n Notification) error
}

// Sink receives every notification the dispatcher triggers, for metrics.
type Sink interface {
	RecordNotification(n Notification)
}

// Dispatcher resolves the stakeholder set for a shipment event and triggers
// exactly one notification per stakeholder per event occurrence.
type Dispatcher struct {
	queue *outbox.Queue[Notification]
	log   logger.Logger
	sink  Sink
	now   func() time.Time
}

// NewDispatcher wires a dispatcher to its transport. Start must be called
// before events flow; Stop is idempotent.
func NewDispatcher(transport Transport, log logger.Logger, sink Sink) *Dispatcher {
	if log == nil {
		log = logger.Nop{}
	}
	d := &Dispatcher{log: log, sink: sink, now: time.Now}
	d.queue = outbox.New("notifications", func(ctx context.Context, n Notification) error {
		return transport.Deliver(ctx, n)
	}, log, outbox.WithRetry(2, 200*time.Millisecond))
	return d
}

func (d *Dispatcher) Start() { d.queue.Start() }
func (d *Dispatcher) Stop()  { d.queue.Stop() }

// NotifyStakeholders fans the event out to the customer, the assigned driver
// and, for operator-created shipments, the creating operator. Excluded roles
// are skipped, and timeline events are suppressed for the operator role.
func (d *Dispatcher) NotifyStakeholders(ctx context.Context, s *model.Shipment, ev EventType, message string, excludeRoles ...model.Role) {
	excluded := map[model.Role]bool{}
	for _, r := range excludeRoles {
		excluded[r] = true
	}

	type stakeholder struct {
		id   string
		role model.Role
	}
	var recipients []stakeholder
	if s.CustomerID != "" {
		recipients = append(recipients, stakeholder{s.CustomerID, model.RoleCustomer})
	}
	if s.AssignedDriverID != "" {
		recipients = append(recipients, stakeholder{s.AssignedDriverID, model.RoleDriver})
	}
	if s.CreatedByRole == model.RoleOperator && s.CreatedByID != "" {
		recipients = append(recipients, stakeholder{s.CreatedByID, model.RoleOperator})
	}

	for _, r := range recipients {
		if excluded[r.role] {
			continue
		}
		if r.role == model.RoleOperator && ev.Timeline() {
			continue
		}
		d.send(ctx, r.id, r.role, s, ev, message)
	}
}

// NotifyRole addresses a single stakeholder directly, bypassing shipment
// stakeholder resolution. Used for operator alerts such as failed matching.
func (d *Dispatcher) NotifyRole(ctx context.Context, userID string, role model.Role, s *model.Shipment, ev EventType, message string) {
	if userID == "" {
		return
	}
	d.send(ctx, userID, role, s, ev, message)
}

func (d *Dispatcher) send(_ context.Context, userID string, role model.Role, s *model.Shipment, ev EventType, message string) {
	title, body, sev := resolve(ev, role, s.Reference, message)
	n := Notification{
		ID:         uuid.NewString(),
		UserID:     userID,
		Role:       role,
		ShipmentID: s.ID,
		Reference:  s.Reference,
		Event:      ev,
		Title:      title,
		Message:    body,
		Severity:   sev,
		CreatedAt:  d.now(),
	}
	if d.sink != nil {
		d.sink.RecordNotification(n)
	}
	d.queue.Enqueue(n)
	d.log.Debugw("notification queued", map[string]any{
		"user":     userID,
		"role":     string(role),
		"event":    string(ev),
		"shipment": s.ID,
	})
}
