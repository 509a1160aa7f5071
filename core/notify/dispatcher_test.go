package notify

import (
	"context"
	"testing"
	"time"

	"github.com/openfleet/dispatchd/core/model"
)

// chanTransport hands every delivered notification to the test over a channel.
type chanTransport struct {
	delivered chan Notification
}

func newChanTransport() *chanTransport {
	return &chanTransport{delivered: make(chan Notification, 32)}
}

func (t *chanTransport) Deliver(_ context.Context, n Notification) error {
	t.delivered <- n
	return nil
}

// collect drains exactly n notifications and then asserts no extra one trails.
func (t *chanTransport) collect(tb testing.TB, n int) []Notification {
	tb.Helper()
	var out []Notification
	for len(out) < n {
		select {
		case got := <-t.delivered:
			out = append(out, got)
		case <-time.After(2 * time.Second):
			tb.Fatalf("got %d notifications, want %d", len(out), n)
		}
	}
	select {
	case extra := <-t.delivered:
		tb.Fatalf("unexpected extra notification: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
	return out
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *chanTransport) {
	t.Helper()
	tr := newChanTransport()
	d := NewDispatcher(tr, nil, nil)
	d.Start()
	t.Cleanup(d.Stop)
	return d, tr
}

func operatorShipment() *model.Shipment {
	return &model.Shipment{
		ID:               "shp-1",
		Reference:        "REF-1",
		CustomerID:       "cust-1",
		AssignedDriverID: "drv-1",
		CreatedByID:      "op-1",
		CreatedByRole:    model.RoleOperator,
	}
}

func byUser(ns []Notification) map[string]Notification {
	out := make(map[string]Notification, len(ns))
	for _, n := range ns {
		out[n.UserID] = n
	}
	return out
}

func TestNotifyStakeholdersOnePerStakeholder(t *testing.T) {
	d, tr := newTestDispatcher(t)

	d.NotifyStakeholders(context.Background(), operatorShipment(), EventDelivered, "")
	got := byUser(tr.collect(t, 3))

	if len(got) != 3 {
		t.Fatalf("stakeholders notified: %d, want 3 distinct", len(got))
	}
	if got["cust-1"].Role != model.RoleCustomer || got["drv-1"].Role != model.RoleDriver || got["op-1"].Role != model.RoleOperator {
		t.Errorf("roles = %v", got)
	}
	for user, n := range got {
		if n.ShipmentID != "shp-1" || n.Event != EventDelivered {
			t.Errorf("%s: notification = %+v", user, n)
		}
	}
}

func TestNotifyStakeholdersSuppressesTimelineForOperator(t *testing.T) {
	d, tr := newTestDispatcher(t)

	d.NotifyStakeholders(context.Background(), operatorShipment(), EventLocationUpdate, "")
	got := byUser(tr.collect(t, 2))

	if _, found := got["op-1"]; found {
		t.Error("operator received timeline chatter")
	}
	if _, found := got["cust-1"]; !found {
		t.Error("customer missing from timeline fan-out")
	}
	// The driver has no dedicated wording for this event but still gets the
	// generic one.
	if n, found := got["drv-1"]; !found || n.Title == "" {
		t.Errorf("driver notification = %+v", n)
	}
}

func TestNotifyStakeholdersExcludesRoles(t *testing.T) {
	d, tr := newTestDispatcher(t)

	d.NotifyStakeholders(context.Background(), operatorShipment(), EventDelivered, "", model.RoleDriver, model.RoleCustomer)
	got := tr.collect(t, 1)

	if got[0].UserID != "op-1" || got[0].Role != model.RoleOperator {
		t.Fatalf("notification = %+v, want only the operator", got[0])
	}
}

func TestNotifyStakeholdersCustomerCreated(t *testing.T) {
	d, tr := newTestDispatcher(t)
	s := &model.Shipment{
		ID:            "shp-2",
		Reference:     "REF-2",
		CustomerID:    "cust-1",
		CreatedByID:   "cust-1",
		CreatedByRole: model.RoleCustomer,
	}

	// No driver yet and not operator-created: the customer is the only
	// stakeholder.
	d.NotifyStakeholders(context.Background(), s, EventCancelled, "changed my mind")
	got := tr.collect(t, 1)

	if got[0].UserID != "cust-1" {
		t.Fatalf("notification = %+v, want the customer", got[0])
	}
	if got[0].Message != "changed my mind" {
		t.Errorf("message = %q, want the override text", got[0].Message)
	}
}

func TestNotifyRole(t *testing.T) {
	d, tr := newTestDispatcher(t)
	s := operatorShipment()

	d.NotifyRole(context.Background(), "", model.RoleOperator, s, EventNoCandidate, "")
	d.NotifyRole(context.Background(), "ops-inbox", model.RoleOperator, s, EventNoCandidate, "")
	got := tr.collect(t, 1)

	if got[0].UserID != "ops-inbox" || got[0].Event != EventNoCandidate {
		t.Fatalf("notification = %+v", got[0])
	}
	if got[0].Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical", got[0].Severity)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		ev       EventType
		role     model.Role
		override string
		title    string
		severity Severity
	}{
		{"dedicated wording", EventDelayed, model.RoleCustomer, "", "Delivery delayed", SeverityWarning},
		{"role fallback", EventArrivingSoon, model.RoleDriver, "", "Shipment update", SeverityInfo},
		{"unknown role fallback", EventDelivered, model.RoleManager, "", "Shipment update", SeverityInfo},
		{"override keeps title", EventDelayed, model.RoleCustomer, "custom text", "Delivery delayed", SeverityWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, body, sev := resolve(tt.ev, tt.role, "REF-1", tt.override)
			if title != tt.title || sev != tt.severity {
				t.Errorf("resolve = %q/%s, want %q/%s", title, sev, tt.title, tt.severity)
			}
			if tt.override != "" && body != tt.override {
				t.Errorf("body = %q, want override", body)
			}
			if tt.override == "" && body == "" {
				t.Error("body is empty")
			}
		})
	}
}
