package notify

import (
	"fmt"

	"github.com/openfleet/dispatchd/core/model"
)

// Severity grades a notification for downstream channels.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type template struct {
	title    string
	body     string // fmt format taking the shipment reference
	severity Severity
}

// templates resolves the role-specific wording for an event type. A missing
// role falls back to the defaultTemplate entry for the event.
var templates = map[EventType]map[model.Role]template{
	EventAssignmentRequest: {
		model.RoleDriver: {"New assignment", "Shipment %s has been offered to you. Accept or reject it.", SeverityInfo},
	},
	EventAssignmentRejected: {
		model.RoleOperator: {"Assignment rejected", "The driver rejected shipment %s. Re-matching is in progress.", SeverityWarning},
	},
	EventAssigned: {
		model.RoleCustomer: {"Driver assigned", "A driver has been assigned to your shipment %s.", SeverityInfo},
		model.RoleDriver:   {"Assignment confirmed", "You are assigned to shipment %s.", SeverityInfo},
		model.RoleOperator: {"Shipment assigned", "Shipment %s was assigned.", SeverityInfo},
	},
	EventPickedUp: {
		model.RoleCustomer: {"Picked up", "Your shipment %s has been picked up.", SeverityInfo},
		model.RoleOperator: {"Picked up", "Shipment %s was picked up.", SeverityInfo},
	},
	EventInTransit: {
		model.RoleCustomer: {"On the way", "Your shipment %s is in transit.", SeverityInfo},
		model.RoleOperator: {"In transit", "Shipment %s is in transit.", SeverityInfo},
	},
	EventDelayed: {
		model.RoleCustomer: {"Delivery delayed", "Your shipment %s is running late. We will keep you posted.", SeverityWarning},
		model.RoleDriver:   {"Running late", "Shipment %s is behind schedule.", SeverityWarning},
		model.RoleOperator: {"Shipment delayed", "Shipment %s exceeded its delay threshold.", SeverityWarning},
	},
	EventBackOnSchedule: {
		model.RoleCustomer: {"Back on schedule", "Your shipment %s is back on schedule.", SeverityInfo},
		model.RoleOperator: {"Delay recovered", "Shipment %s recovered from its delay.", SeverityInfo},
	},
	EventOutForDelivery: {
		model.RoleCustomer: {"Out for delivery", "Your shipment %s is out for delivery.", SeverityInfo},
		model.RoleOperator: {"Out for delivery", "Shipment %s is out for delivery.", SeverityInfo},
	},
	EventArrivingSoon: {
		model.RoleCustomer: {"Arriving soon", "Your shipment %s is arriving soon.", SeverityInfo},
	},
	EventDelivered: {
		model.RoleCustomer: {"Delivered", "Your shipment %s has been delivered.", SeverityInfo},
		model.RoleDriver:   {"Delivery complete", "Shipment %s is delivered.", SeverityInfo},
		model.RoleOperator: {"Delivered", "Shipment %s was delivered.", SeverityInfo},
	},
	EventCancelled: {
		model.RoleCustomer: {"Cancelled", "Your shipment %s was cancelled.", SeverityWarning},
		model.RoleDriver:   {"Cancelled", "Shipment %s was cancelled.", SeverityWarning},
		model.RoleOperator: {"Cancelled", "Shipment %s was cancelled.", SeverityWarning},
	},
	EventNoCandidate: {
		model.RoleOperator: {"No driver found", "No driver could be matched to shipment %s. Manual assignment required.", SeverityCritical},
	},
	EventDriverBehavior: {
		model.RoleManager:  {"Driving alert", "A driving anomaly was recorded on shipment %s.", SeverityWarning},
		model.RoleOperator: {"Driving alert", "A driving anomaly was recorded on shipment %s.", SeverityWarning},
	},
	EventGeofenceAlert: {
		model.RoleOperator: {"Geofence alert", "Shipment %s triggered a geofence rule.", SeverityWarning},
	},
	EventLocationUpdate: {
		model.RoleCustomer: {"Location update", "Shipment %s position was updated.", SeverityInfo},
	},
	EventMilestone: {
		model.RoleCustomer: {"Progress update", "Shipment %s reached a delivery milestone.", SeverityInfo},
	},
}

var defaultTemplate = template{"Shipment update", "Shipment %s was updated.", SeverityInfo}

// resolve returns the rendered title, body and severity for a role. Roles
// without dedicated wording fall back to the generic template so every
// stakeholder still receives exactly one notification.
func resolve(ev EventType, role model.Role, reference, override string) (title, body string, sev Severity) {
	tpl := defaultTemplate
	if byRole, found := templates[ev]; found {
		if t, found := byRole[role]; found {
			tpl = t
		}
	}
	body = fmt.Sprintf(tpl.body, reference)
	if override != "" {
		body = override
	}
	return tpl.title, body, tpl.severity
}
