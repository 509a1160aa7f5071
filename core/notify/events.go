package notify

// EventType identifies one logical shipment event occurrence.
type EventType string

const (
	EventAssignmentRequest  EventType = "ASSIGNMENT_REQUEST"
	EventAssignmentRejected EventType = "ASSIGNMENT_REJECTED"
	EventAssigned           EventType = "ASSIGNED"
	EventPickedUp           EventType = "PICKED_UP"
	EventInTransit          EventType = "IN_TRANSIT"
	EventDelayed            EventType = "DELAYED"
	EventBackOnSchedule     EventType = "BACK_ON_SCHEDULE"
	EventOutForDelivery     EventType = "OUT_FOR_DELIVERY"
	EventArrivingSoon       EventType = "ARRIVING_SOON"
	EventDelivered          EventType = "DELIVERED"
	EventCancelled          EventType = "CANCELLED"
	EventNoCandidate        EventType = "NO_CANDIDATE"
	EventDriverBehavior     EventType = "DRIVER_BEHAVIOR"
	EventGeofenceAlert      EventType = "GEOFENCE_ALERT"
	EventLocationUpdate     EventType = "LOCATION_UPDATE"
	EventMilestone          EventType = "MILESTONE"
)

// timeline events are high-frequency progress chatter. They are suppressed
// for the operator role so back-office alerts are not flooded.
var timeline = map[EventType]bool{
	EventLocationUpdate: true,
	EventMilestone:      true,
	EventArrivingSoon:   true,
}

// Timeline reports whether the event type is high-frequency progress chatter.
func (t EventType) Timeline() bool { return timeline[t] }
