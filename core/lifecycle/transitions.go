package lifecycle

import "github.com/openfleet/dispatchd/core/model"

// legal enumerates every transition the machine accepts, manual and
// telemetry-driven alike. Anything absent here is rejected with a conflict.
var legal = map[model.ShipmentStatus][]model.ShipmentStatus{
	model.StatusCreated:  {model.StatusAssigned, model.StatusCancelled},
	model.StatusAssigned: {model.StatusPickedUp, model.StatusCreated, model.StatusCancelled},
	model.StatusPickedUp: {model.StatusInTransit},
	model.StatusInTransit: {
		model.StatusOutForDelivery,
		model.StatusDelayed,
		model.StatusDelivered,
	},
	model.StatusDelayed:        {model.StatusInTransit},
	model.StatusOutForDelivery: {model.StatusDelivered},
	model.StatusDelivered:      {model.StatusClosed},
}

// Allowed reports whether from -> to is a legal transition.
func Allowed(from, to model.ShipmentStatus) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}
