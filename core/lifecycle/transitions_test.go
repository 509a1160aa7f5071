package lifecycle

import (
	"testing"

	"github.com/openfleet/dispatchd/core/model"
)

func TestAllowed(t *testing.T) {
	cases := []struct {
		from, to model.ShipmentStatus
		want     bool
	}{
		{model.StatusCreated, model.StatusAssigned, true},
		{model.StatusCreated, model.StatusCancelled, true},
		{model.StatusCreated, model.StatusInTransit, false},
		{model.StatusAssigned, model.StatusPickedUp, true},
		{model.StatusAssigned, model.StatusCreated, true},
		{model.StatusAssigned, model.StatusCancelled, true},
		{model.StatusAssigned, model.StatusDelivered, false},
		{model.StatusPickedUp, model.StatusInTransit, true},
		{model.StatusPickedUp, model.StatusCancelled, false},
		{model.StatusInTransit, model.StatusOutForDelivery, true},
		{model.StatusInTransit, model.StatusDelayed, true},
		{model.StatusInTransit, model.StatusDelivered, true},
		{model.StatusDelayed, model.StatusInTransit, true},
		{model.StatusDelayed, model.StatusDelivered, false},
		{model.StatusOutForDelivery, model.StatusDelivered, true},
		{model.StatusOutForDelivery, model.StatusInTransit, false},
		{model.StatusDelivered, model.StatusClosed, true},
		{model.StatusClosed, model.StatusCreated, false},
		{model.StatusCancelled, model.StatusCreated, false},
	}
	for _, tc := range cases {
		if got := Allowed(tc.from, tc.to); got != tc.want {
			t.Errorf("Allowed(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	all := []model.ShipmentStatus{
		model.StatusCreated, model.StatusAssigned, model.StatusPickedUp,
		model.StatusInTransit, model.StatusDelayed, model.StatusOutForDelivery,
		model.StatusDelivered, model.StatusClosed, model.StatusCancelled,
	}
	for _, from := range []model.ShipmentStatus{model.StatusClosed, model.StatusCancelled} {
		for _, to := range all {
			if Allowed(from, to) {
				t.Errorf("terminal %s must not allow %s", from, to)
			}
		}
	}
}
