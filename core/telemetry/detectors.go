package telemetry

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"

	"github.com/openfleet/dispatchd/core/geo"
	"github.com/openfleet/dispatchd/core/model"
	"github.com/openfleet/dispatchd/core/notify"
)

// detection is a candidate DriverEvent produced by one detector.
type detection struct {
	kind     model.DriverEventType
	severity int
	metadata map[string]string
}

// runDetectors evaluates the three behavior detectors for the current ping
// against the immediately preceding one. Detectors are independent: one
// firing never suppresses another.
func (i *Ingestor) runDetectors(cur model.LocationPing, prev *model.LocationPing) []detection {
	var out []detection
	if d := i.detectSpeeding(cur); d != nil {
		out = append(out, *d)
	}
	if prev != nil {
		if d := i.detectHarshTurn(cur, *prev); d != nil {
			out = append(out, *d)
		}
		if d := i.detectIdling(cur, *prev); d != nil {
			out = append(out, *d)
		}
	}
	return out
}

func (i *Ingestor) detectSpeeding(cur model.LocationPing) *detection {
	if cur.SpeedKmh == nil || *cur.SpeedKmh <= i.cfg.SpeedLimitKmh {
		return nil
	}
	over := *cur.SpeedKmh - i.cfg.SpeedLimitKmh
	sev := int(math.Round(over / 5))
	if sev < 1 {
		sev = 1
	}
	return &detection{
		kind:     model.EventSpeeding,
		severity: sev,
		metadata: map[string]string{
			"speed_kmh": formatFloat(*cur.SpeedKmh),
			"limit_kmh": formatFloat(i.cfg.SpeedLimitKmh),
		},
	}
}

func (i *Ingestor) detectHarshTurn(cur, prev model.LocationPing) *detection {
	if cur.HeadingDeg == nil || prev.HeadingDeg == nil {
		return nil
	}
	gap := cur.RecordedAt.Sub(prev.RecordedAt)
	if gap < 0 || gap > i.cfg.harshTurnWindow() {
		return nil
	}
	if cur.SpeedKmh == nil || *cur.SpeedKmh <= 10 {
		return nil
	}
	delta := geo.HeadingDelta(*prev.HeadingDeg, *cur.HeadingDeg)
	if delta < i.cfg.HarshTurnMinDeltaDeg {
		return nil
	}
	sev := int(math.Round(delta / 30))
	if sev < 1 {
		sev = 1
	}
	return &detection{
		kind:     model.EventHarshTurn,
		severity: sev,
		metadata: map[string]string{
			"heading_delta_deg": formatFloat(delta),
			"speed_kmh":         formatFloat(*cur.SpeedKmh),
		},
	}
}

func (i *Ingestor) detectIdling(cur, prev model.LocationPing) *detection {
	if cur.SpeedKmh == nil || prev.SpeedKmh == nil {
		return nil
	}
	if *cur.SpeedKmh >= 2 || *prev.SpeedKmh >= 2 {
		return nil
	}
	gap := cur.RecordedAt.Sub(prev.RecordedAt)
	if gap < i.cfg.idleWindow() {
		return nil
	}
	return &detection{
		kind:     model.EventIdling,
		severity: 1,
		metadata: map[string]string{
			"idle_seconds": strconv.Itoa(int(gap.Seconds())),
		},
	}
}

// recordDetections persists detections that survive the per-type cooldown and
// reports them to the sink and the stakeholders.
func (i *Ingestor) recordDetections(ctx context.Context, s *model.Shipment, cur model.LocationPing, found []detection) {
	for _, d := range found {
		last, err := i.st.Events.LastOfType(ctx, s.ID, cur.DriverID, d.kind)
		if err != nil {
			i.log.Errorf("cooldown lookup for %s: %v", d.kind, err)
			continue
		}
		if last != nil && cur.RecordedAt.Sub(last.RecordedAt) < i.cfg.eventCooldown() {
			continue
		}
		ev := model.DriverEvent{
			ID:         uuid.NewString(),
			ShipmentID: s.ID,
			DriverID:   cur.DriverID,
			VehicleID:  cur.VehicleID,
			Type:       d.kind,
			Severity:   d.severity,
			Metadata:   d.metadata,
			RecordedAt: cur.RecordedAt,
		}
		if err := i.st.Events.Create(ctx, ev); err != nil {
			i.log.Errorf("record %s event: %v", d.kind, err)
			continue
		}
		i.sink.RecordDriverEvent(ev)
		i.notifyBehavior(ctx, s, ev)
	}
}

func (i *Ingestor) notifyBehavior(ctx context.Context, s *model.Shipment, ev model.DriverEvent) {
	if i.notifier == nil {
		return
	}
	msg := fmt.Sprintf("%s (severity %d) recorded on shipment %s.", ev.Type, ev.Severity, s.Reference)
	i.notifier.NotifyStakeholders(ctx, s, notify.EventDriverBehavior, msg, model.RoleCustomer, model.RoleDriver)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
