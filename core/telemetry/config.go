package telemetry

import (
	"fmt"
	"time"
)

// Config tunes the detectors and the automatic transition thresholds.
type Config struct {
	// SpeedLimitKmh is the fleet-wide speeding threshold.
	SpeedLimitKmh float64 `json:"speed_limit_kmh"`
	// HarshTurnWindowSeconds bounds the gap between two pings for a turn to
	// count as one maneuver.
	HarshTurnWindowSeconds int `json:"harsh_turn_window_seconds"`
	// HarshTurnMinDeltaDeg is the minimum circular heading change.
	HarshTurnMinDeltaDeg float64 `json:"harsh_turn_min_delta_deg"`
	// IdleWindowSeconds is the minimum stationary gap for an idling event.
	IdleWindowSeconds int `json:"idle_window_seconds"`
	// EventCooldownMinutes rate-limits repeated events of one type per
	// shipment and driver.
	EventCooldownMinutes int `json:"event_cooldown_minutes"`

	// OutForDeliveryKm is the remaining distance that flips IN_TRANSIT to
	// OUT_FOR_DELIVERY.
	OutForDeliveryKm float64 `json:"out_for_delivery_km"`
	// DelayThresholdMinutes is how far predicted may trail scheduled before
	// the shipment counts as delayed.
	DelayThresholdMinutes int `json:"delay_threshold_minutes"`
	// DelayNotifyCooldownMinutes spaces repeated delay notifications.
	DelayNotifyCooldownMinutes int `json:"delay_notify_cooldown_minutes"`
	// MilestoneStepPct is the progress interval for milestone events.
	MilestoneStepPct int `json:"milestone_step_pct"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.SpeedLimitKmh == 0 {
		c.SpeedLimitKmh = 80
	}
	if c.HarshTurnWindowSeconds == 0 {
		c.HarshTurnWindowSeconds = 30
	}
	if c.HarshTurnMinDeltaDeg == 0 {
		c.HarshTurnMinDeltaDeg = 60
	}
	if c.IdleWindowSeconds == 0 {
		c.IdleWindowSeconds = 300
	}
	if c.EventCooldownMinutes == 0 {
		c.EventCooldownMinutes = 10
	}
	if c.OutForDeliveryKm == 0 {
		c.OutForDeliveryKm = 5
	}
	if c.DelayThresholdMinutes == 0 {
		c.DelayThresholdMinutes = 30
	}
	if c.DelayNotifyCooldownMinutes == 0 {
		c.DelayNotifyCooldownMinutes = 15
	}
	if c.MilestoneStepPct == 0 {
		c.MilestoneStepPct = 25
	}
}

// Validate checks the thresholds are usable.
func (c Config) Validate() error {
	if c.SpeedLimitKmh < 0 {
		return fmt.Errorf("speed_limit_kmh must not be negative")
	}
	if c.MilestoneStepPct < 0 || c.MilestoneStepPct > 100 {
		return fmt.Errorf("milestone_step_pct out of range")
	}
	return nil
}

func (c Config) harshTurnWindow() time.Duration {
	return time.Duration(c.HarshTurnWindowSeconds) * time.Second
}

func (c Config) idleWindow() time.Duration {
	return time.Duration(c.IdleWindowSeconds) * time.Second
}

func (c Config) eventCooldown() time.Duration {
	return time.Duration(c.EventCooldownMinutes) * time.Minute
}

func (c Config) delayThreshold() time.Duration {
	return time.Duration(c.DelayThresholdMinutes) * time.Minute
}

func (c Config) delayNotifyCooldown() time.Duration {
	return time.Duration(c.DelayNotifyCooldownMinutes) * time.Minute
}
