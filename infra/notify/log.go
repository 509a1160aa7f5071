package notify

import (
	"context"

	"github.com/openfleet/dispatchd/core/logger"
	corenotify "github.com/openfleet/dispatchd/core/notify"
)

// LogTransport writes notifications to the log. Default in development and
// the simulator.
type LogTransport struct {
	log logger.Logger
}

func NewLogTransport(log logger.Logger) *LogTransport {
	if log == nil {
		log = logger.Nop{}
	}
	return &LogTransport{log: log}
}

func (t *LogTransport) Deliver(_ context.Context, n corenotify.Notification) error {
	t.log.Debugw("notification delivered", map[string]any{
		"user":     n.UserID,
		"role":     string(n.Role),
		"event":    string(n.Event),
		"severity": string(n.Severity),
		"shipment": n.ShipmentID,
		"message":  n.Message,
	})
	return nil
}
