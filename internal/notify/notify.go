// Package notify delivers newly raised alerts to operators.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/t77yq/resale-alerts/internal/model"
)

// Notification is a rendered alert ready for delivery
type Notification struct {
	Subject string       `json:"subject"`
	Body    string       `json:"body"`
	Alert   *model.Alert `json:"alert"`
}

// Channel represents a channel for sending alert notifications
type Channel interface {
	Send(ctx context.Context, n Notification) error
}

// Dispatcher renders an alert once and fans it out to every channel.
// A failing channel does not prevent delivery on the others.
type Dispatcher struct {
	logger   *zap.Logger
	renderer *Renderer
	channels []Channel
}

// NewDispatcher creates a dispatcher; nil channels are ignored
func NewDispatcher(renderer *Renderer, logger *zap.Logger, channels ...Channel) *Dispatcher {
	active := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if ch != nil {
			active = append(active, ch)
		}
	}
	return &Dispatcher{
		logger:   logger.Named("notify"),
		renderer: renderer,
		channels: active,
	}
}

// Channels returns the number of active channels
func (d *Dispatcher) Channels() int {
	return len(d.channels)
}

// Dispatch renders the alert and sends it on every channel
func (d *Dispatcher) Dispatch(ctx context.Context, alert *model.Alert) error {
	if len(d.channels) == 0 {
		return nil
	}

	n, err := d.renderer.Render(alert)
	if err != nil {
		return fmt.Errorf("failed to render alert %s: %w", alert.ID, err)
	}

	var errs error
	for _, ch := range d.channels {
		if err := ch.Send(ctx, n); err != nil {
			d.logger.Error("Failed to send notification",
				zap.String("channel", channelName(ch)),
				zap.String("alert_id", alert.ID),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", channelName(ch), err))
			continue
		}
		d.logger.Debug("Notification sent",
			zap.String("channel", channelName(ch)),
			zap.String("alert_id", alert.ID))
	}
	return errs
}

func channelName(ch Channel) string {
	if v, ok := ch.(fmt.Stringer); ok {
		return v.String()
	}
	return fmt.Sprintf("%T", ch)
}
