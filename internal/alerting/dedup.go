package alerting

import (
	"context"
	"fmt"

	"github.com/t77yq/resale-alerts/internal/model"
)

type dedupKey struct {
	alertType model.AlertType
	entityID  string
}

// Deduplicator tracks which (alert type, entity) pairs already have a pending alert.
// It is not safe for concurrent use; each generation phase builds its own.
type Deduplicator struct {
	pending map[dedupKey]string
}

// NewDeduplicator indexes the pending alerts among alerts
func NewDeduplicator(alerts []model.Alert) *Deduplicator {
	d := &Deduplicator{pending: make(map[dedupKey]string)}
	for i := range alerts {
		if alerts[i].IsPending() {
			d.Track(&alerts[i])
		}
	}
	return d
}

// IsPending reports whether a pending alert exists for the pair
func (d *Deduplicator) IsPending(alertType model.AlertType, entityID string) bool {
	_, ok := d.pending[dedupKey{alertType, entityID}]
	return ok
}

// PendingID returns the ID of the pending alert for the pair, if known
func (d *Deduplicator) PendingID(alertType model.AlertType, entityID string) (string, bool) {
	id, ok := d.pending[dedupKey{alertType, entityID}]
	return id, ok
}

// Track records a newly created pending alert
func (d *Deduplicator) Track(alert *model.Alert) {
	d.pending[dedupKey{alert.Type, alert.EntityID}] = alert.ID
}

// HasPending queries the store for a pending alert matching the pair
func HasPending(ctx context.Context, store AlertStore, alertType model.AlertType, entityID string) (bool, error) {
	alerts, err := store.ListAlerts(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list alerts: %w", err)
	}
	return NewDeduplicator(alerts).IsPending(alertType, entityID), nil
}
