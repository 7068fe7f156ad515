// Package maintenance prunes alerts that are no longer useful.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultRetention is how long alerts are kept
	DefaultRetention = 30 * 24 * time.Hour
	// DefaultInterval is how often the cleaner runs
	DefaultInterval = 24 * time.Hour
)

// Store is the subset of the entity store the cleaner prunes
type Store interface {
	DeleteAlertsBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteResolvedAlerts(ctx context.Context) (int64, error)
}

// Config controls the cleaner
type Config struct {
	Retention     time.Duration
	Interval      time.Duration
	PurgeResolved bool
}

// Cleaner deletes alerts past the retention window and, optionally, every resolved alert
type Cleaner struct {
	logger *zap.Logger
	store  Store
	config Config
	now    func() time.Time
}

// NewCleaner creates a cleaner, filling zero config values with defaults
func NewCleaner(store Store, config Config, logger *zap.Logger) *Cleaner {
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	return &Cleaner{
		logger: logger.Named("cleaner"),
		store:  store,
		config: config,
		now:    time.Now,
	}
}

// Run sweeps on every interval until ctx is cancelled
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil {
				c.logger.Error("Failed to clean up alerts", zap.Error(err))
			}
		}
	}
}

// Sweep deletes alerts older than the retention window, then resolved alerts when
// PurgeResolved is set. It returns the number of deleted alerts.
func (c *Cleaner) Sweep(ctx context.Context) (int64, error) {
	cutoff := c.now().UTC().Add(-c.config.Retention)
	deleted, err := c.store.DeleteAlertsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete alerts before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	c.logger.Info("Expired alerts deleted",
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", deleted))

	if !c.config.PurgeResolved {
		return deleted, nil
	}
	purged, err := c.PurgeResolved(ctx)
	return deleted + purged, err
}

// PurgeResolved deletes every resolved alert
func (c *Cleaner) PurgeResolved(ctx context.Context) (int64, error) {
	deleted, err := c.store.DeleteResolvedAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete resolved alerts: %w", err)
	}
	c.logger.Info("Resolved alerts deleted", zap.Int64("deleted", deleted))
	return deleted, nil
}
