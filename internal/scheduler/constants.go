package scheduler

import "time"

const (
	// DefaultInterval is the reconciliation period used when none is configured
	DefaultInterval = 30 * time.Minute

	// RefreshSubject receives manual refresh requests over NATS
	RefreshSubject = "alerts.refresh"

	triggerTick    = "tick"
	triggerManual  = "manual"
)
