package scheduler

import "errors"

var (
	// ErrAlreadyRunning is returned when Start is called on a running scheduler
	ErrAlreadyRunning = errors.New("scheduler already running")

	// ErrNotRunning is returned when a run is requested from a stopped scheduler
	ErrNotRunning = errors.New("scheduler not running")
)
