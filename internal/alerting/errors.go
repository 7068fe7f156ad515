package alerting

import "errors"

var (
	// ErrReconciliationFailed is returned when a generation phase could not read its input lists
	ErrReconciliationFailed = errors.New("alert reconciliation failed")

	// ErrAlertNotFound is returned when an alert ID does not exist
	ErrAlertNotFound = errors.New("alert not found")
)
