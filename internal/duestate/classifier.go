// Package duestate maps obligation due dates to day offsets and severity tiers.
package duestate

import (
	"time"

	"github.com/t77yq/resale-alerts/internal/model"
)

const (
	hoursPerDay = 24

	// UrgentWithinDays is the largest offset still classified as urgent
	UrgentWithinDays = 3
	// WarningWithinDays is the largest offset still classified as a warning
	WarningWithinDays = 7
)

// State is the classification of a due date relative to a given day
type State struct {
	DaysRemaining int                 `json:"days_remaining"`
	Severity      model.AlertSeverity `json:"severity"`
}

// Actionable reports whether an alert should be raised: due today or overdue
func (s State) Actionable() bool {
	return s.DaysRemaining <= 0
}

// Overdue reports whether the due date has passed
func (s State) Overdue() bool {
	return s.DaysRemaining < 0
}

// DaysOverdue returns how many days the obligation is late, zero when it is not
func (s State) DaysOverdue() int {
	if s.DaysRemaining >= 0 {
		return 0
	}
	return -s.DaysRemaining
}

// Date truncates t to midnight UTC of its calendar date in t's own location
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the calendar date of now as seen from loc
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return Date(now.In(loc))
}

// DaysRemaining returns due - today in whole calendar days.
// Times of day are ignored, so an obligation due later today yields 0.
func DaysRemaining(due, today time.Time) int {
	return int(Date(due).Sub(Date(today)).Hours()) / hoursPerDay
}

// SeverityFor maps a day offset to its tier
func SeverityFor(daysRemaining int) model.AlertSeverity {
	switch {
	case daysRemaining <= 0:
		return model.AlertSeverityCritical
	case daysRemaining <= UrgentWithinDays:
		return model.AlertSeverityUrgent
	case daysRemaining <= WarningWithinDays:
		return model.AlertSeverityWarning
	default:
		return model.AlertSeverityNormal
	}
}

// Classify computes the day offset and tier of due relative to today
func Classify(due, today time.Time) State {
	days := DaysRemaining(due, today)
	return State{
		DaysRemaining: days,
		Severity:      SeverityFor(days),
	}
}

// AddMonths moves t forward by n calendar months, clamping to the last day of
// the target month so a charge due on the 31st stays at month end.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}
