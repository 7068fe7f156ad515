package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityNormal   AlertSeverity = "normal"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityUrgent   AlertSeverity = "urgent"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertType represents the kind of obligation an alert is raised for
type AlertType string

const (
	// AlertTypeClientCharge is raised when a client owes the business
	AlertTypeClientCharge AlertType = "client_charge"
	// AlertTypePlatformPayment is raised when the business owes a platform provider
	AlertTypePlatformPayment AlertType = "platform_payment"
)

// EntityType names the record an alert points at
type EntityType string

const (
	EntityTypeSubscription    EntityType = "subscription"
	EntityTypePlatformPayment EntityType = "platform_payment"
)

// AlertState represents the lifecycle state of an alert
type AlertState string

const (
	AlertStatePending  AlertState = "pending"
	AlertStateRead     AlertState = "read"
	AlertStateResolved AlertState = "resolved"
)

// CanTransitionTo reports whether moving from s to next is allowed.
// Transitions only move forward: pending -> read -> resolved, or pending -> resolved.
func (s AlertState) CanTransitionTo(next AlertState) bool {
	switch s {
	case AlertStatePending:
		return next == AlertStateRead || next == AlertStateResolved
	case AlertStateRead:
		return next == AlertStateResolved
	default:
		return false
	}
}

// Alert represents an actionable reminder about an outstanding obligation
type Alert struct {
	ID            string          `json:"id"`
	Type          AlertType       `json:"alert_type"`
	EntityType    EntityType      `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	ClientID      string          `json:"client_id,omitempty"`
	PlatformID    string          `json:"platform_id,omitempty"`
	Severity      AlertSeverity   `json:"severity"`
	DaysRemaining int             `json:"days_remaining"`
	Amount        decimal.Decimal `json:"amount"`
	Message       string          `json:"message"`
	State         AlertState      `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
	ReadAt        *time.Time      `json:"read_at,omitempty"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}

// IsPending reports whether the alert still awaits attention
func (a Alert) IsPending() bool {
	return a.State == AlertStatePending
}
