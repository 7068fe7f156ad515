package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionState represents the billing state of a client subscription
type SubscriptionState string

const (
	SubscriptionStateActive    SubscriptionState = "active"
	SubscriptionStateOverdue   SubscriptionState = "overdue"
	SubscriptionStateCancelled SubscriptionState = "cancelled"
)

// Subscription is a client's paid access to a profile on a platform account
type Subscription struct {
	ID             string            `json:"id"`
	ClientID       string            `json:"client_id"`
	PlatformID     string            `json:"platform_id"`
	AccountID      string            `json:"account_id,omitempty"`
	ProfileID      string            `json:"profile_id,omitempty"`
	State          SubscriptionState `json:"state"`
	Price          decimal.Decimal   `json:"price"`
	StartedAt      time.Time         `json:"started_at"`
	NextPaymentDue time.Time         `json:"next_payment_due"`
}

// PlatformPaymentState represents what the business owes a platform provider
type PlatformPaymentState string

const (
	PlatformPaymentStateDueSoon PlatformPaymentState = "due_soon"
	PlatformPaymentStateOverdue PlatformPaymentState = "overdue"
	PlatformPaymentStateCurrent PlatformPaymentState = "current"
)

// PlatformPayment is the recurring charge for a platform account
type PlatformPayment struct {
	ID              string               `json:"id"`
	PlatformID      string               `json:"platform_id"`
	AccountID       string               `json:"account_id,omitempty"`
	State           PlatformPaymentState `json:"state"`
	MonthlyAmount   decimal.Decimal      `json:"monthly_amount"`
	GracePeriodDays int                  `json:"grace_period_days"`
	NextPaymentDue  time.Time            `json:"next_payment_due"`
}

// Payment records money received from a client for a subscription
type Payment struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	ClientID       string          `json:"client_id"`
	Amount         decimal.Decimal `json:"amount"`
	PaidAt         time.Time       `json:"paid_at"`
}
