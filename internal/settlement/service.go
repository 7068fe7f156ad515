// Package settlement records payments and retires the alerts they settle.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/t77yq/resale-alerts/internal/duestate"
	"github.com/t77yq/resale-alerts/internal/model"
)

var (
	// ErrInvalidAmount is returned for a non-positive payment amount
	ErrInvalidAmount = errors.New("payment amount must be positive")

	// ErrSubscriptionCancelled is returned when paying a cancelled subscription
	ErrSubscriptionCancelled = errors.New("subscription is cancelled")
)

// Store is the subset of the entity store needed to settle obligations
type Store interface {
	GetSubscription(ctx context.Context, id string) (*model.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *model.Subscription) error
	CreatePayment(ctx context.Context, payment *model.Payment) error
	GetPlatformPayment(ctx context.Context, id string) (*model.PlatformPayment, error)
	UpdatePlatformPayment(ctx context.Context, payment *model.PlatformPayment) error
}

// AlertResolver retires the alerts of a settled obligation
type AlertResolver interface {
	ResolveForSubscriptionCharge(ctx context.Context, subscriptionID string) error
	ResolveForPlatformPayment(ctx context.Context, platformPaymentID string) error
}

// Service records client and platform payments
type Service struct {
	logger   *zap.Logger
	store    Store
	resolver AlertResolver
	now      func() time.Time
}

// NewService creates a settlement service
func NewService(store Store, resolver AlertResolver, logger *zap.Logger) *Service {
	return &Service{
		logger:   logger.Named("settlement"),
		store:    store,
		resolver: resolver,
		now:      time.Now,
	}
}

// RecordClientPayment moves the subscription's next due date one month forward, stores
// the payment and resolves the pending charge alert. A zero paidAt means now.
// When the payment cannot be stored the subscription is restored. Failing to resolve
// the alert is logged; the payment is already recorded by then.
func (s *Service) RecordClientPayment(ctx context.Context, subscriptionID string, amount decimal.Decimal, paidAt time.Time) (*model.Payment, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if paidAt.IsZero() {
		paidAt = s.now()
	}

	sub, err := s.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription %s: %w", subscriptionID, err)
	}
	if sub.State == model.SubscriptionStateCancelled {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionCancelled, subscriptionID)
	}

	previous := *sub
	sub.NextPaymentDue = duestate.AddMonths(sub.NextPaymentDue, 1)
	sub.State = model.SubscriptionStateActive
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to advance subscription %s: %w", sub.ID, err)
	}

	payment := &model.Payment{
		SubscriptionID: sub.ID,
		ClientID:       sub.ClientID,
		Amount:         amount,
		PaidAt:         paidAt.UTC(),
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		// Put the due date back so a retry does not advance it twice.
		if restoreErr := s.store.UpdateSubscription(ctx, &previous); restoreErr != nil {
			s.logger.Error("Failed to restore subscription after payment failure",
				zap.String("subscription_id", sub.ID),
				zap.Time("next_due", previous.NextPaymentDue),
				zap.Error(restoreErr))
		}
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	s.logger.Info("Client payment recorded",
		zap.String("subscription_id", sub.ID),
		zap.String("client_id", sub.ClientID),
		zap.String("amount", amount.StringFixed(2)),
		zap.Time("previous_due", previous.NextPaymentDue),
		zap.Time("next_due", sub.NextPaymentDue))

	if err := s.resolver.ResolveForSubscriptionCharge(ctx, sub.ID); err != nil {
		s.logger.Error("Failed to resolve client charge alert",
			zap.String("subscription_id", sub.ID),
			zap.Error(err))
	}
	return payment, nil
}

// RecordPlatformPayment marks a platform payment as paid, moves its due date one month
// forward and resolves its pending alert. A zero paidAt means now.
func (s *Service) RecordPlatformPayment(ctx context.Context, platformPaymentID string, paidAt time.Time) (*model.PlatformPayment, error) {
	if paidAt.IsZero() {
		paidAt = s.now()
	}

	payment, err := s.store.GetPlatformPayment(ctx, platformPaymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get platform payment %s: %w", platformPaymentID, err)
	}

	previousDue := payment.NextPaymentDue
	payment.NextPaymentDue = duestate.AddMonths(payment.NextPaymentDue, 1)
	payment.State = model.PlatformPaymentStateCurrent
	if err := s.store.UpdatePlatformPayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to advance platform payment %s: %w", payment.ID, err)
	}

	s.logger.Info("Platform payment recorded",
		zap.String("platform_payment_id", payment.ID),
		zap.String("platform_id", payment.PlatformID),
		zap.Time("paid_at", paidAt.UTC()),
		zap.Time("previous_due", previousDue),
		zap.Time("next_due", payment.NextPaymentDue))

	if err := s.resolver.ResolveForPlatformPayment(ctx, payment.ID); err != nil {
		s.logger.Error("Failed to resolve platform payment alert",
			zap.String("platform_payment_id", payment.ID),
			zap.Error(err))
	}
	return payment, nil
}
