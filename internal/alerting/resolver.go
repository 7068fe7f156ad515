package alerting

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/resale-alerts/internal/model"
	"github.com/t77yq/resale-alerts/internal/storage"
)

// Resolver transitions alerts through their lifecycle once their obligation is handled.
// Every operation is idempotent, so it can run concurrently with generation.
type Resolver struct {
	logger *zap.Logger
	store  AlertStore
	opts   options
}

// NewResolver creates a new alert resolver
func NewResolver(store AlertStore, logger *zap.Logger, opts ...Option) *Resolver {
	return &Resolver{
		logger: logger.Named("alert-resolver"),
		store:  store,
		opts:   buildOptions(opts),
	}
}

// ResolveForSubscriptionCharge resolves the pending client charge alert for a subscription.
// It is a no-op when there is none.
func (r *Resolver) ResolveForSubscriptionCharge(ctx context.Context, subscriptionID string) error {
	return r.resolveForEntity(ctx, model.AlertTypeClientCharge, subscriptionID)
}

// ResolveForPlatformPayment resolves the pending platform payment alert for a platform payment.
// It is a no-op when there is none.
func (r *Resolver) ResolveForPlatformPayment(ctx context.Context, platformPaymentID string) error {
	return r.resolveForEntity(ctx, model.AlertTypePlatformPayment, platformPaymentID)
}

func (r *Resolver) resolveForEntity(ctx context.Context, alertType model.AlertType, entityID string) error {
	alerts, err := r.store.ListAlerts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list alerts: %w", err)
	}

	// Normally at most one matches; resolving all of them also cleans up after concurrent writers.
	for i := range alerts {
		alert := &alerts[i]
		if !alert.IsPending() || alert.Type != alertType || alert.EntityID != entityID {
			continue
		}
		applied, err := r.transition(ctx, alert, model.AlertStateResolved)
		if err != nil {
			return err
		}
		if !applied {
			continue
		}
		r.logger.Info("Alert resolved",
			zap.String("id", alert.ID),
			zap.String("alert_type", string(alertType)),
			zap.String("entity_id", entityID))
	}
	return nil
}

// MarkRead moves a pending alert to read. Read and resolved alerts are left untouched.
func (r *Resolver) MarkRead(ctx context.Context, alertID string) error {
	alert, err := r.find(ctx, alertID)
	if err != nil {
		return err
	}
	if !alert.State.CanTransitionTo(model.AlertStateRead) {
		return nil
	}
	_, err = r.transition(ctx, alert, model.AlertStateRead)
	return err
}

// Resolve moves a pending or read alert to resolved
func (r *Resolver) Resolve(ctx context.Context, alertID string) error {
	alert, err := r.find(ctx, alertID)
	if err != nil {
		return err
	}
	if !alert.State.CanTransitionTo(model.AlertStateResolved) {
		return nil
	}
	_, err = r.transition(ctx, alert, model.AlertStateResolved)
	return err
}

func (r *Resolver) find(ctx context.Context, alertID string) (*model.Alert, error) {
	alerts, err := r.store.ListAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	for i := range alerts {
		if alerts[i].ID == alertID {
			return &alerts[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
}

// transition moves alert to next if it is still in the state it was read in.
// It reports false when another writer changed the alert first.
func (r *Resolver) transition(ctx context.Context, alert *model.Alert, next model.AlertState) (bool, error) {
	from := alert.State
	now := r.opts.now().UTC()
	alert.State = next
	switch next {
	case model.AlertStateRead:
		alert.ReadAt = &now
	case model.AlertStateResolved:
		alert.ResolvedAt = &now
	}
	err := r.store.UpdateAlert(ctx, alert, from)
	if errors.Is(err, storage.ErrStateConflict) {
		r.logger.Debug("Alert changed concurrently, skipping transition",
			zap.String("id", alert.ID),
			zap.String("from", string(from)),
			zap.String("to", string(next)))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update alert %s: %w", alert.ID, err)
	}
	return true, nil
}
