// Package alerting raises and retires alerts for client charges and platform payments.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/t77yq/resale-alerts/internal/duestate"
	"github.com/t77yq/resale-alerts/internal/model"
	"github.com/t77yq/resale-alerts/internal/storage"
)

// AlertStore is the subset of the entity store needed to read and transition alerts
type AlertStore interface {
	ListAlerts(ctx context.Context) ([]model.Alert, error)
	UpdateAlert(ctx context.Context, alert *model.Alert, from model.AlertState) error
}

// Store is the subset of the entity store the engine reads obligations from and writes alerts to
type Store interface {
	AlertStore
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	ListPlatformPayments(ctx context.Context) ([]model.PlatformPayment, error)
	ListClients(ctx context.Context) ([]model.Client, error)
	ListPlatforms(ctx context.Context) ([]model.Platform, error)
	CreateAlert(ctx context.Context, alert *model.Alert) error
}

// Dispatcher delivers a notification for a newly created alert
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *model.Alert) error
}

type options struct {
	now        func() time.Time
	location   *time.Location
	dispatcher Dispatcher
	currency   string
}

// Option configures an Engine or Resolver
type Option func(*options)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLocation sets the business time zone used to decide what "today" is
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.location = loc }
}

// WithDispatcher sets the notification dispatcher invoked for each new alert
func WithDispatcher(d Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// WithCurrencySymbol sets the symbol prefixed to amounts in alert messages
func WithCurrencySymbol(symbol string) Option {
	return func(o *options) { o.currency = symbol }
}

func buildOptions(opts []Option) options {
	o := options{
		now:      time.Now,
		location: time.UTC,
		currency: "$",
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.location == nil {
		o.location = time.UTC
	}
	return o
}

// maxConcurrentDispatches bounds the notifications delivered at once
const maxConcurrentDispatches = 4

// Engine generates alerts for obligations that are due today or overdue
type Engine struct {
	logger *zap.Logger
	store  Store
	opts   options

	notifications sync.WaitGroup
	slots         chan struct{}
}

// NewEngine creates a new alert generation engine
func NewEngine(store Store, logger *zap.Logger, opts ...Option) *Engine {
	return &Engine{
		logger: logger.Named("alert-engine"),
		store:  store,
		opts:   buildOptions(opts),
		slots:  make(chan struct{}, maxConcurrentDispatches),
	}
}

// Wait blocks until every notification queued by earlier passes has been attempted
func (e *Engine) Wait() {
	e.notifications.Wait()
}

// GenerateAll runs one reconciliation pass over client subscriptions and platform payments.
// The two phases are independent: a failure reading one phase's input is logged and the
// other phase still runs. The returned summary is always non-nil; the error wraps
// ErrReconciliationFailed when any phase was aborted.
func (e *Engine) GenerateAll(ctx context.Context) (*Summary, error) {
	now := e.opts.now().UTC()
	today := duestate.Today(now, e.opts.location)
	summary := &Summary{StartedAt: now}

	var errs error
	if err := e.generateClientCharges(ctx, today, now, summary); err != nil {
		e.logger.Error("Client charge reconciliation failed", zap.Error(err))
		errs = multierr.Append(errs, err)
	}
	if err := e.generatePlatformPayments(ctx, today, now, summary); err != nil {
		e.logger.Error("Platform payment reconciliation failed", zap.Error(err))
		errs = multierr.Append(errs, err)
	}

	summary.FinishedAt = e.opts.now().UTC()

	e.logger.Info("Reconciliation finished",
		zap.Time("today", today),
		zap.Int("created", summary.Count(OutcomeCreated)),
		zap.Int("duplicates", summary.Count(OutcomeDuplicate)),
		zap.Int("skipped", summary.Count(OutcomeMissingRelationship)+summary.Count(OutcomeInvalidDueDate)),
		zap.Int("failed", summary.Count(OutcomeFailed)))

	if errs != nil {
		return summary, fmt.Errorf("%w: %w", ErrReconciliationFailed, errs)
	}
	return summary, nil
}

func (e *Engine) generateClientCharges(ctx context.Context, today, now time.Time, summary *Summary) error {
	subs, err := e.store.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}
	alerts, err := e.store.ListAlerts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list alerts: %w", err)
	}
	clients, err := e.store.ListClients(ctx)
	if err != nil {
		return fmt.Errorf("failed to list clients: %w", err)
	}
	platforms, err := e.store.ListPlatforms(ctx)
	if err != nil {
		return fmt.Errorf("failed to list platforms: %w", err)
	}

	dedup := NewDeduplicator(alerts)
	clientNames := make(map[string]string, len(clients))
	for _, c := range clients {
		clientNames[c.ID] = c.Name
	}
	platformNames := platformIndex(platforms)

	for i := range subs {
		sub := &subs[i]
		if sub.State != model.SubscriptionStateActive {
			continue
		}
		summary.add(e.processSubscription(ctx, sub, today, now, dedup, clientNames, platformNames))
	}
	return nil
}

func (e *Engine) processSubscription(
	ctx context.Context,
	sub *model.Subscription,
	today, now time.Time,
	dedup *Deduplicator,
	clientNames, platformNames map[string]string,
) ItemResult {
	result := ItemResult{AlertType: model.AlertTypeClientCharge, EntityID: sub.ID}

	if sub.NextPaymentDue.IsZero() {
		e.logger.Warn("Subscription has no due date",
			zap.String("subscription_id", sub.ID))
		result.Outcome = OutcomeInvalidDueDate
		return result
	}

	state := duestate.Classify(sub.NextPaymentDue, today)
	result.DaysRemaining = state.DaysRemaining
	if !state.Actionable() {
		result.Outcome = OutcomeNotDue
		return result
	}

	if id, ok := dedup.PendingID(model.AlertTypeClientCharge, sub.ID); ok {
		result.Outcome = OutcomeDuplicate
		result.AlertID = id
		return result
	}

	clientName, ok := clientNames[sub.ClientID]
	if !ok {
		return e.missingRelationship(result, "client", sub.ClientID)
	}
	platformName, ok := platformNames[sub.PlatformID]
	if !ok {
		return e.missingRelationship(result, "platform", sub.PlatformID)
	}

	alert := &model.Alert{
		Type:          model.AlertTypeClientCharge,
		EntityType:    model.EntityTypeSubscription,
		EntityID:      sub.ID,
		ClientID:      sub.ClientID,
		PlatformID:    sub.PlatformID,
		Severity:      state.Severity,
		DaysRemaining: state.DaysRemaining,
		Amount:        sub.Price,
		Message: ClientChargeMessage(clientName, platformName, state,
			FormatAmount(e.opts.currency, sub.Price)),
		State:     model.AlertStatePending,
		CreatedAt: now,
	}
	return e.createAlert(ctx, alert, dedup, result)
}

func (e *Engine) missingRelationship(result ItemResult, relation, id string) ItemResult {
	e.logger.Warn("Skipping subscription with unresolved relationship",
		zap.String("subscription_id", result.EntityID),
		zap.String("relation", relation),
		zap.String("related_id", id))
	result.Outcome = OutcomeMissingRelationship
	result.Reason = fmt.Sprintf("%s %q not found", relation, id)
	return result
}

func (e *Engine) generatePlatformPayments(ctx context.Context, today, now time.Time, summary *Summary) error {
	payments, err := e.store.ListPlatformPayments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list platform payments: %w", err)
	}
	alerts, err := e.store.ListAlerts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list alerts: %w", err)
	}

	// Platform names only decorate the message, so a lookup failure degrades to the fallback label.
	platformNames := map[string]string{}
	if platforms, err := e.store.ListPlatforms(ctx); err != nil {
		e.logger.Warn("Failed to list platforms, using fallback label", zap.Error(err))
	} else {
		platformNames = platformIndex(platforms)
	}

	dedup := NewDeduplicator(alerts)
	for i := range payments {
		payment := &payments[i]
		if payment.State != model.PlatformPaymentStateDueSoon && payment.State != model.PlatformPaymentStateOverdue {
			continue
		}
		summary.add(e.processPlatformPayment(ctx, payment, today, now, dedup, platformNames))
	}
	return nil
}

func (e *Engine) processPlatformPayment(
	ctx context.Context,
	payment *model.PlatformPayment,
	today, now time.Time,
	dedup *Deduplicator,
	platformNames map[string]string,
) ItemResult {
	result := ItemResult{AlertType: model.AlertTypePlatformPayment, EntityID: payment.ID}

	if payment.NextPaymentDue.IsZero() {
		e.logger.Warn("Platform payment has no due date",
			zap.String("platform_payment_id", payment.ID))
		result.Outcome = OutcomeInvalidDueDate
		return result
	}

	state := duestate.Classify(payment.NextPaymentDue, today)
	result.DaysRemaining = state.DaysRemaining
	if !state.Actionable() {
		result.Outcome = OutcomeNotDue
		return result
	}

	if id, ok := dedup.PendingID(model.AlertTypePlatformPayment, payment.ID); ok {
		result.Outcome = OutcomeDuplicate
		result.AlertID = id
		return result
	}

	platformName, ok := platformNames[payment.PlatformID]
	if !ok {
		platformName = UnknownPlatformLabel
	}

	alert := &model.Alert{
		Type:          model.AlertTypePlatformPayment,
		EntityType:    model.EntityTypePlatformPayment,
		EntityID:      payment.ID,
		PlatformID:    payment.PlatformID,
		Severity:      state.Severity,
		DaysRemaining: state.DaysRemaining,
		Amount:        payment.MonthlyAmount,
		Message: PlatformPaymentMessage(platformName, state,
			FormatAmount(e.opts.currency, payment.MonthlyAmount)),
		State:     model.AlertStatePending,
		CreatedAt: now,
	}
	return e.createAlert(ctx, alert, dedup, result)
}

// createAlert writes the alert, records it for deduplication and queues its notification.
// A notification failure never undoes the write.
func (e *Engine) createAlert(ctx context.Context, alert *model.Alert, dedup *Deduplicator, result ItemResult) ItemResult {
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		if errors.Is(err, storage.ErrDuplicatePendingAlert) {
			dedup.Track(alert)
			result.Outcome = OutcomeDuplicate
			return result
		}
		e.logger.Error("Failed to create alert",
			zap.String("alert_type", string(alert.Type)),
			zap.String("entity_id", alert.EntityID),
			zap.Error(err))
		result.Outcome = OutcomeFailed
		result.Err = err
		result.Reason = err.Error()
		return result
	}

	dedup.Track(alert)
	result.Outcome = OutcomeCreated
	result.AlertID = alert.ID

	e.logger.Info("Alert created",
		zap.String("id", alert.ID),
		zap.String("alert_type", string(alert.Type)),
		zap.String("entity_id", alert.EntityID),
		zap.Int("days_remaining", alert.DaysRemaining))

	if e.opts.dispatcher != nil {
		e.dispatch(ctx, *alert)
	}
	return result
}

// dispatch delivers the notification in the background. Delivery outlives the pass
// and its context; use Wait to drain it.
func (e *Engine) dispatch(ctx context.Context, alert model.Alert) {
	ctx = context.WithoutCancel(ctx)
	e.notifications.Add(1)
	go func() {
		defer e.notifications.Done()
		e.slots <- struct{}{}
		defer func() { <-e.slots }()

		if err := e.opts.dispatcher.Dispatch(ctx, &alert); err != nil {
			e.logger.Warn("Failed to dispatch alert notification",
				zap.String("id", alert.ID),
				zap.Error(err))
		}
	}()
}

func platformIndex(platforms []model.Platform) map[string]string {
	names := make(map[string]string, len(platforms))
	for _, p := range platforms {
		names[p.ID] = p.Name
	}
	return names
}

// Upcoming describes one obligation and its due state, without raising anything
type Upcoming struct {
	AlertType  model.AlertType `json:"alert_type"`
	EntityID   string          `json:"entity_id"`
	ClientID   string          `json:"client_id,omitempty"`
	PlatformID string          `json:"platform_id"`
	DueDate    time.Time       `json:"due_date"`
	State      duestate.State  `json:"state"`
}

// Preview classifies every open obligation against today, most urgent first.
// It never writes to the store.
func (e *Engine) Preview(ctx context.Context) ([]Upcoming, error) {
	today := duestate.Today(e.opts.now(), e.opts.location)

	subs, err := e.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	payments, err := e.store.ListPlatformPayments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list platform payments: %w", err)
	}

	var upcoming []Upcoming
	for _, sub := range subs {
		if sub.State != model.SubscriptionStateActive || sub.NextPaymentDue.IsZero() {
			continue
		}
		upcoming = append(upcoming, Upcoming{
			AlertType:  model.AlertTypeClientCharge,
			EntityID:   sub.ID,
			ClientID:   sub.ClientID,
			PlatformID: sub.PlatformID,
			DueDate:    sub.NextPaymentDue,
			State:      duestate.Classify(sub.NextPaymentDue, today),
		})
	}
	for _, p := range payments {
		if p.State == model.PlatformPaymentStateCurrent || p.NextPaymentDue.IsZero() {
			continue
		}
		upcoming = append(upcoming, Upcoming{
			AlertType:  model.AlertTypePlatformPayment,
			EntityID:   p.ID,
			PlatformID: p.PlatformID,
			DueDate:    p.NextPaymentDue,
			State:      duestate.Classify(p.NextPaymentDue, today),
		})
	}

	sort.SliceStable(upcoming, func(i, j int) bool {
		return upcoming[i].State.DaysRemaining < upcoming[j].State.DaysRemaining
	})
	return upcoming, nil
}
