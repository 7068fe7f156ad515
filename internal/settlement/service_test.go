package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/resale-alerts/internal/alerting"
	"github.com/t77yq/resale-alerts/internal/model"
	"github.com/t77yq/resale-alerts/internal/storage"
)

var today = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store    *storage.MemoryStore
	engine   *alerting.Engine
	resolver *alerting.Resolver
	service  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.CreateClient(ctx, &model.Client{ID: "ana", Name: "Ana"}))
	require.NoError(t, store.CreatePlatform(ctx, &model.Platform{ID: "netflix", Name: "Netflix"}))
	require.NoError(t, store.CreateSubscription(ctx, &model.Subscription{
		ID:             "sub-1",
		ClientID:       "ana",
		PlatformID:     "netflix",
		State:          model.SubscriptionStateActive,
		Price:          decimal.NewFromInt(12),
		NextPaymentDue: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, store.CreatePlatformPayment(ctx, &model.PlatformPayment{
		ID:             "pp-1",
		PlatformID:     "netflix",
		State:          model.PlatformPaymentStateOverdue,
		MonthlyAmount:  decimal.NewFromInt(45),
		NextPaymentDue: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -20),
	}))

	clock := alerting.WithClock(func() time.Time { return today })
	resolver := alerting.NewResolver(store, zap.NewNop(), clock)
	return &fixture{
		store:    store,
		engine:   alerting.NewEngine(store, zap.NewNop(), clock),
		resolver: resolver,
		service:  NewService(store, resolver, zap.NewNop()),
	}
}

func pendingCount(t *testing.T, store *storage.MemoryStore) int {
	t.Helper()
	alerts, err := store.ListAlerts(context.Background())
	require.NoError(t, err)
	n := 0
	for _, a := range alerts {
		if a.IsPending() {
			n++
		}
	}
	return n
}

func TestRecordClientPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.GenerateAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, pendingCount(t, f.store))

	payment, err := f.service.RecordClientPayment(ctx, "sub-1", decimal.NewFromInt(12), today)
	require.NoError(t, err)
	assert.NotEmpty(t, payment.ID)
	assert.Equal(t, "ana", payment.ClientID)

	sub, err := f.store.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC), sub.NextPaymentDue)
	assert.Equal(t, model.SubscriptionStateActive, sub.State)

	payments, err := f.store.ListPayments(ctx, "sub-1")
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	// Only the platform payment alert remains.
	assert.Equal(t, 1, pendingCount(t, f.store))

	// The next pass finds the subscription current again.
	summary, err := f.engine.GenerateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Count(alerting.OutcomeCreated))
}

func TestRecordClientPayment_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.RecordClientPayment(ctx, "sub-1", decimal.Zero, today)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.service.RecordClientPayment(ctx, "missing", decimal.NewFromInt(5), today)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	sub, err := f.store.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	sub.State = model.SubscriptionStateCancelled
	require.NoError(t, f.store.UpdateSubscription(ctx, sub))

	_, err = f.service.RecordClientPayment(ctx, "sub-1", decimal.NewFromInt(12), today)
	assert.ErrorIs(t, err, ErrSubscriptionCancelled)
}

func TestRecordPlatformPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.GenerateAll(ctx)
	require.NoError(t, err)

	payment, err := f.service.RecordPlatformPayment(ctx, "pp-1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, model.PlatformPaymentStateCurrent, payment.State)
	assert.Equal(t, time.Date(2025, 2, 11, 0, 0, 0, 0, time.UTC), payment.NextPaymentDue)

	pending, err := alerting.HasPending(ctx, f.store, model.AlertTypePlatformPayment, "pp-1")
	require.NoError(t, err)
	assert.False(t, pending)

	_, err = f.service.RecordPlatformPayment(ctx, "missing", today)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

type failingResolver struct{}

func (failingResolver) ResolveForSubscriptionCharge(context.Context, string) error {
	return errors.New("alert store unavailable")
}

func (failingResolver) ResolveForPlatformPayment(context.Context, string) error {
	return errors.New("alert store unavailable")
}

func TestRecordPayment_ResolutionFailureKeepsPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	service := NewService(f.store, failingResolver{}, zap.NewNop())

	_, err := service.RecordClientPayment(ctx, "sub-1", decimal.NewFromInt(12), today)
	require.NoError(t, err)
	_, err = service.RecordPlatformPayment(ctx, "pp-1", today)
	require.NoError(t, err)

	sub, err := f.store.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC), sub.NextPaymentDue)
}

// flakyStore fails selected writes of an otherwise working MemoryStore
type flakyStore struct {
	*storage.MemoryStore
	createPaymentErr      error
	updateSubscriptionErr error
}

func (s *flakyStore) CreatePayment(ctx context.Context, payment *model.Payment) error {
	if s.createPaymentErr != nil {
		return s.createPaymentErr
	}
	return s.MemoryStore.CreatePayment(ctx, payment)
}

func (s *flakyStore) UpdateSubscription(ctx context.Context, sub *model.Subscription) error {
	if s.updateSubscriptionErr != nil {
		return s.updateSubscriptionErr
	}
	return s.MemoryStore.UpdateSubscription(ctx, sub)
}

func TestRecordClientPayment_WriteFailuresLeaveNoPartialState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := &flakyStore{MemoryStore: f.store}
	service := NewService(store, f.resolver, zap.NewNop())
	due := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	t.Run("SubscriptionUpdateFails", func(t *testing.T) {
		store.updateSubscriptionErr = errors.New("disk full")
		defer func() { store.updateSubscriptionErr = nil }()

		_, err := service.RecordClientPayment(ctx, "sub-1", decimal.NewFromInt(12), today)
		require.Error(t, err)

		payments, err := f.store.ListPayments(ctx, "sub-1")
		require.NoError(t, err)
		assert.Empty(t, payments)
	})

	t.Run("PaymentInsertFails", func(t *testing.T) {
		store.createPaymentErr = errors.New("disk full")
		defer func() { store.createPaymentErr = nil }()

		_, err := service.RecordClientPayment(ctx, "sub-1", decimal.NewFromInt(12), today)
		require.Error(t, err)

		sub, err := f.store.GetSubscription(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, due, sub.NextPaymentDue)
	})

	t.Run("RetrySucceedsOnce", func(t *testing.T) {
		_, err := service.RecordClientPayment(ctx, "sub-1", decimal.NewFromInt(12), today)
		require.NoError(t, err)

		payments, err := f.store.ListPayments(ctx, "sub-1")
		require.NoError(t, err)
		assert.Len(t, payments, 1)

		sub, err := f.store.GetSubscription(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, due.AddDate(0, 1, 0), sub.NextPaymentDue)
	})
}
