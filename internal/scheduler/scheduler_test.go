package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/resale-alerts/internal/alerting"
	"github.com/t77yq/resale-alerts/internal/model"
	"github.com/t77yq/resale-alerts/internal/storage"
)

type fakeReconciler struct {
	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32

	delay   time.Duration
	entered chan struct{}
	release chan struct{}
	err     error
}

func (f *fakeReconciler) GenerateAll(ctx context.Context) (*alerting.Summary, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		cur := f.maxActive.Load()
		if n <= cur || f.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		<-f.release
	}
	time.Sleep(f.delay)

	summary := &alerting.Summary{StartedAt: time.Now(), FinishedAt: time.Now()}
	return summary, f.err
}

func TestScheduler_FiresImmediately(t *testing.T) {
	reconciler := &fakeReconciler{}
	s := New(reconciler, time.Hour, zaptest.NewLogger(t))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return reconciler.calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return s.LastRun() != nil }, time.Second, 10*time.Millisecond)
	assert.Equal(t, triggerTick, s.LastRun().Trigger)
}

func TestScheduler_TicksPeriodically(t *testing.T) {
	reconciler := &fakeReconciler{}
	s := New(reconciler, 20*time.Millisecond, zap.NewNop())

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		return reconciler.calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	calls := reconciler.calls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, reconciler.calls.Load(), "no ticks after Stop")
}

func TestScheduler_Lifecycle(t *testing.T) {
	s := New(&fakeReconciler{}, time.Hour, zap.NewNop())
	ctx := context.Background()

	_, err := s.TriggerNow(ctx)
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.False(t, s.Running())

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.Running())
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyRunning)

	s.Stop()
	assert.False(t, s.Running())
	_, err = s.TriggerNow(ctx)
	assert.ErrorIs(t, err, ErrNotRunning)

	// Stop is idempotent and the scheduler can be restarted.
	s.Stop()
	require.NoError(t, s.Start(ctx))
	s.Stop()
}

func TestScheduler_StopWaitsForInFlightRun(t *testing.T) {
	reconciler := &fakeReconciler{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s := New(reconciler, time.Hour, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-reconciler.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("initial run did not start")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(reconciler.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the run finished")
	}
	assert.NotNil(t, s.LastRun())
}

func TestScheduler_RunsNeverOverlap(t *testing.T) {
	reconciler := &fakeReconciler{delay: 5 * time.Millisecond}
	s := New(reconciler, 2*time.Millisecond, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TriggerNow(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	s.Stop()

	assert.GreaterOrEqual(t, reconciler.calls.Load(), int32(10))
	assert.Equal(t, int32(1), reconciler.maxActive.Load())
}

func TestScheduler_TriggerNowReportsFailure(t *testing.T) {
	failure := errors.New("store offline")
	reconciler := &fakeReconciler{err: failure}
	s := New(reconciler, time.Hour, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	summary, err := s.TriggerNow(ctx)
	assert.ErrorIs(t, err, failure)
	assert.NotNil(t, summary)

	last, lastErr := s.LastSummary()
	assert.Same(t, summary, last)
	assert.ErrorIs(t, lastErr, failure)
}

func TestScheduler_TriggerNowIgnoresCancellation(t *testing.T) {
	reconciler := &fakeReconciler{}
	s := New(reconciler, time.Hour, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.TriggerNow(ctx)
	require.NoError(t, err)
}

// unconstrainedAlertStore keeps alerts without rejecting duplicate pending ones,
// so only the scheduler stands between concurrent passes.
type unconstrainedAlertStore struct {
	*storage.MemoryStore
	mu     sync.Mutex
	alerts []model.Alert
}

func (s *unconstrainedAlertStore) ListAlerts(_ context.Context) ([]model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Alert(nil), s.alerts...), nil
}

func (s *unconstrainedAlertStore) CreateAlert(_ context.Context, alert *model.Alert) error {
	// Widen the window between a pass listing alerts and writing one.
	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	alert.ID = fmt.Sprintf("alert-%d", len(s.alerts)+1)
	s.alerts = append(s.alerts, *alert)
	return nil
}

func (s *unconstrainedAlertStore) UpdateAlert(_ context.Context, alert *model.Alert, _ model.AlertState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == alert.ID {
			s.alerts[i] = *alert
			return nil
		}
	}
	return storage.ErrNotFound
}

func TestScheduler_ConcurrentManualRefreshRaisesOneAlert(t *testing.T) {
	store := &unconstrainedAlertStore{MemoryStore: storage.NewMemoryStore()}
	ctx := context.Background()
	require.NoError(t, store.CreateClient(ctx, &model.Client{ID: "ana", Name: "Ana"}))
	require.NoError(t, store.CreatePlatform(ctx, &model.Platform{ID: "netflix", Name: "Netflix"}))
	require.NoError(t, store.CreateSubscription(ctx, &model.Subscription{
		ID:             "sub-1",
		ClientID:       "ana",
		PlatformID:     "netflix",
		State:          model.SubscriptionStateActive,
		Price:          decimal.NewFromInt(15),
		NextPaymentDue: time.Now().UTC().AddDate(0, 0, -3),
	}))

	engine := alerting.NewEngine(store, zap.NewNop())
	s := New(engine, time.Hour, zap.NewNop())
	require.NoError(t, s.Start(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TriggerNow(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	s.Stop()

	alerts, err := store.ListAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "sub-1", alerts[0].EntityID)
	assert.Equal(t, -3, alerts[0].DaysRemaining)
}
