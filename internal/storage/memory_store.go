package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/t77yq/resale-alerts/internal/model"
)

// MemoryStore keeps every entity in process memory.
// It enforces the pending-alert uniqueness constraint under its lock.
type MemoryStore struct {
	mu               sync.RWMutex
	clients          map[string]model.Client
	platforms        map[string]model.Platform
	accounts         map[string]model.Account
	subscriptions    map[string]model.Subscription
	platformPayments map[string]model.PlatformPayment
	payments         []model.Payment
	alerts           map[string]model.Alert
	alertOrder       []string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients:          make(map[string]model.Client),
		platforms:        make(map[string]model.Platform),
		accounts:         make(map[string]model.Account),
		subscriptions:    make(map[string]model.Subscription),
		platformPayments: make(map[string]model.PlatformPayment),
		alerts:           make(map[string]model.Alert),
	}
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.New().String()
	}
}

func sortedValues[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]T, 0, len(keys))
	for _, k := range keys {
		values = append(values, m[k])
	}
	return values
}

// ListClients implements Store.ListClients
func (s *MemoryStore) ListClients(_ context.Context) ([]model.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.clients), nil
}

// CreateClient implements Store.CreateClient
func (s *MemoryStore) CreateClient(_ context.Context, client *model.Client) error {
	ensureID(&client.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ID] = *client
	return nil
}

// ListPlatforms implements Store.ListPlatforms
func (s *MemoryStore) ListPlatforms(_ context.Context) ([]model.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.platforms), nil
}

// CreatePlatform implements Store.CreatePlatform
func (s *MemoryStore) CreatePlatform(_ context.Context, platform *model.Platform) error {
	ensureID(&platform.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.platforms[platform.ID] = *platform
	return nil
}

// ListAccounts implements Store.ListAccounts
func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.accounts), nil
}

// CreateAccount implements Store.CreateAccount
func (s *MemoryStore) CreateAccount(_ context.Context, account *model.Account) error {
	ensureID(&account.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = *account
	return nil
}

// ListSubscriptions implements Store.ListSubscriptions
func (s *MemoryStore) ListSubscriptions(_ context.Context) ([]model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.subscriptions), nil
}

// GetSubscription implements Store.GetSubscription
func (s *MemoryStore) GetSubscription(_ context.Context, id string) (*model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	return &sub, nil
}

// CreateSubscription implements Store.CreateSubscription
func (s *MemoryStore) CreateSubscription(_ context.Context, sub *model.Subscription) error {
	ensureID(&sub.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.ID] = *sub
	return nil
}

// UpdateSubscription implements Store.UpdateSubscription
func (s *MemoryStore) UpdateSubscription(_ context.Context, sub *model.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.ID]; !ok {
		return fmt.Errorf("subscription %s: %w", sub.ID, ErrNotFound)
	}
	s.subscriptions[sub.ID] = *sub
	return nil
}

// ListPlatformPayments implements Store.ListPlatformPayments
func (s *MemoryStore) ListPlatformPayments(_ context.Context) ([]model.PlatformPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedValues(s.platformPayments), nil
}

// GetPlatformPayment implements Store.GetPlatformPayment
func (s *MemoryStore) GetPlatformPayment(_ context.Context, id string) (*model.PlatformPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payment, ok := s.platformPayments[id]
	if !ok {
		return nil, fmt.Errorf("platform payment %s: %w", id, ErrNotFound)
	}
	return &payment, nil
}

// CreatePlatformPayment implements Store.CreatePlatformPayment
func (s *MemoryStore) CreatePlatformPayment(_ context.Context, payment *model.PlatformPayment) error {
	ensureID(&payment.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.platformPayments[payment.ID] = *payment
	return nil
}

// UpdatePlatformPayment implements Store.UpdatePlatformPayment
func (s *MemoryStore) UpdatePlatformPayment(_ context.Context, payment *model.PlatformPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.platformPayments[payment.ID]; !ok {
		return fmt.Errorf("platform payment %s: %w", payment.ID, ErrNotFound)
	}
	s.platformPayments[payment.ID] = *payment
	return nil
}

// CreatePayment implements Store.CreatePayment
func (s *MemoryStore) CreatePayment(_ context.Context, payment *model.Payment) error {
	ensureID(&payment.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, *payment)
	return nil
}

// ListPayments implements Store.ListPayments
func (s *MemoryStore) ListPayments(_ context.Context, subscriptionID string) ([]model.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var payments []model.Payment
	for _, p := range s.payments {
		if p.SubscriptionID == subscriptionID {
			payments = append(payments, p)
		}
	}
	return payments, nil
}

// ListAlerts implements Store.ListAlerts
func (s *MemoryStore) ListAlerts(_ context.Context) ([]model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alerts := make([]model.Alert, 0, len(s.alertOrder))
	for _, id := range s.alertOrder {
		alerts = append(alerts, s.alerts[id])
	}
	return alerts, nil
}

// CreateAlert implements Store.CreateAlert
func (s *MemoryStore) CreateAlert(_ context.Context, alert *model.Alert) error {
	ensureID(&alert.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if alert.IsPending() {
		for _, existing := range s.alerts {
			if existing.IsPending() && existing.Type == alert.Type && existing.EntityID == alert.EntityID {
				return fmt.Errorf("%s/%s: %w", alert.Type, alert.EntityID, ErrDuplicatePendingAlert)
			}
		}
	}
	if _, ok := s.alerts[alert.ID]; !ok {
		s.alertOrder = append(s.alertOrder, alert.ID)
	}
	s.alerts[alert.ID] = *alert
	return nil
}

// UpdateAlert implements Store.UpdateAlert
func (s *MemoryStore) UpdateAlert(_ context.Context, alert *model.Alert, from model.AlertState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.alerts[alert.ID]
	if !ok {
		return fmt.Errorf("alert %s: %w", alert.ID, ErrNotFound)
	}
	if existing.State != from || !from.CanTransitionTo(alert.State) {
		return fmt.Errorf("alert %s is %s, not %s: %w", alert.ID, existing.State, from, ErrStateConflict)
	}
	existing.State = alert.State
	existing.ReadAt = alert.ReadAt
	existing.ResolvedAt = alert.ResolvedAt
	s.alerts[alert.ID] = existing
	return nil
}

// DeleteAlertsBefore implements Store.DeleteAlertsBefore
func (s *MemoryStore) DeleteAlertsBefore(_ context.Context, before time.Time) (int64, error) {
	return s.deleteAlerts(func(a model.Alert) bool { return a.CreatedAt.Before(before) }), nil
}

// DeleteResolvedAlerts implements Store.DeleteResolvedAlerts
func (s *MemoryStore) DeleteResolvedAlerts(_ context.Context) (int64, error) {
	return s.deleteAlerts(func(a model.Alert) bool { return a.State == model.AlertStateResolved }), nil
}

func (s *MemoryStore) deleteAlerts(match func(model.Alert) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	kept := s.alertOrder[:0]
	for _, id := range s.alertOrder {
		if match(s.alerts[id]) {
			delete(s.alerts, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	s.alertOrder = kept
	return deleted
}

// Close implements Store.Close
func (s *MemoryStore) Close() error {
	return nil
}
