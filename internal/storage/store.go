package storage

import (
	"context"
	"errors"
	"time"

	"github.com/t77yq/resale-alerts/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrDuplicatePendingAlert is returned when a pending alert already exists for the same alert type and entity
	ErrDuplicatePendingAlert = errors.New("pending alert already exists for entity")

	// ErrStateConflict is returned when an alert is no longer in the state an update expected
	ErrStateConflict = errors.New("alert state changed concurrently")
)

// Store defines durable storage for the back-office entities
type Store interface {
	// ListClients returns all clients
	ListClients(ctx context.Context) ([]model.Client, error)
	// CreateClient stores a new client, assigning an ID when empty
	CreateClient(ctx context.Context, client *model.Client) error

	// ListPlatforms returns all platforms
	ListPlatforms(ctx context.Context) ([]model.Platform, error)
	// CreatePlatform stores a new platform, assigning an ID when empty
	CreatePlatform(ctx context.Context, platform *model.Platform) error

	// ListAccounts returns all platform accounts
	ListAccounts(ctx context.Context) ([]model.Account, error)
	// CreateAccount stores a new account, assigning an ID when empty
	CreateAccount(ctx context.Context, account *model.Account) error

	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*model.Subscription, error)
	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	UpdateSubscription(ctx context.Context, sub *model.Subscription) error

	ListPlatformPayments(ctx context.Context) ([]model.PlatformPayment, error)
	GetPlatformPayment(ctx context.Context, id string) (*model.PlatformPayment, error)
	CreatePlatformPayment(ctx context.Context, payment *model.PlatformPayment) error
	UpdatePlatformPayment(ctx context.Context, payment *model.PlatformPayment) error

	// CreatePayment records a client payment
	CreatePayment(ctx context.Context, payment *model.Payment) error
	// ListPayments returns the payments recorded for a subscription, oldest first
	ListPayments(ctx context.Context, subscriptionID string) ([]model.Payment, error)

	// ListAlerts returns all alerts, oldest first
	ListAlerts(ctx context.Context) ([]model.Alert, error)
	// CreateAlert stores a new alert. It fails with ErrDuplicatePendingAlert when
	// the alert is pending and another pending alert exists for the same type and entity.
	CreateAlert(ctx context.Context, alert *model.Alert) error
	// UpdateAlert moves an alert from state `from` to alert.State and stores its
	// lifecycle timestamps. It fails with ErrStateConflict when the stored alert is
	// no longer in `from` or the transition is not allowed.
	UpdateAlert(ctx context.Context, alert *model.Alert, from model.AlertState) error

	// DeleteAlertsBefore deletes alerts created before the given time
	DeleteAlertsBefore(ctx context.Context, before time.Time) (int64, error)
	// DeleteResolvedAlerts deletes every resolved alert
	DeleteResolvedAlerts(ctx context.Context) (int64, error)

	// Close releases the underlying resources
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
