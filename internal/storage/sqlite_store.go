package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/resale-alerts/internal/model"
)

const schema = `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		phone TEXT
	);
	CREATE TABLE IF NOT EXISTS platforms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		platform_id TEXT NOT NULL,
		email TEXT NOT NULL,
		max_profiles INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		platform_id TEXT NOT NULL,
		account_id TEXT,
		profile_id TEXT,
		state TEXT NOT NULL,
		price TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		next_payment_due DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS platform_payments (
		id TEXT PRIMARY KEY,
		platform_id TEXT NOT NULL,
		account_id TEXT,
		state TEXT NOT NULL,
		monthly_amount TEXT NOT NULL,
		grace_period_days INTEGER NOT NULL DEFAULT 0,
		next_payment_due DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		subscription_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		paid_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		alert_type TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		client_id TEXT,
		platform_id TEXT,
		severity TEXT NOT NULL,
		days_remaining INTEGER NOT NULL,
		amount TEXT NOT NULL,
		message TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		read_at DATETIME,
		resolved_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_payments_subscription_id ON payments(subscription_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_state ON alerts(state);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_pending_entity
		ON alerts(alert_type, entity_id) WHERE state = 'pending';
`

const alertColumns = `id, alert_type, entity_type, entity_id, client_id, platform_id, severity,
	days_remaining, amount, message, state, created_at, read_at, resolved_at`

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies the schema
func NewSQLiteStore(logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		logger: logger.Named("sqlite-store"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteStore) initialize() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// Instants are stored in UTC so that SQLite's text comparisons order them.
// Due dates keep their zone since they are calendar dates.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func checkAffected(result sql.Result, what, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

// ListClients implements Store.ListClients
func (s *SQLiteStore) ListClients(ctx context.Context) ([]model.Client, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, email, phone FROM clients ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []model.Client
	for rows.Next() {
		var c model.Client
		var email, phone sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &email, &phone); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		c.Email = email.String
		c.Phone = phone.String
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return clients, nil
}

// CreateClient implements Store.CreateClient
func (s *SQLiteStore) CreateClient(ctx context.Context, client *model.Client) error {
	ensureID(&client.ID)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO clients (id, name, email, phone) VALUES (?, ?, ?, ?)",
		client.ID, client.Name, nullString(client.Email), nullString(client.Phone))
	if err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	return nil
}

// ListPlatforms implements Store.ListPlatforms
func (s *SQLiteStore) ListPlatforms(ctx context.Context) ([]model.Platform, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM platforms ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list platforms: %w", err)
	}
	defer rows.Close()

	var platforms []model.Platform
	for rows.Next() {
		var p model.Platform
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("failed to scan platform: %w", err)
		}
		platforms = append(platforms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return platforms, nil
}

// CreatePlatform implements Store.CreatePlatform
func (s *SQLiteStore) CreatePlatform(ctx context.Context, platform *model.Platform) error {
	ensureID(&platform.ID)
	_, err := s.db.ExecContext(ctx, "INSERT INTO platforms (id, name) VALUES (?, ?)", platform.ID, platform.Name)
	if err != nil {
		return fmt.Errorf("failed to store platform: %w", err)
	}
	return nil
}

// ListAccounts implements Store.ListAccounts
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, platform_id, email, max_profiles FROM accounts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.PlatformID, &a.Email, &a.MaxProfiles); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return accounts, nil
}

// CreateAccount implements Store.CreateAccount
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *model.Account) error {
	ensureID(&account.ID)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO accounts (id, platform_id, email, max_profiles) VALUES (?, ?, ?, ?)",
		account.ID, account.PlatformID, account.Email, account.MaxProfiles)
	if err != nil {
		return fmt.Errorf("failed to store account: %w", err)
	}
	return nil
}

const subscriptionColumns = "id, client_id, platform_id, account_id, profile_id, state, price, started_at, next_payment_due"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*model.Subscription, error) {
	var sub model.Subscription
	var accountID, profileID sql.NullString
	err := row.Scan(
		&sub.ID,
		&sub.ClientID,
		&sub.PlatformID,
		&accountID,
		&profileID,
		&sub.State,
		&sub.Price,
		&sub.StartedAt,
		&sub.NextPaymentDue,
	)
	if err != nil {
		return nil, err
	}
	sub.AccountID = accountID.String
	sub.ProfileID = profileID.String
	return &sub, nil
}

// ListSubscriptions implements Store.ListSubscriptions
func (s *SQLiteStore) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return subs, nil
}

// GetSubscription implements Store.GetSubscription
func (s *SQLiteStore) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions WHERE id = ?", id)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return sub, nil
}

// CreateSubscription implements Store.CreateSubscription
func (s *SQLiteStore) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	ensureID(&sub.ID)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.ClientID,
		sub.PlatformID,
		nullString(sub.AccountID),
		nullString(sub.ProfileID),
		sub.State,
		sub.Price,
		sub.StartedAt,
		sub.NextPaymentDue,
	)
	if err != nil {
		return fmt.Errorf("failed to store subscription: %w", err)
	}
	return nil
}

// UpdateSubscription implements Store.UpdateSubscription
func (s *SQLiteStore) UpdateSubscription(ctx context.Context, sub *model.Subscription) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET
			client_id = ?,
			platform_id = ?,
			account_id = ?,
			profile_id = ?,
			state = ?,
			price = ?,
			started_at = ?,
			next_payment_due = ?
		WHERE id = ?`,
		sub.ClientID,
		sub.PlatformID,
		nullString(sub.AccountID),
		nullString(sub.ProfileID),
		sub.State,
		sub.Price,
		sub.StartedAt,
		sub.NextPaymentDue,
		sub.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return checkAffected(result, "subscription", sub.ID)
}

const platformPaymentColumns = "id, platform_id, account_id, state, monthly_amount, grace_period_days, next_payment_due"

func scanPlatformPayment(row rowScanner) (*model.PlatformPayment, error) {
	var p model.PlatformPayment
	var accountID sql.NullString
	err := row.Scan(
		&p.ID,
		&p.PlatformID,
		&accountID,
		&p.State,
		&p.MonthlyAmount,
		&p.GracePeriodDays,
		&p.NextPaymentDue,
	)
	if err != nil {
		return nil, err
	}
	p.AccountID = accountID.String
	return &p, nil
}

// ListPlatformPayments implements Store.ListPlatformPayments
func (s *SQLiteStore) ListPlatformPayments(ctx context.Context) ([]model.PlatformPayment, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+platformPaymentColumns+" FROM platform_payments ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list platform payments: %w", err)
	}
	defer rows.Close()

	var payments []model.PlatformPayment
	for rows.Next() {
		p, err := scanPlatformPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan platform payment: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return payments, nil
}

// GetPlatformPayment implements Store.GetPlatformPayment
func (s *SQLiteStore) GetPlatformPayment(ctx context.Context, id string) (*model.PlatformPayment, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+platformPaymentColumns+" FROM platform_payments WHERE id = ?", id)
	p, err := scanPlatformPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("platform payment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan platform payment: %w", err)
	}
	return p, nil
}

// CreatePlatformPayment implements Store.CreatePlatformPayment
func (s *SQLiteStore) CreatePlatformPayment(ctx context.Context, payment *model.PlatformPayment) error {
	ensureID(&payment.ID)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO platform_payments (`+platformPaymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.PlatformID,
		nullString(payment.AccountID),
		payment.State,
		payment.MonthlyAmount,
		payment.GracePeriodDays,
		payment.NextPaymentDue,
	)
	if err != nil {
		return fmt.Errorf("failed to store platform payment: %w", err)
	}
	return nil
}

// UpdatePlatformPayment implements Store.UpdatePlatformPayment
func (s *SQLiteStore) UpdatePlatformPayment(ctx context.Context, payment *model.PlatformPayment) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE platform_payments SET
			platform_id = ?,
			account_id = ?,
			state = ?,
			monthly_amount = ?,
			grace_period_days = ?,
			next_payment_due = ?
		WHERE id = ?`,
		payment.PlatformID,
		nullString(payment.AccountID),
		payment.State,
		payment.MonthlyAmount,
		payment.GracePeriodDays,
		payment.NextPaymentDue,
		payment.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update platform payment: %w", err)
	}
	return checkAffected(result, "platform payment", payment.ID)
}

// CreatePayment implements Store.CreatePayment
func (s *SQLiteStore) CreatePayment(ctx context.Context, payment *model.Payment) error {
	ensureID(&payment.ID)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO payments (id, subscription_id, client_id, amount, paid_at) VALUES (?, ?, ?, ?, ?)",
		payment.ID, payment.SubscriptionID, payment.ClientID, payment.Amount, payment.PaidAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to store payment: %w", err)
	}
	return nil
}

// ListPayments implements Store.ListPayments
func (s *SQLiteStore) ListPayments(ctx context.Context, subscriptionID string) ([]model.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subscription_id, client_id, amount, paid_at
		FROM payments
		WHERE subscription_id = ?
		ORDER BY paid_at ASC`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		var p model.Payment
		if err := rows.Scan(&p.ID, &p.SubscriptionID, &p.ClientID, &p.Amount, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return payments, nil
}

func scanAlert(row rowScanner) (*model.Alert, error) {
	var a model.Alert
	var clientID, platformID sql.NullString
	var readAt, resolvedAt sql.NullTime
	err := row.Scan(
		&a.ID,
		&a.Type,
		&a.EntityType,
		&a.EntityID,
		&clientID,
		&platformID,
		&a.Severity,
		&a.DaysRemaining,
		&a.Amount,
		&a.Message,
		&a.State,
		&a.CreatedAt,
		&readAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	a.ClientID = clientID.String
	a.PlatformID = platformID.String
	a.ReadAt = timePtr(readAt)
	a.ResolvedAt = timePtr(resolvedAt)
	return &a, nil
}

// ListAlerts implements Store.ListAlerts
func (s *SQLiteStore) ListAlerts(ctx context.Context) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+alertColumns+" FROM alerts ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return alerts, nil
}

// CreateAlert implements Store.CreateAlert
func (s *SQLiteStore) CreateAlert(ctx context.Context, alert *model.Alert) error {
	ensureID(&alert.ID)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.Type,
		alert.EntityType,
		alert.EntityID,
		nullString(alert.ClientID),
		nullString(alert.PlatformID),
		alert.Severity,
		alert.DaysRemaining,
		alert.Amount,
		alert.Message,
		alert.State,
		alert.CreatedAt.UTC(),
		nullTime(alert.ReadAt),
		nullTime(alert.ResolvedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s/%s: %w", alert.Type, alert.EntityID, ErrDuplicatePendingAlert)
		}
		return fmt.Errorf("failed to store alert: %w", err)
	}
	return nil
}

// UpdateAlert implements Store.UpdateAlert. Identity, amount, message and
// creation time are frozen at creation and never rewritten.
func (s *SQLiteStore) UpdateAlert(ctx context.Context, alert *model.Alert, from model.AlertState) error {
	if !from.CanTransitionTo(alert.State) {
		return fmt.Errorf("alert %s: %s to %s: %w", alert.ID, from, alert.State, ErrStateConflict)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET
			state = ?,
			read_at = ?,
			resolved_at = ?
		WHERE id = ? AND state = ?`,
		alert.State,
		nullTime(alert.ReadAt),
		nullTime(alert.ResolvedAt),
		alert.ID,
		from,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s/%s: %w", alert.Type, alert.EntityID, ErrDuplicatePendingAlert)
		}
		return fmt.Errorf("failed to update alert: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var current model.AlertState
	err = s.db.QueryRowContext(ctx, "SELECT state FROM alerts WHERE id = ?", alert.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("alert %s: %w", alert.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get alert state: %w", err)
	}
	return fmt.Errorf("alert %s is %s, not %s: %w", alert.ID, current, from, ErrStateConflict)
}

// DeleteAlertsBefore implements Store.DeleteAlertsBefore
func (s *SQLiteStore) DeleteAlertsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM alerts WHERE created_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete alerts: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old alerts",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

// DeleteResolvedAlerts implements Store.DeleteResolvedAlerts
func (s *SQLiteStore) DeleteResolvedAlerts(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM alerts WHERE state = ?", model.AlertStateResolved)
	if err != nil {
		return 0, fmt.Errorf("failed to delete resolved alerts: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted resolved alerts", zap.Int64("deleted", affected))

	return affected, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
