package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/samber/lo"

	"github.com/AnuragDani/subscription-billing/internal/database"
	ierr "github.com/AnuragDani/subscription-billing/internal/errors"
	"github.com/AnuragDani/subscription-billing/internal/models"
)

const subscriptionColumns = `id, customer_ref, customer_gateway_ref, status, product_label,
	amount, currency, cadence_unit, cadence_count, trial_ends_at,
	current_period_start, current_period_end, next_charge_at,
	consecutive_failure_count, cancel_at_period_end, cancelled_at, cancellation_reason,
	pre_suspend_status, gateway_subscription_ref, trial_reminder_sent_at,
	version, created_at, updated_at`

// PostgresStore implements Store on PostgreSQL. Each Change is applied in a
// single transaction.
type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, change Change) error {
	sub := change.Subscription
	sub.Version = 1

	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO subscriptions (` + subscriptionColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`
		_, err := tx.ExecContext(ctx, query,
			sub.ID, sub.CustomerRef, sub.CustomerGatewayRef, sub.Status, sub.ProductLabel,
			sub.Amount, sub.Currency, sub.CadenceUnit, sub.CadenceCount, sub.TrialEndsAt,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextChargeAt,
			sub.ConsecutiveFailures, sub.CancelAtPeriodEnd, sub.CancelledAt, sub.CancellationReason,
			sub.PreSuspendStatus, sub.GatewaySubscriptionRef, sub.TrialReminderSentAt,
			sub.Version, sub.CreatedAt, sub.UpdatedAt,
		)
		if err != nil {
			return err
		}
		return insertLogs(ctx, tx, change)
	})
	if err != nil {
		return storeFailure(err, "create subscription")
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, change Change) error {
	sub := change.Subscription
	expected := sub.Version

	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE subscriptions SET
			customer_gateway_ref = $2, status = $3, product_label = $4,
			amount = $5, currency = $6, cadence_unit = $7, cadence_count = $8, trial_ends_at = $9,
			current_period_start = $10, current_period_end = $11, next_charge_at = $12,
			consecutive_failure_count = $13, cancel_at_period_end = $14, cancelled_at = $15,
			cancellation_reason = $16, pre_suspend_status = $17, gateway_subscription_ref = $18,
			trial_reminder_sent_at = $19, updated_at = $20, version = version + 1
			WHERE id = $1 AND version = $21`
		result, err := tx.ExecContext(ctx, query,
			sub.ID, sub.CustomerGatewayRef, sub.Status, sub.ProductLabel,
			sub.Amount, sub.Currency, sub.CadenceUnit, sub.CadenceCount, sub.TrialEndsAt,
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextChargeAt,
			sub.ConsecutiveFailures, sub.CancelAtPeriodEnd, sub.CancelledAt,
			sub.CancellationReason, sub.PreSuspendStatus, sub.GatewaySubscriptionRef,
			sub.TrialReminderSentAt, sub.UpdatedAt, expected,
		)
		if err != nil {
			return storeFailure(err, "update subscription")
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return storeFailure(err, "update subscription")
		}
		if rows == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM subscriptions WHERE id = $1)`, sub.ID).Scan(&exists); err != nil {
				return storeFailure(err, "check subscription")
			}
			if !exists {
				return notFound(sub.ID)
			}
			return versionConflict(sub.ID, expected)
		}

		if err := insertLogs(ctx, tx, change); err != nil {
			return storeFailure(err, "append subscription logs")
		}
		return nil
	})
	if err != nil {
		if ierr.Code(err) == "" {
			return storeFailure(err, "save subscription")
		}
		return err
	}

	sub.Version = expected + 1
	return nil
}

func insertLogs(ctx context.Context, tx *sql.Tx, change Change) error {
	for _, h := range change.History {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO subscription_history (id, subscription_id, action, from_status, to_status, note, actor, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			h.ID, h.SubscriptionID, h.Action, h.FromStatus, h.ToStatus, h.Note, h.Actor, h.Timestamp)
		if err != nil {
			return fmt.Errorf("insert history entry: %w", err)
		}
	}
	for _, p := range change.Payments {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO payment_records (id, subscription_id, amount, currency, outcome, gateway_reference, failure_code, failure_reason, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			p.ID, p.SubscriptionID, p.Amount, p.Currency, p.Outcome, p.GatewayReference, p.FailureCode, p.FailureReason, p.Timestamp)
		if err != nil {
			return fmt.Errorf("insert payment record: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Subscription, error) {
	row := s.db.Conn.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, storeFailure(err, "get subscription")
	}
	return sub, nil
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	statuses := lo.Map(models.BillableStatuses, func(st models.Status, _ int) string { return string(st) })
	return s.query(ctx, "list due subscriptions",
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = ANY($1) AND next_charge_at IS NOT NULL AND next_charge_at <= $2
		 ORDER BY next_charge_at ASC, id ASC
		 LIMIT $3`,
		pq.Array(statuses), now, limit)
}

func (s *PostgresStore) ListTrialsEnding(ctx context.Context, now, before time.Time, limit int) ([]*models.Subscription, error) {
	return s.query(ctx, "list trials ending",
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = $1 AND trial_reminder_sent_at IS NULL
		   AND trial_ends_at > $2 AND trial_ends_at <= $3
		 ORDER BY trial_ends_at ASC, id ASC
		 LIMIT $4`,
		models.StatusTrialing, now, before, limit)
}

func (s *PostgresStore) ListStaleIncomplete(ctx context.Context, cutoff time.Time, limit int) ([]*models.Subscription, error) {
	return s.query(ctx, "list stale incomplete subscriptions",
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at ASC, id ASC
		 LIMIT $3`,
		models.StatusIncomplete, cutoff, limit)
}

func (s *PostgresStore) query(ctx context.Context, op, query string, args ...interface{}) ([]*models.Subscription, error) {
	rows, err := s.db.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeFailure(err, op)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, storeFailure(err, op)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailure(err, op)
	}
	return subs, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row scanner) (*models.Subscription, error) {
	var sub models.Subscription
	err := row.Scan(
		&sub.ID, &sub.CustomerRef, &sub.CustomerGatewayRef, &sub.Status, &sub.ProductLabel,
		&sub.Amount, &sub.Currency, &sub.CadenceUnit, &sub.CadenceCount, &sub.TrialEndsAt,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.NextChargeAt,
		&sub.ConsecutiveFailures, &sub.CancelAtPeriodEnd, &sub.CancelledAt, &sub.CancellationReason,
		&sub.PreSuspendStatus, &sub.GatewaySubscriptionRef, &sub.TrialReminderSentAt,
		&sub.Version, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *PostgresStore) History(ctx context.Context, subscriptionID string) ([]models.HistoryEntry, error) {
	if err := s.ensureExists(ctx, subscriptionID); err != nil {
		return nil, err
	}

	rows, err := s.db.Conn.QueryContext(ctx,
		`SELECT id, subscription_id, action, from_status, to_status, note, actor, created_at
		 FROM subscription_history WHERE subscription_id = $1 ORDER BY created_at ASC, id ASC`, subscriptionID)
	if err != nil {
		return nil, storeFailure(err, "list history")
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var h models.HistoryEntry
		if err := rows.Scan(&h.ID, &h.SubscriptionID, &h.Action, &h.FromStatus, &h.ToStatus, &h.Note, &h.Actor, &h.Timestamp); err != nil {
			return nil, storeFailure(err, "scan history")
		}
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailure(err, "list history")
	}
	return entries, nil
}

func (s *PostgresStore) Payments(ctx context.Context, subscriptionID string) ([]models.PaymentRecord, error) {
	if err := s.ensureExists(ctx, subscriptionID); err != nil {
		return nil, err
	}

	rows, err := s.db.Conn.QueryContext(ctx,
		`SELECT id, subscription_id, amount, currency, outcome, gateway_reference, failure_code, failure_reason, created_at
		 FROM payment_records WHERE subscription_id = $1 ORDER BY created_at ASC, id ASC`, subscriptionID)
	if err != nil {
		return nil, storeFailure(err, "list payments")
	}
	defer rows.Close()

	var records []models.PaymentRecord
	for rows.Next() {
		var p models.PaymentRecord
		if err := rows.Scan(&p.ID, &p.SubscriptionID, &p.Amount, &p.Currency, &p.Outcome, &p.GatewayReference, &p.FailureCode, &p.FailureReason, &p.Timestamp); err != nil {
			return nil, storeFailure(err, "scan payment")
		}
		records = append(records, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailure(err, "list payments")
	}
	return records, nil
}

func (s *PostgresStore) ensureExists(ctx context.Context, id string) error {
	var exists bool
	if err := s.db.Conn.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM subscriptions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return storeFailure(err, "check subscription")
	}
	if !exists {
		return notFound(id)
	}
	return nil
}
