package database

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id VARCHAR(64) PRIMARY KEY,
		customer_ref VARCHAR(255) NOT NULL,
		customer_gateway_ref VARCHAR(255) NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL,
		product_label TEXT NOT NULL DEFAULT '',
		amount NUMERIC(19,4) NOT NULL,
		currency CHAR(3) NOT NULL,
		cadence_unit VARCHAR(8) NOT NULL,
		cadence_count INTEGER NOT NULL CHECK (cadence_count >= 1),
		trial_ends_at TIMESTAMPTZ,
		current_period_start TIMESTAMPTZ NOT NULL,
		current_period_end TIMESTAMPTZ NOT NULL,
		next_charge_at TIMESTAMPTZ,
		consecutive_failure_count INTEGER NOT NULL DEFAULT 0,
		cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
		cancelled_at TIMESTAMPTZ,
		cancellation_reason TEXT NOT NULL DEFAULT '',
		pre_suspend_status VARCHAR(32),
		gateway_subscription_ref VARCHAR(255) NOT NULL DEFAULT '',
		trial_reminder_sent_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CHECK (current_period_start < current_period_end)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_due
		ON subscriptions (next_charge_at)
		WHERE status IN ('active', 'trialing', 'past_due')`,
	`CREATE TABLE IF NOT EXISTS subscription_history (
		id VARCHAR(64) PRIMARY KEY,
		subscription_id VARCHAR(64) NOT NULL REFERENCES subscriptions(id),
		action VARCHAR(32) NOT NULL,
		from_status VARCHAR(32) NOT NULL DEFAULT '',
		to_status VARCHAR(32) NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		actor VARCHAR(64) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscription_history_sub
		ON subscription_history (subscription_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS payment_records (
		id VARCHAR(64) PRIMARY KEY,
		subscription_id VARCHAR(64) NOT NULL REFERENCES subscriptions(id),
		amount NUMERIC(19,4) NOT NULL,
		currency CHAR(3) NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		gateway_reference VARCHAR(255) NOT NULL DEFAULT '',
		failure_code VARCHAR(64) NOT NULL DEFAULT '',
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_records_sub
		ON payment_records (subscription_id, created_at)`,
}

// EnsureSchema creates the billing tables if they do not exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.Conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
