// Package store persists subscriptions together with their append-only
// history and payment logs.
package store

import (
	"context"
	"time"

	"github.com/AnuragDani/subscription-billing/internal/models"
)

// Change is one atomic unit of work. The subscription row, the history
// entries and the payment records are written together or not at all.
type Change struct {
	Subscription *models.Subscription
	History      []models.HistoryEntry
	Payments     []models.PaymentRecord
}

// Store is the persistence boundary of the engine.
//
// Save uses optimistic concurrency: Subscription.Version must equal the
// stored version, otherwise ErrVersionConflict is returned and nothing is
// written. On success the stored version and Subscription.Version are both
// incremented.
type Store interface {
	Create(ctx context.Context, change Change) error
	Save(ctx context.Context, change Change) error
	Get(ctx context.Context, id string) (*models.Subscription, error)

	// ListDue returns billable subscriptions with next_charge_at <= now,
	// oldest first, at most limit rows.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error)
	// ListTrialsEnding returns trialing subscriptions whose trial ends in
	// (now, before] and that have not been reminded yet.
	ListTrialsEnding(ctx context.Context, now, before time.Time, limit int) ([]*models.Subscription, error)
	// ListStaleIncomplete returns incomplete subscriptions created before cutoff.
	ListStaleIncomplete(ctx context.Context, cutoff time.Time, limit int) ([]*models.Subscription, error)

	History(ctx context.Context, subscriptionID string) ([]models.HistoryEntry, error)
	Payments(ctx context.Context, subscriptionID string) ([]models.PaymentRecord, error)
}
