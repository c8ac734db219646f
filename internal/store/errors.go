package store

import (
	ierr "github.com/AnuragDani/subscription-billing/internal/errors"
)

func notFound(id string) error {
	return ierr.NewErrorf("subscription %s not found", id).
		WithHint("Subscription not found").
		WithReportableDetails(map[string]any{"subscription_id": id}).
		Mark(ierr.ErrNotFound)
}

func versionConflict(id string, expected int64) error {
	return ierr.NewErrorf("subscription %s changed since version %d", id, expected).
		WithHint("Subscription was modified concurrently, retry the request").
		WithReportableDetails(map[string]any{"subscription_id": id}).
		Mark(ierr.ErrVersionConflict)
}

func storeFailure(err error, op string) error {
	return ierr.WithError(err).
		WithMessage(op).
		WithHint("Storage is temporarily unavailable").
		Mark(ierr.ErrStoreFailure)
}
