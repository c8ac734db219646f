// Package lease provides short-lived exclusive claims on subscriptions so
// that overlapping renewal runs never charge the same subscription twice.
package lease

import (
	"context"
	"time"
)

// Leaser grants exclusive, expiring claims keyed by string.
type Leaser interface {
	// TryAcquire attempts to take the lease without blocking. It returns
	// acquired=false when another holder owns the key. release is safe to
	// call more than once.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// SubscriptionKey is the lease key for one subscription
func SubscriptionKey(subscriptionID string) string {
	return "billing:lease:subscription:" + subscriptionID
}
