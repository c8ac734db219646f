package store

import (
	"context"
	"sort"
	"sync"
	"time"

	ierr "github.com/AnuragDani/subscription-billing/internal/errors"
	"github.com/AnuragDani/subscription-billing/internal/models"
)

// MemoryStore keeps everything in process. It is used for local runs and
// tests and honours the same atomicity and version rules as PostgresStore.
type MemoryStore struct {
	mu            sync.RWMutex
	subscriptions map[string]*models.Subscription
	history       map[string][]models.HistoryEntry
	payments      map[string][]models.PaymentRecord

	// failNext, when set, makes the next Save fail without writing anything.
	failNext error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscriptions: make(map[string]*models.Subscription),
		history:       make(map[string][]models.HistoryEntry),
		payments:      make(map[string][]models.PaymentRecord),
	}
}

// FailNextSave makes the next Save return err wrapped as a store failure.
func (s *MemoryStore) FailNextSave(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *MemoryStore) Create(ctx context.Context, change Change) error {
	sub := change.Subscription
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID]; exists {
		return ierr.NewErrorf("subscription %s already exists", sub.ID).
			WithHint("Subscription already exists").
			Mark(ierr.ErrInvalidSpec)
	}

	sub.Version = 1
	s.subscriptions[sub.ID] = sub.Clone()
	s.appendLocked(sub.ID, change)
	return nil
}

func (s *MemoryStore) Save(ctx context.Context, change Change) error {
	sub := change.Subscription
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return storeFailure(err, "save subscription")
	}

	current, ok := s.subscriptions[sub.ID]
	if !ok {
		return notFound(sub.ID)
	}
	if current.Version != sub.Version {
		return versionConflict(sub.ID, sub.Version)
	}

	sub.Version++
	s.subscriptions[sub.ID] = sub.Clone()
	s.appendLocked(sub.ID, change)
	return nil
}

func (s *MemoryStore) appendLocked(id string, change Change) {
	s.history[id] = append(s.history[id], change.History...)
	s.payments[id] = append(s.payments[id], change.Payments...)
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, notFound(id)
	}
	return sub.Clone(), nil
}

func (s *MemoryStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	return s.list(limit, func(sub *models.Subscription) bool {
		return sub.Status.IsBillable() && sub.NextChargeAt != nil && !sub.NextChargeAt.After(now)
	}, func(a, b *models.Subscription) bool {
		return a.NextChargeAt.Before(*b.NextChargeAt)
	})
}

func (s *MemoryStore) ListTrialsEnding(ctx context.Context, now, before time.Time, limit int) ([]*models.Subscription, error) {
	return s.list(limit, func(sub *models.Subscription) bool {
		return sub.Status == models.StatusTrialing &&
			sub.TrialReminderSentAt == nil &&
			sub.TrialEndsAt != nil &&
			sub.TrialEndsAt.After(now) && !sub.TrialEndsAt.After(before)
	}, func(a, b *models.Subscription) bool {
		return a.TrialEndsAt.Before(*b.TrialEndsAt)
	})
}

func (s *MemoryStore) ListStaleIncomplete(ctx context.Context, cutoff time.Time, limit int) ([]*models.Subscription, error) {
	return s.list(limit, func(sub *models.Subscription) bool {
		return sub.Status == models.StatusIncomplete && sub.CreatedAt.Before(cutoff)
	}, func(a, b *models.Subscription) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (s *MemoryStore) list(limit int, match func(*models.Subscription) bool, less func(a, b *models.Subscription) bool) ([]*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Subscription
	for _, sub := range s.subscriptions {
		if match(sub) {
			out = append(out, sub.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if less(out[i], out[j]) {
			return true
		}
		if less(out[j], out[i]) {
			return false
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) History(ctx context.Context, subscriptionID string) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.subscriptions[subscriptionID]; !ok {
		return nil, notFound(subscriptionID)
	}
	return append([]models.HistoryEntry(nil), s.history[subscriptionID]...), nil
}

func (s *MemoryStore) Payments(ctx context.Context, subscriptionID string) ([]models.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.subscriptions[subscriptionID]; !ok {
		return nil, notFound(subscriptionID)
	}
	return append([]models.PaymentRecord(nil), s.payments[subscriptionID]...), nil
}
