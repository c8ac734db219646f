package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/AnuragDani/subscription-billing/internal/database"
	ierr "github.com/AnuragDani/subscription-billing/internal/errors"
	"github.com/AnuragDani/subscription-billing/internal/models"
)

type StoreSuite struct {
	suite.Suite
	store Store
	now   time.Time
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{store: NewMemoryStore()})
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("BILLING_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("BILLING_TEST_DATABASE_URL not set")
	}
	db, err := database.Connect(context.Background(), url)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.EnsureSchema(context.Background()))

	suite.Run(t, &StoreSuite{store: NewPostgresStore(db)})
}

func (s *StoreSuite) SetupTest() {
	s.now = time.Now().UTC().Truncate(time.Second)
}

func (s *StoreSuite) newSubscription(status models.Status, nextCharge time.Time) *models.Subscription {
	next := nextCharge
	return &models.Subscription{
		ID:                 "sub_" + uuid.New().String(),
		CustomerRef:        "cus_1",
		Status:             status,
		ProductLabel:       "Pro plan",
		Amount:             decimal.RequireFromString("29.99"),
		Currency:           "USD",
		CadenceUnit:        models.CadenceMonth,
		CadenceCount:       1,
		CurrentPeriodStart: nextCharge.AddDate(0, -1, 0),
		CurrentPeriodEnd:   nextCharge,
		NextChargeAt:       &next,
		CreatedAt:          s.now,
		UpdatedAt:          s.now,
	}
}

func (s *StoreSuite) create(sub *models.Subscription) {
	err := s.store.Create(context.Background(), Change{
		Subscription: sub,
		History: []models.HistoryEntry{{
			ID: uuid.New().String(), SubscriptionID: sub.ID, Action: models.ActionCreated,
			ToStatus: sub.Status, Actor: models.ActorSystem, Timestamp: s.now,
		}},
	})
	s.Require().NoError(err)
}

func (s *StoreSuite) TestCreateAndGet() {
	ctx := context.Background()
	sub := s.newSubscription(models.StatusActive, s.now.Add(time.Hour))
	s.create(sub)

	got, err := s.store.Get(ctx, sub.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), got.Version)
	s.True(sub.Amount.Equal(got.Amount))
	s.Equal(models.StatusActive, got.Status)
	s.Nil(got.PreSuspendStatus)

	history, err := s.store.History(ctx, sub.ID)
	s.Require().NoError(err)
	s.Len(history, 1)
	s.Equal(models.ActionCreated, history[0].Action)
}

func (s *StoreSuite) TestGetMissing() {
	_, err := s.store.Get(context.Background(), "sub_missing")
	s.True(ierr.IsNotFound(err))
}

func (s *StoreSuite) TestSaveIncrementsVersionAndAppendsLogs() {
	ctx := context.Background()
	sub := s.newSubscription(models.StatusActive, s.now)
	s.create(sub)

	paused := models.StatusActive
	sub.Status = models.StatusPaused
	sub.PreSuspendStatus = &paused
	err := s.store.Save(ctx, Change{
		Subscription: sub,
		Payments: []models.PaymentRecord{{
			ID: uuid.New().String(), SubscriptionID: sub.ID, Amount: sub.Amount, Currency: "USD",
			Outcome: models.PaymentSucceeded, GatewayReference: "ch_1", Timestamp: s.now,
		}},
	})
	s.Require().NoError(err)
	s.Equal(int64(2), sub.Version)

	got, err := s.store.Get(ctx, sub.ID)
	s.Require().NoError(err)
	s.Equal(int64(2), got.Version)
	s.Equal(models.StatusPaused, got.Status)
	s.Require().NotNil(got.PreSuspendStatus)
	s.Equal(models.StatusActive, *got.PreSuspendStatus)

	payments, err := s.store.Payments(ctx, sub.ID)
	s.Require().NoError(err)
	s.Len(payments, 1)
	s.Equal("ch_1", payments[0].GatewayReference)
}

func (s *StoreSuite) TestSaveRejectsStaleVersion() {
	ctx := context.Background()
	sub := s.newSubscription(models.StatusActive, s.now)
	s.create(sub)

	first, _ := s.store.Get(ctx, sub.ID)
	second, _ := s.store.Get(ctx, sub.ID)

	s.Require().NoError(s.store.Save(ctx, Change{Subscription: first}))

	second.Status = models.StatusPastDue
	err := s.store.Save(ctx, Change{
		Subscription: second,
		Payments: []models.PaymentRecord{{
			ID: uuid.New().String(), SubscriptionID: sub.ID, Amount: sub.Amount, Currency: "USD",
			Outcome: models.PaymentFailed, Timestamp: s.now,
		}},
	})
	s.True(ierr.IsVersionConflict(err))

	payments, err := s.store.Payments(ctx, sub.ID)
	s.Require().NoError(err)
	s.Empty(payments, "rejected change must not append logs")

	got, _ := s.store.Get(ctx, sub.ID)
	s.Equal(models.StatusActive, got.Status)
}

func (s *StoreSuite) TestSaveMissing() {
	sub := s.newSubscription(models.StatusActive, s.now)
	sub.Version = 1
	err := s.store.Save(context.Background(), Change{Subscription: sub})
	s.True(ierr.IsNotFound(err))
}

func (s *StoreSuite) TestListDueFiltersAndOrders() {
	ctx := context.Background()
	// Keep these far in the past so they sort ahead of rows from other tests.
	base := s.now.AddDate(-50, 0, 0)

	late := s.newSubscription(models.StatusActive, base.Add(-time.Hour))
	early := s.newSubscription(models.StatusPastDue, base.Add(-3*time.Hour))
	trial := s.newSubscription(models.StatusTrialing, base.Add(-2*time.Hour))
	paused := s.newSubscription(models.StatusPaused, base.Add(-4*time.Hour))
	future := s.newSubscription(models.StatusActive, s.now.AddDate(50, 0, 0))
	for _, sub := range []*models.Subscription{late, early, trial, paused, future} {
		s.create(sub)
	}

	due, err := s.store.ListDue(ctx, base, 3)
	s.Require().NoError(err)
	s.Require().Len(due, 3)
	s.Equal([]string{early.ID, trial.ID, late.ID}, []string{due[0].ID, due[1].ID, due[2].ID})

	limited, err := s.store.ListDue(ctx, base, 2)
	s.Require().NoError(err)
	s.Len(limited, 2)
}

func (s *StoreSuite) TestListTrialsEnding() {
	ctx := context.Background()
	trialEnd := s.now.AddDate(0, 0, 2)

	sub := s.newSubscription(models.StatusTrialing, trialEnd)
	sub.TrialEndsAt = &trialEnd
	s.create(sub)

	reminded := s.newSubscription(models.StatusTrialing, trialEnd)
	reminded.TrialEndsAt = &trialEnd
	sentAt := s.now
	reminded.TrialReminderSentAt = &sentAt
	s.create(reminded)

	got, err := s.store.ListTrialsEnding(ctx, s.now, s.now.AddDate(0, 0, 3), 100)
	s.Require().NoError(err)

	ids := make(map[string]bool)
	for _, g := range got {
		ids[g.ID] = true
	}
	s.True(ids[sub.ID])
	s.False(ids[reminded.ID])
}

func (s *StoreSuite) TestListStaleIncomplete() {
	ctx := context.Background()
	old := s.newSubscription(models.StatusIncomplete, s.now)
	old.CreatedAt = s.now.Add(-48 * time.Hour)
	s.create(old)

	fresh := s.newSubscription(models.StatusIncomplete, s.now)
	s.create(fresh)

	got, err := s.store.ListStaleIncomplete(ctx, s.now.Add(-23*time.Hour), 100)
	s.Require().NoError(err)

	ids := make(map[string]bool)
	for _, g := range got {
		ids[g.ID] = true
	}
	s.True(ids[old.ID])
	s.False(ids[fresh.ID])
}

func TestMemoryStoreFailNextSave(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	sub := &models.Subscription{ID: "sub_1", Status: models.StatusActive, CurrentPeriodStart: now, CurrentPeriodEnd: now.Add(time.Hour)}
	require.NoError(t, st.Create(ctx, Change{Subscription: sub}))

	st.FailNextSave(fmt.Errorf("disk full"))
	err := st.Save(ctx, Change{Subscription: sub})
	require.True(t, ierr.IsStoreFailure(err))

	require.NoError(t, st.Save(ctx, Change{Subscription: sub}))
}
