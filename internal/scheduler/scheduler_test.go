package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnuragDani/subscription-billing/internal/config"
	ierr "github.com/AnuragDani/subscription-billing/internal/errors"
	"github.com/AnuragDani/subscription-billing/internal/lease"
	"github.com/AnuragDani/subscription-billing/internal/lifecycle"
	"github.com/AnuragDani/subscription-billing/internal/logger"
	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/notify"
	"github.com/AnuragDani/subscription-billing/internal/orchestrator"
	"github.com/AnuragDani/subscription-billing/internal/retry"
	"github.com/AnuragDani/subscription-billing/internal/store"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func seed(t *testing.T, st store.Store, id string, status models.Status, nextCharge time.Time) *models.Subscription {
	t.Helper()
	next := nextCharge
	sub := &models.Subscription{
		ID:                 id,
		CustomerRef:        "cus_" + id,
		Status:             status,
		Amount:             decimal.RequireFromString("9.99"),
		Currency:           "USD",
		CadenceUnit:        models.CadenceMonth,
		CadenceCount:       1,
		CurrentPeriodStart: nextCharge.AddDate(0, -1, 0),
		CurrentPeriodEnd:   nextCharge,
		NextChargeAt:       &next,
		CreatedAt:          nextCharge.AddDate(0, -1, 0),
		UpdatedAt:          nextCharge.AddDate(0, -1, 0),
	}
	require.NoError(t, st.Create(context.Background(), store.Change{Subscription: sub}))
	return sub
}

type stubRenewer struct {
	mu      sync.Mutex
	calls   []string
	results map[string]func() (*orchestrator.Outcome, error)
}

func (r *stubRenewer) AttemptRenewal(_ context.Context, id string) (*orchestrator.Outcome, error) {
	r.mu.Lock()
	r.calls = append(r.calls, id)
	fn := r.results[id]
	r.mu.Unlock()
	if fn == nil {
		return &orchestrator.Outcome{Result: orchestrator.ResultRenewed}, nil
	}
	return fn()
}

func newScheduler(st store.Store, renewer Renewer, rec *notify.Recorder, cfg Config, opts ...Option) *Scheduler {
	log := logger.NewNop()
	opts = append([]Option{WithClock(clock)}, opts...)
	return New(st, renewer, notify.NewNotifier(rec, log, nil), log, cfg, opts...)
}

func TestRunRenewalBatchIsolatesItems(t *testing.T) {
	st := store.NewMemoryStore()
	for i := 1; i <= 6; i++ {
		seed(t, st, fmt.Sprintf("sub_%d", i), models.StatusActive, now.Add(-time.Duration(i)*time.Hour))
	}

	renewer := &stubRenewer{results: map[string]func() (*orchestrator.Outcome, error){
		"sub_1": func() (*orchestrator.Outcome, error) { panic("boom") },
		"sub_2": func() (*orchestrator.Outcome, error) {
			return nil, ierr.NewError("db down").Mark(ierr.ErrStoreFailure)
		},
		"sub_3": func() (*orchestrator.Outcome, error) {
			return &orchestrator.Outcome{Result: orchestrator.ResultFailed}, nil
		},
		"sub_4": func() (*orchestrator.Outcome, error) {
			return nil, ierr.NewError("held").Mark(ierr.ErrLeaseUnavailable)
		},
		"sub_5": func() (*orchestrator.Outcome, error) {
			return &orchestrator.Outcome{Result: orchestrator.ResultCancelled}, nil
		},
	}}
	rec := notify.NewRecorder()
	s := newScheduler(st, renewer, rec, Config{BatchSize: 50, Workers: 2})

	summary, err := s.RunRenewalBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, summary.Selected)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Cancelled)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.Errors)
	assert.Len(t, renewer.calls, 6)

	events := rec.OfType(models.EventBatchCompleted)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Payload["succeeded"])
	assert.Equal(t, 2, events[0].Payload["failed"])
}

func TestRunRenewalBatchHonoursBatchSizeAndOrder(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "late", models.StatusActive, now.Add(-time.Hour))
	seed(t, st, "early", models.StatusPastDue, now.Add(-48*time.Hour))
	seed(t, st, "middle", models.StatusTrialing, now.Add(-24*time.Hour))
	seed(t, st, "future", models.StatusActive, now.Add(time.Hour))
	seed(t, st, "paused", models.StatusPaused, now.Add(-72*time.Hour))

	renewer := &stubRenewer{}
	s := newScheduler(st, renewer, notify.NewRecorder(), Config{BatchSize: 2, Workers: 1})

	summary, err := s.RunRenewalBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Selected)
	assert.Equal(t, []string{"early", "middle"}, renewer.calls)
}

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) ListDue(context.Context, time.Time, int) ([]*models.Subscription, error) {
	return nil, ierr.WithError(errors.New("connection refused")).Mark(ierr.ErrStoreFailure)
}

func TestRunRenewalBatchSelectionFailure(t *testing.T) {
	rec := notify.NewRecorder()
	s := newScheduler(failingStore{store.NewMemoryStore()}, &stubRenewer{}, rec, Config{})

	_, err := s.RunRenewalBatch(context.Background())
	assert.True(t, ierr.IsStoreFailure(err))
	assert.Empty(t, rec.Events())
}

func TestOverlappingBatchesChargeOnce(t *testing.T) {
	st := store.NewMemoryStore()
	for i := 0; i < 20; i++ {
		seed(t, st, fmt.Sprintf("sub_%02d", i), models.StatusActive, now.Add(-time.Minute))
	}

	log := logger.NewNop()
	rec := notify.NewRecorder()
	orch := orchestrator.New(st, nil, lease.NewMemoryLeaser(), notify.NewNotifier(rec, log, nil), log, orchestrator.Config{
		Policy:   retry.DefaultPolicy(),
		LeaseTTL: time.Minute,
	}, orchestrator.WithClock(clock))
	s := newScheduler(st, orch, rec, Config{BatchSize: 50, Workers: 4})

	var wg sync.WaitGroup
	summaries := make([]*BatchSummary, 2)
	for i := range summaries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summary, err := s.RunRenewalBatch(context.Background())
			assert.NoError(t, err)
			summaries[i] = summary
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, summaries[0].Succeeded+summaries[1].Succeeded)
	for i := 0; i < 20; i++ {
		payments, err := st.Payments(context.Background(), fmt.Sprintf("sub_%02d", i))
		require.NoError(t, err)
		assert.Len(t, payments, 1)
	}
}

func TestSweeps(t *testing.T) {
	st := store.NewMemoryStore()
	log := logger.NewNop()
	rec := notify.NewRecorder()
	svc := lifecycle.NewService(st, notify.NewNotifier(rec, log, nil), log, lifecycle.WithClock(clock))

	trialSoon := seed(t, st, "trial_soon", models.StatusTrialing, now.Add(48*time.Hour))
	trialSoon.TrialEndsAt = trialSoon.NextChargeAt
	require.NoError(t, st.Save(context.Background(), store.Change{Subscription: trialSoon}))
	trialLater := seed(t, st, "trial_later", models.StatusTrialing, now.Add(10*24*time.Hour))
	trialLater.TrialEndsAt = trialLater.NextChargeAt
	require.NoError(t, st.Save(context.Background(), store.Change{Subscription: trialLater}))

	stale := seed(t, st, "stale", models.StatusIncomplete, now.Add(24*time.Hour))
	stale.CreatedAt = now.Add(-30 * time.Hour)
	require.NoError(t, st.Save(context.Background(), store.Change{Subscription: stale}))
	fresh := seed(t, st, "fresh", models.StatusIncomplete, now.Add(24*time.Hour))
	fresh.CreatedAt = now.Add(-time.Hour)
	require.NoError(t, st.Save(context.Background(), store.Change{Subscription: fresh}))

	s := newScheduler(st, &stubRenewer{}, rec, Config{
		BatchSize:           50,
		TrialReminderWindow: 72 * time.Hour,
		IncompleteExpiry:    23 * time.Hour,
	}, WithLifecycle(svc))

	summary, err := s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TrialReminders)
	assert.Equal(t, 1, summary.ExpiredIncomplete)

	expired, err := st.Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, models.StatusIncompleteExpired, expired.Status)

	reminded := rec.OfType(models.EventTrialEnding)
	require.Len(t, reminded, 1)
	assert.Equal(t, "trial_soon", reminded[0].SubscriptionID)

	summary, err = s.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.TrialReminders)
	assert.Zero(t, summary.ExpiredIncomplete)
	assert.Equal(t, summary, s.Status().LastSummary)
}

func TestStartStop(t *testing.T) {
	s := newScheduler(store.NewMemoryStore(), &stubRenewer{}, notify.NewRecorder(), Config{
		Enabled:      true,
		TickInterval: 10 * time.Millisecond,
	})

	s.Start()
	s.Start()
	assert.True(t, s.Status().Running)

	assert.Eventually(t, func() bool { return s.Status().LastRun != nil }, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	status := s.Status()
	assert.False(t, status.Running)
	assert.Equal(t, "10ms", status.TickInterval)
}

func TestConfigFromBilling(t *testing.T) {
	cfg := ConfigFromBilling(config.Default().Billing)
	assert.Equal(t, 72*time.Hour, cfg.TrialReminderWindow)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.True(t, cfg.Enabled)
}
