package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	ierr "github.com/AnuragDani/subscription-billing/internal/errors"
	"github.com/AnuragDani/subscription-billing/internal/metrics"
	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/notify"
	"github.com/AnuragDani/subscription-billing/internal/orchestrator"
)

// BatchSummary aggregates the per-item results of one renewal run
type BatchSummary struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Selected  int           `json:"selected"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Cancelled int           `json:"cancelled"`
	Skipped   int           `json:"skipped"`
	NotDue    int           `json:"not_due"`
	Errors    int           `json:"errors"`

	TrialReminders    int `json:"trial_reminders"`
	ExpiredIncomplete int `json:"expired_incomplete"`
}

func (s *BatchSummary) counts() map[string]int {
	return map[string]int{
		metrics.OutcomeSucceeded:        s.Succeeded,
		metrics.OutcomeFailed:           s.Failed,
		metrics.OutcomeCancelled:        s.Cancelled,
		metrics.OutcomeLeaseUnavailable: s.Skipped,
		metrics.OutcomeNotDue:           s.NotDue,
		metrics.OutcomeError:            s.Errors,
	}
}

// RunRenewalBatch selects due subscriptions and attempts each one. Item
// failures are counted and logged; they never stop the batch. The only
// error returned is a failure to select the batch itself.
func (s *Scheduler) RunRenewalBatch(ctx context.Context) (*BatchSummary, error) {
	start := s.now()
	summary := &BatchSummary{StartedAt: start}

	due, err := s.store.ListDue(ctx, start, s.config.BatchSize)
	if err != nil {
		s.log.Error("failed to select due subscriptions", "error", err)
		return nil, err
	}
	summary.Selected = len(due)
	s.log.Info("renewal batch started", "selected", len(due), "workers", s.config.Workers)

	var mu sync.Mutex
	limiter := s.newLimiter()
	p := pool.New().WithMaxGoroutines(max(1, s.config.Workers))

	for _, sub := range due {
		if err := limiter.Wait(ctx); err != nil {
			s.log.Warn("renewal batch interrupted", "error", err)
			break
		}

		id := sub.ID
		p.Go(func() {
			outcome, err := s.attempt(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			tally(summary, outcome, err)
		})
	}
	p.Wait()

	summary.Duration = s.now().Sub(start)
	s.metrics.ObserveBatch(summary.Duration, summary.counts())
	s.log.Info("renewal batch completed",
		"selected", summary.Selected,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"cancelled", summary.Cancelled,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"duration", summary.Duration)

	s.notifier.Emit(ctx, notify.NewEvent(models.EventBatchCompleted, "", s.now(), map[string]interface{}{
		"selected":  summary.Selected,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed + summary.Cancelled,
		"cancelled": summary.Cancelled,
		"skipped":   summary.Skipped,
		"errors":    summary.Errors,
	}))
	return summary, nil
}

// attempt isolates a single item, converting a panic into an error
func (s *Scheduler) attempt(ctx context.Context, id string) (outcome *orchestrator.Outcome, err error) {
	var catcher panics.Catcher
	catcher.Try(func() {
		outcome, err = s.renewer.AttemptRenewal(ctx, id)
	})
	if r := catcher.Recovered(); r != nil {
		s.log.Error("renewal attempt panicked", "subscription_id", id, "panic", fmt.Sprint(r.Value))
		return nil, r.AsError()
	}

	switch {
	case err == nil:
	case ierr.IsNotDue(err), ierr.IsLeaseUnavailable(err):
		s.log.Debug("renewal skipped", "subscription_id", id, "reason", ierr.Code(err))
	default:
		s.log.Error("renewal attempt failed", "subscription_id", id, "error", err)
	}
	return outcome, err
}

func tally(summary *BatchSummary, outcome *orchestrator.Outcome, err error) {
	switch {
	case err == nil && outcome != nil:
		switch outcome.Result {
		case orchestrator.ResultRenewed:
			summary.Succeeded++
		case orchestrator.ResultFailed:
			summary.Failed++
		case orchestrator.ResultCancelled:
			summary.Cancelled++
		}
	case ierr.IsLeaseUnavailable(err):
		summary.Skipped++
	case ierr.IsNotDue(err):
		summary.NotDue++
	default:
		summary.Errors++
	}
}

func (s *Scheduler) newLimiter() *rate.Limiter {
	if s.config.ItemDelay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(s.config.ItemDelay), 1)
}

// RunTrialReminders notifies trialing subscriptions whose trial ends within
// the configured window. It returns the number of reminders sent.
func (s *Scheduler) RunTrialReminders(ctx context.Context) (int, error) {
	if s.lifecycle == nil || s.config.TrialReminderWindow <= 0 {
		return 0, nil
	}
	now := s.now()
	subs, err := s.store.ListTrialsEnding(ctx, now, now.Add(s.config.TrialReminderWindow), s.config.BatchSize)
	if err != nil {
		s.log.Error("failed to select ending trials", "error", err)
		return 0, err
	}

	sent := 0
	for _, sub := range subs {
		if _, err := s.lifecycle.SendTrialReminder(ctx, sub.ID); err != nil {
			s.log.Warn("trial reminder failed", "subscription_id", sub.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// RunIncompleteExpiry expires incomplete subscriptions older than the
// configured window. It returns the number expired.
func (s *Scheduler) RunIncompleteExpiry(ctx context.Context) (int, error) {
	if s.lifecycle == nil || s.config.IncompleteExpiry <= 0 {
		return 0, nil
	}
	subs, err := s.store.ListStaleIncomplete(ctx, s.now().Add(-s.config.IncompleteExpiry), s.config.BatchSize)
	if err != nil {
		s.log.Error("failed to select stale incomplete subscriptions", "error", err)
		return 0, err
	}

	expired := 0
	for _, sub := range subs {
		if _, err := s.lifecycle.ExpireIncomplete(ctx, sub.ID); err != nil {
			s.log.Warn("incomplete expiry failed", "subscription_id", sub.ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}
