// Package orchestrator drives a single renewal attempt: it claims the
// subscription, charges the gateway, and commits the resulting transition.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	ierr "github.com/AnuragDani/subscription-billing/internal/errors"
	"github.com/AnuragDani/subscription-billing/internal/gateway"
	"github.com/AnuragDani/subscription-billing/internal/lease"
	"github.com/AnuragDani/subscription-billing/internal/lifecycle"
	"github.com/AnuragDani/subscription-billing/internal/logger"
	"github.com/AnuragDani/subscription-billing/internal/metrics"
	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/notify"
	"github.com/AnuragDani/subscription-billing/internal/period"
	"github.com/AnuragDani/subscription-billing/internal/retry"
	"github.com/AnuragDani/subscription-billing/internal/store"
)

// Result summarises what a renewal attempt did
type Result string

const (
	ResultRenewed   Result = "renewed"
	ResultFailed    Result = "failed"
	ResultCancelled Result = "cancelled"
)

// Outcome is returned by AttemptRenewal once the attempt has been committed
type Outcome struct {
	Result       Result                `json:"result"`
	Subscription *models.Subscription  `json:"subscription"`
	Payment      *models.PaymentRecord `json:"payment,omitempty"`
	Decision     *retry.Decision       `json:"decision,omitempty"`
}

// Config holds the orchestrator's tunables
type Config struct {
	Policy         retry.Policy
	LeaseTTL       time.Duration
	GatewayTimeout time.Duration
}

// Orchestrator performs renewal attempts
type Orchestrator struct {
	store    store.Store
	gateway  gateway.Gateway
	leaser   lease.Leaser
	notifier *notify.Notifier
	sync     *lifecycle.GatewaySync
	metrics  *metrics.Metrics
	log      *logger.Logger
	config   Config
	now      func() time.Time
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithGatewaySync(g *lifecycle.GatewaySync) Option {
	return func(o *Orchestrator) { o.sync = g }
}

// New creates an orchestrator. gw may be nil when every subscription is
// local-only.
func New(st store.Store, gw gateway.Gateway, leaser lease.Leaser, notifier *notify.Notifier, log *logger.Logger, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		gateway:  gw,
		leaser:   leaser,
		notifier: notifier,
		log:      log,
		config:   cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AttemptRenewal charges one due subscription and commits the outcome.
//
// The subscription is reloaded under a per-subscription lease, so callers
// may pass ids from a stale listing. NotDue and LeaseUnavailable are
// returned without contacting the gateway. Every other path persists the
// status change, period advancement and log writes in a single Save.
//
// Once the charge starts, the caller's cancellation no longer applies: the
// charge and its commit run to completion bounded by GatewayTimeout alone.
// A caller cancelled before that point gets its context error back and
// nothing is written.
func (o *Orchestrator) AttemptRenewal(ctx context.Context, id string) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("renewal of %s abandoned: %w", id, err)
	}

	release, acquired, err := o.leaser.TryAcquire(ctx, lease.SubscriptionKey(id), o.config.LeaseTTL)
	if err != nil {
		o.metrics.IncRenewal(metrics.OutcomeError)
		return nil, ierr.WithError(err).
			WithHint("Lease backend is unavailable").
			Mark(ierr.ErrStoreFailure)
	}
	if !acquired {
		o.metrics.IncRenewal(metrics.OutcomeLeaseUnavailable)
		o.log.Debug("renewal skipped, lease held elsewhere", "subscription_id", id)
		return nil, ierr.NewErrorf("subscription %s is being renewed elsewhere", id).
			WithHint("Renewal already in progress").
			Mark(ierr.ErrLeaseUnavailable)
	}
	defer release()

	sub, err := o.store.Get(ctx, id)
	if err != nil {
		o.metrics.IncRenewal(metrics.OutcomeError)
		return nil, err
	}

	now := o.now()
	if !isDue(sub, now) {
		o.metrics.IncRenewal(metrics.OutcomeNotDue)
		return nil, ierr.NewErrorf("subscription %s is not due", sub.ID).
			WithHint("Subscription is not due for renewal").
			WithReportableDetails(map[string]any{
				"status":         sub.Status,
				"next_charge_at": sub.NextChargeAt,
			}).
			Mark(ierr.ErrNotDue)
	}

	if err := ctx.Err(); err != nil {
		o.metrics.IncRenewal(metrics.OutcomeError)
		return nil, fmt.Errorf("renewal of %s abandoned before charge: %w", sub.ID, err)
	}
	ctx = context.WithoutCancel(ctx)

	if sub.CancelAtPeriodEnd {
		return o.cancelAtPeriodEnd(ctx, sub, now)
	}

	result := o.charge(ctx, sub)
	if result.Succeeded {
		return o.renewed(ctx, sub, result, now)
	}
	return o.failed(ctx, sub, result, now)
}

func isDue(sub *models.Subscription, now time.Time) bool {
	return sub.Status.IsBillable() && sub.NextChargeAt != nil && !sub.NextChargeAt.After(now)
}

// IdempotencyKey identifies one charge attempt. A crash between charge and
// commit leaves the subscription unchanged, so the retried attempt reuses
// the key and the gateway can deduplicate it.
func IdempotencyKey(sub *models.Subscription) string {
	return fmt.Sprintf("renewal:%s:%d:%d", sub.ID, sub.CurrentPeriodEnd.Unix(), sub.ConsecutiveFailures)
}

func (o *Orchestrator) charge(ctx context.Context, sub *models.Subscription) *gateway.ChargeResult {
	if sub.IsLocalOnly() {
		return &gateway.ChargeResult{Succeeded: true, Reference: models.LocalGatewayReference}
	}
	if o.gateway == nil {
		return &gateway.ChargeResult{
			FailureCode:   gateway.FailureCodeGatewayError,
			FailureReason: "no payment gateway configured",
		}
	}

	chargeCtx := ctx
	if o.config.GatewayTimeout > 0 {
		var cancel context.CancelFunc
		chargeCtx, cancel = context.WithTimeout(ctx, o.config.GatewayTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := o.gateway.Charge(chargeCtx, gateway.ChargeRequest{
		SubscriptionID:         sub.ID,
		CustomerGatewayRef:     sub.CustomerGatewayRef,
		SubscriptionGatewayRef: sub.GatewaySubscriptionRef,
		Amount:                 sub.Amount,
		Currency:               sub.Currency,
		IdempotencyKey:         IdempotencyKey(sub),
	})
	elapsed := time.Since(start)

	if err != nil {
		code := gateway.FailureCodeGatewayError
		var httpErr *gateway.HTTPError
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(chargeCtx.Err(), context.DeadlineExceeded):
			code = gateway.FailureCodeTimeout
		case errors.As(err, &httpErr) && httpErr.Code != "":
			code = httpErr.Code
		}
		o.log.Warn("gateway charge errored, treating as failure",
			"subscription_id", sub.ID,
			"failure_code", code,
			"duration", elapsed,
			"error", err)
		o.metrics.ObserveCharge(code, elapsed)
		return &gateway.ChargeResult{FailureCode: code, FailureReason: err.Error()}
	}

	if res.Succeeded {
		o.metrics.ObserveCharge(metrics.OutcomeSucceeded, elapsed)
	} else {
		o.metrics.ObserveCharge(metrics.OutcomeFailed, elapsed)
	}
	return res
}

func (o *Orchestrator) renewed(ctx context.Context, sub *models.Subscription, res *gateway.ChargeResult, now time.Time) (*Outcome, error) {
	from := sub.Status
	action := models.ActionRenewed
	eventType := models.EventRenewed

	switch from {
	case models.StatusTrialing:
		action = models.ActionTrialConverted
	case models.StatusPastDue:
		action = models.ActionPaymentRecovered
		eventType = models.EventPaymentSucceeded
	}
	if from != models.StatusActive {
		if err := lifecycle.Apply(sub, models.StatusActive); err != nil {
			return nil, err
		}
	}

	sub.ConsecutiveFailures = 0
	sub.CurrentPeriodStart = sub.CurrentPeriodEnd
	sub.CurrentPeriodEnd = period.NextBoundary(sub.CurrentPeriodStart, sub.CadenceUnit, sub.CadenceCount)
	next := sub.CurrentPeriodEnd
	sub.NextChargeAt = &next
	sub.UpdatedAt = now

	payment := o.paymentRecord(sub, res, now)
	entry := lifecycle.NewHistoryEntry(sub, action, from, "renewal charge succeeded", models.ActorScheduler, now)
	if err := o.commit(ctx, sub, []models.HistoryEntry{entry}, payment); err != nil {
		return nil, err
	}

	o.metrics.IncRenewal(metrics.OutcomeSucceeded)
	o.metrics.IncTransition(string(action))
	o.log.Info("subscription renewed",
		"subscription_id", sub.ID,
		"from", from,
		"gateway_reference", payment.GatewayReference,
		"current_period_end", sub.CurrentPeriodEnd)
	o.notifier.Emit(ctx, notify.NewEvent(eventType, sub.ID, now, map[string]interface{}{
		"amount":             sub.Amount.String(),
		"currency":           sub.Currency,
		"gateway_reference":  payment.GatewayReference,
		"current_period_end": sub.CurrentPeriodEnd,
		"trial_converted":    from == models.StatusTrialing,
	}))

	return &Outcome{Result: ResultRenewed, Subscription: sub, Payment: &payment}, nil
}

func (o *Orchestrator) failed(ctx context.Context, sub *models.Subscription, res *gateway.ChargeResult, now time.Time) (*Outcome, error) {
	from := sub.Status
	if from != models.StatusPastDue {
		if err := lifecycle.Apply(sub, models.StatusPastDue); err != nil {
			return nil, err
		}
	}
	sub.ConsecutiveFailures++
	sub.UpdatedAt = now

	decision := o.config.Policy.Decide(sub.ConsecutiveFailures)
	declineType := retry.ClassifyDecline(res.FailureCode)
	payment := o.paymentRecord(sub, res, now)

	note := fmt.Sprintf("renewal charge failed (%s, attempt %d of %d)", res.FailureCode, sub.ConsecutiveFailures, o.config.Policy.Ceiling)
	history := []models.HistoryEntry{
		lifecycle.NewHistoryEntry(sub, models.ActionPaymentFailed, from, note, models.ActorScheduler, now),
	}

	if decision.IsTerminate() {
		const reason = "exceeded retry ceiling"
		if err := lifecycle.ApplyCancel(sub, reason, false, now); err != nil {
			return nil, err
		}
		history = append(history, lifecycle.NewHistoryEntry(sub, models.ActionCancelled, models.StatusPastDue, reason, models.ActorScheduler, now))
	} else {
		next := now.Add(decision.Delay())
		sub.NextChargeAt = &next
	}

	if err := o.commit(ctx, sub, history, payment); err != nil {
		return nil, err
	}

	o.metrics.IncTransition(string(models.ActionPaymentFailed))
	o.log.Warn("renewal charge failed",
		"subscription_id", sub.ID,
		"failure_code", res.FailureCode,
		"decline_type", declineType,
		"failure_count", sub.ConsecutiveFailures,
		"decision", decision.Action)

	o.notifier.Emit(ctx, notify.NewEvent(models.EventPaymentFailed, sub.ID, now, map[string]interface{}{
		"failure_count":  sub.ConsecutiveFailures,
		"ceiling":        o.config.Policy.Ceiling,
		"final_attempt":  decision.IsTerminate(),
		"failure_code":   res.FailureCode,
		"failure_reason": res.FailureReason,
		"decline_type":   declineType,
		"next_charge_at": sub.NextChargeAt,
	}))

	outcome := &Outcome{Result: ResultFailed, Subscription: sub, Payment: &payment, Decision: &decision}
	if decision.IsTerminate() {
		outcome.Result = ResultCancelled
		o.metrics.IncRenewal(metrics.OutcomeCancelled)
		o.metrics.IncTransition(string(models.ActionCancelled))
		o.notifier.Emit(ctx, notify.NewEvent(models.EventCancelled, sub.ID, now, map[string]interface{}{
			"reason":        sub.CancellationReason,
			"failure_count": sub.ConsecutiveFailures,
		}))
		o.sync.Cancel(ctx, sub)
	} else {
		o.metrics.IncRenewal(metrics.OutcomeFailed)
	}
	return outcome, nil
}

// cancelAtPeriodEnd ends a subscription whose cancellation was scheduled
// for this boundary. No charge is made.
func (o *Orchestrator) cancelAtPeriodEnd(ctx context.Context, sub *models.Subscription, now time.Time) (*Outcome, error) {
	from := sub.Status
	reason := sub.CancellationReason
	if reason == "" {
		reason = "cancelled at period end"
	}
	if err := lifecycle.ApplyCancel(sub, reason, true, now); err != nil {
		return nil, err
	}

	entry := lifecycle.NewHistoryEntry(sub, models.ActionCancelled, from, reason, models.ActorScheduler, now)
	if err := o.commit(ctx, sub, []models.HistoryEntry{entry}); err != nil {
		return nil, err
	}

	o.metrics.IncRenewal(metrics.OutcomeCancelled)
	o.metrics.IncTransition(string(models.ActionCancelled))
	o.log.Info("subscription cancelled at period end", "subscription_id", sub.ID, "from", from)
	o.notifier.Emit(ctx, notify.NewEvent(models.EventCancelled, sub.ID, now, map[string]interface{}{
		"reason":        reason,
		"at_period_end": true,
	}))
	o.sync.Cancel(ctx, sub)

	return &Outcome{Result: ResultCancelled, Subscription: sub}, nil
}

func (o *Orchestrator) paymentRecord(sub *models.Subscription, res *gateway.ChargeResult, now time.Time) models.PaymentRecord {
	p := models.PaymentRecord{
		ID:               uuid.New().String(),
		SubscriptionID:   sub.ID,
		Amount:           sub.Amount,
		Currency:         sub.Currency,
		GatewayReference: res.Reference,
		Timestamp:        now,
	}
	if res.Succeeded {
		p.Outcome = models.PaymentSucceeded
	} else {
		p.Outcome = models.PaymentFailed
		p.FailureCode = res.FailureCode
		p.FailureReason = res.FailureReason
	}
	return p
}

func (o *Orchestrator) commit(ctx context.Context, sub *models.Subscription, history []models.HistoryEntry, payments ...models.PaymentRecord) error {
	err := o.store.Save(ctx, store.Change{Subscription: sub, History: history, Payments: payments})
	if err != nil {
		o.metrics.IncRenewal(metrics.OutcomeError)
		o.log.Error("failed to commit renewal outcome",
			"subscription_id", sub.ID,
			"status", sub.Status,
			"error", err)
	}
	return err
}
