// Package lifecycle owns subscription statuses and the administrative
// operations that move a subscription between them.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	ierr "github.com/AnuragDani/subscription-billing/internal/errors"
	"github.com/AnuragDani/subscription-billing/internal/gateway"
	"github.com/AnuragDani/subscription-billing/internal/lease"
	"github.com/AnuragDani/subscription-billing/internal/logger"
	"github.com/AnuragDani/subscription-billing/internal/metrics"
	"github.com/AnuragDani/subscription-billing/internal/models"
	"github.com/AnuragDani/subscription-billing/internal/notify"
	"github.com/AnuragDani/subscription-billing/internal/period"
	"github.com/AnuragDani/subscription-billing/internal/store"
)

// CreateSpec is the input of Create
type CreateSpec struct {
	ID                     string             `json:"id,omitempty"`
	CustomerRef            string             `json:"customer_ref" validate:"required"`
	CustomerGatewayRef     string             `json:"customer_gateway_ref,omitempty"`
	ProductLabel           string             `json:"product_label"`
	Amount                 decimal.Decimal    `json:"amount"`
	Currency               string             `json:"currency" validate:"required,iso4217"`
	CadenceUnit            models.CadenceUnit `json:"cadence_unit" validate:"required,oneof=day week month year"`
	CadenceCount           int                `json:"cadence_count" validate:"min=1"`
	TrialEndsAt            *time.Time         `json:"trial_ends_at,omitempty"`
	GatewaySubscriptionRef string             `json:"gateway_subscription_ref,omitempty"`
	// PaymentPending starts the subscription as incomplete until
	// ResolveFirstPayment settles the first charge.
	PaymentPending bool `json:"payment_pending,omitempty"`
}

// FirstPayment is the settlement of an incomplete subscription's first charge
type FirstPayment struct {
	Succeeded        bool   `json:"succeeded"`
	GatewayReference string `json:"gateway_reference,omitempty"`
	FailureCode      string `json:"failure_code,omitempty"`
	FailureReason    string `json:"failure_reason,omitempty"`
}

// CustomerResolver confirms that a customer reference exists
type CustomerResolver interface {
	ResolveCustomer(ctx context.Context, customerRef string) (bool, error)
}

// Service implements the administrative operations. Every successful
// transition is committed together with exactly one history entry and
// then announced with exactly one notification.
type Service struct {
	store     store.Store
	notifier  *notify.Notifier
	sync      *GatewaySync
	customers CustomerResolver
	leaser    lease.Leaser
	leaseTTL  time.Duration
	metrics   *metrics.Metrics
	log       *logger.Logger
	validate  *validator.Validate
	now       func() time.Time
}

// Option configures a Service
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithCustomerResolver(r CustomerResolver) Option {
	return func(s *Service) { s.customers = r }
}

func WithGatewaySync(g *GatewaySync) Option {
	return func(s *Service) { s.sync = g }
}

// WithLeaser makes every transition on an existing subscription hold the
// same per-subscription lease as a renewal attempt, so an admin change can
// never land between a charge and its commit.
func WithLeaser(l lease.Leaser, ttl time.Duration) Option {
	return func(s *Service) {
		s.leaser = l
		s.leaseTTL = ttl
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(st store.Store, notifier *notify.Notifier, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:    st,
		notifier: notifier,
		log:      log,
		validate: validator.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// claim takes the subscription's lease. A lease held by a renewal in
// flight returns ErrLeaseUnavailable.
func (s *Service) claim(ctx context.Context, id string) (func(), error) {
	if s.leaser == nil {
		return func() {}, nil
	}
	release, acquired, err := s.leaser.TryAcquire(ctx, lease.SubscriptionKey(id), s.leaseTTL)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Lease backend is unavailable").
			Mark(ierr.ErrStoreFailure)
	}
	if !acquired {
		return nil, ierr.NewErrorf("subscription %s is being renewed", id).
			WithHint("A renewal is in progress, retry shortly").
			Mark(ierr.ErrLeaseUnavailable)
	}
	return release, nil
}

func invalidSpec(msg, hint string, details map[string]any) error {
	return ierr.NewError(msg).
		WithHint(hint).
		WithReportableDetails(details).
		Mark(ierr.ErrInvalidSpec)
}

func (s *Service) validateSpec(ctx context.Context, spec *CreateSpec) error {
	spec.Currency = strings.ToUpper(strings.TrimSpace(spec.Currency))
	spec.CustomerRef = strings.TrimSpace(spec.CustomerRef)

	if !spec.Amount.IsPositive() {
		return invalidSpec("amount must be positive", "Amount must be greater than zero",
			map[string]any{"amount": spec.Amount.String()})
	}
	if err := s.validate.Struct(spec); err != nil {
		return ierr.WithError(err).
			WithHint("Subscription request is invalid").
			WithReportableDetails(map[string]any{"validation": err.Error()}).
			Mark(ierr.ErrInvalidSpec)
	}

	if gateway.ToMinorUnits(spec.Amount, spec.Currency) < 1 {
		return invalidSpec("amount is below the currency's smallest unit", "Amount is too small to charge",
			map[string]any{"amount": spec.Amount.String(), "currency": spec.Currency})
	}

	if s.customers != nil {
		ok, err := s.customers.ResolveCustomer(ctx, spec.CustomerRef)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Customer lookup is temporarily unavailable").
				Mark(ierr.ErrStoreFailure)
		}
		if !ok {
			return invalidSpec("customer reference cannot be resolved", "Customer not found",
				map[string]any{"customer_ref": spec.CustomerRef})
		}
	}
	return nil
}

// Create validates spec and persists a new subscription. It starts as
// incomplete when the first payment is pending, trialing when a future
// trial end is given, and active otherwise. A trial is the first period.
func (s *Service) Create(ctx context.Context, spec CreateSpec) (*models.Subscription, error) {
	if err := s.validateSpec(ctx, &spec); err != nil {
		return nil, err
	}

	now := s.now()
	sub := &models.Subscription{
		ID:                     spec.ID,
		CustomerRef:            spec.CustomerRef,
		CustomerGatewayRef:     spec.CustomerGatewayRef,
		ProductLabel:           spec.ProductLabel,
		Amount:                 spec.Amount,
		Currency:               spec.Currency,
		CadenceUnit:            spec.CadenceUnit,
		CadenceCount:           spec.CadenceCount,
		GatewaySubscriptionRef: spec.GatewaySubscriptionRef,
		CurrentPeriodStart:     now,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if sub.ID == "" {
		sub.ID = "sub_" + uuid.New().String()
	}

	switch {
	case spec.PaymentPending:
		sub.Status = models.StatusIncomplete
		sub.CurrentPeriodEnd = period.NextBoundary(now, spec.CadenceUnit, spec.CadenceCount)
	case spec.TrialEndsAt != nil && spec.TrialEndsAt.After(now):
		trialEnd := *spec.TrialEndsAt
		sub.Status = models.StatusTrialing
		sub.TrialEndsAt = &trialEnd
		sub.CurrentPeriodEnd = trialEnd
	default:
		sub.Status = models.StatusActive
		sub.CurrentPeriodEnd = period.NextBoundary(now, spec.CadenceUnit, spec.CadenceCount)
	}
	next := sub.CurrentPeriodEnd
	sub.NextChargeAt = &next

	entry := NewHistoryEntry(sub, models.ActionCreated, "", "subscription created", models.ActorAdmin, now)
	if err := s.store.Create(ctx, store.Change{Subscription: sub, History: []models.HistoryEntry{entry}}); err != nil {
		return nil, err
	}

	s.metrics.IncTransition(string(models.ActionCreated))
	s.log.Info("subscription created",
		"subscription_id", sub.ID,
		"status", sub.Status,
		"amount", sub.Amount.String(),
		"currency", sub.Currency,
		"next_charge_at", sub.NextChargeAt)
	s.notifier.Emit(ctx, notify.NewEvent(models.EventCreated, sub.ID, now, subscriptionPayload(sub)))
	return sub, nil
}

// Pause suspends billing. The prior status is kept so Resume can restore
// it exactly; nextChargeAt is left untouched.
func (s *Service) Pause(ctx context.Context, id, reason string) (*models.Subscription, error) {
	release, err := s.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := sub.Status
	if err := Apply(sub, models.StatusPaused); err != nil {
		return nil, err
	}
	sub.PreSuspendStatus = &from

	if err := s.commit(ctx, sub, models.ActionPaused, from, reason, nil); err != nil {
		return nil, err
	}

	s.notifier.Emit(ctx, notify.NewEvent(models.EventPaused, sub.ID, sub.UpdatedAt, map[string]interface{}{
		"reason":      reason,
		"paused_from": from,
	}))
	s.sync.Pause(ctx, sub)
	return sub, nil
}

// Resume restores the status a paused subscription had before Pause
func (s *Service) Resume(ctx context.Context, id string) (*models.Subscription, error) {
	release, err := s.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if sub.Status != models.StatusPaused {
		return nil, invalidState(sub, models.StatusActive)
	}
	target := models.StatusActive
	if sub.PreSuspendStatus != nil {
		target = *sub.PreSuspendStatus
	}

	from := sub.Status
	if err := Apply(sub, target); err != nil {
		return nil, err
	}
	sub.PreSuspendStatus = nil

	if err := s.commit(ctx, sub, models.ActionResumed, from, "", nil); err != nil {
		return nil, err
	}

	s.notifier.Emit(ctx, notify.NewEvent(models.EventResumed, sub.ID, sub.UpdatedAt, map[string]interface{}{
		"status":         sub.Status,
		"next_charge_at": sub.NextChargeAt,
	}))
	s.sync.Resume(ctx, sub)
	return sub, nil
}

// Cancel ends a subscription. With immediate set the status becomes
// cancelled now. Otherwise the subscription keeps billing through the
// current period and is flagged to be cancelled when that period ends;
// that form is only accepted from a billable status.
func (s *Service) Cancel(ctx context.Context, id, reason string, immediate bool) (*models.Subscription, error) {
	release, err := s.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status.IsTerminal() {
		return nil, invalidState(sub, models.StatusCancelled)
	}

	now := s.now()
	from := sub.Status

	if !immediate {
		if !sub.Status.IsBillable() {
			return nil, ierr.NewErrorf("subscription %s is %s", sub.ID, sub.Status).
				WithHintf("A %s subscription can only be cancelled immediately", sub.Status).
				Mark(ierr.ErrInvalidState)
		}
		if sub.CancelAtPeriodEnd {
			return nil, ierr.NewErrorf("subscription %s already cancels at period end", sub.ID).
				WithHint("Cancellation is already scheduled").
				Mark(ierr.ErrInvalidState)
		}
		sub.CancelAtPeriodEnd = true
		sub.CancellationReason = reason
		sub.UpdatedAt = now

		if err := s.commitAt(ctx, sub, models.ActionCancelScheduled, from, reason, now); err != nil {
			return nil, err
		}
		s.notifier.Emit(ctx, notify.NewEvent(models.EventCancelled, sub.ID, now, map[string]interface{}{
			"reason":        reason,
			"at_period_end": true,
			"effective_at":  sub.CurrentPeriodEnd,
		}))
		return sub, nil
	}

	if err := ApplyCancel(sub, reason, true, now); err != nil {
		return nil, err
	}
	if err := s.commitAt(ctx, sub, models.ActionCancelled, from, reason, now); err != nil {
		return nil, err
	}

	s.notifier.Emit(ctx, notify.NewEvent(models.EventCancelled, sub.ID, now, map[string]interface{}{
		"reason":         reason,
		"at_period_end":  false,
		"cancelled_from": from,
	}))
	s.sync.Cancel(ctx, sub)
	return sub, nil
}

// ResolveFirstPayment settles an incomplete subscription. Success
// activates it with a fresh period starting now; failure cancels it.
func (s *Service) ResolveFirstPayment(ctx context.Context, id string, result FirstPayment) (*models.Subscription, error) {
	release, err := s.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.StatusIncomplete {
		return nil, ierr.NewErrorf("subscription %s is %s, not incomplete", sub.ID, sub.Status).
			WithHint("Subscription has no pending first payment").
			Mark(ierr.ErrInvalidState)
	}

	now := s.now()
	from := sub.Status
	payment := models.PaymentRecord{
		ID:               uuid.New().String(),
		SubscriptionID:   sub.ID,
		Amount:           sub.Amount,
		Currency:         sub.Currency,
		GatewayReference: result.GatewayReference,
		Timestamp:        now,
	}

	if result.Succeeded {
		if err := Apply(sub, models.StatusActive); err != nil {
			return nil, err
		}
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = period.NextBoundary(now, sub.CadenceUnit, sub.CadenceCount)
		next := sub.CurrentPeriodEnd
		sub.NextChargeAt = &next
		sub.UpdatedAt = now
		payment.Outcome = models.PaymentSucceeded

		if err := s.commitAt(ctx, sub, models.ActionActivated, from, "first payment succeeded", now, payment); err != nil {
			return nil, err
		}
		s.notifier.Emit(ctx, notify.NewEvent(models.EventPaymentSucceeded, sub.ID, now, map[string]interface{}{
			"amount":            sub.Amount.String(),
			"currency":          sub.Currency,
			"gateway_reference": result.GatewayReference,
			"first_payment":     true,
		}))
		return sub, nil
	}

	reason := "first payment failed"
	if result.FailureReason != "" {
		reason = fmt.Sprintf("first payment failed: %s", result.FailureReason)
	}
	if err := ApplyCancel(sub, reason, false, now); err != nil {
		return nil, err
	}
	payment.Outcome = models.PaymentFailed
	payment.FailureCode = result.FailureCode
	payment.FailureReason = result.FailureReason

	if err := s.commitAt(ctx, sub, models.ActionCancelled, from, reason, now, payment); err != nil {
		return nil, err
	}
	s.notifier.Emit(ctx, notify.NewEvent(models.EventCancelled, sub.ID, now, map[string]interface{}{
		"reason":         reason,
		"failure_code":   result.FailureCode,
		"first_payment":  true,
		"cancelled_from": from,
	}))
	s.sync.Cancel(ctx, sub)
	return sub, nil
}

// ExpireIncomplete moves an incomplete subscription whose first payment
// never settled to incomplete_expired.
func (s *Service) ExpireIncomplete(ctx context.Context, id string) (*models.Subscription, error) {
	release, err := s.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := sub.Status
	if err := Apply(sub, models.StatusIncompleteExpired); err != nil {
		return nil, err
	}
	sub.NextChargeAt = nil

	if err := s.commit(ctx, sub, models.ActionIncompleteExpired, from, "first payment not completed in time", nil); err != nil {
		return nil, err
	}
	s.notifier.Emit(ctx, notify.NewEvent(models.EventExpired, sub.ID, sub.UpdatedAt, map[string]interface{}{
		"created_at": sub.CreatedAt,
	}))
	s.sync.Cancel(ctx, sub)
	return sub, nil
}

// SendTrialReminder records and announces that a trial is about to end.
// Each subscription is reminded at most once.
func (s *Service) SendTrialReminder(ctx context.Context, id string) (*models.Subscription, error) {
	release, err := s.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.StatusTrialing || sub.TrialEndsAt == nil {
		return nil, ierr.NewErrorf("subscription %s is not trialing", sub.ID).
			WithHint("Subscription is not in a trial").
			Mark(ierr.ErrInvalidState)
	}
	if sub.TrialReminderSentAt != nil {
		return sub, nil
	}

	now := s.now()
	sub.TrialReminderSentAt = &now
	sub.UpdatedAt = now

	entry := NewHistoryEntry(sub, models.ActionTrialReminder, sub.Status, "trial ending reminder sent", models.ActorScheduler, now)
	if err := s.store.Save(ctx, store.Change{Subscription: sub, History: []models.HistoryEntry{entry}}); err != nil {
		return nil, err
	}

	s.notifier.Emit(ctx, notify.NewEvent(models.EventTrialEnding, sub.ID, now, map[string]interface{}{
		"trial_ends_at":  sub.TrialEndsAt,
		"days_remaining": int(sub.TrialEndsAt.Sub(now).Hours() / 24),
		"amount":         sub.Amount.String(),
		"currency":       sub.Currency,
	}))
	return sub, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Subscription, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) History(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	return s.store.History(ctx, id)
}

func (s *Service) Payments(ctx context.Context, id string) ([]models.PaymentRecord, error) {
	return s.store.Payments(ctx, id)
}

func (s *Service) commit(ctx context.Context, sub *models.Subscription, action models.HistoryAction, from models.Status, note string, payments []models.PaymentRecord) error {
	now := s.now()
	sub.UpdatedAt = now
	return s.commitAt(ctx, sub, action, from, note, now, payments...)
}

func (s *Service) commitAt(ctx context.Context, sub *models.Subscription, action models.HistoryAction, from models.Status, note string, at time.Time, payments ...models.PaymentRecord) error {
	entry := NewHistoryEntry(sub, action, from, note, models.ActorAdmin, at)
	change := store.Change{
		Subscription: sub,
		History:      []models.HistoryEntry{entry},
		Payments:     payments,
	}
	if err := s.store.Save(ctx, change); err != nil {
		if ierr.IsStoreFailure(err) {
			s.log.Error("failed to persist transition",
				"subscription_id", sub.ID,
				"action", action,
				"error", err)
		}
		return err
	}

	s.metrics.IncTransition(string(action))
	s.log.Info("subscription transition",
		"subscription_id", sub.ID,
		"action", action,
		"from", from,
		"to", sub.Status)
	return nil
}

func subscriptionPayload(sub *models.Subscription) map[string]interface{} {
	return map[string]interface{}{
		"customer_ref":       sub.CustomerRef,
		"status":             sub.Status,
		"product_label":      sub.ProductLabel,
		"amount":             sub.Amount.String(),
		"currency":           sub.Currency,
		"cadence_unit":       sub.CadenceUnit,
		"cadence_count":      sub.CadenceCount,
		"current_period_end": sub.CurrentPeriodEnd,
		"next_charge_at":     sub.NextChargeAt,
		"trial_ends_at":      sub.TrialEndsAt,
	}
}
