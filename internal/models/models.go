// internal/models/models.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a subscription
type Status string

const (
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusPaused            Status = "paused"
	StatusCancelled         Status = "cancelled"
	StatusUnpaid            Status = "unpaid"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
)

// IsTerminal reports whether no further transition is permitted out of s
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusIncompleteExpired
}

// IsBillable reports whether the scheduler may attempt a renewal in status s
func (s Status) IsBillable() bool {
	return s == StatusActive || s == StatusTrialing || s == StatusPastDue
}

// BillableStatuses lists the statuses selected by the renewal scheduler
var BillableStatuses = []Status{StatusActive, StatusTrialing, StatusPastDue}

// CadenceUnit is the calendar unit of a billing interval
type CadenceUnit string

const (
	CadenceDay   CadenceUnit = "day"
	CadenceWeek  CadenceUnit = "week"
	CadenceMonth CadenceUnit = "month"
	CadenceYear  CadenceUnit = "year"
)

// Valid reports whether u is one of the supported cadence units
func (u CadenceUnit) Valid() bool {
	switch u {
	case CadenceDay, CadenceWeek, CadenceMonth, CadenceYear:
		return true
	}
	return false
}

// Subscription is the aggregate root owned by the billing engine
type Subscription struct {
	ID                     string          `json:"id" db:"id"`
	CustomerRef            string          `json:"customer_ref" db:"customer_ref"`
	CustomerGatewayRef     string          `json:"customer_gateway_ref,omitempty" db:"customer_gateway_ref"`
	Status                 Status          `json:"status" db:"status"`
	ProductLabel           string          `json:"product_label" db:"product_label"`
	Amount                 decimal.Decimal `json:"amount" db:"amount"`
	Currency               string          `json:"currency" db:"currency"`
	CadenceUnit            CadenceUnit     `json:"cadence_unit" db:"cadence_unit"`
	CadenceCount           int             `json:"cadence_count" db:"cadence_count"`
	TrialEndsAt            *time.Time      `json:"trial_ends_at,omitempty" db:"trial_ends_at"`
	CurrentPeriodStart     time.Time       `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd       time.Time       `json:"current_period_end" db:"current_period_end"`
	NextChargeAt           *time.Time      `json:"next_charge_at,omitempty" db:"next_charge_at"`
	ConsecutiveFailures    int             `json:"consecutive_failure_count" db:"consecutive_failure_count"`
	CancelAtPeriodEnd      bool            `json:"cancel_at_period_end" db:"cancel_at_period_end"`
	CancelledAt            *time.Time      `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancellationReason     string          `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	PreSuspendStatus       *Status         `json:"pre_suspend_status,omitempty" db:"pre_suspend_status"`
	GatewaySubscriptionRef string          `json:"gateway_subscription_ref,omitempty" db:"gateway_subscription_ref"`
	TrialReminderSentAt    *time.Time      `json:"trial_reminder_sent_at,omitempty" db:"trial_reminder_sent_at"`
	Version                int64           `json:"version" db:"version"`
	CreatedAt              time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at" db:"updated_at"`
}

// IsLocalOnly reports whether the subscription is billed without an external gateway
func (s *Subscription) IsLocalOnly() bool {
	return s.GatewaySubscriptionRef == ""
}

// Clone returns a deep copy so callers can mutate without aliasing stored state
func (s *Subscription) Clone() *Subscription {
	c := *s
	c.TrialEndsAt = cloneTime(s.TrialEndsAt)
	c.NextChargeAt = cloneTime(s.NextChargeAt)
	c.CancelledAt = cloneTime(s.CancelledAt)
	c.TrialReminderSentAt = cloneTime(s.TrialReminderSentAt)
	if s.PreSuspendStatus != nil {
		st := *s.PreSuspendStatus
		c.PreSuspendStatus = &st
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// HistoryAction names the kind of change recorded in the audit log
type HistoryAction string

const (
	ActionCreated           HistoryAction = "created"
	ActionRenewed           HistoryAction = "renewed"
	ActionTrialConverted    HistoryAction = "trial_converted"
	ActionPaymentRecovered  HistoryAction = "payment_recovered"
	ActionPaymentFailed     HistoryAction = "payment_failed"
	ActionPaused            HistoryAction = "paused"
	ActionResumed           HistoryAction = "resumed"
	ActionCancelled         HistoryAction = "cancelled"
	ActionCancelScheduled   HistoryAction = "cancel_scheduled"
	ActionActivated         HistoryAction = "activated"
	ActionIncompleteExpired HistoryAction = "incomplete_expired"
	ActionTrialReminder     HistoryAction = "trial_reminder_sent"
)

// Actors recorded on history entries
const (
	ActorSystem    = "system"
	ActorScheduler = "scheduler"
	ActorAdmin     = "admin"
)

// HistoryEntry is an immutable audit record of one transition or note
type HistoryEntry struct {
	ID             string        `json:"id" db:"id"`
	SubscriptionID string        `json:"subscription_id" db:"subscription_id"`
	Action         HistoryAction `json:"action" db:"action"`
	FromStatus     Status        `json:"from_status,omitempty" db:"from_status"`
	ToStatus       Status        `json:"to_status" db:"to_status"`
	Note           string        `json:"note,omitempty" db:"note"`
	Actor          string        `json:"actor" db:"actor"`
	Timestamp      time.Time     `json:"timestamp" db:"timestamp"`
}

// PaymentOutcome is the settlement result of a charge attempt
type PaymentOutcome string

const (
	PaymentSucceeded PaymentOutcome = "succeeded"
	PaymentFailed    PaymentOutcome = "failed"
)

// LocalGatewayReference marks payments settled without an external gateway
const LocalGatewayReference = "local"

// PaymentRecord is an immutable log of one settlement attempt
type PaymentRecord struct {
	ID               string          `json:"id" db:"id"`
	SubscriptionID   string          `json:"subscription_id" db:"subscription_id"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	Currency         string          `json:"currency" db:"currency"`
	Outcome          PaymentOutcome  `json:"outcome" db:"outcome"`
	GatewayReference string          `json:"gateway_reference,omitempty" db:"gateway_reference"`
	FailureCode      string          `json:"failure_code,omitempty" db:"failure_code"`
	FailureReason    string          `json:"failure_reason,omitempty" db:"failure_reason"`
	Timestamp        time.Time       `json:"timestamp" db:"timestamp"`
}

// EventType names a lifecycle notification
type EventType string

const (
	EventCreated          EventType = "created"
	EventRenewed          EventType = "renewed"
	EventPaused           EventType = "paused"
	EventResumed          EventType = "resumed"
	EventCancelled        EventType = "cancelled"
	EventPaymentSucceeded EventType = "payment_succeeded"
	EventPaymentFailed    EventType = "payment_failed"
	EventTrialEnding      EventType = "trial_ending"
	EventExpired          EventType = "incomplete_expired"
	EventBatchCompleted   EventType = "renewal_batch_completed"
)

// Event is the payload handed to the notification dispatcher
type Event struct {
	ID             string                 `json:"id"`
	Type           EventType              `json:"type"`
	SubscriptionID string                 `json:"subscription_id,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
}
