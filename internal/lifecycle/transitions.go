package lifecycle

import (
	"slices"
	"time"

	"github.com/google/uuid"

	ierr "github.com/AnuragDani/subscription-billing/internal/errors"
	"github.com/AnuragDani/subscription-billing/internal/models"
)

// Transition is one edge of the subscription state machine
type Transition struct {
	From models.Status
	To   models.Status
}

var validTransitions = map[Transition]bool{
	{models.StatusTrialing, models.StatusPastDue}:             true, // renewal charge fails
	{models.StatusActive, models.StatusPastDue}:               true, // renewal charge fails
	{models.StatusPastDue, models.StatusActive}:               true, // later charge succeeds
	{models.StatusTrialing, models.StatusActive}:              true, // trial converted
	{models.StatusTrialing, models.StatusPaused}:              true,
	{models.StatusActive, models.StatusPaused}:                true,
	{models.StatusPaused, models.StatusTrialing}:              true, // resume
	{models.StatusPaused, models.StatusActive}:                true, // resume
	{models.StatusActive, models.StatusCancelled}:             true,
	{models.StatusTrialing, models.StatusCancelled}:           true,
	{models.StatusPastDue, models.StatusCancelled}:            true, // explicit or retry ceiling
	{models.StatusPaused, models.StatusCancelled}:             true, // explicit only
	{models.StatusIncomplete, models.StatusActive}:            true, // first payment succeeded
	{models.StatusIncomplete, models.StatusCancelled}:         true, // first payment failed
	{models.StatusIncomplete, models.StatusIncompleteExpired}: true,
}

// CanTransition checks if a transition from one status to another is valid
func CanTransition(from, to models.Status) bool {
	return validTransitions[Transition{from, to}]
}

// ValidTransitionsFrom returns all valid target statuses from the given status
func ValidTransitionsFrom(from models.Status) []models.Status {
	targets := make([]models.Status, 0)
	for t := range validTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}
	slices.Sort(targets)
	return targets
}

// Apply moves sub to status to, or returns ErrInvalidState without touching it
func Apply(sub *models.Subscription, to models.Status) error {
	if !CanTransition(sub.Status, to) {
		return invalidState(sub, to)
	}
	sub.Status = to
	return nil
}

func invalidState(sub *models.Subscription, to models.Status) error {
	return ierr.NewErrorf("cannot move subscription %s from %s to %s", sub.ID, sub.Status, to).
		WithHintf("Subscription is %s and cannot become %s", sub.Status, to).
		WithReportableDetails(map[string]any{
			"subscription_id": sub.ID,
			"status":          sub.Status,
			"target":          to,
		}).
		Mark(ierr.ErrInvalidState)
}

// ApplyCancel terminates sub immediately. Explicit cancellations reset the
// failure count; a cancellation forced by the retry ceiling keeps it.
func ApplyCancel(sub *models.Subscription, reason string, resetFailures bool, at time.Time) error {
	if err := Apply(sub, models.StatusCancelled); err != nil {
		return err
	}
	sub.CancelledAt = &at
	sub.CancellationReason = reason
	sub.NextChargeAt = nil
	sub.CancelAtPeriodEnd = false
	sub.PreSuspendStatus = nil
	if resetFailures {
		sub.ConsecutiveFailures = 0
	}
	sub.UpdatedAt = at
	return nil
}

// NewHistoryEntry builds an audit record for sub in its current status
func NewHistoryEntry(sub *models.Subscription, action models.HistoryAction, from models.Status, note, actor string, at time.Time) models.HistoryEntry {
	return models.HistoryEntry{
		ID:             uuid.New().String(),
		SubscriptionID: sub.ID,
		Action:         action,
		FromStatus:     from,
		ToStatus:       sub.Status,
		Note:           note,
		Actor:          actor,
		Timestamp:      at,
	}
}
