package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierr "github.com/AnuragDani/subscription-billing/internal/errors"
	"github.com/AnuragDani/subscription-billing/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.Status
		want     bool
	}{
		{models.StatusActive, models.StatusPastDue, true},
		{models.StatusTrialing, models.StatusActive, true},
		{models.StatusPastDue, models.StatusActive, true},
		{models.StatusPaused, models.StatusTrialing, true},
		{models.StatusPastDue, models.StatusPaused, false},
		{models.StatusCancelled, models.StatusActive, false},
		{models.StatusIncompleteExpired, models.StatusActive, false},
		{models.StatusActive, models.StatusUnpaid, false},
		{models.StatusIncomplete, models.StatusIncompleteExpired, true},
		{models.StatusActive, models.StatusIncompleteExpired, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	assert.Empty(t, ValidTransitionsFrom(models.StatusCancelled))
	assert.Empty(t, ValidTransitionsFrom(models.StatusIncompleteExpired))
	assert.Empty(t, ValidTransitionsFrom(models.StatusUnpaid))
}

func TestValidTransitionsFromSorted(t *testing.T) {
	assert.Equal(t,
		[]models.Status{models.StatusActive, models.StatusCancelled, models.StatusIncompleteExpired},
		ValidTransitionsFrom(models.StatusIncomplete))
}

func TestApplyRejectsWithoutMutating(t *testing.T) {
	sub := &models.Subscription{ID: "sub_1", Status: models.StatusCancelled}

	err := Apply(sub, models.StatusActive)
	require.Error(t, err)
	assert.True(t, ierr.IsInvalidState(err))
	assert.Equal(t, models.StatusCancelled, sub.Status)
}

func TestApplyCancel(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	next := at.AddDate(0, 1, 0)
	paused := models.StatusActive

	t.Run("explicit resets failures", func(t *testing.T) {
		sub := &models.Subscription{
			ID:                  "sub_1",
			Status:              models.StatusPastDue,
			NextChargeAt:        &next,
			ConsecutiveFailures: 2,
			CancelAtPeriodEnd:   true,
		}
		require.NoError(t, ApplyCancel(sub, "customer request", true, at))
		assert.Equal(t, models.StatusCancelled, sub.Status)
		assert.Equal(t, 0, sub.ConsecutiveFailures)
		assert.Nil(t, sub.NextChargeAt)
		assert.False(t, sub.CancelAtPeriodEnd)
		require.NotNil(t, sub.CancelledAt)
		assert.Equal(t, at, *sub.CancelledAt)
		assert.Equal(t, "customer request", sub.CancellationReason)
	})

	t.Run("ceiling keeps failures", func(t *testing.T) {
		sub := &models.Subscription{
			ID:                  "sub_2",
			Status:              models.StatusPastDue,
			NextChargeAt:        &next,
			ConsecutiveFailures: 3,
		}
		require.NoError(t, ApplyCancel(sub, "retries exhausted", false, at))
		assert.Equal(t, 3, sub.ConsecutiveFailures)
	})

	t.Run("paused clears pre-suspend status", func(t *testing.T) {
		sub := &models.Subscription{ID: "sub_3", Status: models.StatusPaused, PreSuspendStatus: &paused}
		require.NoError(t, ApplyCancel(sub, "", true, at))
		assert.Nil(t, sub.PreSuspendStatus)
	})

	t.Run("already cancelled", func(t *testing.T) {
		sub := &models.Subscription{ID: "sub_4", Status: models.StatusCancelled}
		err := ApplyCancel(sub, "", true, at)
		assert.True(t, ierr.IsInvalidState(err))
	})
}
