package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		ceiling  int
		want     Decision
	}{
		{"first failure", 1, 3, Decision{Action: ActionRetry, AfterDays: 3}},
		{"second failure", 2, 3, Decision{Action: ActionRetry, AfterDays: 3}},
		{"at ceiling", 3, 3, Decision{Action: ActionTerminate}},
		{"past ceiling", 5, 3, Decision{Action: ActionTerminate}},
		{"zero failures", 0, 3, Decision{Action: ActionRetry, AfterDays: 3}},
		{"ceiling one", 1, 1, Decision{Action: ActionTerminate}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.failures, tt.ceiling, 3))
		})
	}
}

func TestPolicyFlatDelay(t *testing.T) {
	p := NewPolicy(5, 2)
	for failures := 1; failures < 5; failures++ {
		d := p.Decide(failures)
		assert.False(t, d.IsTerminate())
		assert.Equal(t, 48*time.Hour, d.Delay())
	}
	assert.True(t, p.Decide(5).IsTerminate())
}

func TestIsFinalAttempt(t *testing.T) {
	p := DefaultPolicy()
	assert.False(t, p.IsFinalAttempt(0))
	assert.False(t, p.IsFinalAttempt(1))
	assert.True(t, p.IsFinalAttempt(2))
}

func TestClassifyDecline(t *testing.T) {
	assert.Equal(t, DeclineTypeHard, ClassifyDecline("expired_card"))
	assert.Equal(t, DeclineTypeHard, ClassifyDecline("card_declined"))
	assert.Equal(t, DeclineTypeSoft, ClassifyDecline("insufficient_funds"))
	assert.Equal(t, DeclineTypeSoft, ClassifyDecline("timeout"))
	assert.Equal(t, DeclineTypeSoft, ClassifyDecline("something_new"))
}
