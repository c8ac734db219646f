package retry

import "time"

// Action is what the engine does after a failed renewal charge
type Action string

const (
	ActionRetry     Action = "retry"
	ActionTerminate Action = "terminate"
)

// Decision is the outcome of Policy.Decide
type Decision struct {
	Action    Action `json:"action"`
	AfterDays int    `json:"after_days,omitempty"`
}

func (d Decision) IsTerminate() bool {
	return d.Action == ActionTerminate
}

// Delay converts AfterDays into a duration
func (d Decision) Delay() time.Duration {
	return time.Duration(d.AfterDays) * 24 * time.Hour
}

// Policy decides between another attempt and termination. The delay is
// flat: every retry waits the same number of days.
type Policy struct {
	Ceiling        int `json:"ceiling"`
	RetryDelayDays int `json:"retry_delay_days"`
}

// DefaultPolicy returns 3 attempts, 3 days apart
func DefaultPolicy() Policy {
	return Policy{Ceiling: 3, RetryDelayDays: 3}
}

func NewPolicy(ceiling, retryDelayDays int) Policy {
	return Policy{Ceiling: ceiling, RetryDelayDays: retryDelayDays}
}

// Decide applies the policy to the current consecutive failure count
func (p Policy) Decide(failureCount int) Decision {
	return Decide(failureCount, p.Ceiling, p.RetryDelayDays)
}

// Decide returns Retry(afterDays) while failureCount < ceiling and
// Terminate once the ceiling is reached.
func Decide(failureCount, ceiling, afterDays int) Decision {
	if failureCount < ceiling {
		return Decision{Action: ActionRetry, AfterDays: afterDays}
	}
	return Decision{Action: ActionTerminate}
}

// IsFinalAttempt reports whether the next failure will terminate
func (p Policy) IsFinalAttempt(failureCount int) bool {
	return failureCount+1 >= p.Ceiling
}
