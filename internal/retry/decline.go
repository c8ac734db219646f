package retry

// DeclineType represents the type of payment decline
type DeclineType string

const (
	DeclineTypeSoft DeclineType = "soft" // Temporary issue
	DeclineTypeHard DeclineType = "hard" // Permanent issue
)

var hardDeclines = map[string]bool{
	"card_declined":           true,
	"invalid_card":            true,
	"expired_card":            true,
	"card_not_supported":      true,
	"invalid_account":         true,
	"currency_not_supported":  true,
	"fraud_detected":          true,
	"stolen_card":             true,
	"lost_card":               true,
	"pickup_card":             true,
	"invalid_amount":          true,
	"do_not_honor":            true,
	"account_closed":          true,
	"insufficient_permission": true,
}

// ClassifyDecline labels a gateway failure code as soft or hard. The label
// is reported in notifications and metrics; it never changes the retry
// decision. Unknown codes are soft.
func ClassifyDecline(failureCode string) DeclineType {
	if hardDeclines[failureCode] {
		return DeclineTypeHard
	}
	return DeclineTypeSoft
}
