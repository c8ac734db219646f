// Package gateway charges recurring amounts against stored payment methods.
package gateway

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// ChargeRequest asks the gateway to collect one renewal
type ChargeRequest struct {
	SubscriptionID         string          `json:"subscription_id"`
	CustomerGatewayRef     string          `json:"customer_gateway_ref"`
	SubscriptionGatewayRef string          `json:"subscription_gateway_ref"`
	Amount                 decimal.Decimal `json:"amount"`
	Currency               string          `json:"currency"`
	IdempotencyKey         string          `json:"idempotency_key"`
}

// ChargeResult is the settlement outcome. A decline is a result with
// Succeeded=false, not an error.
type ChargeResult struct {
	Succeeded     bool   `json:"succeeded"`
	Reference     string `json:"reference,omitempty"`
	FailureCode   string `json:"failure_code,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Gateway charges a customer. A returned error means the outcome is
// unknown (network, timeout, bad response); callers treat it as a failure.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// CancelSyncer mirrors a local cancellation to the external gateway
type CancelSyncer interface {
	CancelSubscription(ctx context.Context, subscriptionGatewayRef string) error
}

// PauseSyncer mirrors local pause and resume to the external gateway
type PauseSyncer interface {
	PauseSubscription(ctx context.Context, subscriptionGatewayRef string) error
	ResumeSubscription(ctx context.Context, subscriptionGatewayRef string) error
}

// Failure codes produced by the engine itself rather than the gateway
const (
	FailureCodeTimeout      = "timeout"
	FailureCodeNetworkError = "network_error"
	FailureCodeGatewayError = "gateway_error"
)

var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// ToMinorUnits converts an amount to the integer unit gateways expect
// (cents for USD, yen for JPY). Fractions below the minor unit round half up.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits is the inverse of ToMinorUnits
func FromMinorUnits(amount int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}
