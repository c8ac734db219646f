package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
)

// StripeGateway charges saved payment methods with off-session
// PaymentIntents. CustomerGatewayRef is the Stripe customer ID; the
// customer's default invoice payment method is used.
type StripeGateway struct {
	client *stripe.Client
}

func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{client: stripe.NewClient(secretKey, nil)}
}

func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.CustomerGatewayRef == "" {
		return &ChargeResult{FailureCode: "missing_customer", FailureReason: "no Stripe customer on subscription"}, nil
	}

	customer, err := g.client.V1Customers.Retrieve(ctx, req.CustomerGatewayRef, nil)
	if err != nil {
		if res, ok := stripeDecline(err); ok {
			return res, nil
		}
		return nil, fmt.Errorf("stripe: retrieve customer: %w", err)
	}
	if customer.InvoiceSettings == nil || customer.InvoiceSettings.DefaultPaymentMethod == nil {
		return &ChargeResult{FailureCode: "missing_payment_method", FailureReason: "customer has no default payment method"}, nil
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:        stripe.Int64(ToMinorUnits(req.Amount, req.Currency)),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Customer:      stripe.String(req.CustomerGatewayRef),
		PaymentMethod: stripe.String(customer.InvoiceSettings.DefaultPaymentMethod.ID),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
		Metadata: map[string]string{
			"subscription_id":          req.SubscriptionID,
			"gateway_subscription_ref": req.SubscriptionGatewayRef,
			"payment_type":             "renewal",
		},
	}
	params.SetIdempotencyKey(req.IdempotencyKey)

	intent, err := g.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		if res, ok := stripeDecline(err); ok {
			return res, nil
		}
		return nil, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return &ChargeResult{
			Reference:     intent.ID,
			FailureCode:   string(intent.Status),
			FailureReason: "payment intent not settled",
		}, nil
	}
	return &ChargeResult{Succeeded: true, Reference: intent.ID}, nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, ref string) error {
	_, err := g.client.V1Subscriptions.Cancel(ctx, ref, &stripe.SubscriptionCancelParams{})
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil
		}
		return fmt.Errorf("stripe: cancel subscription: %w", err)
	}
	return nil
}

// stripeDecline turns a card-level Stripe error into a decline result.
// API, auth and rate limit errors are left as errors.
func stripeDecline(err error) (*ChargeResult, bool) {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return nil, false
	}
	if stripeErr.Type != stripe.ErrorTypeCard && stripeErr.Code != stripe.ErrorCodeResourceMissing {
		return nil, false
	}

	code := string(stripeErr.Code)
	if stripeErr.DeclineCode != "" {
		code = string(stripeErr.DeclineCode)
	}
	return &ChargeResult{FailureCode: code, FailureReason: stripeErr.Msg}, true
}
