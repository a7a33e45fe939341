package payments

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeGateway charges rides through confirmed PaymentIntents.
type StripeGateway struct {
	paymentMethod string
}

// NewStripeGateway sets the stripe key. paymentMethod is the saved method to
// confirm with, e.g. "pm_card_visa" in test mode.
func NewStripeGateway(apiKey, paymentMethod string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{paymentMethod: paymentMethod}
}

func (s *StripeGateway) Charge(ctx context.Context, c Charge) (string, error) {
	if c.Amount <= 0 {
		return "", ErrInvalidAmount
	}
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(c.Amount),
		Currency:           stripe.String(c.Currency),
		PaymentMethod:      stripe.String(s.paymentMethod),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(c.IdempotencyKey())
	params.AddMetadata("ride_id", fmt.Sprint(c.RideID))
	params.AddMetadata("customer_id", c.CustomerID)
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return "", fmt.Errorf("payment intent %s: status %s", pi.ID, pi.Status)
	}
	return pi.ID, nil
}
