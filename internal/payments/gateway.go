package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Charge is one ride payment. Amount is in the currency's minor unit.
type Charge struct {
	RideID     int64
	CustomerID string
	Amount     int64
	Currency   string
}

// IdempotencyKey is stable per ride so a retried payment never charges twice.
func (c Charge) IdempotencyKey() string { return fmt.Sprintf("ride-%d-payment", c.RideID) }

type Gateway interface {
	// Charge collects the payment and returns the gateway reference.
	Charge(ctx context.Context, c Charge) (string, error)
}

var ErrInvalidAmount = errors.New("payments: amount must be positive")

// MinorUnits converts a price to cents.
func MinorUnits(price float64) int64 { return int64(math.Round(price * 100)) }

// Dummy accepts every positive charge without moving money.
type Dummy struct{}

func (Dummy) Charge(_ context.Context, c Charge) (string, error) {
	if c.Amount <= 0 {
		return "", ErrInvalidAmount
	}
	return "dummy_" + c.IdempotencyKey(), nil
}
