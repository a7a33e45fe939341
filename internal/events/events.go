package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/taxi-booking/internal/models"
)

type Type string

const (
	RideBooked    Type = "ride.booked"
	RideCompleted Type = "ride.completed"
	RidePaid      Type = "ride.paid"
	RideRated     Type = "ride.rated"
	RideCancelled Type = "ride.cancelled"
)

// RideEvent carries the full row after the change so consumers can apply it
// without reading the store.
type RideEvent struct {
	ID   string      `json:"id"`
	Type Type        `json:"type"`
	Ride models.Ride `json:"ride"`
	At   time.Time   `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e RideEvent) error
}

// Nop discards events. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, RideEvent) error { return nil }

var ErrMalformed = errors.New("events: malformed ride event")

// Decode parses a published event and rejects ones a consumer cannot apply.
func Decode(b []byte) (RideEvent, error) {
	var e RideEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return RideEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch e.Type {
	case RideBooked, RideCompleted, RidePaid, RideRated, RideCancelled:
	default:
		return RideEvent{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, e.Type)
	}
	if e.Ride.ID <= 0 || e.Ride.CustomerID == "" || e.Ride.DriverID == "" {
		return RideEvent{}, fmt.Errorf("%w: incomplete ride", ErrMalformed)
	}
	return e, nil
}
