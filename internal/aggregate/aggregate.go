// Package aggregate holds the read-only projections computed from ride rows.
// Every function is a single pass over its input and never mutates it.
package aggregate

import "github.com/example/taxi-booking/internal/models"

// DriverSummary is what a driver's dashboard shows.
type DriverSummary struct {
	// TotalEarnings counts completed rides whether or not they were paid.
	TotalEarnings float64 `json:"total_earnings"`
	// UnpaidEarnings is the part of TotalEarnings still awaiting payment.
	UnpaidEarnings  float64       `json:"unpaid_earnings"`
	CurrentBookings []models.Ride `json:"current_bookings"`
	CompletedRides  []models.Ride `json:"completed_rides"`
	Rating          RatingStats   `json:"rating"`
}

type RatingStats struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// SummarizeDriver keeps the input order in both ride lists.
func SummarizeDriver(rides []models.Ride) DriverSummary {
	s := DriverSummary{
		CurrentBookings: []models.Ride{},
		CompletedRides:  []models.Ride{},
	}
	var sum, n int
	for _, r := range rides {
		switch r.Status {
		case models.RideBooked:
			s.CurrentBookings = append(s.CurrentBookings, r)
		case models.RideCompleted:
			s.CompletedRides = append(s.CompletedRides, r)
			s.TotalEarnings += r.Price
			if !r.Paid() {
				s.UnpaidEarnings += r.Price
			}
		}
		if r.Rating != nil {
			sum += *r.Rating
			n++
		}
	}
	s.Rating = ratingStats(sum, n)
	return s
}

// TotalEarnings sums price over completed rides.
func TotalEarnings(rides []models.Ride) float64 {
	var total float64
	for _, r := range rides {
		if r.Status == models.RideCompleted {
			total += r.Price
		}
	}
	return total
}

// Ratings averages over rides that carry a rating; unrated rides are ignored.
func Ratings(rides []models.Ride) RatingStats {
	var sum, n int
	for _, r := range rides {
		if r.Rating != nil {
			sum += *r.Rating
			n++
		}
	}
	return ratingStats(sum, n)
}

func ratingStats(sum, n int) RatingStats {
	if n == 0 {
		return RatingStats{}
	}
	return RatingStats{Average: float64(sum) / float64(n), Count: n}
}

// CustomerRide decorates a ride with the actions its customer may take.
type CustomerRide struct {
	models.Ride
	CanPay     bool `json:"can_pay"`
	CanRate    bool `json:"can_rate"`
	CanCancel  bool `json:"can_cancel"`
	PaymentDue bool `json:"payment_due"`
}

func CustomerHistory(rides []models.Ride) []CustomerRide {
	out := make([]CustomerRide, 0, len(rides))
	for _, r := range rides {
		completed := r.Status == models.RideCompleted
		out = append(out, CustomerRide{
			Ride:       r,
			CanPay:     completed && !r.Paid(),
			CanRate:    completed && !r.Rated(),
			CanCancel:  r.Status == models.RideBooked,
			PaymentDue: !r.Paid() && r.Status != models.RideCancelled,
		})
	}
	return out
}
