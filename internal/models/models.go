package models

import "time"

type Role string

const (
	RoleNone     Role = ""
	RoleDriver   Role = "Driver"
	RoleCustomer Role = "Customer"
)

func (r Role) Valid() bool { return r == RoleDriver || r == RoleCustomer }

type RideStatus string

const (
	RideBooked    RideStatus = "booked"
	RideCompleted RideStatus = "completed"
	RideCancelled RideStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// Profile is one per account. Role is empty until the account owner picks one.
type Profile struct {
	ID          string    `json:"id"`
	FullName    string    `json:"full_name,omitempty"`
	Role        Role      `json:"role"`
	IsAvailable bool      `json:"is_available"`
	IsVerified  bool      `json:"is_verified"`
	ImageURL    string    `json:"image_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Ride struct {
	ID              int64         `json:"id"`
	CreatedAt       time.Time     `json:"created_at"`
	CustomerID      string        `json:"customer_id"`
	DriverID        string        `json:"driver_id"`
	Status          RideStatus    `json:"status"`
	PickupLocation  string        `json:"pickup_location"`
	DropoffLocation string        `json:"dropoff_location"`
	Price           float64       `json:"price"`
	Rating          *int          `json:"rating,omitempty"`
	Feedback        *string       `json:"feedback,omitempty"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	PaymentRef      string        `json:"payment_ref,omitempty"`
}

func (r Ride) Rated() bool { return r.Rating != nil }

func (r Ride) Paid() bool { return r.PaymentStatus == PaymentPaid }

// RecommendedDriver is a ranked projection produced by the recommendation
// provider. Order is meaningful and must be preserved.
type RecommendedDriver struct {
	ID            string  `json:"id"`
	FullName      string  `json:"full_name,omitempty"`
	AverageRating float64 `json:"average_rating"`
	RideCount     int     `json:"ride_count"`
	IsVerified    bool    `json:"is_verified"`
	ImageURL      string  `json:"image_url,omitempty"`
}
