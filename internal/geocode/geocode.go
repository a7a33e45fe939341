// Package geocode turns coordinates into addresses and free text into place
// candidates. Provider payloads are mapped into the typed structs below and
// validated before they leave the package.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrInvalidCoordinates = errors.New("geocode: invalid coordinates")
	ErrEmptyQuery         = errors.New("geocode: empty query")
	ErrNoResult           = errors.New("geocode: no result")
)

type Address struct {
	Label string  `json:"label"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

type Candidate struct {
	PlaceID string  `json:"place_id"`
	Label   string  `json:"label"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

type Provider interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (Address, error)
	SearchPlaces(ctx context.Context, query string) ([]Candidate, error)
}

func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidCoordinates, lat, lon)
	}
	return nil
}

func normalizeQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", ErrEmptyQuery
	}
	return q, nil
}

// keepValid drops candidates without a label or with impossible coordinates.
func keepValid(in []Candidate) []Candidate {
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if strings.TrimSpace(c.Label) == "" || ValidateCoordinates(c.Lat, c.Lon) != nil {
			continue
		}
		out = append(out, c)
	}
	return out
}
