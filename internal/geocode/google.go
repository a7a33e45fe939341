package geocode

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"
)

// GoogleProvider uses the Google Geocoding and Places text search APIs.
type GoogleProvider struct {
	client *maps.Client
}

func NewGoogleProvider(apiKey string) (*GoogleProvider, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create google maps client: %w", err)
	}
	return &GoogleProvider{client: c}, nil
}

func (g *GoogleProvider) ReverseGeocode(ctx context.Context, lat, lon float64) (Address, error) {
	if err := ValidateCoordinates(lat, lon); err != nil {
		return Address{}, err
	}
	res, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{LatLng: &maps.LatLng{Lat: lat, Lng: lon}})
	if err != nil {
		return Address{}, fmt.Errorf("reverse geocode: %w", err)
	}
	if len(res) == 0 || res[0].FormattedAddress == "" {
		return Address{}, ErrNoResult
	}
	loc := res[0].Geometry.Location
	return Address{Label: res[0].FormattedAddress, Lat: loc.Lat, Lon: loc.Lng}, nil
}

func (g *GoogleProvider) SearchPlaces(ctx context.Context, query string) ([]Candidate, error) {
	query, err := normalizeQuery(query)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.TextSearch(ctx, &maps.TextSearchRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("place search: %w", err)
	}
	out := make([]Candidate, 0, len(resp.Results))
	for _, r := range resp.Results {
		label := r.FormattedAddress
		if label == "" {
			label = r.Name
		}
		out = append(out, Candidate{
			PlaceID: r.PlaceID,
			Label:   label,
			Lat:     r.Geometry.Location.Lat,
			Lon:     r.Geometry.Location.Lng,
		})
	}
	return keepValid(out), nil
}
