package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// NominatimClient performs lookups against an OpenStreetMap Nominatim server.
type NominatimClient struct {
	Endpoint  string
	UserAgent string
	Limit     int
	Client    *http.Client
}

func NewNominatimClient(endpoint, userAgent string) *NominatimClient {
	return &NominatimClient{
		Endpoint:  strings.TrimRight(endpoint, "/"),
		UserAgent: userAgent,
		Limit:     5,
		Client:    &http.Client{Timeout: 3 * time.Second},
	}
}

type nominatimPlace struct {
	PlaceID     json.Number `json:"place_id"`
	DisplayName string      `json:"display_name"`
	Lat         string      `json:"lat"`
	Lon         string      `json:"lon"`
	Error       string      `json:"error"`
}

func (p nominatimPlace) coords() (float64, float64, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("nominatim lat %q: %w", p.Lat, err)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("nominatim lon %q: %w", p.Lon, err)
	}
	return lat, lon, nil
}

// ReverseGeocode queries /reverse for the address closest to lat,lon.
func (n *NominatimClient) ReverseGeocode(ctx context.Context, lat, lon float64) (Address, error) {
	if err := ValidateCoordinates(lat, lon); err != nil {
		return Address{}, err
	}
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	var out nominatimPlace
	if err := n.get(ctx, "/reverse", q, &out); err != nil {
		return Address{}, err
	}
	if out.Error != "" || out.DisplayName == "" {
		return Address{}, ErrNoResult
	}
	plat, plon, err := out.coords()
	if err != nil {
		return Address{}, err
	}
	if err := ValidateCoordinates(plat, plon); err != nil {
		return Address{}, err
	}
	return Address{Label: out.DisplayName, Lat: plat, Lon: plon}, nil
}

// SearchPlaces queries /search for free text.
func (n *NominatimClient) SearchPlaces(ctx context.Context, query string) ([]Candidate, error) {
	query, err := normalizeQuery(query)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(n.Limit))
	var out []nominatimPlace
	if err := n.get(ctx, "/search", q, &out); err != nil {
		return nil, err
	}
	cands := make([]Candidate, 0, len(out))
	for _, p := range out {
		lat, lon, err := p.coords()
		if err != nil {
			continue
		}
		cands = append(cands, Candidate{PlaceID: p.PlaceID.String(), Label: p.DisplayName, Lat: lat, Lon: lon})
	}
	return keepValid(cands), nil
}

func (n *NominatimClient) get(ctx context.Context, path string, q url.Values, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.Endpoint+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if n.UserAgent != "" {
		req.Header.Set("User-Agent", n.UserAgent)
	}
	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nominatim %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
