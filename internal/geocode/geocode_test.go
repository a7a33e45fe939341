package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func nominatimServer(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("format") != "jsonv2" {
			t.Errorf("missing format param: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/reverse":
			if r.URL.Query().Get("lat") == "0.000000" {
				w.Write([]byte(`{"error":"Unable to geocode"}`))
				return
			}
			w.Write([]byte(`{"place_id":101,"display_name":"1 Main St, Springfield","lat":"40.7128","lon":"-74.0060"}`))
		case "/search":
			w.Write([]byte(`[
				{"place_id":1,"display_name":"Central Station","lat":"51.5","lon":"-0.12"},
				{"place_id":2,"display_name":"","lat":"51.5","lon":"-0.12"},
				{"place_id":3,"display_name":"Broken","lat":"north","lon":"-0.12"},
				{"place_id":4,"display_name":"Impossible","lat":"123","lon":"0"}
			]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestNominatimReverse(t *testing.T) {
	srv, _ := nominatimServer(t)
	c := NewNominatimClient(srv.URL, "taxi-booking-test")
	a, err := c.ReverseGeocode(context.Background(), 40.7128, -74.006)
	if err != nil {
		t.Fatal(err)
	}
	if a.Label != "1 Main St, Springfield" || a.Lat != 40.7128 || a.Lon != -74.006 {
		t.Fatalf("unexpected address: %+v", a)
	}
	if _, err := c.ReverseGeocode(context.Background(), 0, 0); !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
}

func TestNominatimRejectsBadInputBeforeCalling(t *testing.T) {
	srv, calls := nominatimServer(t)
	c := NewNominatimClient(srv.URL, "")
	if _, err := c.ReverseGeocode(context.Background(), 91, 0); !errors.Is(err, ErrInvalidCoordinates) {
		t.Fatalf("expected ErrInvalidCoordinates, got %v", err)
	}
	if _, err := c.SearchPlaces(context.Background(), "   "); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if *calls != 0 {
		t.Fatalf("expected no upstream calls, got %d", *calls)
	}
}

func TestNominatimSearchDropsInvalidRows(t *testing.T) {
	srv, _ := nominatimServer(t)
	c := NewNominatimClient(srv.URL, "")
	got, err := c.SearchPlaces(context.Background(), "station")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].PlaceID != "1" || got[0].Label != "Central Station" {
		t.Fatalf("unexpected candidates: %+v", got)
	}
}

func TestNominatimUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	c := NewNominatimClient(srv.URL, "")
	if _, err := c.SearchPlaces(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 429")
	}
}

type countingProvider struct {
	reverse, search int
}

func (p *countingProvider) ReverseGeocode(_ context.Context, lat, lon float64) (Address, error) {
	p.reverse++
	return Address{Label: "here", Lat: lat, Lon: lon}, nil
}

func (p *countingProvider) SearchPlaces(_ context.Context, q string) ([]Candidate, error) {
	p.search++
	return []Candidate{{PlaceID: "1", Label: q}}, nil
}

func TestCachedProvider(t *testing.T) {
	ctx := context.Background()
	p := &countingProvider{}
	c := NewCached(p, time.Minute)
	_, _ = c.ReverseGeocode(ctx, 51.50001, -0.12001)
	_, _ = c.ReverseGeocode(ctx, 51.50002, -0.12002)
	_, _ = c.SearchPlaces(ctx, "Airport")
	_, _ = c.SearchPlaces(ctx, " airport ")
	if p.reverse != 1 || p.search != 1 {
		t.Fatalf("expected one upstream call each, got reverse=%d search=%d", p.reverse, p.search)
	}
}

func TestCachedProviderExpires(t *testing.T) {
	ctx := context.Background()
	p := &countingProvider{}
	c := NewCached(p, time.Millisecond)
	_, _ = c.SearchPlaces(ctx, "a")
	time.Sleep(5 * time.Millisecond)
	_, _ = c.SearchPlaces(ctx, "a")
	if p.search != 2 {
		t.Fatalf("expected refetch after ttl, got %d calls", p.search)
	}
}

func TestCachedExpireKeepsRefreshedEntry(t *testing.T) {
	ctx := context.Background()
	p := &countingProvider{}
	c := NewCached(p, time.Minute)
	old := time.Now().Add(-time.Hour)
	c.search["a"] = cacheEntry[[]Candidate]{v: nil, ts: old}

	// another request refetched "a" after this one saw the stale entry
	store(c, c.search, "a", []Candidate{{PlaceID: "fresh"}})
	expire(c, c.search, "a", old)

	got, err := c.SearchPlaces(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if p.search != 0 || len(got) != 1 || got[0].PlaceID != "fresh" {
		t.Fatalf("refreshed entry evicted: calls=%d got=%+v", p.search, got)
	}

	expire(c, c.search, "a", c.search["a"].ts)
	if _, ok := lookup(c, c.search, "a"); ok {
		t.Fatal("expected entry with matching stamp to be dropped")
	}
}
