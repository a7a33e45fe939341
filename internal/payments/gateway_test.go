package payments

import (
	"context"
	"errors"
	"testing"
)

func TestDummyCharge(t *testing.T) {
	ref, err := Dummy{}.Charge(context.Background(), Charge{RideID: 42, Amount: 1500, Currency: "usd"})
	if err != nil {
		t.Fatal(err)
	}
	if ref != "dummy_ride-42-payment" {
		t.Fatalf("unexpected ref %q", ref)
	}
	if _, err := (Dummy{}).Charge(context.Background(), Charge{RideID: 1}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestMinorUnits(t *testing.T) {
	cases := map[float64]int64{10: 1000, 59: 5900, 12.5: 1250, 0.1 + 0.2: 30}
	for in, want := range cases {
		if got := MinorUnits(in); got != want {
			t.Errorf("MinorUnits(%v) = %d, want %d", in, got, want)
		}
	}
}
