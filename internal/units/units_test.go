package units

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    Unit
		wantErr bool
	}{
		{"galones", Gallons, false},
		{"Galón", Gallons, false},
		{" GAL ", Gallons, false},
		{"litros", Liters, false},
		{"L", Liters, false},
		{"lts.", Liters, false},
		{"unidades", Pieces, false},
		{"pza", Pieces, false},
		{"barrels", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				var unknown *UnknownUnitError
				if !errors.As(err, &unknown) {
					t.Fatalf("expected UnknownUnitError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestGallonsToLitersScenario(t *testing.T) {
	// 50 gal * 3.78541 = 189.2705 -> 189.27
	got := GallonsToLiters(d("50"))
	if !got.Equal(d("189.27")) {
		t.Errorf("expected 189.27, got %s", got)
	}

	value := Round2(got.Mul(d("4.00")))
	if !value.Equal(d("757.08")) {
		t.Errorf("expected 757.08, got %s", value)
	}
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name    string
		qty     string
		from    Unit
		to      Unit
		want    string
		wantErr bool
	}{
		{"same unit rounds", "10.456", Liters, Liters, "10.46", false},
		{"gallons to liters", "10", Gallons, Liters, "37.85", false},
		{"liters to gallons", "37.85", Liters, Gallons, "10", false},
		{"pieces identity", "3", Pieces, Pieces, "3", false},
		{"pieces to liters", "3", Pieces, Liters, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(d(tt.qty), tt.from, tt.to)
			if tt.wantErr {
				var incompatible *IncompatibleUnitsError
				if !errors.As(err, &incompatible) {
					t.Fatalf("expected IncompatibleUnitsError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(d(tt.want)) {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRoundTripKeepsSourceQuantity(t *testing.T) {
	tolerance := d("0.01")
	for _, raw := range []string{"0.5", "1", "12.34", "100", "189.27", "999.99", "4321.05"} {
		liters := d(raw)

		q, err := Both(liters, Liters)
		if err != nil {
			t.Fatalf("Both(%s): %v", raw, err)
		}
		if !q.Liters.Equal(liters) {
			t.Errorf("%s: source quantity changed to %s", raw, q.Liters)
		}

		// Converting the rounded gallon figure back lands within 0.01 of
		// the original for the two-decimal values recorded at the pump, and
		// never further than half a hundredth of a gallon expressed in liters.
		back := GallonsToLiters(q.Gallons)
		diff := back.Sub(liters).Abs()
		maxDrift := Round2(d("0.005").Mul(LitersPerGallon)).Add(tolerance)
		if diff.GreaterThan(maxDrift) {
			t.Errorf("%s: round trip drifted by %s", raw, diff)
		}
	}

	for _, raw := range []string{"100", "189.27", "37.85"} {
		q, _ := Both(d(raw), Liters)
		back := GallonsToLiters(q.Gallons)
		if back.Sub(d(raw)).Abs().GreaterThan(tolerance) {
			t.Errorf("%s: expected round trip within 0.01, got %s", raw, back)
		}
	}
}

func TestPriceIn(t *testing.T) {
	perGallon, err := PriceIn(d("4.00"), Liters, Gallons)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !perGallon.Equal(d("15.14")) {
		t.Errorf("expected 15.14 per gallon, got %s", perGallon)
	}

	perLiter, err := PriceIn(d("15.14"), Gallons, Liters)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !perLiter.Equal(d("4")) {
		t.Errorf("expected 4.00 per liter, got %s", perLiter)
	}

	if _, err := PriceIn(d("1"), Pieces, Liters); err == nil {
		t.Error("expected error pricing pieces in liters")
	}
}

func TestPercentage(t *testing.T) {
	if got := Percentage(d("25"), d("200")); !got.Equal(d("12.5")) {
		t.Errorf("expected 12.5, got %s", got)
	}
	if got := Percentage(d("1"), d("3")); !got.Equal(d("33.33")) {
		t.Errorf("expected 33.33, got %s", got)
	}
	if got := Percentage(d("1"), decimal.Zero); !got.IsZero() {
		t.Errorf("expected zero for empty whole, got %s", got)
	}
}
