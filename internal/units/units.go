// Package units converts meter and stock quantities between the volume units
// used at the forecourt and rounds every derived figure to two decimals.
//
// Rounding happens immediately after each conversion so that totals built
// from converted quantities are reproducible line by line.
package units

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Unit is a normalized measurement unit.
type Unit string

const (
	// Liters is the metric volume unit.
	Liters Unit = "litros"
	// Gallons is the US liquid gallon.
	Gallons Unit = "galones"
	// Pieces counts discrete store items.
	Pieces Unit = "unidades"
)

// Precision is the number of decimals kept after every derivation step.
const Precision int32 = 2

// LitersPerGallon is the fixed conversion factor between gallons and liters.
var LitersPerGallon = decimal.RequireFromString("3.78541")

var aliases = map[string]Unit{
	"litros":   Liters,
	"litro":    Liters,
	"liters":   Liters,
	"liter":    Liters,
	"litres":   Liters,
	"l":        Liters,
	"lt":       Liters,
	"lts":      Liters,
	"galones":  Gallons,
	"galon":    Gallons,
	"gallons":  Gallons,
	"gallon":   Gallons,
	"gal":      Gallons,
	"g":        Gallons,
	"unidades": Pieces,
	"unidad":   Pieces,
	"units":    Pieces,
	"unit":     Pieces,
	"u":        Pieces,
	"pza":      Pieces,
	"pzas":     Pieces,
}

// UnknownUnitError is returned when a unit string cannot be normalized.
type UnknownUnitError struct {
	Value string
}

func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("unknown unit %q", e.Value)
}

// IncompatibleUnitsError is returned when converting between a volume unit and a count unit.
type IncompatibleUnitsError struct {
	From, To Unit
}

func (e *IncompatibleUnitsError) Error() string {
	return fmt.Sprintf("cannot convert %s to %s", e.From, e.To)
}

// Parse normalizes a free-form unit string. Accents on "galón" are tolerated.
func Parse(s string) (Unit, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("ó", "o", "í", "i", ".", "").Replace(key)
	if u, ok := aliases[key]; ok {
		return u, nil
	}
	return "", &UnknownUnitError{Value: s}
}

// IsVolume reports whether the unit measures volume.
func (u Unit) IsVolume() bool {
	return u == Liters || u == Gallons
}

// String returns the canonical unit name.
func (u Unit) String() string {
	return string(u)
}

// Round2 rounds to the package precision.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(Precision)
}

// GallonsToLiters converts and rounds.
func GallonsToLiters(gallons decimal.Decimal) decimal.Decimal {
	return Round2(gallons.Mul(LitersPerGallon))
}

// LitersToGallons converts and rounds.
func LitersToGallons(liters decimal.Decimal) decimal.Decimal {
	return Round2(liters.Div(LitersPerGallon))
}

// Convert converts a quantity between two units and rounds the result.
// Same-unit conversion only rounds.
func Convert(qty decimal.Decimal, from, to Unit) (decimal.Decimal, error) {
	if from == to {
		return Round2(qty), nil
	}
	switch {
	case from == Gallons && to == Liters:
		return GallonsToLiters(qty), nil
	case from == Liters && to == Gallons:
		return LitersToGallons(qty), nil
	default:
		return decimal.Zero, &IncompatibleUnitsError{From: from, To: to}
	}
}

// Quantities holds one quantity expressed in both volume units.
type Quantities struct {
	Gallons decimal.Decimal
	Liters  decimal.Decimal
}

// Both expresses a volume quantity in gallons and liters. The source unit
// value is kept as given (rounded); only the other side is derived.
func Both(qty decimal.Decimal, from Unit) (Quantities, error) {
	switch from {
	case Gallons:
		return Quantities{Gallons: Round2(qty), Liters: GallonsToLiters(Round2(qty))}, nil
	case Liters:
		return Quantities{Gallons: LitersToGallons(Round2(qty)), Liters: Round2(qty)}, nil
	default:
		return Quantities{}, &IncompatibleUnitsError{From: from, To: Liters}
	}
}

// In returns the quantity expressed in the requested volume unit.
func (q Quantities) In(u Unit) decimal.Decimal {
	if u == Gallons {
		return q.Gallons
	}
	return q.Liters
}

// PriceIn re-expresses a unit price quoted per `per` as a price per `target`.
// A price per liter becomes a price per gallon by multiplying by the factor.
func PriceIn(price decimal.Decimal, per, target Unit) (decimal.Decimal, error) {
	if per == target {
		return Round2(price), nil
	}
	switch {
	case per == Liters && target == Gallons:
		return Round2(price.Mul(LitersPerGallon)), nil
	case per == Gallons && target == Liters:
		return Round2(price.Div(LitersPerGallon)), nil
	default:
		return decimal.Zero, &IncompatibleUnitsError{From: per, To: target}
	}
}

// Other returns the opposite volume unit.
func (u Unit) Other() Unit {
	switch u {
	case Gallons:
		return Liters
	case Liters:
		return Gallons
	default:
		return u
	}
}

// Percentage returns part/whole*100 rounded, or zero when whole is zero.
func Percentage(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return Round2(part.Div(whole).Mul(decimal.NewFromInt(100)))
}
