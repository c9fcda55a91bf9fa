// Package matcher pairs computed hose deltas with declared payment allocations.
//
// Payments reach the closure in two ways: declared on the hose itself, or as
// product-sale lines that have to be associated with a hose after the fact.
// The association is heuristic, so it is kept in one pure function,
// FindCorrespondingLine, with a fixed tie-break: the first candidate in input
// order wins.
//
// The package also normalizes allocations into method/amount/percentage
// shares and merges them into the shift-level payment totals:
//
//	cfg := matcher.DefaultMatchingConfig()
//	idx, reason := matcher.FindCorrespondingLine(target, lines, consumed, cfg)
//	if reason != matcher.MatchNone {
//		shares := matcher.Normalize(lines[idx].Payments)
//		...
//	}
//	methods, declared := matcher.ConsolidateShift(req.PaymentSummary, breakdown)
package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MatchReason records why a product-sale line was paired with a hose.
type MatchReason int

const (
	// MatchNone means no candidate line corresponds to the hose.
	MatchNone MatchReason = iota

	// MatchQuantityValue means quantity and value both agree within tolerance.
	MatchQuantityValue

	// MatchNote means the line or its parent entry mentions the dispenser or hose.
	MatchNote
)

// String returns the string representation of MatchReason
func (r MatchReason) String() string {
	switch r {
	case MatchQuantityValue:
		return "quantity_value"
	case MatchNote:
		return "note"
	case MatchNone:
		return "none"
	default:
		return "unknown"
	}
}

// MatchingConfig holds the tolerances used when pairing and checking allocations.
type MatchingConfig struct {
	// QuantityTolerance bounds the quantity difference between a hose and a sale line
	QuantityTolerance decimal.Decimal `json:"quantity_tolerance"`

	// AmountTolerance bounds every currency comparison
	AmountTolerance decimal.Decimal `json:"amount_tolerance"`

	// EnableNoteMatching allows pairing through free-text notes
	EnableNoteMatching bool `json:"enable_note_matching"`
}

// DefaultMatchingConfig returns the configuration used by station closures.
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		QuantityTolerance:  decimal.RequireFromString("0.01"),
		AmountTolerance:    decimal.RequireFromString("0.01"),
		EnableNoteMatching: true,
	}
}

// StrictMatchingConfig only pairs lines whose figures agree exactly.
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		QuantityTolerance:  decimal.Zero,
		AmountTolerance:    decimal.Zero,
		EnableNoteMatching: false,
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.QuantityTolerance.IsNegative() {
		return fmt.Errorf("quantity tolerance cannot be negative: %s", mc.QuantityTolerance)
	}

	if mc.AmountTolerance.IsNegative() {
		return fmt.Errorf("amount tolerance cannot be negative: %s", mc.AmountTolerance)
	}

	one := decimal.NewFromInt(1)
	if mc.AmountTolerance.GreaterThan(one) || mc.QuantityTolerance.GreaterThan(one) {
		return fmt.Errorf("tolerances above 1.00 hide real discrepancies: quantity=%s amount=%s",
			mc.QuantityTolerance, mc.AmountTolerance)
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	c := *mc
	return &c
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{QuantityTolerance: %s, AmountTolerance: %s, NoteMatching: %t}",
		mc.QuantityTolerance, mc.AmountTolerance, mc.EnableNoteMatching)
}
