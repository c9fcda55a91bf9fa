package matcher

import (
	"strings"

	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/units"

	"github.com/shopspring/decimal"
)

// Target is the computed side of a match: one accepted hose.
type Target struct {
	DispenserID string
	HoseID      string
	ProductCode string
	Quantities  units.Quantities
	Value       decimal.Decimal
}

// TargetFor builds a match target from a computed hose line.
func TargetFor(line *models.ComputedSaleLine) Target {
	return Target{
		DispenserID: line.DispenserID,
		HoseID:      line.HoseID,
		ProductCode: line.ProductCode,
		Quantities:  units.Quantities{Gallons: line.QuantityGallons, Liters: line.QuantityLiters},
		Value:       line.Value,
	}
}

// FindCorrespondingLine returns the index of the first unconsumed line of the
// target's product that corresponds to the target, and why it matched. A
// line corresponds when its quantity and declared value both agree within
// tolerance, or when its note or its parent entry's note mentions the
// dispenser or hose id (case-insensitive). It returns -1 and MatchNone when
// nothing corresponds. consumed may be nil or shorter than lines.
func FindCorrespondingLine(t Target, lines []models.SaleLine, consumed []bool, cfg *MatchingConfig) (int, MatchReason) {
	if cfg == nil {
		cfg = DefaultMatchingConfig()
	}

	for i, line := range lines {
		if i < len(consumed) && consumed[i] {
			continue
		}
		if line.ProductCode != t.ProductCode {
			continue
		}

		if quantityAndValueMatch(t, line, cfg) {
			return i, MatchQuantityValue
		}
		if cfg.EnableNoteMatching && notesMention(line, t.DispenserID, t.HoseID) {
			return i, MatchNote
		}
	}
	return -1, MatchNone
}

func quantityAndValueMatch(t Target, line models.SaleLine, cfg *MatchingConfig) bool {
	unit, err := units.Parse(line.Unit)
	if err != nil || !unit.IsVolume() {
		return false
	}
	qty := units.Round2(line.Quantity)
	if !models.CompareAmountsWithTolerance(qty, t.Quantities.In(unit), cfg.QuantityTolerance) {
		return false
	}
	return models.CompareAmountsWithTolerance(line.DeclaredValue(), t.Value, cfg.AmountTolerance)
}

func notesMention(line models.SaleLine, ids ...string) bool {
	for _, note := range []string{line.Note, line.ParentNote} {
		if note == "" {
			continue
		}
		lower := strings.ToLower(note)
		for _, id := range ids {
			id = strings.ToLower(strings.TrimSpace(id))
			if id != "" && strings.Contains(lower, id) {
				return true
			}
		}
	}
	return false
}

// Normalize turns declared allocations into shares. Each percentage is the
// allocation's part of the line's declared total, rounded to two decimals.
func Normalize(allocs []models.PaymentAllocation) []models.AllocationShare {
	if len(allocs) == 0 {
		return nil
	}
	total := models.SumAllocations(allocs)
	shares := make([]models.AllocationShare, 0, len(allocs))
	for _, a := range allocs {
		shares = append(shares, models.AllocationShare{
			Method:     models.NormalizeMethodCode(a.Method),
			Amount:     units.Round2(a.Amount),
			Percentage: units.Percentage(a.Amount, total),
			Note:       a.Note,
		})
	}
	return shares
}

// CheckLine compares the allocations of a line with its computed value and
// returns one warning naming the line when they disagree beyond tolerance.
func CheckLine(ref, productCode string, shares []models.AllocationShare, value decimal.Decimal, cfg *MatchingConfig) *models.Issue {
	if cfg == nil {
		cfg = DefaultMatchingConfig()
	}
	sum := models.SumShares(shares)
	if models.CompareAmountsWithTolerance(sum, value, cfg.AmountTolerance) {
		return nil
	}
	issue := models.NewWarning(models.IssueAllocationMismatch, ref,
		"allocations total %s but line value is %s", sum.StringFixed(2), value.StringFixed(2)).
		WithProduct(productCode).
		WithAmount(sum.Sub(value))
	return &issue
}
