// Package cashledger decides which cash movements a closure applies to the
// location's running cash balance and writes them.
package cashledger

import (
	"context"
	"fmt"

	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/store"
	"fuel-shift-reconciliation/internal/units"

	"github.com/shopspring/decimal"
)

// AutomaticConcept is the concept of the synthesized cash-from-sales entry.
const AutomaticConcept = "cash from sales"

// Plan is the set of cash movements a closure will apply.
type Plan struct {
	Applied   []models.CashEntryEffect
	Discarded []models.CashEntryEffect
	Inflows   decimal.Decimal
	Outflows  decimal.Decimal
	Issues    []models.Issue
}

// PlanEntries reconciles the automatic cash-from-sales inflow with the
// manually declared movements:
//
//   - no manual inflows: the automatic inflow is applied;
//   - a manual inflow equals the automatic one within tolerance: the
//     automatic inflow is dropped and the manual ones are applied;
//   - manual inflows exist but none matches: every inflow is discarded and a
//     warning raised, the difference has to be corrected out of band.
//
// Outflows always apply. A zero cashFromSales produces no automatic entry.
func PlanEntries(cashFromSales decimal.Decimal, movements []models.CashMovement, tolerance decimal.Decimal) Plan {
	if tolerance.IsZero() {
		tolerance = models.Tolerance
	}
	cashFromSales = units.Round2(cashFromSales)

	var auto *models.CashEntryEffect
	if !cashFromSales.IsZero() {
		auto = &models.CashEntryEffect{
			Type:      models.CashInflow,
			Amount:    cashFromSales,
			Concept:   AutomaticConcept,
			Automatic: true,
		}
	}

	var manualIn, manualOut []models.CashEntryEffect
	for _, m := range movements {
		e := models.CashEntryEffect{Type: m.Type, Amount: units.Round2(m.Amount), Concept: m.Concept, Detail: m.Detail}
		if m.Type == models.CashOutflow {
			manualOut = append(manualOut, e)
		} else {
			manualIn = append(manualIn, e)
		}
	}

	p := Plan{Inflows: decimal.Zero, Outflows: decimal.Zero}
	switch {
	case auto == nil:
		p.Applied = append(p.Applied, manualIn...)
	case len(manualIn) == 0:
		p.Applied = append(p.Applied, *auto)
	case anyMatches(manualIn, auto.Amount, tolerance):
		p.Applied = append(p.Applied, manualIn...)
		p.Discarded = append(p.Discarded, *auto)
	default:
		p.Discarded = append(p.Discarded, *auto)
		p.Discarded = append(p.Discarded, manualIn...)
		p.Issues = append(p.Issues, models.NewWarning(models.IssueCashEntriesDiscarded, "cash_movements",
			"declared cash inflows do not match cash from sales %s, no inflow was applied", auto.Amount.StringFixed(2)).
			WithAmount(sumEffects(manualIn).Sub(auto.Amount)))
	}
	p.Applied = append(p.Applied, manualOut...)

	for _, e := range p.Applied {
		if e.Type == models.CashOutflow {
			p.Outflows = p.Outflows.Add(e.Amount)
		} else {
			p.Inflows = p.Inflows.Add(e.Amount)
		}
	}
	return p
}

func anyMatches(entries []models.CashEntryEffect, amount, tolerance decimal.Decimal) bool {
	for _, e := range entries {
		if models.CompareAmountsWithTolerance(e.Amount, amount, tolerance) {
			return true
		}
	}
	return false
}

func sumEffects(entries []models.CashEntryEffect) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

// Effect previews the plan against an opening balance.
func (p Plan) Effect(opening decimal.Decimal) models.CashLedgerEffect {
	return models.CashLedgerEffect{
		OpeningBalance: opening,
		ClosingBalance: opening.Add(p.Inflows).Sub(p.Outflows),
		TotalInflows:   p.Inflows,
		TotalOutflows:  p.Outflows,
		Applied:        append([]models.CashEntryEffect{}, p.Applied...),
		Discarded:      p.Discarded,
	}
}

// Apply writes the plan inside the closure transaction. The location's
// ledger is created with a zero balance when missing.
func Apply(ctx context.Context, uow store.UnitOfWork, locationID uint, shiftID *uint, p Plan) (models.CashLedgerEffect, error) {
	ledger, err := uow.GetOrCreateCashLedger(ctx, locationID)
	if err != nil {
		return models.CashLedgerEffect{}, fmt.Errorf("loading cash ledger: %w", err)
	}

	effect := p.Effect(ledger.Balance)
	effect.LedgerID = ledger.ID
	if len(p.Applied) == 0 {
		return effect, nil
	}

	entries := make([]models.CashLedgerEntry, 0, len(p.Applied))
	for _, e := range p.Applied {
		entries = append(entries, models.CashLedgerEntry{
			LedgerID:  ledger.ID,
			ShiftID:   shiftID,
			Type:      e.Type,
			Amount:    e.Amount,
			Concept:   e.Concept,
			Detail:    e.Detail,
			Automatic: e.Automatic,
		})
	}
	if err := uow.AppendCashEntries(ctx, entries); err != nil {
		return models.CashLedgerEffect{}, fmt.Errorf("appending cash entries: %w", err)
	}
	if err := uow.UpdateCashBalance(ctx, ledger.ID, effect.ClosingBalance); err != nil {
		return models.CashLedgerEffect{}, fmt.Errorf("updating cash balance: %w", err)
	}
	return effect, nil
}
