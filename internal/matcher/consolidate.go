package matcher

import (
	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/units"

	"github.com/shopspring/decimal"
)

// MethodAmount is the merged amount of one payment method.
type MethodAmount struct {
	Method string
	Amount decimal.Decimal
}

// Consolidate merges share lists by method code, summing amounts. Methods
// keep the order in which they were first seen.
func Consolidate(lists ...[]models.AllocationShare) []MethodAmount {
	var out []MethodAmount
	index := make(map[string]int)
	for _, list := range lists {
		for _, s := range list {
			add(&out, index, s.Method, s.Amount)
		}
	}
	return out
}

func add(out *[]MethodAmount, index map[string]int, method string, amount decimal.Decimal) {
	method = models.NormalizeMethodCode(method)
	if i, ok := index[method]; ok {
		(*out)[i].Amount = (*out)[i].Amount.Add(amount)
		return
	}
	index[method] = len(*out)
	*out = append(*out, MethodAmount{Method: method, Amount: amount})
}

// Total sums the merged amounts.
func Total(methods []MethodAmount) decimal.Decimal {
	total := decimal.Zero
	for _, m := range methods {
		total = total.Add(m.Amount)
	}
	return total
}

// ConsolidateShift merges the product breakdown with the shift-level
// payment summary. A summary flagged see_product_breakdown (or no summary at
// all) is replaced by the breakdown; otherwise the two are added per method.
// The declared total is the summary's explicit total when present, else the
// sum of the merged methods.
func ConsolidateShift(summary *models.PaymentSummary, breakdown []MethodAmount) ([]MethodAmount, decimal.Decimal) {
	if summary == nil || summary.SeeProductBreakdown {
		merged := append([]MethodAmount(nil), breakdown...)
		return merged, units.Round2(Total(merged))
	}

	var merged []MethodAmount
	index := make(map[string]int)
	for _, p := range summary.Payments {
		add(&merged, index, p.Method, p.Amount)
	}
	for _, b := range breakdown {
		add(&merged, index, b.Method, b.Amount)
	}

	declared := Total(merged)
	if summary.DeclaredTotal != nil {
		declared = *summary.DeclaredTotal
	}
	return merged, units.Round2(declared)
}

// SummaryDeclaresPayments reports whether the shift-level summary carries
// its own per-method figures rather than deferring to the product breakdown.
func SummaryDeclaresPayments(summary *models.PaymentSummary) bool {
	return summary != nil && !summary.SeeProductBreakdown && len(summary.Payments) > 0
}

// ProductLedger accumulates, per fuel product, the value computed from the
// hoses and the payments declared for it in consolidated mode.
type ProductLedger struct {
	order    []string
	computed map[string]decimal.Decimal
	declared map[string][]models.AllocationShare
}

// NewProductLedger creates an empty ledger.
func NewProductLedger() *ProductLedger {
	return &ProductLedger{
		computed: make(map[string]decimal.Decimal),
		declared: make(map[string][]models.AllocationShare),
	}
}

func (p *ProductLedger) touch(code string) {
	if _, ok := p.computed[code]; ok {
		return
	}
	if _, ok := p.declared[code]; ok {
		return
	}
	p.order = append(p.order, code)
}

// AddComputed adds the value of an accepted hose.
func (p *ProductLedger) AddComputed(code string, value decimal.Decimal) {
	p.touch(code)
	p.computed[code] = p.computed[code].Add(value)
}

// AddDeclared adds the payments declared for a product.
func (p *ProductLedger) AddDeclared(code string, shares []models.AllocationShare) {
	p.touch(code)
	p.declared[code] = append(p.declared[code], shares...)
}

// Declared returns the declared shares of a product.
func (p *ProductLedger) Declared(code string) []models.AllocationShare {
	return p.declared[code]
}

// Check warns about products sold through the hoses whose payments were not
// declared anywhere, and about products whose declared payments disagree
// with the computed value.
func (p *ProductLedger) Check(summaryDeclares bool, cfg *MatchingConfig) []models.Issue {
	if cfg == nil {
		cfg = DefaultMatchingConfig()
	}
	var issues []models.Issue
	for _, code := range p.order {
		computed := p.computed[code]
		shares, declared := p.declared[code]
		ref := "product:" + code

		if !declared {
			if computed.IsPositive() && !summaryDeclares {
				issues = append(issues, models.NewWarning(models.IssueMissingConsolidatedPayment, ref,
					"no consolidated payment declared for %s worth %s", code, computed.StringFixed(2)).WithProduct(code))
			}
			continue
		}
		if issue := CheckLine(ref, code, shares, computed, cfg); issue != nil {
			issues = append(issues, *issue)
		}
	}
	return issues
}
