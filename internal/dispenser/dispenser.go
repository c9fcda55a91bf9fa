// Package dispenser turns hose meter readings into priced sale quantities.
//
// For every hose the calculator looks up the product, checks that the meter
// moved forward, and expresses the sold volume in gallons and liters. A
// negative delta or an unknown product rejects only that hose; a zero delta
// is reported as a warning and has no further effect.
//
// Example usage:
//
//	calc := dispenser.NewCalculator(catalog)
//	res, err := calc.Calculate(ctx, "D1", reading)
//	if err != nil {
//		return err // store failure, not a line problem
//	}
//	if res.Status == models.HoseOK {
//		lines = append(lines, *res.Line)
//	}
package dispenser

import (
	"context"
	"errors"
	"fmt"

	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/store"
	"fuel-shift-reconciliation/internal/units"

	"github.com/shopspring/decimal"
)

// Result is the outcome of one hose reading.
type Result struct {
	Ref         string
	DispenserID string
	Reading     models.HoseReading
	Product     *models.Product
	Status      models.HoseStatus
	Delta       decimal.Decimal
	Line        *models.ComputedSaleLine
	Issues      []models.Issue
}

// Summary converts the result into its reporting form.
func (r Result) Summary() models.HoseSummary {
	return models.HoseSummary{
		HoseID:          r.Reading.HoseID,
		ProductCode:     r.Reading.ProductCode,
		PreviousReading: r.Reading.PreviousReading,
		CurrentReading:  r.Reading.CurrentReading,
		Delta:           r.Delta,
		Status:          r.Status,
		Line:            r.Line,
	}
}

// Calculator computes hose deltas against the product catalog.
type Calculator struct {
	catalog store.Catalog
}

// NewCalculator creates a calculator backed by the given catalog.
func NewCalculator(catalog store.Catalog) *Calculator {
	return &Calculator{catalog: catalog}
}

// HoseRef names a hose in issues, for example "D1/H2".
func HoseRef(dispenserID, hoseID string) string {
	return fmt.Sprintf("%s/%s", dispenserID, hoseID)
}

// Calculate processes one hose. The returned error is reserved for catalog
// failures; line problems are reported through Result.Issues.
func (c *Calculator) Calculate(ctx context.Context, dispenserID string, h models.HoseReading) (Result, error) {
	res := Result{
		Ref:         HoseRef(dispenserID, h.HoseID),
		DispenserID: dispenserID,
		Reading:     h,
		Status:      models.HoseRejected,
	}

	product, err := c.catalog.FindProductByCode(ctx, h.ProductCode)
	if errors.Is(err, store.ErrNotFound) {
		res.Issues = append(res.Issues, models.NewError(models.IssueUnknownProduct, res.Ref,
			"product %s does not exist", h.ProductCode).WithProduct(h.ProductCode))
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("looking up product %s: %w", h.ProductCode, err)
	}
	res.Product = product

	line, issue := Compute(res.Ref, product, h)
	res.Delta = units.Round2(h.CurrentReading.Sub(h.PreviousReading))
	if issue != nil {
		res.Issues = append(res.Issues, *issue)
		if issue.Code == models.IssueZeroDelta {
			res.Status = models.HoseZeroDelta
		}
		return res, nil
	}

	line.DispenserID = dispenserID
	line.HoseID = h.HoseID
	res.Line = line
	res.Status = models.HoseOK
	return res, nil
}

// Compute prices a hose reading for a known product. It returns either a
// sale line or the single issue that stopped the hose.
func Compute(ref string, product *models.Product, h models.HoseReading) (*models.ComputedSaleLine, *models.Issue) {
	readingUnit, err := units.Parse(h.Unit)
	if err != nil {
		issue := models.NewError(models.IssueInvalidUnit, ref, "%v", err).WithProduct(product.Code)
		return nil, &issue
	}

	// Step 1: meter delta
	delta := units.Round2(h.CurrentReading.Sub(h.PreviousReading))
	if delta.IsNegative() {
		issue := models.NewError(models.IssueNegativeDelta, ref,
			"current reading %s is below previous reading %s", h.CurrentReading, h.PreviousReading).
			WithProduct(product.Code).WithAmount(delta)
		return nil, &issue
	}
	if delta.IsZero() {
		issue := models.NewWarning(models.IssueZeroDelta, ref, "meter did not move").WithProduct(product.Code)
		return nil, &issue
	}

	// Step 2: quantities in both volume units and in the product's own unit
	productUnit, err := units.Parse(product.Unit)
	if err != nil {
		issue := models.NewError(models.IssueInvalidUnit, ref, "product %s: %v", product.Code, err).WithProduct(product.Code)
		return nil, &issue
	}

	line := &models.ComputedSaleLine{
		Ref:         ref,
		Source:      models.SourceHose,
		ProductID:   product.ID,
		ProductCode: product.Code,
		IsFuel:      product.IsFuel,
		Unit:        productUnit.String(),
		UnitPrice:   units.Round2(product.SalePrice),
	}

	if readingUnit.IsVolume() {
		q, _ := units.Both(delta, readingUnit)
		line.QuantityGallons = q.Gallons
		line.QuantityLiters = q.Liters
	}

	qty, err := units.Convert(delta, readingUnit, productUnit)
	if err != nil {
		issue := models.NewError(models.IssueInvalidUnit, ref, "%v", err).WithProduct(product.Code)
		return nil, &issue
	}
	if readingUnit.IsVolume() && productUnit.IsVolume() {
		qty = units.Quantities{Gallons: line.QuantityGallons, Liters: line.QuantityLiters}.In(productUnit)
	}
	line.Quantity = qty

	// Step 3: price per unit and value
	if productUnit.IsVolume() {
		line.PricePerGallon, _ = units.PriceIn(product.SalePrice, productUnit, units.Gallons)
		line.PricePerLiter, _ = units.PriceIn(product.SalePrice, productUnit, units.Liters)
	}
	line.Value = units.Round2(qty.Mul(line.UnitPrice))

	return line, nil
}
