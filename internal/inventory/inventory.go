// Package inventory checks sale quantities against tank levels and product
// stock, and converts tank height readings into levels.
//
// Checks are cumulative within one closure: two hoses drawing from the same
// tank, or two sale lines of the same product, are checked against what is
// left after the earlier lines. Nothing is written here. Accepted non-fuel
// lines yield a StockDecrement that the closure applies inside its commit
// transaction.
//
// Meter-based fuel sales are only checked against the tank; the tank level
// itself changes only through height readings. The two paths are reconciled
// independently because tanks are physically re-measured at every closure.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/store"
	"fuel-shift-reconciliation/internal/units"

	"github.com/shopspring/decimal"
)

// StockDecrement is a scheduled stock reduction for an accepted line.
type StockDecrement struct {
	ProductID   uint
	ProductCode string
	Quantity    decimal.Decimal
	Ref         string
}

// Checker tracks what earlier lines of the same closure already reserved.
type Checker struct {
	tanks      store.Tanks
	locationID uint

	tankReserved  map[uint]decimal.Decimal
	stockReserved map[uint]decimal.Decimal
}

// NewChecker creates a checker for one closure at one location.
func NewChecker(tanks store.Tanks, locationID uint) *Checker {
	return &Checker{
		tanks:         tanks,
		locationID:    locationID,
		tankReserved:  make(map[uint]decimal.Decimal),
		stockReserved: make(map[uint]decimal.Decimal),
	}
}

// FuelCheck is the outcome of checking a fuel line against its tank.
type FuelCheck struct {
	Tank      *models.Tank
	Available decimal.Decimal
	Shortfall decimal.Decimal
	Issue     *models.Issue
}

// CheckFuel verifies that the active tank of the line's product at this
// location holds the line's gallons on top of what earlier hoses drew.
// Store failures are returned as errors; shortages are reported in the result.
func (c *Checker) CheckFuel(ctx context.Context, line *models.ComputedSaleLine) (FuelCheck, error) {
	tank, err := c.tanks.FindActiveTank(ctx, line.ProductID, c.locationID)
	if errors.Is(err, store.ErrNotFound) {
		issue := models.NewError(models.IssueNoActiveTank, line.Ref,
			"no active tank for %s at location %d", line.ProductCode, c.locationID).WithProduct(line.ProductCode)
		return FuelCheck{Issue: &issue}, nil
	}
	if err != nil {
		return FuelCheck{}, fmt.Errorf("looking up tank for %s: %w", line.ProductCode, err)
	}

	available := tank.CurrentLevel.Sub(c.tankReserved[tank.ID])
	res := FuelCheck{Tank: tank, Available: available}
	if line.QuantityGallons.GreaterThan(available) {
		res.Shortfall = units.Round2(line.QuantityGallons.Sub(available))
		issue := models.NewError(models.IssueInsufficientTankLevel, line.Ref,
			"tank %d holds %s gal but %s gal were dispensed", tank.ID, available.StringFixed(2), line.QuantityGallons.StringFixed(2)).
			WithProduct(line.ProductCode).WithAmount(res.Shortfall)
		res.Issue = &issue
		return res, nil
	}

	c.tankReserved[tank.ID] = c.tankReserved[tank.ID].Add(line.QuantityGallons)
	line.TankID = tank.ID
	return res, nil
}

// CheckStock verifies that the product has qty (in its own unit) in stock on
// top of what earlier lines reserved. On success the quantity is reserved
// and the decrement to apply at commit is returned.
func (c *Checker) CheckStock(product *models.Product, qty decimal.Decimal, ref string) (*StockDecrement, *models.Issue) {
	available := product.CurrentStock.Sub(c.stockReserved[product.ID])
	if qty.GreaterThan(available) {
		issue := models.NewError(models.IssueInsufficientStock, ref,
			"insufficient stock for product %s: %s available, %s requested",
			product.Code, available.StringFixed(2), qty.StringFixed(2)).
			WithProduct(product.Code).WithAmount(units.Round2(qty.Sub(available)))
		return nil, &issue
	}

	c.stockReserved[product.ID] = c.stockReserved[product.ID].Add(qty)
	return &StockDecrement{ProductID: product.ID, ProductCode: product.Code, Quantity: qty, Ref: ref}, nil
}
