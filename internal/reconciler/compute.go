package reconciler

import (
	"context"
	stderrors "errors"
	"fmt"

	"fuel-shift-reconciliation/internal/cashledger"
	"fuel-shift-reconciliation/internal/dispenser"
	"fuel-shift-reconciliation/internal/finance"
	"fuel-shift-reconciliation/internal/inventory"
	"fuel-shift-reconciliation/internal/matcher"
	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/store"
	"fuel-shift-reconciliation/internal/units"

	"github.com/shopspring/decimal"
)

// run holds the in-memory state of one closure between compute and commit.
type run struct {
	engine       *Engine
	req          *models.ShiftClosureRequest
	result       *models.ClosureResult
	consolidated bool

	checker         *inventory.Checker
	saleLines       []models.SaleLine
	consumed        []bool
	ledger          *matcher.ProductLedger
	summaryDeclares bool

	shares   [][]models.AllocationShare
	computed decimal.Decimal
	accepted int

	meter     []models.MeterHistoryRecord
	sales     []models.SalesHistoryRecord
	stock     []inventory.StockDecrement
	tanks     []inventory.TankUpdate
	breakdown []models.PaymentBreakdownRecord
	cash      cashledger.Plan
	methodIDs map[string]*uint
}

func newRun(e *Engine, req *models.ShiftClosureRequest, consolidated bool) *run {
	lines := req.SaleLines()
	return &run{
		engine:       e,
		req:          req,
		consolidated: consolidated,
		result: &models.ClosureResult{
			ID:               req.LocationID,
			LocationID:       req.LocationID,
			ConsolidatedMode: consolidated,
			Dispensers:       []models.DispenserSummary{},
			ProductSales:     models.ProductSaleSummary{Lines: []models.ComputedSaleLine{}},
			Errors:           []models.Issue{},
			Warnings:         []models.Issue{},
		},
		checker:         inventory.NewChecker(e.store, req.LocationID),
		saleLines:       lines,
		consumed:        make([]bool, len(lines)),
		ledger:          matcher.NewProductLedger(),
		summaryDeclares: matcher.SummaryDeclaresPayments(req.PaymentSummary),
		methodIDs:       make(map[string]*uint),
	}
}

func (r *run) add(issue models.Issue) {
	r.result.AddIssue(issue)
	r.engine.observer.IssueRecorded(r.req.LocationID, issue)
}

func (r *run) addAll(issues []models.Issue) {
	for _, issue := range issues {
		r.add(issue)
	}
}

func (r *run) matching() *matcher.MatchingConfig {
	return r.engine.config.Matching
}

// compute runs every calculation without writing anything. The returned
// error is reserved for store failures and cancellation.
func (r *run) compute(ctx context.Context) error {
	if err := r.processDispensers(ctx); err != nil {
		return err
	}
	if err := r.processProductSales(ctx); err != nil {
		return err
	}
	if r.consolidated {
		r.addAll(r.ledger.Check(r.summaryDeclares, r.matching()))
	}
	if err := r.processTanks(ctx); err != nil {
		return err
	}
	if err := r.reconcileFinances(ctx); err != nil {
		return err
	}
	r.checkTransactionCount()
	r.planCash()
	return nil
}

func (r *run) processDispensers(ctx context.Context) error {
	for _, d := range r.req.Dispensers {
		summary := models.DispenserSummary{DispenserID: d.DispenserID, Hoses: []models.HoseSummary{}}
		for _, h := range d.Hoses {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := r.engine.calculator.Calculate(ctx, d.DispenserID, h)
			if err != nil {
				return err
			}
			r.addAll(res.Issues)

			hose := res.Summary()
			if res.Status == models.HoseOK {
				ok, err := r.acceptHose(ctx, res, &hose)
				if err != nil {
					return err
				}
				if ok {
					summary.TotalGallons = summary.TotalGallons.Add(res.Line.QuantityGallons)
					summary.TotalLiters = summary.TotalLiters.Add(res.Line.QuantityLiters)
					summary.TotalValue = summary.TotalValue.Add(res.Line.Value)
				}
			}
			summary.Hoses = append(summary.Hoses, hose)
		}
		r.result.Dispensers = append(r.result.Dispensers, summary)
	}
	return nil
}

// acceptHose checks inventory for a priced hose and, when it passes,
// attaches payments and schedules its meter history row.
func (r *run) acceptHose(ctx context.Context, res dispenser.Result, hose *models.HoseSummary) (bool, error) {
	line := res.Line
	reject := func(issue models.Issue) {
		r.add(issue)
		hose.Status = models.HoseRejected
		hose.Line = nil
	}

	if line.IsFuel {
		check, err := r.checker.CheckFuel(ctx, line)
		if err != nil {
			return false, err
		}
		if check.Issue != nil {
			reject(*check.Issue)
			if check.Tank != nil {
				shortfall := check.Shortfall
				hose.Shortfall = &shortfall
			}
			return false, nil
		}
	} else {
		dec, issue := r.checker.CheckStock(res.Product, line.Quantity, line.Ref)
		if issue != nil {
			reject(*issue)
			return false, nil
		}
		r.stock = append(r.stock, *dec)
	}

	r.allocateHose(res.Reading, line)
	r.computed = r.computed.Add(line.Value)
	r.accepted++
	r.meter = append(r.meter, models.MeterHistoryRecord{
		LocationID:      r.req.LocationID,
		DispenserID:     line.DispenserID,
		HoseID:          line.HoseID,
		ProductID:       line.ProductID,
		PreviousReading: res.Reading.PreviousReading,
		CurrentReading:  res.Reading.CurrentReading,
		Unit:            line.Unit,
		Quantity:        line.Quantity,
		QuantityGallons: line.QuantityGallons,
		QuantityLiters:  line.QuantityLiters,
		UnitPrice:       line.UnitPrice,
		Value:           line.Value,
		OperationType:   models.OperationShiftClose,
		OperatorID:      r.req.OperatorID,
		RecordedAt:      r.req.ShiftEnd,
	})
	return true, nil
}

// allocateHose attaches payment shares to an accepted hose line, either
// from the hose itself or from the first product-sale line matching it.
// In consolidated mode hose payments are ignored and the value goes to the
// product ledger instead.
func (r *run) allocateHose(h models.HoseReading, line *models.ComputedSaleLine) {
	if r.consolidated {
		if len(h.Payments) > 0 {
			r.add(models.NewWarning(models.IssueHoseAllocationsIgnored, line.Ref,
				"consolidated payment mode: %d payments declared on the hose were ignored", len(h.Payments)).
				WithProduct(line.ProductCode))
		}
		line.AllocationSource = models.AllocationsConsolidated
		r.ledger.AddComputed(line.ProductCode, line.Value)
		return
	}

	if len(h.Payments) > 0 {
		line.Allocations = matcher.Normalize(h.Payments)
		line.AllocationSource = models.AllocationsFromHose
	} else if idx, reason := matcher.FindCorrespondingLine(matcher.TargetFor(line), r.saleLines, r.consumed, r.matching()); reason != matcher.MatchNone {
		r.consumed[idx] = true
		matched := r.saleLines[idx]
		line.Allocations = matcher.Normalize(matched.Payments)
		line.AllocationSource = models.AllocationsMatched
		line.MatchedLine = matched.Ref()
	} else {
		line.AllocationSource = models.AllocationsNone
		if !r.summaryDeclares {
			r.add(models.NewWarning(models.IssueMissingAllocations, line.Ref,
				"no payments declared or matched for %s worth %s", line.ProductCode, line.Value.StringFixed(2)).
				WithProduct(line.ProductCode))
		}
		return
	}

	if issue := matcher.CheckLine(line.Ref, line.ProductCode, line.Allocations, line.Value, r.matching()); issue != nil {
		r.add(*issue)
	}
	r.shares = append(r.shares, line.Allocations)
}

func (r *run) processProductSales(ctx context.Context) error {
	for i, sl := range r.saleLines {
		if err := ctx.Err(); err != nil {
			return err
		}
		// already paid for through a hose
		if r.consumed[i] {
			continue
		}

		ref := sl.Ref()
		product, err := r.engine.store.FindProductByCode(ctx, sl.ProductCode)
		if stderrors.Is(err, store.ErrNotFound) {
			r.add(models.NewError(models.IssueUnknownProduct, ref,
				"product %s does not exist", sl.ProductCode).WithProduct(sl.ProductCode))
			continue
		}
		if err != nil {
			return fmt.Errorf("looking up product %s: %w", sl.ProductCode, err)
		}

		shares := matcher.Normalize(sl.Payments)
		if product.IsFuel {
			if err := r.declareFuelPayments(ctx, sl, product, shares); err != nil {
				return err
			}
			continue
		}
		if err := r.sellProduct(ctx, sl, product, shares); err != nil {
			return err
		}
	}
	return nil
}

// declareFuelPayments books the payments of a fuel product-sale line that
// no hose consumed. The fuel itself was already counted through the meters.
func (r *run) declareFuelPayments(ctx context.Context, sl models.SaleLine, product *models.Product, shares []models.AllocationShare) error {
	if len(shares) == 0 {
		return nil
	}
	if r.consolidated {
		r.ledger.AddDeclared(product.Code, shares)
	}
	r.shares = append(r.shares, shares)

	rows, err := r.salesRows(ctx, sl.Ref(), product, sl.Quantity, sl.Unit, shares, decimal.Zero)
	if err != nil {
		return err
	}
	r.sales = append(r.sales, rows...)
	return nil
}

// sellProduct prices a non-fuel sale line, reserves its stock and attaches
// its payments.
func (r *run) sellProduct(ctx context.Context, sl models.SaleLine, product *models.Product, shares []models.AllocationShare) error {
	ref := sl.Ref()
	line, issue := priceSaleLine(ref, sl, product)
	if issue != nil {
		r.add(*issue)
		return nil
	}

	dec, issue := r.checker.CheckStock(product, line.Quantity, ref)
	if issue != nil {
		r.add(*issue)
		return nil
	}
	r.stock = append(r.stock, *dec)

	if len(shares) > 0 {
		line.Allocations = shares
		line.AllocationSource = models.AllocationsFromProductSale
		if issue := matcher.CheckLine(ref, product.Code, shares, line.Value, r.matching()); issue != nil {
			r.add(*issue)
		}
		r.shares = append(r.shares, shares)
	} else {
		line.AllocationSource = models.AllocationsNone
		if !r.summaryDeclares {
			r.add(models.NewWarning(models.IssueMissingAllocations, ref,
				"no payments declared for %s worth %s", product.Code, line.Value.StringFixed(2)).
				WithProduct(product.Code))
		}
	}

	r.computed = r.computed.Add(line.Value)
	r.accepted++
	r.result.ProductSales.Lines = append(r.result.ProductSales.Lines, *line)
	r.result.ProductSales.TotalValue = r.result.ProductSales.TotalValue.Add(line.Value)

	rows, err := r.salesRows(ctx, ref, product, line.Quantity, line.Unit, shares, line.Value)
	if err != nil {
		return err
	}
	r.sales = append(r.sales, rows...)
	return nil
}

// priceSaleLine converts a sale line into the product's unit and prices it.
// An explicit unit price is per unit of the line; otherwise the product's
// sale price applies.
func priceSaleLine(ref string, sl models.SaleLine, product *models.Product) (*models.ComputedSaleLine, *models.Issue) {
	invalid := func(err error) (*models.ComputedSaleLine, *models.Issue) {
		issue := models.NewError(models.IssueInvalidUnit, ref, "%v", err).WithProduct(product.Code)
		return nil, &issue
	}

	lineUnit, err := units.Parse(sl.Unit)
	if err != nil {
		return invalid(err)
	}
	productUnit, err := units.Parse(product.Unit)
	if err != nil {
		return invalid(fmt.Errorf("product %s: %w", product.Code, err))
	}

	qty := units.Round2(sl.Quantity)
	native, err := units.Convert(qty, lineUnit, productUnit)
	if err != nil {
		return invalid(err)
	}

	line := &models.ComputedSaleLine{
		Ref:         ref,
		Source:      models.SourceProductSale,
		ProductID:   product.ID,
		ProductCode: product.Code,
		Unit:        productUnit.String(),
		Quantity:    native,
		UnitPrice:   units.Round2(product.SalePrice),
	}
	if sl.UnitPrice != nil {
		line.UnitPrice = units.Round2(*sl.UnitPrice)
		line.Value = units.Round2(qty.Mul(line.UnitPrice))
	} else {
		line.Value = units.Round2(native.Mul(line.UnitPrice))
	}
	if lineUnit.IsVolume() {
		q, _ := units.Both(qty, lineUnit)
		line.QuantityGallons = q.Gallons
		line.QuantityLiters = q.Liters
	}
	return line, nil
}

// salesRows splits a sale into one history row per payment method. The
// quantity is spread by the payment percentages. Without payments a single
// unattributed row carries fallback, or nothing when fallback is zero.
func (r *run) salesRows(ctx context.Context, ref string, product *models.Product, qty decimal.Decimal, unit string, shares []models.AllocationShare, fallback decimal.Decimal) ([]models.SalesHistoryRecord, error) {
	row := func(method string, methodID *uint, q, amount decimal.Decimal) models.SalesHistoryRecord {
		return models.SalesHistoryRecord{
			LocationID:        r.req.LocationID,
			ProductID:         product.ID,
			ProductCode:       product.Code,
			LineRef:           ref,
			PaymentMethodCode: method,
			PaymentMethodID:   methodID,
			Quantity:          q,
			Unit:              unit,
			Amount:            amount,
			OperatorID:        r.req.OperatorID,
			SoldAt:            r.req.ShiftEnd,
		}
	}

	if len(shares) == 0 {
		if fallback.IsZero() {
			return nil, nil
		}
		return []models.SalesHistoryRecord{row("", nil, qty, fallback)}, nil
	}

	rows := make([]models.SalesHistoryRecord, 0, len(shares))
	for _, s := range shares {
		id, err := r.methodID(ctx, s.Method)
		if err != nil {
			return nil, err
		}
		q := units.Round2(qty.Mul(s.Percentage).Div(decimal.NewFromInt(100)))
		rows = append(rows, row(s.Method, id, q, s.Amount))
	}
	return rows, nil
}

func (r *run) methodID(ctx context.Context, code string) (*uint, error) {
	if id, ok := r.methodIDs[code]; ok {
		return id, nil
	}
	cls, err := r.engine.classifier.Classify(ctx, code)
	if err != nil {
		return nil, err
	}
	r.methodIDs[code] = cls.MethodID
	return cls.MethodID, nil
}

func (r *run) processTanks(ctx context.Context) error {
	summary, updates, issues, err := inventory.ProcessTankReadings(ctx, r.engine.store, r.req.LocationID, r.req.TankReadings)
	if err != nil {
		return err
	}
	r.result.Tanks = summary
	r.tanks = updates
	r.addAll(issues)
	return nil
}

func (r *run) reconcileFinances(ctx context.Context) error {
	methods, declared := matcher.ConsolidateShift(r.req.PaymentSummary, matcher.Consolidate(r.shares...))
	fin, err := finance.Reconcile(ctx, r.engine.classifier, finance.Input{
		Methods:       methods,
		DeclaredTotal: declared,
		ComputedTotal: r.computed,
		Tolerance:     r.engine.config.Tolerance,
	})
	if err != nil {
		return err
	}
	r.result.Financial = fin.Summary
	r.breakdown = fin.Breakdown
	r.addAll(fin.Issues)
	return nil
}

// checkTransactionCount compares the declared number of sales with the
// accepted hose and product-sale lines.
func (r *run) checkTransactionCount() {
	r.result.Transactions = models.TransactionCount{
		Declared: r.req.DeclaredTransactionCount,
		Computed: r.accepted,
	}
	declared := r.req.DeclaredTransactionCount
	if declared != nil && *declared != r.accepted {
		r.add(models.NewWarning(models.IssueTransactionCountMismatch, "declared_transaction_count",
			"%d transactions declared but %d sale lines were accepted", *declared, r.accepted).
			WithAmount(decimal.NewFromInt(int64(*declared - r.accepted))))
	}
}

func (r *run) planCash() {
	r.cash = cashledger.PlanEntries(r.result.Financial.Buckets.Cash, r.req.CashMovements, r.engine.config.Tolerance)
	r.addAll(r.cash.Issues)
	r.result.Cash = r.cash.Effect(decimal.Zero)
}
