package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ClosureStatus is the terminal state of a closure.
type ClosureStatus string

const (
	StatusSuccess           ClosureStatus = "success"
	StatusSuccessWithErrors ClosureStatus = "success_with_errors"
	StatusFailed            ClosureStatus = "failed"
)

// Severity separates line errors from advisory warnings.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// IssueCode identifies what went wrong on a line or step.
type IssueCode string

const (
	// per-line errors
	IssueUnknownProduct         IssueCode = "unknown_product"
	IssueNegativeDelta          IssueCode = "negative_delta"
	IssueInsufficientStock      IssueCode = "insufficient_stock"
	IssueInsufficientTankLevel  IssueCode = "insufficient_tank_level"
	IssueNoActiveTank           IssueCode = "no_active_tank"
	IssueInvalidUnit            IssueCode = "invalid_unit"
	IssueTankLocationMismatch   IssueCode = "tank_location_mismatch"
	IssueUnknownTank            IssueCode = "unknown_tank"
	IssueTankNotCalibrated      IssueCode = "tank_not_calibrated"
	IssuePaymentSummaryMismatch IssueCode = "payment_summary_mismatch"

	// warnings
	IssueZeroDelta                  IssueCode = "zero_delta"
	IssueAllocationMismatch         IssueCode = "allocation_mismatch"
	IssueTransactionCountMismatch   IssueCode = "transaction_count_mismatch"
	IssueMissingConsolidatedPayment IssueCode = "missing_consolidated_payment"
	IssueHoseAllocationsIgnored     IssueCode = "hose_allocations_ignored"
	IssueCashEntriesDiscarded       IssueCode = "cash_entries_discarded"
	IssueUnknownPaymentMethod       IssueCode = "unknown_payment_method"
	IssueMissingAllocations         IssueCode = "missing_allocations"
	IssueTankHeightAboveMax         IssueCode = "tank_height_above_max"
	IssueTankOverCapacity           IssueCode = "tank_over_capacity"
	IssueTankBelowMinimum           IssueCode = "tank_below_minimum"

	// whole-operation failures
	IssueInvalidRequest   IssueCode = "invalid_request"
	IssueLocationNotFound IssueCode = "location_not_found"
	IssueDuplicateShift   IssueCode = "duplicate_shift"
	IssueShiftLocked      IssueCode = "shift_locked"
	IssueInternal         IssueCode = "internal_error"
)

// Issue is one error or warning attached to a closure result.
type Issue struct {
	Severity    Severity         `json:"severity"`
	Code        IssueCode        `json:"code"`
	Line        string           `json:"line,omitempty"`
	ProductCode string           `json:"product_code,omitempty"`
	Message     string           `json:"message"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
}

func (i Issue) String() string {
	if i.Line != "" {
		return fmt.Sprintf("[%s] %s: %s", i.Code, i.Line, i.Message)
	}
	return fmt.Sprintf("[%s] %s", i.Code, i.Message)
}

// NewError builds an error-severity issue.
func NewError(code IssueCode, line, format string, args ...interface{}) Issue {
	return Issue{Severity: SeverityError, Code: code, Line: line, Message: fmt.Sprintf(format, args...)}
}

// NewWarning builds a warning-severity issue.
func NewWarning(code IssueCode, line, format string, args ...interface{}) Issue {
	return Issue{Severity: SeverityWarning, Code: code, Line: line, Message: fmt.Sprintf(format, args...)}
}

// WithProduct attaches the product code to the issue.
func (i Issue) WithProduct(code string) Issue {
	i.ProductCode = code
	return i
}

// WithAmount attaches a quantity or amount, such as a stock shortfall.
func (i Issue) WithAmount(d decimal.Decimal) Issue {
	i.Amount = &d
	return i
}

// SaleSource tells where a computed sale line came from.
type SaleSource string

const (
	SourceHose        SaleSource = "hose"
	SourceProductSale SaleSource = "product_sale"
)

// AllocationSource tells where a line's payment allocations came from.
type AllocationSource string

const (
	AllocationsFromHose        AllocationSource = "hose"
	AllocationsMatched         AllocationSource = "matched_product_sale"
	AllocationsFromProductSale AllocationSource = "product_sale"
	AllocationsConsolidated    AllocationSource = "consolidated"
	AllocationsNone            AllocationSource = "none"
)

// AllocationShare is a normalized payment allocation.
type AllocationShare struct {
	Method     string          `json:"method"`
	Amount     decimal.Decimal `json:"amount"`
	Percentage decimal.Decimal `json:"percentage"`
	Note       string          `json:"note,omitempty"`
}

// ComputedSaleLine is the reconciled form of one hose or product-sale line.
type ComputedSaleLine struct {
	Ref              string            `json:"ref"`
	Source           SaleSource        `json:"source"`
	DispenserID      string            `json:"dispenser_id,omitempty"`
	HoseID           string            `json:"hose_id,omitempty"`
	ProductID        uint              `json:"product_id"`
	ProductCode      string            `json:"product_code"`
	IsFuel           bool              `json:"is_fuel"`
	Unit             string            `json:"unit"`
	Quantity         decimal.Decimal   `json:"quantity"`
	QuantityGallons  decimal.Decimal   `json:"quantity_gallons"`
	QuantityLiters   decimal.Decimal   `json:"quantity_liters"`
	UnitPrice        decimal.Decimal   `json:"unit_price"`
	PricePerGallon   decimal.Decimal   `json:"price_per_gallon,omitempty"`
	PricePerLiter    decimal.Decimal   `json:"price_per_liter,omitempty"`
	Value            decimal.Decimal   `json:"value"`
	Allocations      []AllocationShare `json:"allocations,omitempty"`
	AllocationSource AllocationSource  `json:"allocation_source"`
	MatchedLine      string            `json:"matched_line,omitempty"`
	TankID           uint              `json:"tank_id,omitempty"`
}

// HoseStatus is the outcome of processing one hose.
type HoseStatus string

const (
	HoseOK        HoseStatus = "ok"
	HoseZeroDelta HoseStatus = "zero_delta"
	HoseRejected  HoseStatus = "rejected"
)

// HoseSummary reports one hose reading.
type HoseSummary struct {
	HoseID          string            `json:"hose_id"`
	ProductCode     string            `json:"product_code"`
	PreviousReading decimal.Decimal   `json:"previous_reading"`
	CurrentReading  decimal.Decimal   `json:"current_reading"`
	Delta           decimal.Decimal   `json:"delta"`
	Status          HoseStatus        `json:"status"`
	Line            *ComputedSaleLine `json:"line,omitempty"`
	Shortfall       *decimal.Decimal  `json:"shortfall,omitempty"`
}

// DispenserSummary totals the accepted hoses of one dispenser.
type DispenserSummary struct {
	DispenserID  string          `json:"dispenser_id"`
	Hoses        []HoseSummary   `json:"hoses"`
	TotalGallons decimal.Decimal `json:"total_gallons"`
	TotalLiters  decimal.Decimal `json:"total_liters"`
	TotalValue   decimal.Decimal `json:"total_value"`
}

// TankLevel is the measured state of one tank after a height reading.
type TankLevel struct {
	TankID    uint            `json:"tank_id"`
	ProductID uint            `json:"product_id"`
	Height    decimal.Decimal `json:"height"`
	Volume    decimal.Decimal `json:"volume"`
	Capacity  decimal.Decimal `json:"capacity"`
	Occupancy decimal.Decimal `json:"occupancy"`
	Warnings  []string        `json:"warnings,omitempty"`
}

// TankSummary aggregates the tank readings of a closure.
type TankSummary struct {
	Tanks         []TankLevel     `json:"tanks"`
	TotalVolume   decimal.Decimal `json:"total_volume"`
	TotalCapacity decimal.Decimal `json:"total_capacity"`
	Occupancy     decimal.Decimal `json:"occupancy"`
}

// ProductSaleSummary lists the accepted non-fuel sale lines.
type ProductSaleSummary struct {
	Lines      []ComputedSaleLine `json:"lines"`
	TotalValue decimal.Decimal    `json:"total_value"`
}

// MethodTotal is the shift total of one payment method.
type MethodTotal struct {
	Method     string          `json:"method"`
	MethodID   uint            `json:"method_id,omitempty"`
	Bucket     PaymentBucket   `json:"bucket"`
	Amount     decimal.Decimal `json:"amount"`
	Percentage decimal.Decimal `json:"percentage"`
}

// BucketTotals holds payment totals per reporting bucket.
type BucketTotals struct {
	Cash     decimal.Decimal `json:"cash"`
	Card     decimal.Decimal `json:"card"`
	Transfer decimal.Decimal `json:"transfer"`
	Voucher  decimal.Decimal `json:"voucher"`
	Loyalty  decimal.Decimal `json:"loyalty"`
	Other    decimal.Decimal `json:"other"`
}

// Add accumulates amount into the named bucket.
func (b *BucketTotals) Add(bucket PaymentBucket, amount decimal.Decimal) {
	switch bucket {
	case BucketCash:
		b.Cash = b.Cash.Add(amount)
	case BucketCard:
		b.Card = b.Card.Add(amount)
	case BucketTransfer:
		b.Transfer = b.Transfer.Add(amount)
	case BucketVoucher:
		b.Voucher = b.Voucher.Add(amount)
	case BucketLoyalty:
		b.Loyalty = b.Loyalty.Add(amount)
	default:
		b.Other = b.Other.Add(amount)
	}
}

// FinancialSummary compares declared payments with computed sales.
type FinancialSummary struct {
	DeclaredTotal decimal.Decimal `json:"declared_total"`
	ComputedTotal decimal.Decimal `json:"computed_total"`
	Variance      decimal.Decimal `json:"variance"`
	Methods       []MethodTotal   `json:"methods"`
	Buckets       BucketTotals    `json:"buckets"`
	Balanced      bool            `json:"balanced"`
}

// CashEntryEffect is one cash movement that was or would have been applied.
type CashEntryEffect struct {
	Type      CashFlowType    `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Concept   string          `json:"concept"`
	Detail    string          `json:"detail,omitempty"`
	Automatic bool            `json:"automatic"`
}

// CashLedgerEffect is the change a closure makes to the location's cash ledger.
type CashLedgerEffect struct {
	LedgerID       uint              `json:"ledger_id,omitempty"`
	OpeningBalance decimal.Decimal   `json:"opening_balance"`
	ClosingBalance decimal.Decimal   `json:"closing_balance"`
	TotalInflows   decimal.Decimal   `json:"total_inflows"`
	TotalOutflows  decimal.Decimal   `json:"total_outflows"`
	Applied        []CashEntryEffect `json:"applied"`
	Discarded      []CashEntryEffect `json:"discarded,omitempty"`
}

// TransactionCount compares the declared number of sales with the computed lines.
type TransactionCount struct {
	Declared *int `json:"declared,omitempty"`
	Computed int  `json:"computed"`
}

// ClosureResult is returned for every closure attempt, successful or not.
type ClosureResult struct {
	ID               uint               `json:"id"`
	ShiftID          *uint              `json:"shift_id,omitempty"`
	Reference        string             `json:"reference,omitempty"`
	LocationID       uint               `json:"location_id"`
	Status           ClosureStatus      `json:"status"`
	ConsolidatedMode bool               `json:"consolidated_mode"`
	Dispensers       []DispenserSummary `json:"dispensers"`
	Tanks            TankSummary        `json:"tanks"`
	ProductSales     ProductSaleSummary `json:"product_sales"`
	Financial        FinancialSummary   `json:"financial"`
	Cash             CashLedgerEffect   `json:"cash"`
	Transactions     TransactionCount   `json:"transactions"`
	Errors           []Issue            `json:"errors"`
	Warnings         []Issue            `json:"warnings"`
	ProcessedAt      time.Time          `json:"processed_at"`
}

// NewFailedResult builds a failed result with a zero financial summary and
// msg as its only error.
func NewFailedResult(locationID uint, code IssueCode, msg string) *ClosureResult {
	return &ClosureResult{
		ID:         locationID,
		LocationID: locationID,
		Status:     StatusFailed,
		Dispensers: []DispenserSummary{},
		Errors:     []Issue{{Severity: SeverityError, Code: code, Message: msg}},
		Warnings:   []Issue{},
	}
}

// AddIssue files the issue under errors or warnings by severity.
func (r *ClosureResult) AddIssue(issue Issue) {
	if issue.Severity == SeverityError {
		r.Errors = append(r.Errors, issue)
		return
	}
	r.Warnings = append(r.Warnings, issue)
}

// SetShift records the persisted shift and makes it the result identifier.
func (r *ClosureResult) SetShift(id uint, reference string) {
	r.ShiftID = &id
	r.ID = id
	r.Reference = reference
}

// FinalStatus derives the success status from the collected errors.
func (r *ClosureResult) FinalStatus() ClosureStatus {
	if len(r.Errors) == 0 {
		return StatusSuccess
	}
	return StatusSuccessWithErrors
}

// HasIssue reports whether any error or warning carries the code.
func (r *ClosureResult) HasIssue(code IssueCode) bool {
	return r.CountIssues(code) > 0
}

// CountIssues counts errors and warnings with the code.
func (r *ClosureResult) CountIssues(code IssueCode) int {
	n := 0
	for _, list := range [][]Issue{r.Errors, r.Warnings} {
		for _, issue := range list {
			if issue.Code == code {
				n++
			}
		}
	}
	return n
}
