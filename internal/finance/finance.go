// Package finance compares the payments declared for a shift with the value
// computed from its sale lines and classifies every payment method into a
// reporting bucket.
package finance

import (
	"context"
	"errors"
	"fmt"

	"fuel-shift-reconciliation/internal/matcher"
	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/store"
	"fuel-shift-reconciliation/internal/units"

	"github.com/shopspring/decimal"
)

// DefaultBuckets classifies the common method codes of unregistered methods.
var DefaultBuckets = map[string]models.PaymentBucket{
	"cash":      models.BucketCash,
	"efectivo":  models.BucketCash,
	"card":      models.BucketCard,
	"credit":    models.BucketCard,
	"debit":     models.BucketCard,
	"tarjeta":   models.BucketCard,
	"transfer":  models.BucketTransfer,
	"wire":      models.BucketTransfer,
	"voucher":   models.BucketVoucher,
	"vale":      models.BucketVoucher,
	"loyalty":   models.BucketLoyalty,
	"points":    models.BucketLoyalty,
	"other":     models.BucketOther,
	"otros":     models.BucketOther,
	"check":     models.BucketOther,
	"gift_card": models.BucketVoucher,
}

// Classification is the resolved bucket of one method code.
type Classification struct {
	Method   string
	MethodID *uint
	Bucket   models.PaymentBucket
	Known    bool
}

// Classifier resolves method codes through the payment method registry,
// falling back to a configured code→bucket table.
type Classifier struct {
	methods store.PaymentMethods
	buckets map[string]models.PaymentBucket
}

// NewClassifier creates a classifier. overrides take precedence over
// DefaultBuckets; keys are normalized method codes.
func NewClassifier(methods store.PaymentMethods, overrides map[string]models.PaymentBucket) *Classifier {
	buckets := make(map[string]models.PaymentBucket, len(DefaultBuckets)+len(overrides))
	for k, v := range DefaultBuckets {
		buckets[k] = v
	}
	for k, v := range overrides {
		buckets[models.NormalizeMethodCode(k)] = v
	}
	return &Classifier{methods: methods, buckets: buckets}
}

// Classify resolves one method code. A registered method uses its own bucket
// when it names a valid one.
func (c *Classifier) Classify(ctx context.Context, code string) (Classification, error) {
	code = models.NormalizeMethodCode(code)
	res := Classification{Method: code, Bucket: models.BucketOther}

	if c.methods != nil {
		m, err := c.methods.FindMethodByCode(ctx, code)
		switch {
		case err == nil:
			id := m.ID
			res.MethodID = &id
			res.Known = true
			if b, ok := models.ParseBucket(m.Bucket); ok && m.Bucket != "" {
				res.Bucket = b
				return res, nil
			}
		case errors.Is(err, store.ErrNotFound):
		default:
			return res, fmt.Errorf("looking up payment method %s: %w", code, err)
		}
	}

	if b, ok := c.buckets[code]; ok {
		res.Bucket = b
	}
	return res, nil
}

// Input carries the figures to reconcile.
type Input struct {
	Methods       []matcher.MethodAmount
	DeclaredTotal decimal.Decimal
	ComputedTotal decimal.Decimal
	Tolerance     decimal.Decimal
}

// Result is the outcome of a reconciliation. Breakdown holds the rows to
// persist and is empty when the payment summary is inconsistent.
type Result struct {
	Summary   models.FinancialSummary
	Breakdown []models.PaymentBreakdownRecord
	Issues    []models.Issue
}

// Reconcile builds the financial summary. Unknown method codes are kept and
// bucketed as other with a warning. When the method totals do not add up to
// the declared total the summary still carries them, but an error is
// reported and no breakdown rows are returned.
func Reconcile(ctx context.Context, c *Classifier, in Input) (Result, error) {
	tolerance := in.Tolerance
	if tolerance.IsZero() {
		tolerance = models.Tolerance
	}

	declared := units.Round2(in.DeclaredTotal)
	computed := units.Round2(in.ComputedTotal)
	res := Result{
		Summary: models.FinancialSummary{
			DeclaredTotal: declared,
			ComputedTotal: computed,
			Variance:      declared.Sub(computed),
			Methods:       []models.MethodTotal{},
		},
	}
	res.Summary.Balanced = res.Summary.Variance.Abs().LessThanOrEqual(tolerance)

	for _, m := range in.Methods {
		cls, err := c.Classify(ctx, m.Method)
		if err != nil {
			return Result{}, err
		}
		if !cls.Known {
			res.Issues = append(res.Issues, models.NewWarning(models.IssueUnknownPaymentMethod, "payment:"+cls.Method,
				"payment method %s is not registered, bucketed as %s", cls.Method, cls.Bucket))
		}

		amount := units.Round2(m.Amount)
		total := models.MethodTotal{
			Method:     cls.Method,
			Bucket:     cls.Bucket,
			Amount:     amount,
			Percentage: units.Percentage(amount, declared),
		}
		if cls.MethodID != nil {
			total.MethodID = *cls.MethodID
		}
		res.Summary.Methods = append(res.Summary.Methods, total)
		res.Summary.Buckets.Add(cls.Bucket, amount)
		res.Breakdown = append(res.Breakdown, models.PaymentBreakdownRecord{
			PaymentMethodID: cls.MethodID,
			MethodCode:      cls.Method,
			Bucket:          string(cls.Bucket),
			Amount:          amount,
			Percentage:      total.Percentage,
		})
	}

	methodsTotal := units.Round2(matcher.Total(in.Methods))
	if !models.CompareAmountsWithTolerance(methodsTotal, declared, tolerance) {
		res.Issues = append(res.Issues, models.NewError(models.IssuePaymentSummaryMismatch, "payment_summary",
			"payment methods total %s but the declared total is %s", methodsTotal.StringFixed(2), declared.StringFixed(2)).
			WithAmount(methodsTotal.Sub(declared)))
		res.Breakdown = nil
	}
	return res, nil
}
