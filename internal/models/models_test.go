package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func validRequest() ShiftClosureRequest {
	start := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	return ShiftClosureRequest{
		LocationID: 1,
		OperatorID: 9,
		ShiftStart: start,
		ShiftEnd:   start.Add(8 * time.Hour),
		Dispensers: []DispenserReading{{
			DispenserID: "D1",
			Hoses: []HoseReading{{
				HoseID:          "D1-H1",
				ProductCode:     "REG",
				PreviousReading: dec("1000"),
				CurrentReading:  dec("1050"),
				Unit:            "galones",
			}},
		}},
	}
}

func TestProductSaleEntry_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantItems int
		wantErr   bool
	}{
		{
			name:  "consolidated",
			input: `{"product_code":"OIL","unit":"unidades","quantity":"3","unit_price":"12.50","payments":[{"method":"cash","amount":"37.50"}]}`,
		},
		{
			name:      "itemized",
			input:     `{"product_code":"OIL","unit":"unidades","note":"D1","items":[{"quantity":1,"payments":[{"method":"card","amount":12.5}]},{"quantity":2}]}`,
			wantItems: 2,
		},
		{
			name:    "both shapes",
			input:   `{"product_code":"OIL","unit":"u","quantity":"1","items":[]}`,
			wantErr: true,
		},
		{
			name:    "neither shape",
			input:   `{"product_code":"OIL","unit":"u"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var entry ProductSaleEntry
			err := json.Unmarshal([]byte(tt.input), &entry)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			switch sale := entry.Sale.(type) {
			case *ConsolidatedSale:
				if tt.wantItems != 0 {
					t.Fatalf("expected itemized sale, got consolidated")
				}
				if !sale.Quantity.Equal(dec("3")) {
					t.Errorf("expected quantity 3, got %s", sale.Quantity)
				}
			case *ItemizedSale:
				if len(sale.Items) != tt.wantItems {
					t.Errorf("expected %d items, got %d", tt.wantItems, len(sale.Items))
				}
			default:
				t.Fatalf("unexpected sale type %T", entry.Sale)
			}
		})
	}
}

func TestProductSaleEntry_MarshalKeepsShape(t *testing.T) {
	in := `{"product_code":"OIL","unit":"unidades","note":"bay 2","items":[{"quantity":"1","payments":[{"method":"cash","amount":"5"}]}]}`
	var entry ProductSaleEntry
	if err := json.Unmarshal([]byte(in), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(out), `"items"`) || strings.Contains(string(out), `"quantity":"1","unit_price"`) {
		t.Errorf("unexpected encoding: %s", out)
	}
}

func TestSaleLines(t *testing.T) {
	price := dec("4.25")
	req := ShiftClosureRequest{
		ProductSales: []ProductSaleEntry{
			{ProductCode: "OIL", Unit: "u", Note: "legacy", Sale: &ConsolidatedSale{Quantity: dec("2"), UnitPrice: &price}},
			{ProductCode: "REG", Unit: "gal", Note: "pump 1", Sale: &ItemizedSale{Items: []SaleItem{
				{Quantity: dec("10"), Payments: []PaymentAllocation{{Method: "cash", Amount: dec("20")}, {Method: "card", Amount: dec("22.5")}}},
				{Quantity: dec("5"), Note: "fleet"},
			}}},
		},
	}

	lines := req.SaleLines()
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}

	if lines[0].Ref() != "product_sales[0]" {
		t.Errorf("unexpected ref %s", lines[0].Ref())
	}
	if !lines[0].DeclaredValue().Equal(dec("8.5")) {
		t.Errorf("expected declared value 8.50, got %s", lines[0].DeclaredValue())
	}

	if lines[1].Ref() != "product_sales[1].items[0]" || lines[1].ParentNote != "pump 1" {
		t.Errorf("unexpected itemized line: %+v", lines[1])
	}
	if !lines[1].DeclaredValue().Equal(dec("42.5")) {
		t.Errorf("expected value from payments 42.50, got %s", lines[1].DeclaredValue())
	}
	if lines[2].Note != "fleet" {
		t.Errorf("expected item note, got %q", lines[2].Note)
	}
}

func TestShiftClosureRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *ShiftClosureRequest)
		wantErr string
	}{
		{name: "valid", mutate: func(r *ShiftClosureRequest) {}},
		{
			name:    "missing location",
			mutate:  func(r *ShiftClosureRequest) { r.LocationID = 0 },
			wantErr: "location_id",
		},
		{
			name:    "end before start",
			mutate:  func(r *ShiftClosureRequest) { r.ShiftEnd = r.ShiftStart.Add(-time.Hour) },
			wantErr: "shift_end",
		},
		{
			name:    "hose without id",
			mutate:  func(r *ShiftClosureRequest) { r.Dispensers[0].Hoses[0].HoseID = "" },
			wantErr: "hose_id",
		},
		{
			name: "negative allocation",
			mutate: func(r *ShiftClosureRequest) {
				r.Dispensers[0].Hoses[0].Payments = []PaymentAllocation{{Method: "cash", Amount: dec("-1")}}
			},
			wantErr: "amount",
		},
		{
			name: "bad cash movement type",
			mutate: func(r *ShiftClosureRequest) {
				r.CashMovements = []CashMovement{{Type: "sideways", Amount: dec("1"), Concept: "x"}}
			},
			wantErr: "type",
		},
		{
			name: "product sale without body",
			mutate: func(r *ShiftClosureRequest) {
				r.ProductSales = []ProductSaleEntry{{ProductCode: "OIL", Unit: "u"}}
			},
			wantErr: "product_sales[0]",
		},
		{
			name: "itemized sale without items",
			mutate: func(r *ShiftClosureRequest) {
				r.ProductSales = []ProductSaleEntry{{ProductCode: "OIL", Unit: "u", Sale: &ItemizedSale{}}}
			},
			wantErr: "items",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestKeyFor(t *testing.T) {
	start := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
	key := KeyFor(4, start, start.Add(8*time.Hour))

	if key.Date != "2024-03-01" || key.StartTime != "22:00" || key.EndTime != "06:00" {
		t.Errorf("unexpected key %+v", key)
	}
	if key.String() != "4/2024-03-01/22:00-06:00" {
		t.Errorf("unexpected key string %s", key.String())
	}

	rec := ShiftRecord{LocationID: 4, ShiftDate: key.Date, StartTime: key.StartTime, EndTime: key.EndTime}
	if rec.Key() != key {
		t.Errorf("record key %+v differs from %+v", rec.Key(), key)
	}
}

func TestClosureResultIssues(t *testing.T) {
	res := &ClosureResult{LocationID: 3, ID: 3}
	res.AddIssue(NewWarning(IssueZeroDelta, "D1/H1", "no sales"))
	if res.FinalStatus() != StatusSuccess {
		t.Errorf("warnings alone must keep status success")
	}

	res.AddIssue(NewError(IssueInsufficientStock, "product_sales[0]", "short").WithProduct("OIL").WithAmount(dec("2")))
	if res.FinalStatus() != StatusSuccessWithErrors {
		t.Errorf("expected success_with_errors")
	}
	if res.CountIssues(IssueInsufficientStock) != 1 || !res.HasIssue(IssueZeroDelta) {
		t.Errorf("unexpected issue counts: %+v", res)
	}
	if res.Errors[0].ProductCode != "OIL" || !res.Errors[0].Amount.Equal(dec("2")) {
		t.Errorf("unexpected error issue: %+v", res.Errors[0])
	}

	res.SetShift(42, "ref")
	if res.ID != 42 || *res.ShiftID != 42 {
		t.Errorf("expected shift id to become the identifier")
	}

	failed := NewFailedResult(3, IssueLocationNotFound, "location 3 not found")
	if failed.Status != StatusFailed || len(failed.Errors) != 1 || failed.ID != 3 {
		t.Errorf("unexpected failed result: %+v", failed)
	}
	if !failed.Financial.DeclaredTotal.IsZero() {
		t.Errorf("failed result must carry a zero financial summary")
	}
}

func TestBucketTotals(t *testing.T) {
	var b BucketTotals
	b.Add(BucketCash, dec("10"))
	b.Add(BucketCard, dec("5"))
	b.Add("mystery", dec("1"))

	if !b.Cash.Equal(dec("10")) || !b.Card.Equal(dec("5")) || !b.Other.Equal(dec("1")) {
		t.Errorf("unexpected buckets %+v", b)
	}

	if got, ok := ParseBucket("voucher"); !ok || got != BucketVoucher {
		t.Errorf("expected voucher bucket")
	}
	if got, ok := ParseBucket("crypto"); ok || got != BucketOther {
		t.Errorf("expected unknown bucket to map to other")
	}
}

func TestParseDecimalFromString(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"100.50", "100.50", false},
		{"$1,234.56", "1234.56", false},
		{" 7 ", "7", false},
		{"", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDecimalFromString(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(dec(tt.want)) {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCompareAmountsWithTolerance(t *testing.T) {
	if !CompareAmountsWithTolerance(dec("757.08"), dec("757.09"), Tolerance) {
		t.Error("expected a one-cent difference to be tolerated")
	}
	if CompareAmountsWithTolerance(dec("757.08"), dec("757.10"), Tolerance) {
		t.Error("expected a two-cent difference to be rejected")
	}
}
