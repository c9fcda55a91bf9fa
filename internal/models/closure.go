package models

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ShiftClosureRequest is one end-of-shift submission for a location.
// It is treated as immutable once handed to the engine.
type ShiftClosureRequest struct {
	LocationID               uint               `json:"location_id" validate:"required"`
	OperatorID               uint               `json:"operator_id"`
	ShiftStart               time.Time          `json:"shift_start" validate:"required"`
	ShiftEnd                 time.Time          `json:"shift_end" validate:"required,gtfield=ShiftStart"`
	Dispensers               []DispenserReading `json:"dispensers" validate:"dive"`
	TankReadings             []TankReading      `json:"tank_readings" validate:"dive"`
	ProductSales             []ProductSaleEntry `json:"product_sales" validate:"dive"`
	PaymentSummary           *PaymentSummary    `json:"payment_summary,omitempty"`
	CashMovements            []CashMovement     `json:"cash_movements" validate:"dive"`
	DeclaredTransactionCount *int               `json:"declared_transaction_count,omitempty" validate:"omitempty,min=0"`
	Notes                    string             `json:"notes,omitempty"`
}

// DispenserReading groups the hoses of one physical dispenser.
type DispenserReading struct {
	DispenserID string        `json:"dispenser_id" validate:"required"`
	Hoses       []HoseReading `json:"hoses" validate:"required,min=1,dive"`
}

// HoseReading is the meter state of one nozzle at shift end.
type HoseReading struct {
	HoseID          string              `json:"hose_id" validate:"required"`
	ProductCode     string              `json:"product_code" validate:"required"`
	PreviousReading decimal.Decimal     `json:"previous_reading" validate:"gte=0"`
	CurrentReading  decimal.Decimal     `json:"current_reading" validate:"gte=0"`
	Unit            string              `json:"unit" validate:"required"`
	Payments        []PaymentAllocation `json:"payments,omitempty" validate:"dive"`
	Note            string              `json:"note,omitempty"`
}

// TankReading is a physical fluid height measurement.
type TankReading struct {
	TankID uint            `json:"tank_id" validate:"required"`
	Height decimal.Decimal `json:"height" validate:"gte=0"`
	Type   string          `json:"type,omitempty"`
}

// PaymentAllocation assigns part of a sale to one payment method.
type PaymentAllocation struct {
	Method string          `json:"method" validate:"required"`
	Amount decimal.Decimal `json:"amount" validate:"gte=0"`
	Note   string          `json:"note,omitempty"`
}

// PaymentSummary is the shift-level payment declaration. When
// SeeProductBreakdown is set the per-method figures are taken from the
// product-sale allocations instead.
type PaymentSummary struct {
	SeeProductBreakdown bool                `json:"see_product_breakdown,omitempty"`
	DeclaredTotal       *decimal.Decimal    `json:"declared_total,omitempty"`
	Payments            []PaymentAllocation `json:"payments,omitempty" validate:"dive"`
}

// CashFlowType is the direction of a cash ledger movement.
type CashFlowType string

const (
	CashInflow  CashFlowType = "inflow"
	CashOutflow CashFlowType = "outflow"
)

// CashMovement is a manually declared cash ledger movement.
type CashMovement struct {
	Type    CashFlowType    `json:"type" validate:"required,oneof=inflow outflow"`
	Amount  decimal.Decimal `json:"amount" validate:"gt=0"`
	Concept string          `json:"concept" validate:"required"`
	Detail  string          `json:"detail,omitempty"`
}

// ProductSale is either a ConsolidatedSale or an ItemizedSale.
type ProductSale interface {
	isProductSale()
}

// ConsolidatedSale declares one quantity for the whole shift.
type ConsolidatedSale struct {
	Quantity  decimal.Decimal     `json:"quantity" validate:"gte=0"`
	UnitPrice *decimal.Decimal    `json:"unit_price,omitempty"`
	Value     *decimal.Decimal    `json:"value,omitempty"`
	Payments  []PaymentAllocation `json:"payments,omitempty" validate:"dive"`
}

// ItemizedSale lists individual sale lines, each with its own payments.
type ItemizedSale struct {
	Items []SaleItem `json:"items" validate:"required,min=1,dive"`
}

// SaleItem is one line of an ItemizedSale.
type SaleItem struct {
	Quantity  decimal.Decimal     `json:"quantity" validate:"gte=0"`
	UnitPrice *decimal.Decimal    `json:"unit_price,omitempty"`
	Value     *decimal.Decimal    `json:"value,omitempty"`
	Payments  []PaymentAllocation `json:"payments,omitempty" validate:"dive"`
	Note      string              `json:"note,omitempty"`
}

func (*ConsolidatedSale) isProductSale() {}
func (*ItemizedSale) isProductSale()     {}

// ProductSaleEntry is a non-meter sale of one product.
type ProductSaleEntry struct {
	ProductCode string      `json:"product_code" validate:"required"`
	Unit        string      `json:"unit" validate:"required"`
	Note        string      `json:"note,omitempty"`
	Sale        ProductSale `json:"-"`
}

type productSaleEntryJSON struct {
	ProductCode string              `json:"product_code"`
	Unit        string              `json:"unit"`
	Note        string              `json:"note,omitempty"`
	Quantity    *decimal.Decimal    `json:"quantity,omitempty"`
	UnitPrice   *decimal.Decimal    `json:"unit_price,omitempty"`
	Value       *decimal.Decimal    `json:"value,omitempty"`
	Payments    []PaymentAllocation `json:"payments,omitempty"`
	Items       []SaleItem          `json:"items,omitempty"`
}

// UnmarshalJSON decodes both wire shapes: a flat entry carrying quantity,
// price and payments, or an entry with an "items" list.
func (e *ProductSaleEntry) UnmarshalJSON(data []byte) error {
	var aux productSaleEntryJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	e.ProductCode = aux.ProductCode
	e.Unit = aux.Unit
	e.Note = aux.Note

	switch {
	case aux.Items != nil && aux.Quantity != nil:
		return fmt.Errorf("product sale %s: quantity and items are mutually exclusive", aux.ProductCode)
	case aux.Items != nil:
		e.Sale = &ItemizedSale{Items: aux.Items}
	case aux.Quantity != nil:
		e.Sale = &ConsolidatedSale{
			Quantity:  *aux.Quantity,
			UnitPrice: aux.UnitPrice,
			Value:     aux.Value,
			Payments:  aux.Payments,
		}
	default:
		return fmt.Errorf("product sale %s: either quantity or items is required", aux.ProductCode)
	}
	return nil
}

// MarshalJSON writes the entry back in the shape it was read from.
func (e ProductSaleEntry) MarshalJSON() ([]byte, error) {
	aux := productSaleEntryJSON{ProductCode: e.ProductCode, Unit: e.Unit, Note: e.Note}
	switch sale := e.Sale.(type) {
	case *ConsolidatedSale:
		q := sale.Quantity
		aux.Quantity = &q
		aux.UnitPrice = sale.UnitPrice
		aux.Value = sale.Value
		aux.Payments = sale.Payments
	case *ItemizedSale:
		aux.Items = sale.Items
	}
	return json.Marshal(aux)
}

// SaleLine is one product-sale line flattened out of its entry.
type SaleLine struct {
	EntryIndex  int
	ItemIndex   int
	ProductCode string
	Unit        string
	Quantity    decimal.Decimal
	UnitPrice   *decimal.Decimal
	Value       *decimal.Decimal
	Payments    []PaymentAllocation
	Note        string
	ParentNote  string
}

// Ref names the line in issues and audit rows.
func (l SaleLine) Ref() string {
	if l.ItemIndex < 0 {
		return fmt.Sprintf("product_sales[%d]", l.EntryIndex)
	}
	return fmt.Sprintf("product_sales[%d].items[%d]", l.EntryIndex, l.ItemIndex)
}

// DeclaredValue is the value the caller declared for the line: the explicit
// value, else quantity times unit price, else the sum of its payments.
func (l SaleLine) DeclaredValue() decimal.Decimal {
	switch {
	case l.Value != nil:
		return l.Value.Round(2)
	case l.UnitPrice != nil:
		return l.Quantity.Mul(*l.UnitPrice).Round(2)
	default:
		return SumAllocations(l.Payments)
	}
}

// Lines flattens the entry. A consolidated sale yields a single line whose
// ItemIndex is -1.
func (e ProductSaleEntry) Lines(entryIndex int) []SaleLine {
	switch sale := e.Sale.(type) {
	case *ConsolidatedSale:
		return []SaleLine{{
			EntryIndex:  entryIndex,
			ItemIndex:   -1,
			ProductCode: e.ProductCode,
			Unit:        e.Unit,
			Quantity:    sale.Quantity,
			UnitPrice:   sale.UnitPrice,
			Value:       sale.Value,
			Payments:    sale.Payments,
			Note:        e.Note,
		}}
	case *ItemizedSale:
		lines := make([]SaleLine, 0, len(sale.Items))
		for i, item := range sale.Items {
			lines = append(lines, SaleLine{
				EntryIndex:  entryIndex,
				ItemIndex:   i,
				ProductCode: e.ProductCode,
				Unit:        e.Unit,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
				Value:       item.Value,
				Payments:    item.Payments,
				Note:        item.Note,
				ParentNote:  e.Note,
			})
		}
		return lines
	default:
		return nil
	}
}

// SaleLines flattens every product-sale entry of the request in input order.
func (r *ShiftClosureRequest) SaleLines() []SaleLine {
	var lines []SaleLine
	for i, entry := range r.ProductSales {
		lines = append(lines, entry.Lines(i)...)
	}
	return lines
}

// HoseCount returns the number of hose readings in the request.
func (r *ShiftClosureRequest) HoseCount() int {
	n := 0
	for _, d := range r.Dispensers {
		n += len(d.Hoses)
	}
	return n
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// decimals are compared as floats by the numeric tags (gte, gt)
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// Validate checks the request shape. It does not look anything up.
func (r *ShiftClosureRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return describeValidation(err)
	}
	for i, entry := range r.ProductSales {
		if entry.Sale == nil {
			return fmt.Errorf("product_sales[%d]: either quantity or items is required", i)
		}
		if err := validate.Struct(entry.Sale); err != nil {
			return fmt.Errorf("product_sales[%d]: %w", i, describeValidation(err))
		}
	}
	return nil
}

func describeValidation(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "ShiftClosureRequest.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}
