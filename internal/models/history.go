package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	shiftDateLayout = "2006-01-02"
	shiftTimeLayout = "15:04"
)

// ShiftKey identifies a shift: location, calendar date of the start, and
// start and end time of day.
type ShiftKey struct {
	LocationID uint
	Date       string
	StartTime  string
	EndTime    string
}

// KeyFor derives the shift key of a request window.
func KeyFor(locationID uint, start, end time.Time) ShiftKey {
	return ShiftKey{
		LocationID: locationID,
		Date:       start.Format(shiftDateLayout),
		StartTime:  start.Format(shiftTimeLayout),
		EndTime:    end.Format(shiftTimeLayout),
	}
}

func (k ShiftKey) String() string {
	return fmt.Sprintf("%d/%s/%s-%s", k.LocationID, k.Date, k.StartTime, k.EndTime)
}

// ShiftRecord is the durable closure aggregate. It is written once and
// never updated; uniq_shift_key rejects a second closure of the same shift.
type ShiftRecord struct {
	ID            uint            `gorm:"primary_key" json:"id"`
	Reference     string          `gorm:"size:36;not null;uniqueIndex" json:"reference"`
	LocationID    uint            `gorm:"not null;index:uniq_shift_key,unique" json:"location_id"`
	ShiftDate     string          `gorm:"size:10;not null;index:uniq_shift_key,unique" json:"shift_date"`
	StartTime     string          `gorm:"size:5;not null;index:uniq_shift_key,unique" json:"start_time"`
	EndTime       string          `gorm:"size:5;not null;index:uniq_shift_key,unique" json:"end_time"`
	OperatorID    uint            `gorm:"index" json:"operator_id"`
	ShiftStart    time.Time       `json:"shift_start"`
	ShiftEnd      time.Time       `json:"shift_end"`
	Status        ClosureStatus   `gorm:"size:30;not null" json:"status"`
	DeclaredTotal decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"declared_total"`
	ComputedTotal decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"computed_total"`
	Variance      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"variance"`
	Errors        []Issue         `gorm:"serializer:json;type:text" json:"errors"`
	Warnings      []Issue         `gorm:"serializer:json;type:text" json:"warnings"`
	Payload       *ClosureResult  `gorm:"serializer:json;type:longtext" json:"payload,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// Key returns the shift key of the record.
func (s *ShiftRecord) Key() ShiftKey {
	return ShiftKey{LocationID: s.LocationID, Date: s.ShiftDate, StartTime: s.StartTime, EndTime: s.EndTime}
}

// OperationShiftClose marks meter history rows written by a shift closure.
const OperationShiftClose = "shift_close"

// MeterHistoryRecord logs one accepted hose reading. ShiftID is set when the
// row is created inside the closure transaction.
type MeterHistoryRecord struct {
	ID              uint            `gorm:"primary_key" json:"id"`
	ShiftID         uint            `gorm:"index;not null" json:"shift_id"`
	LocationID      uint            `gorm:"index;not null" json:"location_id"`
	DispenserID     string          `gorm:"size:50;not null" json:"dispenser_id"`
	HoseID          string          `gorm:"size:50;not null;index" json:"hose_id"`
	ProductID       uint            `gorm:"index" json:"product_id"`
	PreviousReading decimal.Decimal `gorm:"type:decimal(20,4)" json:"previous_reading"`
	CurrentReading  decimal.Decimal `gorm:"type:decimal(20,4)" json:"current_reading"`
	Unit            string          `gorm:"size:20" json:"unit"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4)" json:"quantity"`
	QuantityGallons decimal.Decimal `gorm:"type:decimal(20,4)" json:"quantity_gallons"`
	QuantityLiters  decimal.Decimal `gorm:"type:decimal(20,4)" json:"quantity_liters"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(20,4)" json:"unit_price"`
	Value           decimal.Decimal `gorm:"type:decimal(20,4)" json:"value"`
	OperationType   string          `gorm:"size:30;not null" json:"operation_type"`
	OperatorID      uint            `json:"operator_id"`
	RecordedAt      time.Time       `json:"recorded_at"`
}

// SalesHistoryRecord attributes part of a product sale to one payment method.
type SalesHistoryRecord struct {
	ID                uint            `gorm:"primary_key" json:"id"`
	ShiftID           uint            `gorm:"index;not null" json:"shift_id"`
	LocationID        uint            `gorm:"index;not null" json:"location_id"`
	ProductID         uint            `gorm:"index" json:"product_id"`
	ProductCode       string          `gorm:"size:50" json:"product_code"`
	LineRef           string          `gorm:"size:100" json:"line_ref"`
	PaymentMethodCode string          `gorm:"size:50;not null" json:"payment_method_code"`
	PaymentMethodID   *uint           `json:"payment_method_id"`
	Quantity          decimal.Decimal `gorm:"type:decimal(20,4)" json:"quantity"`
	Unit              string          `gorm:"size:20" json:"unit"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,4)" json:"amount"`
	OperatorID        uint            `json:"operator_id"`
	SoldAt            time.Time       `json:"sold_at"`
}

// PaymentBreakdownRecord is the shift total of one payment method.
type PaymentBreakdownRecord struct {
	ID              uint            `gorm:"primary_key" json:"id"`
	ShiftID         uint            `gorm:"index;not null" json:"shift_id"`
	PaymentMethodID *uint           `json:"payment_method_id"`
	MethodCode      string          `gorm:"size:50;not null" json:"method_code"`
	Bucket          string          `gorm:"size:20" json:"bucket"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4)" json:"amount"`
	Percentage      decimal.Decimal `gorm:"type:decimal(10,2)" json:"percentage"`
}

// CashLedgerEntry is one persisted cash movement.
type CashLedgerEntry struct {
	ID        uint            `gorm:"primary_key" json:"id"`
	LedgerID  uint            `gorm:"index;not null" json:"ledger_id"`
	ShiftID   *uint           `gorm:"index" json:"shift_id"`
	Type      CashFlowType    `gorm:"size:10;not null" json:"type"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,4)" json:"amount"`
	Concept   string          `gorm:"size:100;not null" json:"concept"`
	Detail    string          `gorm:"type:text" json:"detail"`
	Automatic bool            `gorm:"not null;default:false" json:"automatic"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// AllModels lists every persisted model in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&Location{},
		&Product{},
		&Tank{},
		&PaymentMethod{},
		&CashLedger{},
		&ShiftRecord{},
		&MeterHistoryRecord{},
		&SalesHistoryRecord{},
		&PaymentBreakdownRecord{},
		&CashLedgerEntry{},
	}
}
