// Package store declares the persistence ports the closure engine depends on.
//
// Read ports are used while computing a closure. Every write happens through
// a UnitOfWork obtained from Transactor.WithinTransaction, so a closure is
// committed entirely or not at all. Implementations live in the memory and
// gormstore subpackages.
package store

import (
	"context"
	"errors"

	"fuel-shift-reconciliation/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned by lookups that find nothing.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateShift is returned when the shift key is already taken.
	ErrDuplicateShift = errors.New("shift already closed")
	// ErrInsufficientStock is returned when a guarded stock decrement would go below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Direction of a stock adjustment.
type Direction int

const (
	Decrement Direction = iota
	Increment
)

// Locations finds stations.
type Locations interface {
	FindLocation(ctx context.Context, id uint) (*models.Location, error)
}

// Catalog finds products.
type Catalog interface {
	FindProductByCode(ctx context.Context, code string) (*models.Product, error)
}

// Tanks finds tanks.
type Tanks interface {
	FindActiveTank(ctx context.Context, productID, locationID uint) (*models.Tank, error)
	FindTank(ctx context.Context, id uint) (*models.Tank, error)
}

// PaymentMethods finds registered payment methods.
type PaymentMethods interface {
	FindMethodByCode(ctx context.Context, code string) (*models.PaymentMethod, error)
}

// Shifts finds closed shifts.
type Shifts interface {
	FindShiftByKey(ctx context.Context, key models.ShiftKey) (*models.ShiftRecord, error)
}

// Settings exposes per-location configuration.
type Settings interface {
	ConsolidatedPaymentMode(ctx context.Context, locationID uint) (bool, error)
}

// UnitOfWork groups the writes of one closure. It is only valid inside the
// function passed to WithinTransaction.
type UnitOfWork interface {
	CreateShift(ctx context.Context, shift *models.ShiftRecord) error
	// SaveShiftPayload replaces the audit payload of a shift created in the
	// same transaction.
	SaveShiftPayload(ctx context.Context, shiftID uint, payload *models.ClosureResult) error
	AppendMeterHistory(ctx context.Context, records []models.MeterHistoryRecord) error
	AppendSalesHistory(ctx context.Context, records []models.SalesHistoryRecord) error
	AppendPaymentBreakdown(ctx context.Context, records []models.PaymentBreakdownRecord) error
	AdjustStock(ctx context.Context, productID uint, qty decimal.Decimal, dir Direction) error
	UpdateTankLevel(ctx context.Context, tankID uint, level, occupancy decimal.Decimal) error
	GetOrCreateCashLedger(ctx context.Context, locationID uint) (*models.CashLedger, error)
	AppendCashEntries(ctx context.Context, entries []models.CashLedgerEntry) error
	UpdateCashBalance(ctx context.Context, ledgerID uint, balance decimal.Decimal) error
}

// Transactor runs fn in a single transaction. A non-nil error from fn rolls
// every write back.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}

// Store is everything the closure engine needs.
type Store interface {
	Locations
	Catalog
	Tanks
	PaymentMethods
	Shifts
	Settings
	Transactor
}
