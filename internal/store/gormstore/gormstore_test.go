package gormstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/store"
	"fuel-shift-reconciliation/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := Config{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
		LogLevel:     "silent",
	}
	db, err := Open(cfg, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, Migrate(context.Background(), db))

	s := New(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newShift(locationID uint) *models.ShiftRecord {
	start := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
	key := models.KeyFor(locationID, start, start.Add(8*time.Hour))
	return &models.ShiftRecord{
		Reference:  uuid.NewString(),
		LocationID: key.LocationID,
		ShiftDate:  key.Date,
		StartTime:  key.StartTime,
		EndTime:    key.EndTime,
		Status:     models.StatusSuccess,
		Warnings:   []models.Issue{models.NewWarning(models.IssueZeroDelta, "D1/H1", "no sales")},
	}
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{Driver: "oracle", DSN: "x"}.Validate())
	assert.Error(t, Config{Driver: "mysql"}.Validate())
	assert.Error(t, Config{Driver: "sqlite", DSN: "x", MaxOpenConns: -1}.Validate())
	assert.NoError(t, Config{Driver: "MySQL", DSN: "user:pw@tcp(localhost:3306)/fuel?parseTime=true"}.Validate())
}

func TestLookups(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	db := s.DB()

	loc := models.Location{Name: "North", ConsolidatedPaymentMode: true}
	require.NoError(t, db.Create(&loc).Error)
	reg := models.Product{Code: "REG", Name: "Regular", Unit: "galones", IsFuel: true, SalePrice: decimal.RequireFromString("15.14"), Active: true}
	require.NoError(t, db.Create(&reg).Error)
	tank := models.Tank{
		LocationID: loc.ID, ProductID: reg.ID, Capacity: decimal.NewFromInt(5000), Active: true,
		Calibration: []models.CalibrationPoint{{Height: decimal.NewFromInt(100), Volume: decimal.NewFromInt(2500)}},
	}
	require.NoError(t, db.Create(&tank).Error)
	visa := models.PaymentMethod{Code: "VISA", Bucket: "card", Active: true}
	require.NoError(t, db.Create(&visa).Error)

	p, err := s.FindProductByCode(ctx, "REG")
	require.NoError(t, err)
	assert.True(t, p.SalePrice.Equal(decimal.RequireFromString("15.14")))

	_, err = s.FindProductByCode(ctx, "NOPE")
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.FindActiveTank(ctx, reg.ID, loc.ID)
	require.NoError(t, err)
	assert.Equal(t, tank.ID, got.ID)
	require.Len(t, got.Calibration, 1)
	assert.True(t, got.Calibration[0].Volume.Equal(decimal.NewFromInt(2500)))

	m, err := s.FindMethodByCode(ctx, " visa ")
	require.NoError(t, err)
	assert.Equal(t, visa.ID, m.ID)

	mode, err := s.ConsolidatedPaymentMode(ctx, loc.ID)
	require.NoError(t, err)
	assert.True(t, mode)

	_, err = s.FindLocation(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateShift_UniqueKey(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.WithinTransaction(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		return uow.CreateShift(ctx, newShift(4))
	})
	require.NoError(t, err)

	err = s.WithinTransaction(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		return uow.CreateShift(ctx, newShift(4))
	})
	assert.ErrorIs(t, err, store.ErrDuplicateShift)

	var count int64
	require.NoError(t, s.DB().Model(&models.ShiftRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	rec, err := s.FindShiftByKey(ctx, newShift(4).Key())
	require.NoError(t, err)
	require.Len(t, rec.Warnings, 1)
	assert.Equal(t, models.IssueZeroDelta, rec.Warnings[0].Code)
}

func TestSaveShiftPayload(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	result := &models.ClosureResult{LocationID: 4, Status: models.StatusSuccess}
	err := s.WithinTransaction(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		rec := newShift(4)
		rec.Payload = result
		if err := uow.CreateShift(ctx, rec); err != nil {
			return err
		}
		result.Cash.OpeningBalance = decimal.NewFromInt(1000)
		result.Cash.ClosingBalance = decimal.NewFromInt(1200)
		result.SetShift(rec.ID, rec.Reference)
		return uow.SaveShiftPayload(ctx, rec.ID, result)
	})
	require.NoError(t, err)

	rec, err := s.FindShiftByKey(ctx, newShift(4).Key())
	require.NoError(t, err)
	require.NotNil(t, rec.Payload)
	require.NotNil(t, rec.Payload.ShiftID)
	assert.Equal(t, rec.ID, *rec.Payload.ShiftID)
	assert.Equal(t, rec.Reference, rec.Payload.Reference)
	assert.True(t, rec.Payload.Cash.OpeningBalance.Equal(decimal.NewFromInt(1000)))
	assert.True(t, rec.Payload.Cash.ClosingBalance.Equal(decimal.NewFromInt(1200)))

	err = s.WithinTransaction(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		return uow.SaveShiftPayload(ctx, 999, result)
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAdjustStock(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	oil := models.Product{Code: "OIL", Name: "Oil", Unit: "unidades", CurrentStock: decimal.NewFromInt(5), Active: true}
	require.NoError(t, s.DB().Create(&oil).Error)

	adjust := func(qty int64, dir store.Direction) error {
		return s.WithinTransaction(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
			return uow.AdjustStock(ctx, oil.ID, decimal.NewFromInt(qty), dir)
		})
	}

	require.NoError(t, adjust(3, store.Decrement))
	assert.ErrorIs(t, adjust(3, store.Decrement), store.ErrInsufficientStock)
	require.NoError(t, adjust(1, store.Increment))

	p, err := s.FindProductByCode(ctx, "OIL")
	require.NoError(t, err)
	assert.True(t, p.CurrentStock.Equal(decimal.NewFromInt(3)), "stock %s", p.CurrentStock)

	err = s.WithinTransaction(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		return uow.AdjustStock(ctx, 999, decimal.NewFromInt(1), store.Decrement)
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithinTransaction_RollsBackEverything(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	loc := models.Location{Name: "North"}
	require.NoError(t, s.DB().Create(&loc).Error)

	err := s.WithinTransaction(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		shift := newShift(loc.ID)
		if err := uow.CreateShift(ctx, shift); err != nil {
			return err
		}
		if err := uow.AppendMeterHistory(ctx, []models.MeterHistoryRecord{{ShiftID: shift.ID, HoseID: "H1"}}); err != nil {
			return err
		}
		ledger, err := uow.GetOrCreateCashLedger(ctx, loc.ID)
		if err != nil {
			return err
		}
		if err := uow.UpdateCashBalance(ctx, ledger.ID, decimal.NewFromInt(100)); err != nil {
			return err
		}
		return errors.New("commit aborted")
	})
	assert.EqualError(t, err, "commit aborted")

	for _, model := range []interface{}{&models.ShiftRecord{}, &models.MeterHistoryRecord{}, &models.CashLedger{}} {
		var count int64
		require.NoError(t, s.DB().Model(model).Count(&count).Error)
		assert.Zero(t, count, "%T survived the rollback", model)
	}
}

func TestCashLedger(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.WithinTransaction(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		ledger, err := uow.GetOrCreateCashLedger(ctx, 7)
		if err != nil {
			return err
		}
		assert.True(t, ledger.Balance.IsZero())
		shiftID := uint(1)
		if err := uow.AppendCashEntries(ctx, []models.CashLedgerEntry{
			{LedgerID: ledger.ID, ShiftID: &shiftID, Type: models.CashInflow, Amount: decimal.NewFromInt(500), Concept: "deposit"},
		}); err != nil {
			return err
		}
		return uow.UpdateCashBalance(ctx, ledger.ID, decimal.NewFromInt(500))
	})
	require.NoError(t, err)

	err = s.WithinTransaction(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		ledger, err := uow.GetOrCreateCashLedger(ctx, 7)
		if err != nil {
			return err
		}
		assert.True(t, ledger.Balance.Equal(decimal.NewFromInt(500)), "balance %s", ledger.Balance)
		return nil
	})
	require.NoError(t, err)

	var ledgers int64
	require.NoError(t, s.DB().Model(&models.CashLedger{}).Count(&ledgers).Error)
	assert.Equal(t, int64(1), ledgers)
}

func TestTranslateError(t *testing.T) {
	assert.Nil(t, TranslateError(nil))
	assert.ErrorIs(t, TranslateError(errors.New("UNIQUE constraint failed: shift_records.reference")), store.ErrDuplicateShift)
	other := errors.New("disk I/O error")
	assert.Equal(t, other, TranslateError(other))
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	locations := []models.Location{{ID: 3, Name: "Depot"}}
	products := []models.Product{{ID: 8, Code: "DSL", Name: "Diesel", Unit: "litros", IsFuel: true, SalePrice: decimal.RequireFromString("3.80"), Active: true}}
	require.NoError(t, Seed(ctx, s.DB(), &locations, &products))

	p, err := s.FindProductByCode(ctx, "DSL")
	require.NoError(t, err)
	assert.Equal(t, uint(8), p.ID)

	// seeding again updates in place
	products[0].SalePrice = decimal.RequireFromString("3.95")
	require.NoError(t, Seed(ctx, s.DB(), &products))
	p, err = s.FindProductByCode(ctx, "DSL")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("3.95").Equal(p.SalePrice))

	_, err = s.FindLocation(ctx, 3)
	assert.NoError(t, err)
}
