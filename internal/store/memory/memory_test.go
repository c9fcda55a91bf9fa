package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shift(loc uint) *models.ShiftRecord {
	start := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	key := models.KeyFor(loc, start, start.Add(8*time.Hour))
	return &models.ShiftRecord{
		LocationID: key.LocationID, ShiftDate: key.Date, StartTime: key.StartTime, EndTime: key.EndTime,
		Status: models.StatusSuccess,
	}
}

func TestLookups(t *testing.T) {
	ctx := context.Background()
	st := New()
	loc := st.AddLocation(models.Location{Name: "North", ConsolidatedPaymentMode: true})
	p := st.AddProduct(models.Product{Code: "REG", Active: true})
	st.AddProduct(models.Product{Code: "OLD", Active: false})
	st.AddTank(models.Tank{ID: 20, LocationID: loc.ID, ProductID: p.ID, Active: true})
	st.AddTank(models.Tank{ID: 10, LocationID: loc.ID, ProductID: p.ID, Active: false})
	st.AddTank(models.Tank{ID: 30, LocationID: loc.ID, ProductID: p.ID, Active: true})

	got, err := st.FindProductByCode(ctx, "REG")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = st.FindProductByCode(ctx, "OLD")
	assert.ErrorIs(t, err, store.ErrNotFound)

	tank, err := st.FindActiveTank(ctx, p.ID, loc.ID)
	require.NoError(t, err)
	assert.Equal(t, uint(20), tank.ID, "lowest active tank id wins")

	mode, err := st.ConsolidatedPaymentMode(ctx, loc.ID)
	require.NoError(t, err)
	assert.True(t, mode)

	_, err = st.FindLocation(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithinTransaction_CommitAndDuplicate(t *testing.T) {
	ctx := context.Background()
	st := New()
	loc := st.AddLocation(models.Location{Name: "North"})

	err := st.WithinTransaction(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		return uow.CreateShift(ctx, shift(loc.ID))
	})
	require.NoError(t, err)
	require.Len(t, st.Shifts(), 1)

	found, err := st.FindShiftByKey(ctx, st.Shifts()[0].Key())
	require.NoError(t, err)
	assert.NotZero(t, found.ID)

	err = st.WithinTransaction(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		return uow.CreateShift(ctx, shift(loc.ID))
	})
	assert.ErrorIs(t, err, store.ErrDuplicateShift)
	assert.Len(t, st.Shifts(), 1)
}

func TestSaveShiftPayload(t *testing.T) {
	ctx := context.Background()
	st := New()
	loc := st.AddLocation(models.Location{Name: "North"})
	result := &models.ClosureResult{LocationID: loc.ID, Status: models.StatusSuccess}

	err := st.WithinTransaction(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		rec := shift(loc.ID)
		rec.Payload = result
		if err := uow.CreateShift(ctx, rec); err != nil {
			return err
		}
		result.Cash.OpeningBalance = decimal.NewFromInt(1000)
		result.SetShift(rec.ID, "ref-1")
		return uow.SaveShiftPayload(ctx, rec.ID, result)
	})
	require.NoError(t, err)

	result.Reference = "changed later"
	stored := st.Shifts()[0].Payload
	require.NotNil(t, stored)
	require.NotNil(t, stored.ShiftID)
	assert.Equal(t, st.Shifts()[0].ID, *stored.ShiftID)
	assert.Equal(t, "ref-1", stored.Reference)
	assert.True(t, stored.Cash.OpeningBalance.Equal(decimal.NewFromInt(1000)))

	err = st.WithinTransaction(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		return uow.SaveShiftPayload(ctx, 999, result)
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithinTransaction_Rollback(t *testing.T) {
	ctx := context.Background()
	st := New()
	loc := st.AddLocation(models.Location{Name: "North"})
	oil := st.AddProduct(models.Product{Code: "OIL", Active: true, CurrentStock: decimal.NewFromInt(5)})

	err := st.WithinTransaction(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		if err := uow.CreateShift(ctx, shift(loc.ID)); err != nil {
			return err
		}
		if err := uow.AdjustStock(ctx, oil.ID, decimal.NewFromInt(2), store.Decrement); err != nil {
			return err
		}
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	assert.Empty(t, st.Shifts())
	p, _ := st.Product("OIL")
	assert.True(t, p.CurrentStock.Equal(decimal.NewFromInt(5)))
}

func TestAdjustStock_Guarded(t *testing.T) {
	ctx := context.Background()
	st := New()
	oil := st.AddProduct(models.Product{Code: "OIL", Active: true, CurrentStock: decimal.NewFromInt(1)})

	err := st.WithinTransaction(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		return uow.AdjustStock(ctx, oil.ID, decimal.NewFromInt(2), store.Decrement)
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	err = st.WithinTransaction(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		return uow.AdjustStock(ctx, oil.ID, decimal.NewFromInt(3), store.Increment)
	})
	require.NoError(t, err)
	p, _ := st.Product("OIL")
	assert.True(t, p.CurrentStock.Equal(decimal.NewFromInt(4)))
}

func TestFailOn(t *testing.T) {
	st := New()
	st.FailOn("AppendMeterHistory", errors.New("disk full"))
	err := st.WithinTransaction(context.Background(), func(ctx context.Context, uow store.UnitOfWork) error {
		return uow.AppendMeterHistory(ctx, []models.MeterHistoryRecord{{HoseID: "H1"}})
	})
	assert.EqualError(t, err, "disk full")
	assert.Empty(t, st.MeterHistory())
}
