package reconciler

import (
	"context"
	"fmt"

	"fuel-shift-reconciliation/internal/cashledger"
	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/store"

	"github.com/google/uuid"
)

// stockError names the product whose guarded decrement failed at commit.
type stockError struct {
	productCode string
	err         error
}

func (e *stockError) Error() string {
	return fmt.Sprintf("adjusting stock of %s: %v", e.productCode, e.err)
}

func (e *stockError) Unwrap() error {
	return e.err
}

// commit writes the closure in one transaction. The shift record is created
// first so every history row carries its id from the start; its audit payload
// is saved last, once the shift id and cash balances are known.
func (r *run) commit(ctx context.Context, key models.ShiftKey) error {
	reference := uuid.NewString()
	r.result.Status = r.result.FinalStatus()
	r.result.Reference = reference

	err := r.engine.store.WithinTransaction(ctx, func(ctx context.Context, uow store.UnitOfWork) error {
		shift := &models.ShiftRecord{
			Reference:     reference,
			LocationID:    key.LocationID,
			ShiftDate:     key.Date,
			StartTime:     key.StartTime,
			EndTime:       key.EndTime,
			OperatorID:    r.req.OperatorID,
			ShiftStart:    r.req.ShiftStart,
			ShiftEnd:      r.req.ShiftEnd,
			Status:        r.result.Status,
			DeclaredTotal: r.result.Financial.DeclaredTotal,
			ComputedTotal: r.result.Financial.ComputedTotal,
			Variance:      r.result.Financial.Variance,
			Errors:        r.result.Errors,
			Warnings:      r.result.Warnings,
			Payload:       r.result,
		}
		if err := uow.CreateShift(ctx, shift); err != nil {
			return err
		}

		for i := range r.meter {
			r.meter[i].ShiftID = shift.ID
		}
		if err := uow.AppendMeterHistory(ctx, r.meter); err != nil {
			return fmt.Errorf("writing meter history: %w", err)
		}

		for i := range r.sales {
			r.sales[i].ShiftID = shift.ID
		}
		if err := uow.AppendSalesHistory(ctx, r.sales); err != nil {
			return fmt.Errorf("writing sales history: %w", err)
		}

		for i := range r.breakdown {
			r.breakdown[i].ShiftID = shift.ID
		}
		if err := uow.AppendPaymentBreakdown(ctx, r.breakdown); err != nil {
			return fmt.Errorf("writing payment breakdown: %w", err)
		}

		for _, dec := range r.stock {
			if err := uow.AdjustStock(ctx, dec.ProductID, dec.Quantity, store.Decrement); err != nil {
				return &stockError{productCode: dec.ProductCode, err: err}
			}
		}

		for _, t := range r.tanks {
			if err := uow.UpdateTankLevel(ctx, t.TankID, t.Level, t.Occupancy); err != nil {
				return fmt.Errorf("updating tank %d: %w", t.TankID, err)
			}
		}

		effect, err := cashledger.Apply(ctx, uow, key.LocationID, &shift.ID, r.cash)
		if err != nil {
			return err
		}
		r.result.Cash = effect
		r.result.SetShift(shift.ID, reference)

		if err := uow.SaveShiftPayload(ctx, shift.ID, r.result); err != nil {
			return fmt.Errorf("saving shift payload: %w", err)
		}
		return nil
	})
	return err
}
