// Package reconciler closes fuel station shifts.
//
// The Engine runs one closure end to end:
//   - Validate the request and check the location exists
//   - Compute every hose, product sale, tank reading and payment in memory
//   - Reject the closure when the shift key is already taken
//   - Commit all writes in a single transaction
//
// Per-line problems never abort a closure; they are collected as errors or
// warnings on the result and the offending line is left out of every write.
// Only a missing location, a duplicate shift, a held lock, cancellation or a
// store failure produce a failed result, and in that case nothing is written.
//
// Example usage:
//
//	engine, err := reconciler.NewEngine(st,
//		reconciler.WithLocker(locker),
//		reconciler.WithObserver(reconciler.NewLoggingObserver(nil)),
//	)
//	if err != nil {
//		return err
//	}
//	result, err := engine.Close(ctx, request)
//	if err != nil {
//		// result.Status == models.StatusFailed
//	}
package reconciler

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"fuel-shift-reconciliation/internal/dispenser"
	"fuel-shift-reconciliation/internal/finance"
	"fuel-shift-reconciliation/internal/lock"
	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/store"
	"fuel-shift-reconciliation/pkg/errors"
)

// Engine closes shifts against a store.
type Engine struct {
	store      store.Store
	locker     lock.Locker
	config     *Config
	observer   Observer
	calculator *dispenser.Calculator
	classifier *finance.Classifier
}

// Option customizes an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg *Config) Option {
	return func(e *Engine) {
		e.config = cfg
	}
}

// WithLocker serializes closures of the same shift through locker.
func WithLocker(locker lock.Locker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithObserver receives closure events.
func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		e.observer = observer
	}
}

// NewEngine creates a closure engine
func NewEngine(st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.ValidationError(
			errors.CodeMissingField,
			"store",
			nil,
			nil,
		).WithSuggestion("Provide a store implementation")
	}

	e := &Engine{
		store:    st,
		locker:   lock.NopLocker{},
		config:   DefaultConfig(),
		observer: NopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.config == nil {
		e.config = DefaultConfig()
	}
	if err := e.config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"reconciler",
			nil,
			err,
		)
	}

	e.calculator = dispenser.NewCalculator(st)
	e.classifier = finance.NewClassifier(st, e.config.BucketOverrides)
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// Close reconciles and persists one shift closure. The returned result is
// never nil. A non-nil error means the closure failed as a whole and nothing
// was written; result.Status is then models.StatusFailed.
func (e *Engine) Close(ctx context.Context, req *models.ShiftClosureRequest) (result *models.ClosureResult, err error) {
	startTime := time.Now()
	var locationID uint
	if req != nil {
		locationID = req.LocationID
	}

	defer func() {
		if r := recover(); r != nil {
			rerr := errors.InternalError(errors.CodeUnexpectedError, "shift closure", fmt.Errorf("panic: %v", r))
			result, err = failed(locationID, models.IssueInternal, rerr), rerr
		}
		result.ProcessedAt = e.config.now()
		e.observer.ClosureFinished(result, err, time.Since(startTime))
	}()

	if req != nil {
		e.observer.ClosureStarted(req)
	}
	return e.close(ctx, req)
}

func (e *Engine) close(ctx context.Context, req *models.ShiftClosureRequest) (*models.ClosureResult, error) {
	// Step 1: request shape and location
	stepStart := time.Now()
	if req == nil {
		rerr := errors.ValidationError(errors.CodeInvalidRequest, "request is required", nil, nil)
		return failed(0, models.IssueInvalidRequest, rerr), rerr
	}
	if err := req.Validate(); err != nil {
		rerr := errors.ValidationError(errors.CodeInvalidRequest, err.Error(), nil, nil)
		return failed(req.LocationID, models.IssueInvalidRequest, rerr), rerr
	}

	location, err := e.store.FindLocation(ctx, req.LocationID)
	if stderrors.Is(err, store.ErrNotFound) {
		rerr := errors.NotFoundError(errors.CodeLocationNotFound, "location", req.LocationID, nil)
		return failed(req.LocationID, models.IssueLocationNotFound, rerr), rerr
	}
	if err != nil {
		rerr := errors.PersistenceError(errors.CodeConnectionFailed, "location lookup", err)
		return failed(req.LocationID, models.IssueInternal, rerr), rerr
	}
	e.observer.StepCompleted(location.ID, StepValidate, time.Since(stepStart))

	key := models.KeyFor(location.ID, req.ShiftStart, req.ShiftEnd)
	release, err := e.locker.Obtain(ctx, key.String())
	if stderrors.Is(err, lock.ErrLocked) {
		rerr := errors.ConflictError(errors.CodeLockHeld, key.String(), nil)
		return failed(location.ID, models.IssueShiftLocked, rerr), rerr
	}
	if err != nil {
		rerr := errors.PersistenceError(errors.CodeConnectionFailed, "shift lock", err)
		return failed(location.ID, models.IssueInternal, rerr), rerr
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			e.observer.LockReleaseFailed(key.String(), err)
		}
	}()

	consolidated, err := e.store.ConsolidatedPaymentMode(ctx, location.ID)
	if err != nil {
		rerr := errors.PersistenceError(errors.CodeConnectionFailed, "location settings", err)
		return failed(location.ID, models.IssueInternal, rerr), rerr
	}
	consolidated = consolidated || e.config.forcesConsolidated(location.ID)

	// Step 2: compute everything in memory
	stepStart = time.Now()
	r := newRun(e, req, consolidated)
	if err := r.compute(ctx); err != nil {
		if ctx.Err() != nil {
			return cancelled(location.ID, ctx.Err())
		}
		rerr := errors.InternalError(errors.CodeUnexpectedError, "closure computation", err)
		return failed(location.ID, models.IssueInternal, rerr), rerr
	}
	e.observer.StepCompleted(location.ID, StepCompute, time.Since(stepStart))

	// Step 3: duplicate check
	stepStart = time.Now()
	if ctx.Err() != nil {
		return cancelled(location.ID, ctx.Err())
	}
	_, err = e.store.FindShiftByKey(ctx, key)
	switch {
	case err == nil:
		rerr := errors.ConflictError(errors.CodeDuplicateShift, key.String(), store.ErrDuplicateShift)
		return failed(location.ID, models.IssueDuplicateShift, rerr), rerr
	case !stderrors.Is(err, store.ErrNotFound):
		if ctx.Err() != nil {
			return cancelled(location.ID, ctx.Err())
		}
		rerr := errors.PersistenceError(errors.CodeConnectionFailed, "duplicate shift check", err)
		return failed(location.ID, models.IssueInternal, rerr), rerr
	}
	e.observer.StepCompleted(location.ID, StepDuplicate, time.Since(stepStart))

	// Step 4: commit; no longer cancellable from here
	stepStart = time.Now()
	if ctx.Err() != nil {
		return cancelled(location.ID, ctx.Err())
	}
	if err := r.commit(context.WithoutCancel(ctx), key); err != nil {
		rerr := commitError(key, err)
		code := models.IssueInternal
		if rerr.Code == errors.CodeDuplicateShift {
			code = models.IssueDuplicateShift
		}
		return failed(location.ID, code, rerr), rerr
	}
	e.observer.StepCompleted(location.ID, StepCommit, time.Since(stepStart))

	return r.result, nil
}

func commitError(key models.ShiftKey, err error) *errors.ReconcilerError {
	var stockErr *stockError
	switch {
	case stderrors.Is(err, store.ErrDuplicateShift):
		return errors.ConflictError(errors.CodeDuplicateShift, key.String(), err)
	case stderrors.As(err, &stockErr) && stderrors.Is(err, store.ErrInsufficientStock):
		return errors.InventoryError(errors.CodeInsufficientStock, stockErr.productCode, err)
	default:
		return errors.PersistenceError(errors.CodeTransactionFailed, "shift commit", err)
	}
}

func cancelled(locationID uint, cause error) (*models.ClosureResult, error) {
	rerr := errors.InternalError(errors.CodeCancelled, "shift closure", cause)
	return failed(locationID, models.IssueInternal, rerr), rerr
}

// failed builds the failed result for rerr. The issue message leaves out
// the suggestion, which stays on the returned error.
func failed(locationID uint, code models.IssueCode, rerr *errors.ReconcilerError) *models.ClosureResult {
	msg := rerr.Message
	if rerr.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, rerr.Cause)
	}
	return models.NewFailedResult(locationID, code, msg)
}
