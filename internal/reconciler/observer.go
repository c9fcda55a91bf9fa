package reconciler

import (
	"time"

	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/pkg/logger"
)

// Step names a phase of a closure.
type Step string

const (
	StepValidate  Step = "validate"
	StepCompute   Step = "compute"
	StepDuplicate Step = "duplicate_check"
	StepCommit    Step = "commit"
)

// Observer receives closure events. The engine itself never logs; callers
// plug in logging, metrics or both.
type Observer interface {
	ClosureStarted(req *models.ShiftClosureRequest)
	StepCompleted(locationID uint, step Step, elapsed time.Duration)
	IssueRecorded(locationID uint, issue models.Issue)
	ClosureFinished(result *models.ClosureResult, err error, elapsed time.Duration)
	LockReleaseFailed(key string, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) ClosureStarted(*models.ShiftClosureRequest)                  {}
func (NopObserver) StepCompleted(uint, Step, time.Duration)                     {}
func (NopObserver) IssueRecorded(uint, models.Issue)                            {}
func (NopObserver) ClosureFinished(*models.ClosureResult, error, time.Duration) {}
func (NopObserver) LockReleaseFailed(string, error)                             {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) ClosureStarted(req *models.ShiftClosureRequest) {
	for _, obs := range o {
		obs.ClosureStarted(req)
	}
}

func (o Observers) StepCompleted(locationID uint, step Step, elapsed time.Duration) {
	for _, obs := range o {
		obs.StepCompleted(locationID, step, elapsed)
	}
}

func (o Observers) IssueRecorded(locationID uint, issue models.Issue) {
	for _, obs := range o {
		obs.IssueRecorded(locationID, issue)
	}
}

func (o Observers) ClosureFinished(result *models.ClosureResult, err error, elapsed time.Duration) {
	for _, obs := range o {
		obs.ClosureFinished(result, err, elapsed)
	}
}

func (o Observers) LockReleaseFailed(key string, err error) {
	for _, obs := range o {
		obs.LockReleaseFailed(key, err)
	}
}

// LoggingObserver writes closure events to a structured logger.
type LoggingObserver struct {
	log logger.Logger
}

// NewLoggingObserver creates an observer logging through log, or through the
// global logger when log is nil.
func NewLoggingObserver(log logger.Logger) *LoggingObserver {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &LoggingObserver{log: log.WithComponent("shift_closure")}
}

func (o *LoggingObserver) ClosureStarted(req *models.ShiftClosureRequest) {
	o.log.WithFields(logger.Fields{
		"location_id":  req.LocationID,
		"operator_id":  req.OperatorID,
		"shift_start":  req.ShiftStart,
		"shift_end":    req.ShiftEnd,
		"dispensers":   len(req.Dispensers),
		"hoses":        req.HoseCount(),
		"tanks":        len(req.TankReadings),
		"product_sale": len(req.ProductSales),
	}).Info("Starting shift closure")
}

func (o *LoggingObserver) StepCompleted(locationID uint, step Step, elapsed time.Duration) {
	o.log.WithFields(logger.Fields{
		"location_id": locationID,
		"step":        step,
		"elapsed":     elapsed,
	}).Debug("Closure step completed")
}

func (o *LoggingObserver) IssueRecorded(locationID uint, issue models.Issue) {
	entry := o.log.WithFields(logger.Fields{
		"location_id": locationID,
		"code":        issue.Code,
		"line":        issue.Line,
		"product":     issue.ProductCode,
	})
	if issue.Severity == models.SeverityError {
		entry.Warn(issue.Message)
		return
	}
	entry.Debug(issue.Message)
}

func (o *LoggingObserver) ClosureFinished(result *models.ClosureResult, err error, elapsed time.Duration) {
	fields := logger.Fields{
		"location_id": result.LocationID,
		"status":      result.Status,
		"errors":      len(result.Errors),
		"warnings":    len(result.Warnings),
		"elapsed":     elapsed,
	}
	if result.ShiftID != nil {
		fields["shift_id"] = *result.ShiftID
		fields["reference"] = result.Reference
	}
	if err != nil {
		o.log.WithError(err).WithFields(fields).Error("Shift closure failed")
		return
	}
	o.log.WithFields(fields).Info("Shift closure completed")
}

func (o *LoggingObserver) LockReleaseFailed(key string, err error) {
	o.log.WithError(err).WithField("shift_key", key).Warn("Failed to release shift lock")
}
