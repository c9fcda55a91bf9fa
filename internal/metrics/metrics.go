// Package metrics exports shift closure metrics to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/internal/reconciler"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "shiftclose_"

// Metrics bundles closure metrics. It implements reconciler.Observer.
type Metrics struct {
	ClosuresTotal   *prometheus.CounterVec
	ClosureDuration *prometheus.HistogramVec
	StepDuration    *prometheus.HistogramVec
	IssuesTotal     *prometheus.CounterVec
	InFlight        prometheus.Gauge
	VarianceAbs     *prometheus.GaugeVec
	LockReleaseErrs prometheus.Counter
}

// New constructs the metrics and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ClosuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "closures_total",
				Help: "Total shift closures by status",
			},
			[]string{"status"},
		),
		ClosureDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "closure_duration_seconds",
				Help:    "Shift closure duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "step_duration_seconds",
				Help:    "Shift closure step duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		IssuesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "issues_total",
				Help: "Total closure issues by severity and code",
			},
			[]string{"severity", "code"},
		),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "closures_in_flight",
			Help: "Shift closures currently being processed",
		}),
		VarianceAbs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "last_variance_abs",
				Help: "Absolute payment variance of the last committed closure per location",
			},
			[]string{"location"},
		),
		LockReleaseErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "lock_release_errors_total",
			Help: "Shift locks that could not be released",
		}),
	}
	reg.MustRegister(
		m.ClosuresTotal,
		m.ClosureDuration,
		m.StepDuration,
		m.IssuesTotal,
		m.InFlight,
		m.VarianceAbs,
		m.LockReleaseErrs,
	)
	return m
}

func (m *Metrics) ClosureStarted(*models.ShiftClosureRequest) {
	m.InFlight.Inc()
}

func (m *Metrics) StepCompleted(_ uint, step reconciler.Step, elapsed time.Duration) {
	m.StepDuration.WithLabelValues(string(step)).Observe(elapsed.Seconds())
}

func (m *Metrics) IssueRecorded(_ uint, issue models.Issue) {
	m.IssuesTotal.WithLabelValues(string(issue.Severity), string(issue.Code)).Inc()
}

func (m *Metrics) ClosureFinished(result *models.ClosureResult, err error, elapsed time.Duration) {
	m.InFlight.Dec()
	status := string(result.Status)
	m.ClosuresTotal.WithLabelValues(status).Inc()
	m.ClosureDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	if err == nil && result.ShiftID != nil {
		variance, _ := result.Financial.Variance.Abs().Float64()
		m.VarianceAbs.WithLabelValues(strconv.FormatUint(uint64(result.LocationID), 10)).Set(variance)
	}
}

func (m *Metrics) LockReleaseFailed(string, error) {
	m.LockReleaseErrs.Inc()
}
