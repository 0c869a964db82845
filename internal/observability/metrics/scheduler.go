package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	SchedulerErrorTypeDeadlineExceeded = "deadline_exceeded"
	SchedulerErrorTypeDB               = "db"
	SchedulerErrorTypeUnknown          = "unknown"
)

// SchedulerMetrics captures background job health for the reconciliation sweep.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	balanceDrift   prometheus.Counter
}

func NewSchedulerMetrics(reg prometheus.Registerer) (*SchedulerMetrics, error) {
	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loop_scheduler_job_runs_total",
			Help: "Scheduler job runs by name.",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loop_scheduler_job_duration_seconds",
			Help:    "Scheduler job latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loop_scheduler_job_timeouts_total",
			Help: "Scheduler jobs that hit their deadline.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loop_scheduler_job_errors_total",
			Help: "Scheduler job errors by low-cardinality type.",
		}, []string{"job", "error_type"}),
		batchProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loop_scheduler_batch_processed_total",
			Help: "Items processed by scheduler jobs.",
		}, []string{"job"}),
		balanceDrift: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loop_balance_drift_total",
			Help: "Memberships whose balance snapshot differed from the ledger sum.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.batchProcessed,
		m.balanceDrift,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerErrorType(err)).Inc()
}

func (m *SchedulerMetrics) AddProcessed(job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job).Add(float64(count))
}

func (m *SchedulerMetrics) IncBalanceDrift() {
	if m == nil {
		return
	}
	m.balanceDrift.Inc()
}

// ClassifySchedulerErrorType buckets job errors into a fixed label set.
func ClassifySchedulerErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SchedulerErrorTypeDeadlineExceeded
	case errors.Is(err, gorm.ErrInvalidTransaction), errors.Is(err, gorm.ErrInvalidDB):
		return SchedulerErrorTypeDB
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return SchedulerErrorTypeDB
	}
	return SchedulerErrorTypeUnknown
}
