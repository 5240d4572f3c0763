package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	OutcomeAccepted    = "accepted"
	OutcomeDuplicate   = "duplicate"
	OutcomeInvalid     = "invalid"
	OutcomeRateLimited = "rate_limited"
	OutcomeFailed      = "failed"

	OutcomeOK           = "ok"
	OutcomeEmpty        = "empty"
	OutcomeLocked       = "locked"
	OutcomeInsertFailed = "insert_failed"

	OutcomePersisted        = "persisted"
	OutcomeAlreadyPersisted = "already_persisted"
	OutcomeDiscarded        = "discarded"

	OutcomeSynced  = "synced"
	OutcomeSkipped = "skipped"

	OutcomeRetry   = "retry"
	OutcomeDropped = "dropped"
)

const (
	PropagationRating   = "rating"
	PropagationDocument = "document"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonRecordNotFound       = "record_not_found"
	JobReasonUnknown              = "unknown"
)

// PipelineMetrics captures rating pipeline health: intake outcomes, cache
// soft failures, drain throughput, aggregate syncs and index propagation.
type PipelineMetrics struct {
	cacheErrors      *prometheus.CounterVec
	ratingsSubmitted *prometheus.CounterVec
	drainRuns        *prometheus.CounterVec
	drainEntries     *prometheus.CounterVec
	drainDuration    prometheus.Histogram
	pendingQueue     prometheus.Gauge
	statsSyncs       *prometheus.CounterVec
	propagations     *prometheus.CounterVec
	pendingTimers    prometheus.Gauge
	jobRuns          *prometheus.CounterVec
	jobErrors        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// Pipeline returns the process-wide pipeline metrics.
func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{})
}

// PipelineWithConfig returns the process-wide pipeline metrics, labelling
// them with the service and environment from cfg on first use.
func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// ResetPipelineMetricsForTest resets the singleton for tests.
func ResetPipelineMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

// NewPipelineMetricsForTest registers a fresh set of collectors on registerer.
func NewPipelineMetricsForTest(registerer prometheus.Registerer) *PipelineMetrics {
	return newPipelineMetrics(registerer, Config{ServiceName: "marquee", Environment: "test"})
}

func newPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "marquee"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &PipelineMetrics{
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "marquee_cache_errors_total",
			Help:        "Cache operations that failed and were treated as a miss or no-op.",
			ConstLabels: constLabels,
		}, []string{"op"}),
		ratingsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "marquee_ratings_submitted_total",
			Help:        "Rating submissions by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		drainRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "marquee_rating_drain_runs_total",
			Help:        "Pending queue drain cycles by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		drainEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "marquee_rating_drain_entries_total",
			Help:        "Pending queue entries removed by the drain, by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "marquee_rating_drain_duration_seconds",
			Help:        "Duration of a pending queue drain cycle.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			ConstLabels: constLabels,
		}),
		pendingQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "marquee_rating_pending_queue_length",
			Help:        "Pending queue length observed at the start of the last drain.",
			ConstLabels: constLabels,
		}),
		statsSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "marquee_stats_syncs_total",
			Help:        "Aggregate synchronizations by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		propagations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "marquee_index_propagations_total",
			Help:        "Search index writes by kind and outcome.",
			ConstLabels: constLabels,
		}, []string{"kind", "outcome"}),
		pendingTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "marquee_index_pending_timers",
			Help:        "Debounced index updates waiting to fire.",
			ConstLabels: constLabels,
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "marquee_job_runs_total",
			Help:        "Background job executions by type and outcome.",
			ConstLabels: constLabels,
		}, []string{"job", "outcome"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "marquee_job_errors_total",
			Help:        "Background job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "marquee_job_duration_seconds",
			Help:        "Background job latency.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			ConstLabels: constLabels,
		}, []string{"job"}),
	}

	registerer.MustRegister(
		m.cacheErrors,
		m.ratingsSubmitted,
		m.drainRuns,
		m.drainEntries,
		m.drainDuration,
		m.pendingQueue,
		m.statsSyncs,
		m.propagations,
		m.pendingTimers,
		m.jobRuns,
		m.jobErrors,
		m.jobDuration,
	)
	return m
}

func (m *PipelineMetrics) IncCacheError(op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(op).Inc()
}

func (m *PipelineMetrics) IncRatingSubmitted(outcome string) {
	if m == nil {
		return
	}
	m.ratingsSubmitted.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) IncDrainRun(outcome string) {
	if m == nil {
		return
	}
	m.drainRuns.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) AddDrainEntries(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.drainEntries.WithLabelValues(outcome).Add(float64(count))
}

func (m *PipelineMetrics) ObserveDrainDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.drainDuration.Observe(d.Seconds())
}

func (m *PipelineMetrics) SetPendingQueueLength(n int64) {
	if m == nil {
		return
	}
	m.pendingQueue.Set(float64(n))
}

func (m *PipelineMetrics) IncStatsSync(outcome string) {
	if m == nil {
		return
	}
	m.statsSyncs.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) IncPropagation(kind, outcome string) {
	if m == nil {
		return
	}
	m.propagations.WithLabelValues(kind, outcome).Inc()
}

func (m *PipelineMetrics) SetPendingTimers(n int) {
	if m == nil {
		return
	}
	m.pendingTimers.Set(float64(n))
}

// ObserveJob records one job execution. A nil err counts as ok.
func (m *PipelineMetrics) ObserveJob(job string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
	if err == nil {
		m.jobRuns.WithLabelValues(job, OutcomeOK).Inc()
		return
	}
	m.jobRuns.WithLabelValues(job, OutcomeFailed).Inc()
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return JobReasonDeadlineExceeded
	case errors.Is(err, gorm.ErrRecordNotFound):
		return JobReasonRecordNotFound
	case hasPGCode(err, "55P03"):
		return JobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return JobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return JobReasonUniqueViolation
	default:
		return JobReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
