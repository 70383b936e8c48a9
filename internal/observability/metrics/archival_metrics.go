package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	archivaldomain "github.com/smallbiznis/billarchive/internal/archival/domain"
	coldstoredomain "github.com/smallbiznis/billarchive/internal/coldstore/domain"
	"github.com/smallbiznis/billarchive/pkg/db"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonDB                   = "db"
	JobReasonStorage              = "storage"
	JobReasonCorruption           = "data_corruption"
	JobReasonInconsistent         = "archive_inconsistent"
	JobReasonAlreadyMigrated      = "already_migrated"
	JobReasonNotFound             = "not_found"
	JobReasonInvalidRecord        = "invalid_record"
	JobReasonIDConflict           = "id_conflict"
	JobReasonUnknown              = "unknown"

	BatchDeferredReasonLockHeld = "lock_held"
	BatchDeferredReasonRetry    = "retry"
)

const (
	ResourceRecords  = "records"
	ResourceMetadata = "metadata"
)

// ArchivalJobMetrics captures archiver job health signals.
type ArchivalJobMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	batchDeferred  *prometheus.CounterVec
	runLoopLag     prometheus.Observer
	coldStoreOps   *prometheus.HistogramVec
}

var (
	archivalJobMetricsOnce sync.Once
	archivalJobMetrics     *ArchivalJobMetrics
)

// ArchivalJobs returns the singleton archiver metrics registry.
func ArchivalJobs() *ArchivalJobMetrics {
	return ArchivalJobsWithConfig(Config{})
}

// ArchivalJobsWithConfig returns the singleton archiver metrics registry using config labels.
func ArchivalJobsWithConfig(cfg Config) *ArchivalJobMetrics {
	archivalJobMetricsOnce.Do(func() {
		archivalJobMetrics = newArchivalJobMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return archivalJobMetrics
}

// NewArchivalJobMetrics builds an unshared registry, mostly for tests.
func NewArchivalJobMetrics(registerer prometheus.Registerer, cfg Config) *ArchivalJobMetrics {
	return newArchivalJobMetrics(registerer, cfg)
}

func newArchivalJobMetrics(registerer prometheus.Registerer, cfg Config) *ArchivalJobMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billarchive_job_runs_total",
		Help:        "Archiver job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "billarchive_job_duration_seconds",
		Help:        "Archiver job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600, 1800},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billarchive_job_timeouts_total",
		Help:        "Archiver job runs that hit their deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billarchive_job_errors_total",
		Help:        "Archiver job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	batchProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billarchive_batch_processed_total",
		Help:        "Items processed by archiver jobs.",
		ConstLabels: constLabels,
	}, []string{"job", "resource"})
	batchDeferred := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billarchive_batch_deferred_total",
		Help:        "Archiver batch deferrals by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "billarchive_runloop_lag_seconds",
		Help:        "Run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	coldStoreOps := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "billarchive_cold_store_operation_seconds",
		Help:        "Cold store call latency by backend, operation and outcome.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	}, []string{"backend", "operation", "status"})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		batchProcessed,
		batchDeferred,
		runLoopLag,
		coldStoreOps,
	)

	return &ArchivalJobMetrics{
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		jobTimeouts:    jobTimeouts,
		jobErrors:      jobErrors,
		batchProcessed: batchProcessed,
		batchDeferred:  batchDeferred,
		runLoopLag:     runLoopLag,
		coldStoreOps:   coldStoreOps,
	}
}

func constLabelsFor(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "billarchive"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}

func (m *ArchivalJobMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *ArchivalJobMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *ArchivalJobMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the job error counter with classification.
func (m *ArchivalJobMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyArchivalError(err)).Inc()
}

// AddBatchProcessed increments the processed counter for a resource by count.
func (m *ArchivalJobMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

func (m *ArchivalJobMetrics) IncBatchDeferred(job, reason string) {
	if m == nil {
		return
	}
	m.batchDeferred.WithLabelValues(job, reason).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *ArchivalJobMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ObserveColdStoreOp records one cold store call. A not-found read counts as "miss".
func (m *ArchivalJobMetrics) ObserveColdStoreOp(backend, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, coldstoredomain.ErrNotFound):
		status = "miss"
	case errors.Is(err, coldstoredomain.ErrExists):
		status = "exists"
	default:
		status = "error"
	}
	m.coldStoreOps.WithLabelValues(backend, operation, status).Observe(duration.Seconds())
}

// ClassifyArchivalError maps archival errors to low-cardinality reasons.
func ClassifyArchivalError(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return JobReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return JobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return JobReasonSerializationFailure
	case errors.Is(err, archivaldomain.ErrIDConflict):
		return JobReasonIDConflict
	case db.IsDuplicateKeyErr(err):
		return JobReasonUniqueViolation
	case errors.Is(err, archivaldomain.ErrCorrupted) ||
		errors.Is(err, archivaldomain.ErrStoredDocument) ||
		errors.Is(err, coldstoredomain.ErrCorruptBlob):
		return JobReasonCorruption
	case errors.Is(err, archivaldomain.ErrArchiveInconsistent):
		return JobReasonInconsistent
	case errors.Is(err, archivaldomain.ErrAlreadyMigrated):
		return JobReasonAlreadyMigrated
	case errors.Is(err, archivaldomain.ErrInvalidRecord) || errors.Is(err, archivaldomain.ErrInvalidID):
		return JobReasonInvalidRecord
	case errors.Is(err, archivaldomain.ErrNotFound):
		return JobReasonNotFound
	case isDBError(err):
		return JobReasonDB
	}
	if stage, ok := archivaldomain.StageOf(err); ok && stage == archivaldomain.StageColdWrite {
		return JobReasonStorage
	}
	return JobReasonUnknown
}

// IsRetryable reports whether a failed migration may succeed on a later attempt.
func IsRetryable(err error) bool {
	switch ClassifyArchivalError(err) {
	case JobReasonAlreadyMigrated, JobReasonNotFound, JobReasonInvalidRecord, JobReasonCorruption, JobReasonIDConflict:
		return false
	default:
		return err != nil
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
