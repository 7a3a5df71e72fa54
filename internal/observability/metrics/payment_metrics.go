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
	StoreErrorReasonDeadlineExceeded     = "deadline_exceeded"
	StoreErrorReasonDBLockTimeout        = "db_lock_timeout"
	StoreErrorReasonSerializationFailure = "serialization_failure"
	StoreErrorReasonUniqueViolation      = "unique_violation"
	StoreErrorReasonDB                   = "db"
	StoreErrorReasonUnknown              = "unknown"
)

const (
	StoreOperationCreate         = "create"
	StoreOperationMarkProcessing = "mark_processing"
	StoreOperationActivate       = "activate"
	StoreOperationFail           = "fail"
	StoreOperationRecordPayment  = "record_payment"
)

const (
	CaptureOutcomeSucceeded = "succeeded"
	CaptureOutcomeDeclined  = "declined"
	CaptureOutcomeHTTPError = "http_error"
	CaptureOutcomeTransport = "transport_error"
)

// PaymentMetrics captures processor and record store health signals.
type PaymentMetrics struct {
	captureDuration  *prometheus.HistogramVec
	captureAttempts  *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec
	simulated        prometheus.Counter
	exhausted        prometheus.Counter
	storeErrors      *prometheus.CounterVec
	submitDuration   *prometheus.HistogramVec
	storeErrorCounts map[string]map[string]prometheus.Counter
}

var (
	paymentMetricsOnce sync.Once
	paymentMetrics     *PaymentMetrics
)

// Payment returns the singleton payment metrics registry.
func Payment() *PaymentMetrics {
	return PaymentWithConfig(Config{})
}

// PaymentWithConfig returns the singleton payment metrics registry using config labels.
func PaymentWithConfig(cfg Config) *PaymentMetrics {
	paymentMetricsOnce.Do(func() {
		paymentMetrics = newPaymentMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return paymentMetrics
}

// NewPaymentMetricsForTest builds an isolated registry-backed instance.
func NewPaymentMetricsForTest(registerer prometheus.Registerer) *PaymentMetrics {
	return newPaymentMetrics(registerer, Config{ServiceName: "rosterpay", Environment: "test"})
}

func newPaymentMetrics(registerer prometheus.Registerer, cfg Config) *PaymentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "rosterpay"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	captureDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "rosterpay_capture_duration_seconds",
		Help:        "Processor capture latency per candidate endpoint.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	}, []string{"endpoint"})
	captureAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "rosterpay_capture_endpoint_attempts_total",
		Help:        "Processor endpoint calls by outcome.",
		ConstLabels: constLabels,
	}, []string{"endpoint", "outcome"})
	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "rosterpay_capture_fallbacks_total",
		Help:        "Times the client moved past a failing endpoint.",
		ConstLabels: constLabels,
	}, []string{"endpoint"})
	simulated := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "rosterpay_capture_simulated_total",
		Help:        "Captures synthesized after every endpoint failed outside production.",
		ConstLabels: constLabels,
	})
	exhausted := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "rosterpay_capture_exhausted_total",
		Help:        "Captures where every endpoint failed.",
		ConstLabels: constLabels,
	})
	storeErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "rosterpay_store_errors_total",
		Help:        "Record store errors by operation and low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"operation", "reason"})
	submitDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "rosterpay_submit_duration_seconds",
		Help:        "End to end submission latency by outcome.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		ConstLabels: constLabels,
	}, []string{"change_type", "outcome"})

	registerer.MustRegister(
		captureDuration,
		captureAttempts,
		fallbacks,
		simulated,
		exhausted,
		storeErrors,
		submitDuration,
	)

	storeErrorCounts := map[string]map[string]prometheus.Counter{}
	reasons := []string{
		StoreErrorReasonDeadlineExceeded,
		StoreErrorReasonDBLockTimeout,
		StoreErrorReasonSerializationFailure,
		StoreErrorReasonUniqueViolation,
		StoreErrorReasonDB,
		StoreErrorReasonUnknown,
	}
	for _, op := range []string{
		StoreOperationCreate,
		StoreOperationMarkProcessing,
		StoreOperationActivate,
		StoreOperationFail,
		StoreOperationRecordPayment,
	} {
		opCounters := map[string]prometheus.Counter{}
		for _, reason := range reasons {
			opCounters[reason] = storeErrors.WithLabelValues(op, reason)
		}
		storeErrorCounts[op] = opCounters
	}

	return &PaymentMetrics{
		captureDuration:  captureDuration,
		captureAttempts:  captureAttempts,
		fallbacks:        fallbacks,
		simulated:        simulated,
		exhausted:        exhausted,
		storeErrors:      storeErrors,
		submitDuration:   submitDuration,
		storeErrorCounts: storeErrorCounts,
	}
}

// ObserveCapture records the latency and outcome of one endpoint call.
func (m *PaymentMetrics) ObserveCapture(endpoint, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.captureDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
	m.captureAttempts.WithLabelValues(endpoint, outcome).Inc()
}

// IncFallback counts a move past a failing endpoint.
func (m *PaymentMetrics) IncFallback(endpoint string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(endpoint).Inc()
}

func (m *PaymentMetrics) IncSimulated() {
	if m == nil {
		return
	}
	m.simulated.Inc()
}

func (m *PaymentMetrics) IncExhausted() {
	if m == nil {
		return
	}
	m.exhausted.Inc()
}

// ObserveSubmit records end to end submission latency.
func (m *PaymentMetrics) ObserveSubmit(changeType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.submitDuration.WithLabelValues(changeType, outcome).Observe(duration.Seconds())
}

// IncStoreError increments the store error counter with classification.
func (m *PaymentMetrics) IncStoreError(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	reason := ClassifyStoreErrorReason(err)
	if opCounters, ok := m.storeErrorCounts[operation]; ok {
		if counter, ok := opCounters[reason]; ok {
			counter.Inc()
			return
		}
	}
	m.storeErrors.WithLabelValues(operation, reason).Inc()
}

// ClassifyStoreErrorReason maps store errors to low-cardinality reasons.
func ClassifyStoreErrorReason(err error) string {
	if err == nil {
		return StoreErrorReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return StoreErrorReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return StoreErrorReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return StoreErrorReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return StoreErrorReasonUniqueViolation
	}
	if isDBError(err) {
		return StoreErrorReasonDB
	}
	return StoreErrorReasonUnknown
}

// IsStoreErrorRetryable reports whether a store error is transient.
func IsStoreErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return hasPGCode(err, "55P03") || hasPGCode(err, "40001")
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
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrUnsupportedDriver) ||
		errors.Is(err, gorm.ErrInvalidValue) ||
		errors.Is(err, gorm.ErrNotImplemented) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
