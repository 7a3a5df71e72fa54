package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	submissions            metric.Int64Counter
	captureAttempts        metric.Int64Counter
	statusTransitions      metric.Int64Counter
	reconciliationFailures metric.Int64Counter
	paymentEvents          metric.Int64Counter
	lockContention         metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "rosterpay"
	}
	meter := provider.Meter(name)

	submissions, err := meter.Int64Counter("rosterpay_submissions_total")
	if err != nil {
		return nil, err
	}
	captureAttempts, err := meter.Int64Counter("rosterpay_capture_attempts_total")
	if err != nil {
		return nil, err
	}
	statusTransitions, err := meter.Int64Counter("rosterpay_status_transitions_total")
	if err != nil {
		return nil, err
	}
	reconciliationFailures, err := meter.Int64Counter("rosterpay_reconciliation_failures_total")
	if err != nil {
		return nil, err
	}
	paymentEvents, err := meter.Int64Counter("rosterpay_payment_events_total")
	if err != nil {
		return nil, err
	}
	lockContention, err := meter.Int64Counter("rosterpay_submit_lock_contention_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		submissions:            submissions,
		captureAttempts:        captureAttempts,
		statusTransitions:      statusTransitions,
		reconciliationFailures: reconciliationFailures,
		paymentEvents:          paymentEvents,
		lockContention:         lockContention,
	}, nil
}

// RecordSubmission counts an orchestrated submission by its outcome.
func (m *Metrics) RecordSubmission(ctx context.Context, changeType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("change_type", strings.TrimSpace(changeType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.submissions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCaptureAttempt counts a single processor endpoint call.
func (m *Metrics) RecordCaptureAttempt(ctx context.Context, endpoint, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.captureAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStatusTransition counts change request lifecycle transitions.
func (m *Metrics) RecordStatusTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from_status", strings.TrimSpace(from)),
		attribute.String("to_status", strings.TrimSpace(to)),
	)
	m.statusTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReconciliationFailure counts payments that succeeded but could not be recorded.
func (m *Metrics) RecordReconciliationFailure(ctx context.Context, changeType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("change_type", strings.TrimSpace(changeType)))
	m.reconciliationFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentEvent increments payment event counts.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLockContention counts submissions rejected because another one held the lock.
func (m *Metrics) RecordLockContention(ctx context.Context, changeType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("change_type", strings.TrimSpace(changeType)))
	m.lockContention.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"change_type": {},
	"outcome":     {},
	"endpoint":    {},
	"status_code": {},
	"from_status": {},
	"to_status":   {},
	"provider":    {},
	"event_type":  {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
