// Package gateway captures payments against the processor, probing a list of
// candidate endpoints in order.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/rosterpay/internal/config"
	"github.com/smallbiznis/rosterpay/internal/observability/logger"
	"github.com/smallbiznis/rosterpay/internal/observability/metrics"
	"github.com/smallbiznis/rosterpay/internal/observability/tracing"
	"github.com/smallbiznis/rosterpay/internal/payment/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

// Capturer is what the orchestrator needs from a payment gateway.
type Capturer interface {
	Capture(ctx context.Context, req domain.CaptureRequest) (domain.NormalizedPaymentResult, error)
}

type Config struct {
	BaseURL           string
	AccessToken       string
	Endpoints         []string
	EndpointTimeout   time.Duration
	SimulationAllowed bool
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		BaseURL:           cfg.Payment.BaseURL,
		AccessToken:       cfg.Payment.AccessToken,
		Endpoints:         cfg.Payment.Endpoints,
		EndpointTimeout:   cfg.Payment.EndpointTimeout,
		SimulationAllowed: cfg.SimulationAllowed(),
	}
}

type Params struct {
	fx.In

	Cfg            config.Config
	Log            *zap.Logger
	Metrics        *metrics.Metrics        `optional:"true"`
	PaymentMetrics *metrics.PaymentMetrics `optional:"true"`
}

type Client struct {
	cfg            Config
	http           *http.Client
	log            *zap.Logger
	tracer         trace.Tracer
	metrics        *metrics.Metrics
	paymentMetrics *metrics.PaymentMetrics
}

func New(p Params) *Client {
	client := NewClient(ConfigFrom(p.Cfg), p.Log, &http.Client{})
	client.metrics = p.Metrics
	client.paymentMetrics = p.PaymentMetrics
	if p.Cfg.Payment.SimulationEnabled && p.Cfg.IsProduction() {
		client.log.Warn("payment simulation requested in production and ignored")
	}
	return client
}

func NewClient(cfg Config, log *zap.Logger, httpClient *http.Client) *Client {
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = append([]string(nil), config.DefaultPaymentEndpoints...)
	}
	if cfg.EndpointTimeout <= 0 {
		cfg.EndpointTimeout = 5 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		log:    log.Named("payment.gateway"),
		tracer: otel.Tracer("rosterpay/payment/gateway"),
	}
}

type captureBody struct {
	SourceID       string            `json:"sourceId"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	IdempotencyKey string            `json:"idempotencyKey"`
	Note           string            `json:"note"`
	ReferenceID    string            `json:"referenceId"`
	Metadata       map[string]string `json:"metadata"`
}

// Capture tries each endpoint until one answers 2xx. It returns an error only
// for missing inputs; processor declines and exhaustion are reported in the
// result.
func (c *Client) Capture(ctx context.Context, req domain.CaptureRequest) (domain.NormalizedPaymentResult, error) {
	if strings.TrimSpace(req.SourceID) == "" || strings.TrimSpace(req.IdempotencyKey) == "" || req.Details.IsZero() {
		return domain.NormalizedPaymentResult{}, domain.ErrMissingParameter
	}

	ctx, span := c.tracer.Start(ctx, "payment.capture", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("payment.reference_id", req.Details.ReferenceID),
		attribute.String("payment.change_type", string(req.Details.ChangeType)),
	)...)

	body, err := json.Marshal(captureBody{
		SourceID:       req.SourceID,
		Amount:         req.Details.MinorUnits(),
		Currency:       req.Details.Currency,
		IdempotencyKey: req.IdempotencyKey,
		Note:           req.Details.Description,
		ReferenceID:    req.Details.ReferenceID,
		Metadata: map[string]string{
			"request_id":         req.Details.RequestID,
			"payment_attempt_id": req.Details.ID.String(),
			"change_type":        string(req.Details.ChangeType),
			"item_id":            req.Details.ItemID,
			"team_id":            req.Details.TeamID,
		},
	})
	if err != nil {
		return domain.NormalizedPaymentResult{}, err
	}

	log := logger.WithContext(ctx, c.log).With(
		zap.String("reference_id", req.Details.ReferenceID),
		zap.String("idempotency_key", req.IdempotencyKey),
	)

	var lastErr string
	for i, endpoint := range c.cfg.Endpoints {
		if i > 0 {
			c.paymentMetrics.IncFallback(c.cfg.Endpoints[i-1])
		}

		result, err := c.try(ctx, endpoint, body)
		if err != nil {
			lastErr = err.Error()
			log.Warn("payment endpoint failed",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", i+1),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		result.Endpoint = endpoint
		span.SetAttributes(
			attribute.String("payment.endpoint", endpoint),
			attribute.Bool("payment.success", result.Success),
		)
		log.Info("payment endpoint answered",
			zap.String("endpoint", endpoint),
			zap.Bool("success", result.Success),
			zap.String("status", result.Status),
		)
		return result, nil
	}

	c.paymentMetrics.IncExhausted()
	if c.cfg.SimulationAllowed {
		result := simulate()
		c.paymentMetrics.IncSimulated()
		log.Warn("all payment endpoints failed, simulating capture",
			zap.String("payment_id", result.PaymentID),
			zap.String("last_error", lastErr),
		)
		span.SetAttributes(attribute.Bool("payment.simulated", true))
		return result, nil
	}

	span.SetStatus(codes.Error, "all payment endpoints failed")
	log.Error("all payment endpoints failed", zap.String("last_error", lastErr))
	if lastErr == "" {
		lastErr = "payment processor unavailable"
	}
	return domain.NormalizedPaymentResult{Success: false, Error: lastErr}, nil
}

// try posts to one endpoint. A nil error means the processor answered 2xx,
// whatever the payment status in the body.
func (c *Client) try(ctx context.Context, endpoint string, body []byte) (domain.NormalizedPaymentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.EndpointTimeout)
	defer cancel()

	start := time.Now()
	outcome := metrics.CaptureOutcomeTransport
	defer func() {
		c.paymentMetrics.ObserveCapture(endpoint, outcome, time.Since(start))
		c.metrics.RecordCaptureAttempt(ctx, endpoint, outcome)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.NormalizedPaymentResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.AccessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}
	tracing.InjectContext(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return domain.NormalizedPaymentResult{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.NormalizedPaymentResult{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome = metrics.CaptureOutcomeHTTPError
		detail := Normalize(respBody).Error
		if detail == "" || detail == "invalid processor response" {
			return domain.NormalizedPaymentResult{}, fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode)
		}
		return domain.NormalizedPaymentResult{}, fmt.Errorf("%s returned status %d: %s", endpoint, resp.StatusCode, detail)
	}

	result := Normalize(respBody)
	if result.Success {
		outcome = metrics.CaptureOutcomeSucceeded
	} else {
		outcome = metrics.CaptureOutcomeDeclined
	}
	return result, nil
}

var _ Capturer = (*Client)(nil)
