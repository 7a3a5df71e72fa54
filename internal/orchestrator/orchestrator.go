// Package orchestrator drives one paid change request from validation through
// capture to activation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	crdomain "github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	"github.com/smallbiznis/rosterpay/internal/clock"
	"github.com/smallbiznis/rosterpay/internal/config"
	obsctx "github.com/smallbiznis/rosterpay/internal/observability/context"
	"github.com/smallbiznis/rosterpay/internal/observability/logger"
	"github.com/smallbiznis/rosterpay/internal/observability/metrics"
	"github.com/smallbiznis/rosterpay/internal/observability/tracing"
	"github.com/smallbiznis/rosterpay/internal/payment/details"
	paymentdomain "github.com/smallbiznis/rosterpay/internal/payment/domain"
	"github.com/smallbiznis/rosterpay/internal/payment/gateway"
	"github.com/smallbiznis/rosterpay/internal/ratelimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrSubmissionInProgress = errors.New("submission_in_progress")
	ErrRateLimited          = errors.New("rate_limited")
)

// ReconciliationMessage is shown to callers whose payment was captured but
// could not be recorded.
const ReconciliationMessage = "payment succeeded, but recording failed; contact support"

type Outcome string

const (
	OutcomeSucceeded            Outcome = "succeeded"
	OutcomePaymentFailed        Outcome = "payment_failed"
	OutcomeReconciliationFailed Outcome = "reconciliation_failed"
)

// Intent is a caller's request to pay for one team change.
type Intent struct {
	RequestID   string
	TeamID      string
	RequestedBy string
	Type        crdomain.ChangeType
	ItemID      string
	Amount      decimal.Decimal
	Description string
	OldValue    string
	NewValue    string
	EventID     string
	Season      string
	PlayerIDs   []string
	NewOwnerID  string
	SourceID    string
	Metadata    map[string]any
}

type Result struct {
	Outcome     Outcome         `json:"outcome"`
	RequestID   string          `json:"request_id"`
	ReferenceID string          `json:"reference_id,omitempty"`
	Status      crdomain.Status `json:"status,omitempty"`
	Amount      string          `json:"amount,omitempty"`
	PaymentID   string          `json:"payment_id,omitempty"`
	ReceiptURL  string          `json:"receipt_url,omitempty"`
	Simulated   bool            `json:"simulated,omitempty"`
	Endpoint    string          `json:"-"`
	Error       string          `json:"error,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// ReconciliationError reports a captured payment whose change request could
// not be moved forward. It is never retried automatically.
type ReconciliationError struct {
	RequestID string
	PaymentID string
	Err       error
}

func (e *ReconciliationError) Error() string {
	if e.Err == nil {
		return ReconciliationMessage
	}
	return fmt.Sprintf("%s: %v", ReconciliationMessage, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Builder        *details.Builder
	Catalog        *config.CatalogHolder
	ChangeRequests crdomain.Service
	Gateway        gateway.Capturer
	Payments       paymentdomain.Repository
	Guard          *ratelimit.SubmissionGuard `optional:"true"`
	Clock          clock.Clock                `optional:"true"`
	Metrics        *metrics.Metrics           `optional:"true"`
	PaymentMetrics *metrics.PaymentMetrics    `optional:"true"`
}

type Orchestrator struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	builder        *details.Builder
	catalog        *config.CatalogHolder
	changeRequests crdomain.Service
	gateway        gateway.Capturer
	payments       paymentdomain.Repository
	guard          *ratelimit.SubmissionGuard
	clock          clock.Clock
	tracer         trace.Tracer
	metrics        *metrics.Metrics
	paymentMetrics *metrics.PaymentMetrics
}

func New(p Params) *Orchestrator {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Orchestrator{
		db:             p.DB,
		log:            p.Log.Named("orchestrator"),
		genID:          p.GenID,
		builder:        p.Builder,
		catalog:        p.Catalog,
		changeRequests: p.ChangeRequests,
		gateway:        p.Gateway,
		payments:       p.Payments,
		guard:          p.Guard,
		clock:          clk,
		tracer:         otel.Tracer("rosterpay/orchestrator"),
		metrics:        p.Metrics,
		paymentMetrics: p.PaymentMetrics,
	}
}

// Submit validates the intent, records a pending change request, captures
// the payment and activates the change. Processor declines are reported in
// the result with a nil error.
func (o *Orchestrator) Submit(ctx context.Context, in Intent) (result Result, err error) {
	start := time.Now()
	changeType := string(in.Type)

	ctx = obsctx.WithTeamID(ctx, in.TeamID)
	ctx = obsctx.WithActorID(ctx, in.RequestedBy)
	ctx, span := o.tracer.Start(ctx, "orchestrator.submit")
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("change_request.type", changeType),
		attribute.String("change_request.item_id", in.ItemID),
	)...)

	defer func() {
		outcome := string(result.Outcome)
		if err != nil && result.Outcome == "" {
			outcome = "rejected"
		}
		o.metrics.RecordSubmission(ctx, changeType, outcome)
		o.paymentMetrics.ObserveSubmit(changeType, outcome, time.Since(start))
		span.SetAttributes(attribute.String("change_request.outcome", outcome))
		if safe := tracing.SafeError(err); safe != nil {
			span.RecordError(safe)
			span.SetStatus(codes.Error, safe.Error())
		}
	}()

	log := logger.WithContext(ctx, o.log)

	built, err := o.builder.Build(in.Type, in.Amount, in.Description, details.Options{
		RequestID:      in.RequestID,
		TeamID:         in.TeamID,
		RequestedBy:    in.RequestedBy,
		ItemID:         in.ItemID,
		Name:           in.Type.DisplayName(),
		NewValue:       in.NewValue,
		OldValue:       in.OldValue,
		EventID:        in.EventID,
		PlayerIDs:      in.PlayerIDs,
		NewOwnerID:     in.NewOwnerID,
		FallbackAmount: o.fallbackPrice(in.ItemID),
	})
	if err != nil {
		log.Debug("submission rejected", zap.String("change_type", changeType), zap.Error(err))
		return Result{}, err
	}
	if strings.TrimSpace(in.SourceID) == "" {
		return Result{}, fmt.Errorf("%w: source_id", paymentdomain.ErrMissingParameter)
	}

	release, err := o.acquire(ctx, log, in)
	if err != nil {
		return Result{}, err
	}
	defer release()

	ctx = obsctx.WithChangeRequestID(ctx, built.RequestID)
	log = logger.WithChangeRequest(log, built.RequestID, changeType)
	span.SetAttributes(attribute.String("change_request.id", built.RequestID))

	req, err := o.changeRequests.Create(ctx, crdomain.ChangeRequest{
		ID:          built.RequestID,
		TeamID:      built.TeamID,
		RequestedBy: built.RequestedBy,
		Type:        built.ChangeType,
		ItemID:      built.ItemID,
		OldValue:    built.OldValue,
		NewValue:    built.NewValue,
		Metadata:    metadata(in, built),
	})
	if err != nil {
		return Result{}, err
	}

	result = Result{
		RequestID:   req.ID,
		ReferenceID: built.ReferenceID,
		Amount:      built.Amount.StringFixed(2),
	}

	idempotencyKey := ulid.Make().String()
	captured, err := o.gateway.Capture(ctx, paymentdomain.CaptureRequest{
		SourceID:       in.SourceID,
		IdempotencyKey: idempotencyKey,
		Details:        built,
	})
	if err != nil {
		o.failRequest(ctx, log, req.ID, err.Error())
		return Result{}, err
	}

	// Store writes after a capture must not be abandoned with the caller.
	storeCtx := context.WithoutCancel(ctx)

	result.PaymentID = captured.PaymentID
	result.ReceiptURL = captured.ReceiptURL
	result.Simulated = captured.Simulated
	result.Endpoint = captured.Endpoint

	recordErr := o.recordPayment(storeCtx, built, idempotencyKey, captured)

	if !captured.Success {
		if recordErr != nil {
			log.Warn("failed payment not recorded", zap.Error(recordErr))
		}
		failed := o.failRequest(storeCtx, log, req.ID, captured.Error)
		result.Outcome = OutcomePaymentFailed
		result.Status = failed
		result.Error = captured.Error
		log.Info("payment declined", zap.String("error", captured.Error))
		return result, nil
	}

	// A missing payment row does not block activation.
	if _, err := o.changeRequests.MarkProcessing(storeCtx, req.ID, built.ReferenceID); err != nil {
		return o.reconciliationFailed(storeCtx, log, changeType, result, errors.Join(recordErr, err))
	}
	completed, err := o.changeRequests.Activate(storeCtx, req.ID)
	if err != nil {
		return o.reconciliationFailed(storeCtx, log, changeType, result, errors.Join(recordErr, err))
	}
	if recordErr != nil {
		return o.reconciliationFailed(storeCtx, log, changeType, result, recordErr)
	}

	result.Outcome = OutcomeSucceeded
	result.Status = completed.Status
	log.Info("change request paid and applied",
		zap.String("payment_id", captured.PaymentID),
		zap.Bool("simulated", captured.Simulated),
		zap.String("endpoint", captured.Endpoint),
	)
	return result, nil
}

func (o *Orchestrator) acquire(ctx context.Context, log *zap.Logger, in Intent) (func(), error) {
	noop := func() {}
	if o.guard == nil {
		return noop, nil
	}

	scope := strings.TrimSpace(in.TeamID)
	if scope == "" {
		scope = strings.TrimSpace(in.RequestedBy)
	}
	if scope == "" {
		return noop, nil
	}

	allowed, err := o.guard.AllowTeam(ctx, scope)
	if err != nil {
		log.Warn("submission rate limit check failed", zap.Error(err))
	} else if !allowed.Allowed {
		return nil, fmt.Errorf("%w: retry after %s", ErrRateLimited, allowed.RetryAfter.Round(time.Second))
	}

	token, ok, err := o.guard.TryLock(ctx, scope, string(in.Type))
	if err != nil {
		log.Warn("submission lock unavailable", zap.Error(err))
		return noop, nil
	}
	if !ok {
		o.metrics.RecordLockContention(ctx, string(in.Type))
		return nil, ErrSubmissionInProgress
	}
	return func() {
		if err := o.guard.Release(context.WithoutCancel(ctx), scope, string(in.Type), token); err != nil {
			log.Warn("submission lock release failed", zap.Error(err))
		}
	}, nil
}

func (o *Orchestrator) fallbackPrice(itemID string) decimal.Decimal {
	price, ok := o.catalog.Get().Price(itemID)
	if !ok {
		return decimal.Zero
	}
	return price
}

func (o *Orchestrator) recordPayment(ctx context.Context, built paymentdomain.PaymentDetails, idempotencyKey string, captured paymentdomain.NormalizedPaymentResult) error {
	status := paymentdomain.PaymentStatusFailed
	if captured.Success {
		status = paymentdomain.PaymentStatusCompleted
	}
	err := o.payments.InsertPayment(ctx, o.db, &paymentdomain.PaymentRecord{
		ID:                 built.ID,
		RequestID:          built.RequestID,
		ReferenceID:        built.ReferenceID,
		IdempotencyKey:     idempotencyKey,
		Amount:             built.Amount.StringFixed(2),
		Currency:           built.Currency,
		Status:             status,
		ProcessorPaymentID: captured.PaymentID,
		ReceiptURL:         captured.ReceiptURL,
		Endpoint:           captured.Endpoint,
		Simulated:          captured.Simulated,
		Error:              captured.Error,
		CreatedAt:          o.clock.Now(),
	})
	if err != nil {
		o.paymentMetrics.IncStoreError(metrics.StoreOperationRecordPayment, err)
	}
	return err
}

func (o *Orchestrator) failRequest(ctx context.Context, log *zap.Logger, id, reason string) crdomain.Status {
	failed, err := o.changeRequests.Fail(ctx, id, reason)
	if err != nil {
		log.Error("change request could not be failed", zap.Error(err))
		return ""
	}
	return failed.Status
}

func (o *Orchestrator) reconciliationFailed(ctx context.Context, log *zap.Logger, changeType string, result Result, cause error) (Result, error) {
	o.metrics.RecordReconciliationFailure(ctx, changeType)
	log.Error("payment captured but change request not recorded",
		zap.String("payment_id", result.PaymentID),
		zap.String("reference_id", result.ReferenceID),
		zap.Error(cause),
	)

	result.Outcome = OutcomeReconciliationFailed
	result.Message = ReconciliationMessage
	if current, err := o.changeRequests.Get(ctx, result.RequestID); err == nil {
		result.Status = current.Status
	}
	return result, &ReconciliationError{
		RequestID: result.RequestID,
		PaymentID: result.PaymentID,
		Err:       cause,
	}
}

// metadata merges caller metadata with the validated fields. Derived keys
// always replace caller-supplied ones.
func metadata(in Intent, built paymentdomain.PaymentDetails) map[string]any {
	out := make(map[string]any, len(in.Metadata)+5)
	for k, v := range in.Metadata {
		out[k] = v
	}
	for _, key := range []string{
		crdomain.MetadataAmount,
		crdomain.MetadataPlayerIDs,
		crdomain.MetadataEventID,
		crdomain.MetadataSeason,
		crdomain.MetadataNewOwnerID,
	} {
		delete(out, key)
	}

	out[crdomain.MetadataAmount] = built.Amount.StringFixed(2)
	if len(built.PlayerIDs) > 0 {
		out[crdomain.MetadataPlayerIDs] = built.PlayerIDs
	}
	if built.EventID != "" {
		out[crdomain.MetadataEventID] = built.EventID
	}
	if season := strings.TrimSpace(in.Season); season != "" {
		out[crdomain.MetadataSeason] = season
	}
	if built.NewOwnerID != "" {
		out[crdomain.MetadataNewOwnerID] = built.NewOwnerID
	}
	return out
}
