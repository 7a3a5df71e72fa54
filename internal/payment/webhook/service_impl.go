package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	crdomain "github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	"github.com/smallbiznis/rosterpay/internal/clock"
	obscontext "github.com/smallbiznis/rosterpay/internal/observability/context"
	"github.com/smallbiznis/rosterpay/internal/observability/logger"
	"github.com/smallbiznis/rosterpay/internal/observability/metrics"
	"github.com/smallbiznis/rosterpay/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/rosterpay/internal/payment/domain"
	"github.com/smallbiznis/rosterpay/internal/reference"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Repo           paymentdomain.Repository
	Adapters       *adapters.Registry
	ChangeRequests crdomain.Service
	Clock          clock.Clock      `optional:"true"`
	Metrics        *metrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	repo           paymentdomain.Repository
	adapters       *adapters.Registry
	changeRequests crdomain.Service
	clock          clock.Clock
	metrics        *metrics.Metrics
}

func NewService(p Params) paymentdomain.WebhookService {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("payment.webhook"),
		genID:          p.GenID,
		repo:           p.Repo,
		adapters:       p.Adapters,
		changeRequests: p.ChangeRequests,
		clock:          clk,
		metrics:        p.Metrics,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if !s.adapters.ProviderExists(provider) {
		return paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	adapter, err := s.adapters.Adapter(provider)
	if err != nil {
		return err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return nil
		}
		return err
	}
	event.Provider = provider
	if event.RawPayload == nil {
		event.RawPayload = payload
	}
	s.metrics.RecordPaymentEvent(ctx, provider, event.Type)

	return s.ProcessEvent(ctx, event)
}

// ProcessEvent stores event once and reconciles the change request its
// reference points at. Redelivered events that were already processed are
// dropped.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	log := logger.WithContext(ctx, s.log).With(
		zap.String("provider", event.Provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_type", event.Type),
	)

	record := &paymentdomain.EventRecord{
		ID:                s.genID.Generate(),
		Provider:          event.Provider,
		ProviderEventID:   event.ProviderEventID,
		EventType:         event.Type,
		ProviderPaymentID: event.ProviderPaymentID,
		ReferenceID:       event.ReferenceID,
		Payload:           datatypes.JSON(event.RawPayload),
		ReceivedAt:        s.clock.Now(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return err
	}
	if !inserted {
		existing, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if existing == nil || existing.ProcessedAt != nil {
			log.Debug("duplicate payment event dropped")
			return nil
		}
		record = existing
	}

	if err := s.reconcile(ctx, log, event); err != nil {
		return err
	}
	return s.repo.MarkEventProcessed(ctx, s.db, record.ID, s.clock.Now())
}

func (s *Service) reconcile(ctx context.Context, log *zap.Logger, event *paymentdomain.PaymentEvent) error {
	requestID, ok := reference.Decode(event.ReferenceID)
	if !ok {
		log.Info("payment event reference not issued by this service", zap.String("reference_id", event.ReferenceID))
		return nil
	}
	ctx = obscontext.WithChangeRequestID(ctx, requestID)
	log = log.With(zap.String("change_request_id", requestID))

	req, err := s.changeRequests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, crdomain.ErrNotFound) || errors.Is(err, crdomain.ErrInvalidID) {
			log.Warn("payment event for unknown change request")
			return nil
		}
		return err
	}

	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		return s.reconcileSucceeded(ctx, log, req, event)
	case paymentdomain.EventTypePaymentFailed:
		if req.Status != crdomain.StatusPending {
			log.Debug("failed payment ignored for non-pending request", zap.String("status", string(req.Status)))
			return nil
		}
		reason := "payment " + strings.ToLower(event.Status)
		if _, err := s.changeRequests.Fail(ctx, req.ID, reason); err != nil && !errors.Is(err, crdomain.ErrInvalidTransition) {
			return err
		}
		log.Info("change request failed from payment event")
		return nil
	default:
		return nil
	}
}

func (s *Service) reconcileSucceeded(ctx context.Context, log *zap.Logger, req crdomain.ChangeRequest, event *paymentdomain.PaymentEvent) error {
	if req.Status.Terminal() {
		log.Debug("change request already settled", zap.String("status", string(req.Status)))
		return nil
	}

	if err := s.ensurePaymentRecord(ctx, req, event); err != nil {
		return err
	}

	if req.Status == crdomain.StatusPending {
		_, err := s.changeRequests.MarkProcessing(ctx, req.ID, event.ReferenceID)
		if err != nil && !errors.Is(err, crdomain.ErrInvalidTransition) {
			s.metrics.RecordReconciliationFailure(ctx, string(req.Type))
			return err
		}
	}

	// Underpaid requests stay processing for an operator to settle.
	if expected, paid, short := underpaid(req, event); short {
		s.metrics.RecordReconciliationFailure(ctx, string(req.Type))
		log.Error("payment amount below change request amount, not applied",
			zap.String("payment_id", event.ProviderPaymentID),
			zap.String("expected_amount", expected.StringFixed(2)),
			zap.String("paid_amount", paid.StringFixed(2)),
		)
		return nil
	}

	if _, err := s.changeRequests.Activate(ctx, req.ID); err != nil {
		if errors.Is(err, crdomain.ErrInvalidTransition) {
			log.Warn("change request settled concurrently, payment event not applied")
			return nil
		}
		s.metrics.RecordReconciliationFailure(ctx, string(req.Type))
		log.Error("change request activation from payment event failed", zap.Error(err))
		return err
	}
	log.Info("change request activated from payment event", zap.String("payment_id", event.ProviderPaymentID))
	return nil
}

func underpaid(req crdomain.ChangeRequest, event *paymentdomain.PaymentEvent) (expected, paid decimal.Decimal, short bool) {
	if event.Amount <= 0 {
		return decimal.Zero, decimal.Zero, false
	}
	expected, err := decimal.NewFromString(req.MetadataString(crdomain.MetadataAmount))
	if err != nil || !expected.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}
	paid = decimal.New(event.Amount, -2)
	return expected, paid, paid.LessThan(expected)
}

func (s *Service) ensurePaymentRecord(ctx context.Context, req crdomain.ChangeRequest, event *paymentdomain.PaymentEvent) error {
	existing, err := s.repo.FindCompletedPayment(ctx, s.db, req.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	currency := event.Currency
	if currency == "" {
		currency = paymentdomain.CurrencyUSD
	}
	return s.repo.InsertPayment(ctx, s.db, &paymentdomain.PaymentRecord{
		ID:                 s.genID.Generate(),
		RequestID:          req.ID,
		ReferenceID:        event.ReferenceID,
		IdempotencyKey:     event.Provider + ":" + event.ProviderEventID,
		Amount:             decimal.New(event.Amount, -2).StringFixed(2),
		Currency:           currency,
		Status:             paymentdomain.PaymentStatusCompleted,
		ProcessorPaymentID: event.ProviderPaymentID,
		ReceiptURL:         event.ReceiptURL,
		CreatedAt:          s.clock.Now(),
	})
}
