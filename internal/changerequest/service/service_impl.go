package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	"github.com/smallbiznis/rosterpay/internal/clock"
	"github.com/smallbiznis/rosterpay/internal/events"
	"github.com/smallbiznis/rosterpay/internal/observability/logger"
	"github.com/smallbiznis/rosterpay/internal/observability/metrics"
	"github.com/smallbiznis/rosterpay/pkg/db"
	"github.com/smallbiznis/rosterpay/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Repo           domain.Repository
	Mutator        domain.Mutator
	Clock          clock.Clock             `optional:"true"`
	Publisher      events.Publisher        `optional:"true"`
	Metrics        *metrics.Metrics        `optional:"true"`
	PaymentMetrics *metrics.PaymentMetrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	repo           domain.Repository
	mutator        domain.Mutator
	clock          clock.Clock
	publisher      events.Publisher
	metrics        *metrics.Metrics
	paymentMetrics *metrics.PaymentMetrics
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("changerequest.service"),
		repo:           p.Repo,
		mutator:        p.Mutator,
		clock:          clk,
		publisher:      p.Publisher,
		metrics:        p.Metrics,
		paymentMetrics: p.PaymentMetrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.ChangeRequest) (domain.ChangeRequest, error) {
	req.ID = strings.TrimSpace(req.ID)
	if _, err := uuid.Parse(req.ID); err != nil {
		return domain.ChangeRequest{}, domain.ErrInvalidID
	}
	if !req.Type.Valid() {
		return domain.ChangeRequest{}, domain.ErrInvalidChangeType
	}
	req.RequestedBy = strings.TrimSpace(req.RequestedBy)
	if req.RequestedBy == "" {
		return domain.ChangeRequest{}, domain.ErrInvalidRequester
	}
	req.ItemID = strings.TrimSpace(req.ItemID)
	if req.ItemID == "" {
		return domain.ChangeRequest{}, domain.ErrInvalidItem
	}

	now := s.clock.Now()
	req.TeamID = strings.TrimSpace(req.TeamID)
	req.Status = domain.StatusPending
	req.PaymentReference = ""
	req.FailureReason = ""
	req.ProcessedAt = nil
	req.CompletedAt = nil
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.Metadata == nil {
		req.Metadata = datatypes.JSONMap{}
	}

	if err := s.repo.Insert(ctx, &req); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ChangeRequest{}, domain.ErrDuplicateRequest
		}
		s.paymentMetrics.IncStoreError(metrics.StoreOperationCreate, err)
		return domain.ChangeRequest{}, err
	}

	s.transitioned(ctx, req, "")
	return req, nil
}

// MarkProcessing records the payment reference on a pending request. A
// request already carrying the same reference is returned unchanged, so a
// webhook and the submitting caller can both report the same capture.
func (s *Service) MarkProcessing(ctx context.Context, id, paymentReference string) (domain.ChangeRequest, error) {
	paymentReference = strings.TrimSpace(paymentReference)
	if paymentReference == "" {
		return domain.ChangeRequest{}, domain.ErrInvalidTransition
	}

	now := s.clock.Now()
	ok, err := s.repo.Transition(ctx, id, []domain.Status{domain.StatusPending}, map[string]any{
		"status":            string(domain.StatusProcessing),
		"payment_reference": paymentReference,
		"processed_at":      now,
		"updated_at":        now,
	})
	if err != nil {
		s.paymentMetrics.IncStoreError(metrics.StoreOperationMarkProcessing, err)
		return domain.ChangeRequest{}, err
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return domain.ChangeRequest{}, err
	}
	if ok {
		s.transitioned(ctx, current, domain.StatusPending)
		return current, nil
	}

	switch current.Status {
	case domain.StatusProcessing, domain.StatusCompleted:
		if current.PaymentReference == paymentReference {
			return current, nil
		}
	}
	return domain.ChangeRequest{}, domain.ErrInvalidTransition
}

// Activate completes a processing request and applies its mutation in the
// same transaction. Only the caller whose conditional update wins runs the
// mutator; later calls on a completed request return it unchanged.
func (s *Service) Activate(ctx context.Context, id string) (domain.ChangeRequest, error) {
	return s.applyTransition(ctx, id, domain.StatusProcessing, domain.StatusCompleted, metrics.StoreOperationActivate)
}

// Approve is the administrative fast track from pending straight to an
// applied mutation.
func (s *Service) Approve(ctx context.Context, id string) (domain.ChangeRequest, error) {
	return s.applyTransition(ctx, id, domain.StatusPending, domain.StatusApproved, metrics.StoreOperationActivate)
}

func (s *Service) applyTransition(ctx context.Context, id string, from, to domain.Status, op string) (domain.ChangeRequest, error) {
	var (
		result  domain.ChangeRequest
		applied bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTrx(tx)
		now := s.clock.Now()
		ok, err := repo.Transition(ctx, id, []domain.Status{from}, map[string]any{
			"status":       string(to),
			"completed_at": now,
			"updated_at":   now,
		})
		if err != nil {
			return err
		}

		current, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrNotFound
		}
		result = *current

		if !ok {
			if current.Status == to {
				return nil
			}
			return domain.ErrInvalidTransition
		}

		applied = true
		return s.mutator.Apply(ctx, tx, *current)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrInvalidTransition) {
			s.paymentMetrics.IncStoreError(op, err)
			logger.WithContext(ctx, s.log).Error("transition failed",
				zap.String("change_request_id", id),
				zap.String("to", string(to)),
				zap.Error(err),
			)
		}
		return domain.ChangeRequest{}, err
	}

	if applied {
		s.transitioned(ctx, result, from)
	}
	return result, nil
}

func (s *Service) Fail(ctx context.Context, id, reason string) (domain.ChangeRequest, error) {
	return s.terminate(ctx, id, reason,
		[]domain.Status{domain.StatusPending, domain.StatusProcessing},
		domain.StatusFailed,
	)
}

func (s *Service) Reject(ctx context.Context, id, reason string) (domain.ChangeRequest, error) {
	return s.terminate(ctx, id, reason,
		[]domain.Status{domain.StatusPending},
		domain.StatusRejected,
	)
}

func (s *Service) terminate(ctx context.Context, id, reason string, from []domain.Status, to domain.Status) (domain.ChangeRequest, error) {
	before, err := s.Get(ctx, id)
	if err != nil {
		return domain.ChangeRequest{}, err
	}

	ok, err := s.repo.Transition(ctx, id, from, map[string]any{
		"status":         string(to),
		"failure_reason": strings.TrimSpace(reason),
		"updated_at":     s.clock.Now(),
	})
	if err != nil {
		s.paymentMetrics.IncStoreError(metrics.StoreOperationFail, err)
		return domain.ChangeRequest{}, err
	}
	if !ok {
		return domain.ChangeRequest{}, domain.ErrInvalidTransition
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return domain.ChangeRequest{}, err
	}
	s.transitioned(ctx, current, before.Status)
	return current, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.ChangeRequest, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.ChangeRequest{}, domain.ErrInvalidID
	}
	item, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return domain.ChangeRequest{}, err
	}
	if item == nil {
		return domain.ChangeRequest{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) ListByTeam(ctx context.Context, req domain.ListByTeamRequest) (domain.ListByTeamResponse, error) {
	teamID := strings.TrimSpace(req.TeamID)
	if teamID == "" {
		return domain.ListByTeamResponse{}, domain.ErrInvalidTeam
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	items, err := s.repo.ListByTeam(ctx, teamID, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListByTeamResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *domain.ChangeRequest) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID,
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > pageSize {
		items = items[:pageSize]
	}

	out := make([]domain.ChangeRequest, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, *item)
	}

	resp := domain.ListByTeamResponse{ChangeRequests: out}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) transitioned(ctx context.Context, req domain.ChangeRequest, from domain.Status) {
	s.metrics.RecordStatusTransition(ctx, string(from), string(req.Status))

	logger.WithContext(ctx, s.log).Info("change request transitioned",
		zap.String("change_request_id", req.ID),
		zap.String("type", string(req.Type)),
		zap.String("from", string(from)),
		zap.String("to", string(req.Status)),
	)

	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishChangeRequest(ctx, events.ChangeRequestEvent{
		ChangeRequestID:  req.ID,
		TeamID:           req.TeamID,
		Type:             string(req.Type),
		Status:           string(req.Status),
		PreviousStatus:   string(from),
		PaymentReference: req.PaymentReference,
		FailureReason:    req.FailureReason,
		OccurredAt:       req.UpdatedAt,
	})
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("publish change request event failed",
			zap.String("change_request_id", req.ID),
			zap.Error(err),
		)
	}
}
