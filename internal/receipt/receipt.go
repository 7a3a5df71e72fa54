// Package receipt renders proof-of-payment documents for settled change
// requests.
package receipt

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	crdomain "github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	"github.com/smallbiznis/rosterpay/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/rosterpay/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotSettled    = errors.New("receipt_not_available")
	ErrPaymentAbsent = errors.New("payment_not_found")
)

// Data is everything printed on a receipt.
type Data struct {
	RequestID   string
	ReferenceID string
	PaymentID   string
	TeamID      string
	TeamName    string
	RequestedBy string
	Description string
	ItemID      string
	OldValue    string
	NewValue    string
	AmountMinor int64
	Currency    string
	Simulated   bool
	PaidAt      time.Time
}

// Total formats the paid amount with its currency symbol.
func (d Data) Total() string {
	currency := strings.ToUpper(strings.TrimSpace(d.Currency))
	if currency == "" {
		currency = paymentdomain.CurrencyUSD
	}
	return money.New(d.AmountMinor, currency).Display()
}

// Change describes the before and after values, when both are known.
func (d Data) Change() string {
	switch {
	case d.OldValue != "" && d.NewValue != "":
		return d.OldValue + " -> " + d.NewValue
	case d.NewValue != "":
		return d.NewValue
	default:
		return ""
	}
}

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	ChangeRequests crdomain.Service
	Payments       paymentdomain.Repository
	Renderer       Renderer
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	changeRequests crdomain.Service
	payments       paymentdomain.Repository
	renderer       Renderer
}

func NewService(p Params) *Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("receipt.service"),
		changeRequests: p.ChangeRequests,
		payments:       p.Payments,
		renderer:       p.Renderer,
	}
}

// Build collects receipt data for a completed or approved change request.
func (s *Service) Build(ctx context.Context, requestID string) (Data, error) {
	req, err := s.changeRequests.Get(ctx, requestID)
	if err != nil {
		return Data{}, err
	}
	if req.Status != crdomain.StatusCompleted && req.Status != crdomain.StatusApproved {
		return Data{}, ErrNotSettled
	}

	payment, err := s.payments.FindCompletedPayment(ctx, s.db, req.ID)
	if err != nil {
		return Data{}, err
	}
	if payment == nil {
		return Data{}, ErrPaymentAbsent
	}

	amount, err := decimal.NewFromString(payment.Amount)
	if err != nil {
		return Data{}, err
	}

	paidAt := payment.CreatedAt
	if req.CompletedAt != nil {
		paidAt = *req.CompletedAt
	}

	return Data{
		RequestID:   req.ID,
		ReferenceID: payment.ReferenceID,
		PaymentID:   payment.ProcessorPaymentID,
		TeamID:      req.TeamID,
		TeamName:    teamName(req),
		RequestedBy: req.RequestedBy,
		Description: req.Type.DisplayName(),
		ItemID:      req.ItemID,
		OldValue:    req.OldValue,
		NewValue:    req.NewValue,
		AmountMinor: amount.Shift(2).Round(0).IntPart(),
		Currency:    payment.Currency,
		Simulated:   payment.Simulated,
		PaidAt:      paidAt,
	}, nil
}

// Render builds and renders the receipt for requestID.
func (s *Service) Render(ctx context.Context, requestID string) (io.Reader, error) {
	data, err := s.Build(ctx, requestID)
	if err != nil {
		return nil, err
	}
	doc, err := s.renderer.Render(ctx, data)
	if err != nil {
		logger.WithContext(ctx, s.log).Error("render receipt failed",
			zap.String("change_request_id", requestID),
			zap.Error(err),
		)
		return nil, err
	}
	return doc, nil
}

func teamName(req crdomain.ChangeRequest) string {
	switch req.Type {
	case crdomain.ChangeTypeTeamRebrand, crdomain.ChangeTypeTeamCreation:
		if req.NewValue != "" {
			return req.NewValue
		}
	}
	return req.TeamID
}
