package scheduler

import (
	"context"
	"time"

	crdomain "github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	paymentdomain "github.com/smallbiznis/rosterpay/internal/payment/domain"
	"gorm.io/gorm"
)

const completedPaymentExists = "EXISTS (SELECT 1 FROM payments p WHERE p.request_id = change_requests.id AND p.status = ?)"

func (s *Scheduler) pendingBefore(ctx context.Context, cutoff time.Time) *gorm.DB {
	return s.db.WithContext(ctx).
		Model(&crdomain.ChangeRequest{}).
		Where("status = ? AND created_at <= ?", crdomain.StatusPending, cutoff)
}

func (s *Scheduler) listAbandonedPending(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.pendingBefore(ctx, cutoff).
		Where("NOT "+completedPaymentExists, paymentdomain.PaymentStatusCompleted).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (s *Scheduler) countPendingPaid(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := s.pendingBefore(ctx, cutoff).
		Where(completedPaymentExists, paymentdomain.PaymentStatusCompleted).
		Count(&count).Error
	return count, err
}

func (s *Scheduler) countStaleProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&crdomain.ChangeRequest{}).
		Where("status = ? AND processed_at <= ?", crdomain.StatusProcessing, cutoff).
		Count(&count).Error
	return count, err
}
