package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rosterpay/internal/payment/domain"
	"github.com/smallbiznis/rosterpay/pkg/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) payments(db *gorm.DB) repository.Repository[domain.PaymentRecord] {
	return repository.ProvideStore[domain.PaymentRecord](db)
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, record *domain.PaymentRecord) error {
	return r.payments(db).Insert(ctx, record)
}

func (r *repo) ListPayments(ctx context.Context, db *gorm.DB, requestID string) ([]*domain.PaymentRecord, error) {
	return r.payments(db).Select(ctx,
		repository.Predicate{"request_id": requestID},
		repository.OrderBy("created_at ASC, id ASC"),
	)
}

func (r *repo) FindCompletedPayment(ctx context.Context, db *gorm.DB, requestID string) (*domain.PaymentRecord, error) {
	return r.payments(db).SelectOne(ctx,
		repository.Predicate{"request_id": requestID, "status": string(domain.PaymentStatusCompleted)},
		repository.OrderBy("created_at DESC, id DESC"),
	)
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// InsertEvent reports false when the (provider, provider_event_id) pair was
// already stored.
func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.EventRecord{}).
		Where("id = ?", id).
		Update("processed_at", processedAt).Error
}
