package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertPayment(ctx context.Context, db *gorm.DB, record *PaymentRecord) error
	ListPayments(ctx context.Context, db *gorm.DB, requestID string) ([]*PaymentRecord, error)
	FindCompletedPayment(ctx context.Context, db *gorm.DB, requestID string) (*PaymentRecord, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
