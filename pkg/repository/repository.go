package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/rosterpay/pkg/db/pagination"
	"gorm.io/gorm"
)

// Predicate selects rows by column equality. Slice values match with IN.
type Predicate map[string]any

// Patch is a partial column update.
type Patch map[string]any

// QueryOption adjusts a select statement.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryOptionFunc func(db *gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// OrderBy sorts the result set, e.g. OrderBy("created_at DESC").
func OrderBy(expr string) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Order(expr)
	})
}

// Limit caps the number of returned rows.
func Limit(n int) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if n <= 0 {
			return db
		}
		return db.Limit(n)
	})
}

// Where appends a raw condition to the predicate.
func Where(query string, args ...any) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	})
}

// Repository is the record store every table-backed component builds on.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Insert(ctx context.Context, record *T) error
	Select(ctx context.Context, where Predicate, opts ...QueryOption) ([]*T, error)
	SelectOne(ctx context.Context, where Predicate, opts ...QueryOption) (*T, error)
	UpdateWhere(ctx context.Context, where Predicate, patch Patch) (int64, error)
	Count(ctx context.Context, where Predicate) (int64, error)
}

// After continues a created_at DESC, id DESC listing past the given cursor.
func After(cursor *pagination.Cursor) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if cursor == nil || cursor.CreatedAt == "" {
			return db
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return db
		}
		return db.Where("created_at < ? OR (created_at = ? AND id < ?)", createdAt, createdAt, cursor.ID)
	})
}
