package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type store[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

func (r *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	return &store[T]{db: tx}
}

func (r *store[T]) Insert(ctx context.Context, record *T) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *store[T]) Select(ctx context.Context, where Predicate, opts ...QueryOption) ([]*T, error) {
	var result []*T
	err := r.buildQuery(ctx, where, opts...).Find(&result).Error
	return result, err
}

func (r *store[T]) SelectOne(ctx context.Context, where Predicate, opts ...QueryOption) (*T, error) {
	var result T
	err := r.buildQuery(ctx, where, opts...).First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

// UpdateWhere applies patch to every row matching where and reports how many
// rows changed. Callers use the count to implement compare-and-set transitions.
func (r *store[T]) UpdateWhere(ctx context.Context, where Predicate, patch Patch) (int64, error) {
	if len(where) == 0 {
		return 0, errors.New("update without predicate")
	}
	res := r.db.WithContext(ctx).Model(new(T)).Where(map[string]any(where)).Updates(map[string]any(patch))
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *store[T]) Count(ctx context.Context, where Predicate) (int64, error) {
	var count int64
	err := r.buildQuery(ctx, where).Count(&count).Error
	return count, err
}

func (r *store[T]) buildQuery(ctx context.Context, where Predicate, opts ...QueryOption) *gorm.DB {
	db := r.db.WithContext(ctx).Model(new(T))
	if len(where) > 0 {
		db = db.Where(map[string]any(where))
	}

	for _, opt := range opts {
		db = opt.Apply(db)
	}

	return db
}
