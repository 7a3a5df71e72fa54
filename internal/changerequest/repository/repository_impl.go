package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	"github.com/smallbiznis/rosterpay/pkg/db/pagination"
	"github.com/smallbiznis/rosterpay/pkg/repository"
	"gorm.io/gorm"
)

type repo struct {
	store repository.Repository[domain.ChangeRequest]
}

func Provide(db *gorm.DB) domain.Repository {
	return &repo{store: repository.ProvideStore[domain.ChangeRequest](db)}
}

func (r *repo) WithTrx(tx *gorm.DB) domain.Repository {
	return &repo{store: r.store.WithTrx(tx)}
}

func (r *repo) Insert(ctx context.Context, req *domain.ChangeRequest) error {
	return r.store.Insert(ctx, req)
}

func (r *repo) FindByID(ctx context.Context, id string) (*domain.ChangeRequest, error) {
	return r.store.SelectOne(ctx, repository.Predicate{"id": id})
}

func (r *repo) ListByTeam(ctx context.Context, teamID string, page pagination.Pagination) ([]*domain.ChangeRequest, error) {
	opts := []repository.QueryOption{}
	if token := strings.TrimSpace(page.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, err
		}
		opts = append(opts, repository.After(cursor))
	}
	opts = append(opts,
		repository.OrderBy("created_at DESC, id DESC"),
		repository.Limit(page.PageSize+1),
	)
	return r.store.Select(ctx, repository.Predicate{"team_id": teamID}, opts...)
}

func (r *repo) Transition(ctx context.Context, id string, from []domain.Status, patch map[string]any) (bool, error) {
	statuses := make([]string, 0, len(from))
	for _, status := range from {
		statuses = append(statuses, string(status))
	}
	rows, err := r.store.UpdateWhere(ctx,
		repository.Predicate{"id": id, "status": statuses},
		repository.Patch(patch),
	)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
