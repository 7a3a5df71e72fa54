package domain

import (
	"context"

	"github.com/smallbiznis/rosterpay/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	WithTrx(tx *gorm.DB) Repository
	Insert(ctx context.Context, req *ChangeRequest) error
	FindByID(ctx context.Context, id string) (*ChangeRequest, error)
	ListByTeam(ctx context.Context, teamID string, page pagination.Pagination) ([]*ChangeRequest, error)
	// Transition moves id to the patched state only while its status is one
	// of from, and reports whether a row changed.
	Transition(ctx context.Context, id string, from []Status, patch map[string]any) (bool, error)
}

// Mutator applies the team change a request describes. It runs inside the
// activation transaction, so an error rolls the status change back.
type Mutator interface {
	Apply(ctx context.Context, tx *gorm.DB, req ChangeRequest) error
}
