package domain

import (
	"context"

	"github.com/smallbiznis/rosterpay/pkg/db/pagination"
)

type ListByTeamRequest struct {
	TeamID    string
	PageToken string
	PageSize  int
}

type ListByTeamResponse struct {
	pagination.PageInfo
	ChangeRequests []ChangeRequest `json:"change_requests"`
}

type Service interface {
	Create(ctx context.Context, req ChangeRequest) (ChangeRequest, error)
	MarkProcessing(ctx context.Context, id, paymentReference string) (ChangeRequest, error)
	Activate(ctx context.Context, id string) (ChangeRequest, error)
	Fail(ctx context.Context, id, reason string) (ChangeRequest, error)
	Reject(ctx context.Context, id, reason string) (ChangeRequest, error)
	Approve(ctx context.Context, id string) (ChangeRequest, error)
	Get(ctx context.Context, id string) (ChangeRequest, error)
	ListByTeam(ctx context.Context, req ListByTeamRequest) (ListByTeamResponse, error)
}
