package domain

import "errors"

var (
	ErrNotFound          = errors.New("not_found")
	ErrDuplicateRequest  = errors.New("duplicate_request")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrInvalidID         = errors.New("invalid_id")
	ErrInvalidChangeType = errors.New("invalid_change_type")
	ErrInvalidTeam       = errors.New("invalid_team")
	ErrInvalidRequester  = errors.New("invalid_requested_by")
	ErrInvalidItem       = errors.New("invalid_item_id")
)
