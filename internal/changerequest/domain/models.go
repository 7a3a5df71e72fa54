package domain

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRejected   Status = "rejected"
	StatusApproved   Status = "approved"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRejected, StatusApproved:
		return true
	default:
		return false
	}
}

type ChangeType string

const (
	ChangeTypeTeamRebrand            ChangeType = "team_rebrand"
	ChangeTypeRosterChange           ChangeType = "roster_change"
	ChangeTypeTeamTransfer           ChangeType = "team_transfer"
	ChangeTypeOnlineIDChange         ChangeType = "online_id_change"
	ChangeTypeLeagueRegistration     ChangeType = "league_registration"
	ChangeTypeTournamentRegistration ChangeType = "tournament_registration"
	ChangeTypeTeamCreation           ChangeType = "team_creation"
)

var changeTypes = []ChangeType{
	ChangeTypeTeamRebrand,
	ChangeTypeRosterChange,
	ChangeTypeTeamTransfer,
	ChangeTypeOnlineIDChange,
	ChangeTypeLeagueRegistration,
	ChangeTypeTournamentRegistration,
	ChangeTypeTeamCreation,
}

func ChangeTypes() []ChangeType {
	return append([]ChangeType(nil), changeTypes...)
}

func ParseChangeType(value string) (ChangeType, error) {
	candidate := ChangeType(strings.ToLower(strings.TrimSpace(value)))
	if candidate.Valid() {
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChangeType, value)
}

func (t ChangeType) Valid() bool {
	for _, known := range changeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// DisplayName is the human readable label used on payment line items.
func (t ChangeType) DisplayName() string {
	switch t {
	case ChangeTypeTeamRebrand:
		return "Team rebrand"
	case ChangeTypeRosterChange:
		return "Roster change"
	case ChangeTypeTeamTransfer:
		return "Team ownership transfer"
	case ChangeTypeOnlineIDChange:
		return "Online ID change"
	case ChangeTypeLeagueRegistration:
		return "League registration"
	case ChangeTypeTournamentRegistration:
		return "Tournament registration"
	case ChangeTypeTeamCreation:
		return "Team creation"
	default:
		return string(t)
	}
}

// Metadata keys written by the orchestrator and read by the mutator.
const (
	MetadataPlayerIDs  = "player_ids"
	MetadataEventID    = "event_id"
	MetadataSeason     = "season"
	MetadataNewOwnerID = "new_owner_id"
	MetadataAmount     = "amount"
)

type ChangeRequest struct {
	ID               string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TeamID           string            `gorm:"type:text;index" json:"team_id,omitempty"`
	RequestedBy      string            `gorm:"type:text;not null" json:"requested_by"`
	Type             ChangeType        `gorm:"column:type;type:text;not null" json:"type"`
	ItemID           string            `gorm:"type:text;not null" json:"item_id"`
	OldValue         string            `gorm:"type:text" json:"old_value,omitempty"`
	NewValue         string            `gorm:"type:text" json:"new_value,omitempty"`
	Status           Status            `gorm:"type:text;not null;index" json:"status"`
	PaymentReference string            `gorm:"type:text" json:"payment_reference,omitempty"`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	FailureReason    string            `gorm:"type:text" json:"failure_reason,omitempty"`
	CreatedAt        time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"not null" json:"updated_at"`
	ProcessedAt      *time.Time        `json:"processed_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

func (ChangeRequest) TableName() string { return "change_requests" }

// MetadataString returns a string metadata value, or "" when absent.
func (r ChangeRequest) MetadataString(key string) string {
	if r.Metadata == nil {
		return ""
	}
	switch v := r.Metadata[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// MetadataStrings returns a list metadata value. JSON round trips turn
// []string into []any, so both shapes are accepted.
func (r ChangeRequest) MetadataStrings(key string) []string {
	if r.Metadata == nil {
		return nil
	}
	var out []string
	switch v := r.Metadata[key].(type) {
	case []string:
		for _, item := range v {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
