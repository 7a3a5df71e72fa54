package mutation

import "time"

type Team struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name      string    `gorm:"type:text;not null" json:"name"`
	Slug      string    `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	OwnerID   string    `gorm:"type:text;not null" json:"owner_id"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Team) TableName() string { return "teams" }

type TeamMember struct {
	ID       string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TeamID   string    `gorm:"type:text;not null;uniqueIndex:ux_team_members_team_player" json:"team_id"`
	PlayerID string    `gorm:"type:text;not null;uniqueIndex:ux_team_members_team_player;index" json:"player_id"`
	OnlineID string    `gorm:"type:text" json:"online_id,omitempty"`
	Role     string    `gorm:"type:text;not null" json:"role"`
	JoinedAt time.Time `gorm:"not null" json:"joined_at"`
}

func (TeamMember) TableName() string { return "team_members" }

type TeamRegistration struct {
	ID              string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TeamID          string    `gorm:"type:text;not null;uniqueIndex:ux_team_registrations_team_event" json:"team_id"`
	EventID         string    `gorm:"type:text;not null;uniqueIndex:ux_team_registrations_team_event" json:"event_id"`
	Kind            string    `gorm:"type:text;not null" json:"kind"`
	Season          string    `gorm:"type:text" json:"season,omitempty"`
	ChangeRequestID string    `gorm:"type:varchar(36);not null" json:"change_request_id"`
	RegisteredAt    time.Time `gorm:"not null" json:"registered_at"`
}

func (TeamRegistration) TableName() string { return "team_registrations" }

const (
	RoleOwner  = "owner"
	RolePlayer = "player"

	RegistrationLeague     = "league"
	RegistrationTournament = "tournament"
)
