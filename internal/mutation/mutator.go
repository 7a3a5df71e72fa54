package mutation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	"github.com/smallbiznis/rosterpay/internal/clock"
	"github.com/smallbiznis/rosterpay/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTeamNotFound   = errors.New("team_not_found")
	ErrEmptyValue     = errors.New("empty_mutation_value")
	ErrUnknownMutator = errors.New("unknown_mutation")
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock `optional:"true"`
}

// Mutator applies paid team changes to the team tables.
type Mutator struct {
	log   *zap.Logger
	clock clock.Clock
}

func New(p Params) *Mutator {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Mutator{log: p.Log.Named("mutation"), clock: clk}
}

func (m *Mutator) Apply(ctx context.Context, tx *gorm.DB, req domain.ChangeRequest) error {
	tx = tx.WithContext(ctx)

	var err error
	switch req.Type {
	case domain.ChangeTypeTeamRebrand:
		err = m.rebrand(tx, req)
	case domain.ChangeTypeTeamTransfer:
		err = m.transfer(tx, req)
	case domain.ChangeTypeTeamCreation:
		err = m.createTeam(tx, req)
	case domain.ChangeTypeRosterChange:
		err = m.addPlayers(tx, req)
	case domain.ChangeTypeOnlineIDChange:
		err = m.changeOnlineID(ctx, tx, req)
	case domain.ChangeTypeLeagueRegistration:
		err = m.register(tx, req, RegistrationLeague)
	case domain.ChangeTypeTournamentRegistration:
		err = m.register(tx, req, RegistrationTournament)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownMutator, req.Type)
	}
	if err != nil {
		return fmt.Errorf("apply %s: %w", req.Type, err)
	}
	return nil
}

func (m *Mutator) rebrand(tx *gorm.DB, req domain.ChangeRequest) error {
	name := strings.TrimSpace(req.NewValue)
	if name == "" {
		return ErrEmptyValue
	}
	return m.updateTeam(tx, req.TeamID, map[string]any{
		"name":       name,
		"slug":       slug.Make(name),
		"updated_at": m.clock.Now(),
	})
}

func (m *Mutator) transfer(tx *gorm.DB, req domain.ChangeRequest) error {
	owner := req.MetadataString(domain.MetadataNewOwnerID)
	if owner == "" {
		owner = strings.TrimSpace(req.NewValue)
	}
	if owner == "" {
		return ErrEmptyValue
	}
	return m.updateTeam(tx, req.TeamID, map[string]any{
		"owner_id":   owner,
		"updated_at": m.clock.Now(),
	})
}

func (m *Mutator) updateTeam(tx *gorm.DB, teamID string, patch map[string]any) error {
	res := tx.Model(&Team{}).Where("id = ?", teamID).Updates(patch)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTeamNotFound
	}
	return nil
}

func (m *Mutator) createTeam(tx *gorm.DB, req domain.ChangeRequest) error {
	name := strings.TrimSpace(req.NewValue)
	if name == "" {
		return ErrEmptyValue
	}
	now := m.clock.Now()
	team := Team{
		ID:        req.ID,
		Name:      name,
		Slug:      slug.Make(name),
		OwnerID:   req.RequestedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Create(&team).Error; err != nil {
		return err
	}
	return tx.Create(&TeamMember{
		ID:       uuid.NewString(),
		TeamID:   team.ID,
		PlayerID: req.RequestedBy,
		Role:     RoleOwner,
		JoinedAt: now,
	}).Error
}

func (m *Mutator) addPlayers(tx *gorm.DB, req domain.ChangeRequest) error {
	players := req.MetadataStrings(domain.MetadataPlayerIDs)
	if len(players) == 0 {
		return ErrEmptyValue
	}
	now := m.clock.Now()
	members := make([]TeamMember, 0, len(players))
	for _, player := range players {
		members = append(members, TeamMember{
			ID:       uuid.NewString(),
			TeamID:   req.TeamID,
			PlayerID: player,
			Role:     RolePlayer,
			JoinedAt: now,
		})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error
}

func (m *Mutator) changeOnlineID(ctx context.Context, tx *gorm.DB, req domain.ChangeRequest) error {
	onlineID := strings.TrimSpace(req.NewValue)
	if onlineID == "" {
		return ErrEmptyValue
	}
	stmt := tx.Model(&TeamMember{}).Where("player_id = ?", req.RequestedBy)
	if teamID := strings.TrimSpace(req.TeamID); teamID != "" {
		stmt = stmt.Where("team_id = ?", teamID)
	}
	res := stmt.Update("online_id", onlineID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		logger.WithContext(ctx, m.log).Warn("online id change matched no memberships",
			zap.String("change_request_id", req.ID),
			zap.String("player_id", req.RequestedBy),
		)
	}
	return nil
}

func (m *Mutator) register(tx *gorm.DB, req domain.ChangeRequest, kind string) error {
	eventID := req.MetadataString(domain.MetadataEventID)
	if eventID == "" {
		return ErrEmptyValue
	}
	var count int64
	if err := tx.Model(&Team{}).Where("id = ?", req.TeamID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrTeamNotFound
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&TeamRegistration{
		ID:              uuid.NewString(),
		TeamID:          req.TeamID,
		EventID:         eventID,
		Kind:            kind,
		Season:          req.MetadataString(domain.MetadataSeason),
		ChangeRequestID: req.ID,
		RegisteredAt:    m.clock.Now(),
	}).Error
}

var _ domain.Mutator = (*Mutator)(nil)

var Module = fx.Module("mutation",
	fx.Provide(New),
	fx.Provide(func(m *Mutator) domain.Mutator { return m }),
)
