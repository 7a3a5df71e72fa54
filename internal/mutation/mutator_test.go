package mutation

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	"github.com/smallbiznis/rosterpay/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var epoch = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*gorm.DB, *Mutator) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Team{}, &TeamMember{}, &TeamRegistration{}))

	m := New(Params{Log: zaptest.NewLogger(t), Clock: clock.NewFakeClock(epoch)})
	return db, m
}

func seedTeam(t *testing.T, db *gorm.DB, id, name, owner string) {
	t.Helper()
	require.NoError(t, db.Create(&Team{ID: id, Name: name, Slug: id, OwnerID: owner, CreatedAt: epoch, UpdatedAt: epoch}).Error)
}

func request(changeType domain.ChangeType, teamID string) domain.ChangeRequest {
	return domain.ChangeRequest{
		ID:          uuid.NewString(),
		TeamID:      teamID,
		RequestedBy: "captain-1",
		Type:        changeType,
		ItemID:      "1006",
		Status:      domain.StatusCompleted,
	}
}

func TestRebrandUpdatesNameAndSlug(t *testing.T) {
	db, m := setup(t)
	seedTeam(t, db, "team-1", "Wolves", "captain-1")

	req := request(domain.ChangeTypeTeamRebrand, "team-1")
	req.OldValue, req.NewValue = "Wolves", "Timber Wolves"
	require.NoError(t, m.Apply(context.Background(), db, req))

	var team Team
	require.NoError(t, db.First(&team, "id = ?", "team-1").Error)
	assert.Equal(t, "Timber Wolves", team.Name)
	assert.Equal(t, "timber-wolves", team.Slug)
	assert.True(t, team.UpdatedAt.Equal(epoch))
}

func TestRebrandUnknownTeam(t *testing.T) {
	db, m := setup(t)
	req := request(domain.ChangeTypeTeamRebrand, "missing")
	req.NewValue = "Ghosts"
	assert.ErrorIs(t, m.Apply(context.Background(), db, req), ErrTeamNotFound)
}

func TestTransferPrefersMetadataOwner(t *testing.T) {
	db, m := setup(t)
	seedTeam(t, db, "team-1", "Wolves", "captain-1")

	req := request(domain.ChangeTypeTeamTransfer, "team-1")
	req.NewValue = "ignored"
	req.Metadata = datatypes.JSONMap{domain.MetadataNewOwnerID: "captain-2"}
	require.NoError(t, m.Apply(context.Background(), db, req))

	var team Team
	require.NoError(t, db.First(&team, "id = ?", "team-1").Error)
	assert.Equal(t, "captain-2", team.OwnerID)
}

func TestTeamCreationInsertsTeamAndOwner(t *testing.T) {
	db, m := setup(t)

	req := request(domain.ChangeTypeTeamCreation, "")
	req.NewValue = "Night Owls"
	require.NoError(t, m.Apply(context.Background(), db, req))

	var team Team
	require.NoError(t, db.First(&team, "id = ?", req.ID).Error)
	assert.Equal(t, "night-owls", team.Slug)
	assert.Equal(t, "captain-1", team.OwnerID)

	var owner TeamMember
	require.NoError(t, db.First(&owner, "team_id = ?", req.ID).Error)
	assert.Equal(t, RoleOwner, owner.Role)
}

func TestRosterChangeSkipsExistingMembers(t *testing.T) {
	db, m := setup(t)
	seedTeam(t, db, "team-1", "Wolves", "captain-1")

	req := request(domain.ChangeTypeRosterChange, "team-1")
	req.Metadata = datatypes.JSONMap{domain.MetadataPlayerIDs: []any{"p1", "p2", " "}}
	require.NoError(t, m.Apply(context.Background(), db, req))

	again := request(domain.ChangeTypeRosterChange, "team-1")
	again.Metadata = datatypes.JSONMap{domain.MetadataPlayerIDs: []string{"p2", "p3"}}
	require.NoError(t, m.Apply(context.Background(), db, again))

	var count int64
	require.NoError(t, db.Model(&TeamMember{}).Where("team_id = ?", "team-1").Count(&count).Error)
	assert.EqualValues(t, 3, count)

	empty := request(domain.ChangeTypeRosterChange, "team-1")
	assert.ErrorIs(t, m.Apply(context.Background(), db, empty), ErrEmptyValue)
}

func TestOnlineIDChange(t *testing.T) {
	db, m := setup(t)
	require.NoError(t, db.Create(&TeamMember{ID: uuid.NewString(), TeamID: "team-1", PlayerID: "captain-1", Role: RoleOwner, JoinedAt: epoch}).Error)

	req := request(domain.ChangeTypeOnlineIDChange, "team-1")
	req.NewValue = "xX_wolf_Xx"
	require.NoError(t, m.Apply(context.Background(), db, req))

	var member TeamMember
	require.NoError(t, db.First(&member, "player_id = ?", "captain-1").Error)
	assert.Equal(t, "xX_wolf_Xx", member.OnlineID)

	orphan := request(domain.ChangeTypeOnlineIDChange, "team-9")
	orphan.NewValue = "nobody"
	assert.NoError(t, m.Apply(context.Background(), db, orphan))
}

func TestRegistrationRequiresTeamAndEvent(t *testing.T) {
	db, m := setup(t)
	seedTeam(t, db, "team-1", "Wolves", "captain-1")

	req := request(domain.ChangeTypeLeagueRegistration, "team-1")
	req.Metadata = datatypes.JSONMap{domain.MetadataEventID: "league-s5", domain.MetadataSeason: "5"}
	require.NoError(t, m.Apply(context.Background(), db, req))
	require.NoError(t, m.Apply(context.Background(), db, req))

	var regs []TeamRegistration
	require.NoError(t, db.Find(&regs, "team_id = ?", "team-1").Error)
	require.Len(t, regs, 1)
	assert.Equal(t, RegistrationLeague, regs[0].Kind)
	assert.Equal(t, "5", regs[0].Season)

	missingTeam := request(domain.ChangeTypeTournamentRegistration, "team-404")
	missingTeam.Metadata = datatypes.JSONMap{domain.MetadataEventID: "cup-1"}
	assert.ErrorIs(t, m.Apply(context.Background(), db, missingTeam), ErrTeamNotFound)

	noEvent := request(domain.ChangeTypeTournamentRegistration, "team-1")
	assert.ErrorIs(t, m.Apply(context.Background(), db, noEvent), ErrEmptyValue)
}

func TestUnknownChangeType(t *testing.T) {
	db, m := setup(t)
	req := request(domain.ChangeType("team_disband"), "team-1")
	assert.ErrorIs(t, m.Apply(context.Background(), db, req), ErrUnknownMutator)
}
