package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	"github.com/smallbiznis/rosterpay/internal/changerequest/repository"
	"github.com/smallbiznis/rosterpay/internal/clock"
	"github.com/smallbiznis/rosterpay/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type mockMutator struct {
	mock.Mock
}

func (m *mockMutator) Apply(ctx context.Context, tx *gorm.DB, req domain.ChangeRequest) error {
	args := m.Called(ctx, tx, req)
	return args.Error(0)
}

type recordingPublisher struct {
	events []events.ChangeRequestEvent
}

func (p *recordingPublisher) PublishChangeRequest(ctx context.Context, event events.ChangeRequestEvent) error {
	p.events = append(p.events, event)
	return errors.New("broker down")
}

type fixture struct {
	svc       domain.Service
	mutator   *mockMutator
	clock     *clock.FakeClock
	publisher *recordingPublisher
}

func setup(t *testing.T) fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.ChangeRequest{}))

	mutator := &mockMutator{}
	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	publisher := &recordingPublisher{}
	svc := New(Params{
		DB:        db,
		Log:       zaptest.NewLogger(t),
		Repo:      repository.Provide(db),
		Mutator:   mutator,
		Clock:     clk,
		Publisher: publisher,
	})
	return fixture{svc: svc, mutator: mutator, clock: clk, publisher: publisher}
}

func newRequest(teamID string) domain.ChangeRequest {
	return domain.ChangeRequest{
		ID:          uuid.NewString(),
		TeamID:      teamID,
		RequestedBy: "captain-1",
		Type:        domain.ChangeTypeTeamRebrand,
		ItemID:      "1006",
		OldValue:    "Wolves",
		NewValue:    "Timberwolves",
	}
}

func TestCreateValidatesAndStartsPending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, newRequest("team-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Nil(t, created.CompletedAt)

	_, err = f.svc.Create(ctx, created)
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)

	bad := newRequest("team-1")
	bad.ID = "not-a-uuid"
	_, err = f.svc.Create(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	bad = newRequest("team-1")
	bad.Type = "team_disband"
	_, err = f.svc.Create(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidChangeType)

	bad = newRequest("team-1")
	bad.RequestedBy = " "
	_, err = f.svc.Create(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidRequester)

	bad = newRequest("team-1")
	bad.ItemID = ""
	_, err = f.svc.Create(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidItem)
}

func TestPaidLifecycleAppliesMutationOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mutator.On("Apply", mock.Anything, mock.Anything, mock.MatchedBy(func(req domain.ChangeRequest) bool {
		return req.Status == domain.StatusCompleted && req.PaymentReference == "pay_1"
	})).Return(nil).Once()

	created, err := f.svc.Create(ctx, newRequest("team-1"))
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	processing, err := f.svc.MarkProcessing(ctx, created.ID, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, processing.Status)
	require.NotNil(t, processing.ProcessedAt)

	again, err := f.svc.MarkProcessing(ctx, created.ID, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, again.Status)

	_, err = f.svc.MarkProcessing(ctx, created.ID, "pay_other")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	f.clock.Advance(time.Second)
	completed, err := f.svc.Activate(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	second, err := f.svc.Activate(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, second.Status)

	f.mutator.AssertNumberOfCalls(t, "Apply", 1)

	_, err = f.svc.Fail(ctx, created.ID, "late failure")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	statuses := make([]string, 0, len(f.publisher.events))
	for _, event := range f.publisher.events {
		statuses = append(statuses, event.Status)
	}
	assert.Equal(t, []string{"pending", "processing", "completed"}, statuses)
}

func TestActivateRollsBackWhenMutationFails(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mutator.On("Apply", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("team_not_found")).Once()

	created, err := f.svc.Create(ctx, newRequest("team-1"))
	require.NoError(t, err)
	_, err = f.svc.MarkProcessing(ctx, created.ID, "pay_1")
	require.NoError(t, err)

	_, err = f.svc.Activate(ctx, created.ID)
	require.Error(t, err)

	current, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, current.Status)
	assert.Nil(t, current.CompletedAt)
}

func TestActivateRequiresProcessing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, newRequest("team-1"))
	require.NoError(t, err)

	_, err = f.svc.Activate(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.Activate(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.mutator.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything, mock.Anything)
}

func TestFailRejectAndApprove(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mutator.On("Apply", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	failed, err := f.svc.Create(ctx, newRequest("team-1"))
	require.NoError(t, err)
	_, err = f.svc.MarkProcessing(ctx, failed.ID, "pay_1")
	require.NoError(t, err)
	got, err := f.svc.Fail(ctx, failed.ID, " card declined ")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "card declined", got.FailureReason)

	rejected, err := f.svc.Create(ctx, newRequest("team-1"))
	require.NoError(t, err)
	got, err = f.svc.Reject(ctx, rejected.ID, "offensive name")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, got.Status)
	_, err = f.svc.Approve(ctx, rejected.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	approved, err := f.svc.Create(ctx, newRequest("team-1"))
	require.NoError(t, err)
	got, err = f.svc.Approve(ctx, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
	require.NotNil(t, got.CompletedAt)

	processing, err := f.svc.Create(ctx, newRequest("team-1"))
	require.NoError(t, err)
	_, err = f.svc.MarkProcessing(ctx, processing.ID, "pay_2")
	require.NoError(t, err)
	_, err = f.svc.Reject(ctx, processing.ID, "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.Get(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
	_, err = f.svc.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListByTeamPages(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		created, err := f.svc.Create(ctx, newRequest("team-1"))
		require.NoError(t, err)
		ids = append(ids, created.ID)
		f.clock.Advance(time.Minute)
	}
	_, err := f.svc.Create(ctx, newRequest("team-2"))
	require.NoError(t, err)

	first, err := f.svc.ListByTeam(ctx, domain.ListByTeamRequest{TeamID: "team-1", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.ChangeRequests, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, ids[4], first.ChangeRequests[0].ID)
	assert.Equal(t, ids[3], first.ChangeRequests[1].ID)

	second, err := f.svc.ListByTeam(ctx, domain.ListByTeamRequest{TeamID: "team-1", PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.ChangeRequests, 2)
	assert.Equal(t, ids[2], second.ChangeRequests[0].ID)

	third, err := f.svc.ListByTeam(ctx, domain.ListByTeamRequest{TeamID: "team-1", PageSize: 2, PageToken: second.NextPageToken})
	require.NoError(t, err)
	require.Len(t, third.ChangeRequests, 1)
	assert.False(t, third.HasMore)
	assert.Empty(t, third.NextPageToken)

	_, err = f.svc.ListByTeam(ctx, domain.ListByTeamRequest{TeamID: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidTeam)
}
