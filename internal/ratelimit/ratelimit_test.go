package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/rosterpay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerExcludesUntilReleased(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "k", "someone-else"))
	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "k", token))
	_, ok, err = l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLockerExpires(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	l := NewLocalLocker()
	l.clock = func() time.Time { return now }
	ctx := context.Background()

	_, ok, err := l.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok, err = l.TryLock(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLockerRejectsBadInput(t *testing.T) {
	l := NewLocalLocker()
	_, _, err := l.TryLock(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, errLockKeyEmpty)
	_, _, err = l.TryLock(context.Background(), "k", 0)
	assert.ErrorIs(t, err, errLockTTLInvalid)
}

func TestSubmissionGuardScopesByTeamAndType(t *testing.T) {
	g := NewSubmissionGuard(config.Config{}, nil, nil)
	ctx := context.Background()

	token, ok, err := g.TryLock(ctx, "team-1", "team_rebrand")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = g.TryLock(ctx, "team-1", "team_rebrand")
	assert.False(t, ok)
	_, ok, _ = g.TryLock(ctx, "team-1", "roster_change")
	assert.True(t, ok)
	_, ok, _ = g.TryLock(ctx, "team-2", "team_rebrand")
	assert.True(t, ok)

	require.NoError(t, g.Release(ctx, "team-1", "team_rebrand", token))
	_, ok, _ = g.TryLock(ctx, "team-1", "team_rebrand")
	assert.True(t, ok)

	res, err := g.AllowTeam(ctx, "team-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRetryAfter(t *testing.T) {
	assert.Zero(t, retryAfter(true, 0, 1))
	assert.Equal(t, 5*time.Second, retryAfter(false, 0, 0.2))
	assert.Equal(t, 120*time.Second, defaultBucketTTL(1, 60))
	assert.EqualValues(t, 3, castToInt("3"))
	assert.Equal(t, 1.5, castToFloat("1.5"))
}

func TestRedisSubmissionGuard(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Config{Payment: config.PaymentConfig{SubmitLockTTL: time.Second, SubmitRate: 0.01, SubmitBurst: 1}}
	g := NewSubmissionGuard(cfg, NewLocker(client), NewTokenBucket(client))
	ctx := context.Background()
	team := "test-" + time.Now().Format("150405.000000000")

	token, ok, err := g.TryLock(ctx, team, "team_rebrand")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = g.TryLock(ctx, team, "team_rebrand")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, g.Release(ctx, team, "team_rebrand", token))

	first, err := g.AllowTeam(ctx, team)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	second, err := g.AllowTeam(ctx, team)
	require.NoError(t, err)
	assert.False(t, second.Allowed)
	assert.Positive(t, second.RetryAfter)
}
