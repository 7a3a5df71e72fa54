package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/rosterpay/internal/config"
)

const (
	keySubmitTeam = "rosterpay:submit:team:%s"
	keySubmitLock = "rosterpay:submit:lock:%s:%s"
)

// SubmissionGuard serializes submissions per team and change type and caps
// how often a team may submit.
type SubmissionGuard struct {
	lock    Lock
	bucket  *TokenBucket
	lockTTL time.Duration
	rate    float64
	burst   int
}

func NewSubmissionGuard(cfg config.Config, lock Lock, bucket *TokenBucket) *SubmissionGuard {
	if lock == nil {
		lock = NewLocalLocker()
	}
	ttl := cfg.Payment.SubmitLockTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SubmissionGuard{
		lock:    lock,
		bucket:  bucket,
		lockTTL: ttl,
		rate:    cfg.Payment.SubmitRate,
		burst:   cfg.Payment.SubmitBurst,
	}
}

// AllowTeam consumes one submission token for teamID. Without a redis bucket
// every call is allowed.
func (g *SubmissionGuard) AllowTeam(ctx context.Context, teamID string) (*RateLimitResult, error) {
	teamID = strings.TrimSpace(teamID)
	if g == nil || g.bucket == nil || teamID == "" || g.rate <= 0 || g.burst <= 0 {
		return &RateLimitResult{Allowed: true}, nil
	}
	return g.bucket.Allow(ctx, fmt.Sprintf(keySubmitTeam, teamID), g.rate, g.burst)
}

func (g *SubmissionGuard) TryLock(ctx context.Context, scope, changeType string) (string, bool, error) {
	return g.lock.TryLock(ctx, submitLockKey(scope, changeType), g.lockTTL)
}

func (g *SubmissionGuard) Release(ctx context.Context, scope, changeType, token string) error {
	return g.lock.Release(ctx, submitLockKey(scope, changeType), token)
}

func submitLockKey(scope, changeType string) string {
	return fmt.Sprintf(keySubmitLock, strings.TrimSpace(scope), strings.TrimSpace(changeType))
}
