package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	crdomain "github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	"github.com/smallbiznis/rosterpay/internal/clock"
	"github.com/smallbiznis/rosterpay/internal/metricspush"
	obsmetrics "github.com/smallbiznis/rosterpay/internal/observability/metrics"
	"github.com/smallbiznis/rosterpay/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobExpirePending = "expire_pending"
	JobFlagUnapplied = "flag_unapplied"

	abandonedReason = "abandoned: no payment result"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	ChangeRequests crdomain.Service
	Config         Config                       `optional:"true"`
	Metrics        *obsmetrics.SchedulerMetrics `optional:"true"`
	Mailer         email.Provider               `optional:"true"`
	Pusher         metricspush.Pusher           `optional:"true"`
}

// Scheduler sweeps change requests that never reached a terminal state.
type Scheduler struct {
	db             *gorm.DB
	log            *zap.Logger
	cfg            Config
	genID          *snowflake.Node
	clock          clock.Clock
	changeRequests crdomain.Service
	metrics        *obsmetrics.SchedulerMetrics
	mailer         email.Provider
	pusher         metricspush.Pusher
	gatherer       prometheus.Gatherer

	lastAlert stuckCounts
}

type stuckCounts struct {
	pendingPaid int64
	processing  int64
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.ChangeRequests == nil {
		return nil, ErrInvalidConfig
	}
	m := p.Metrics
	if m == nil {
		m = obsmetrics.Scheduler()
	}
	return &Scheduler{
		db:             p.DB,
		log:            p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:            p.Config.withDefaults(),
		genID:          p.GenID,
		clock:          p.Clock,
		changeRequests: p.ChangeRequests,
		metrics:        m,
		mailer:         p.Mailer,
		pusher:         p.Pusher,
		gatherer:       prometheus.DefaultGatherer,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	s.metrics.AddBatchProcessed(name, run.processedCount)
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobExpirePending, s.ExpirePendingJob},
		{JobFlagUnapplied, s.FlagUnappliedJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)

	for {
		s.metrics.ObserveRunLoopLag(time.Since(nextRun))
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		s.pushMetrics(ctx)
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) pushMetrics(ctx context.Context) {
	if s.pusher == nil || ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	if err := s.pusher.Push(ctx, s.gatherer); err != nil {
		s.log.Warn("scheduler metrics push failed", zap.Error(err))
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// ExpirePendingJob fails pending requests older than the pending timeout
// that have no completed payment on record.
func (s *Scheduler) ExpirePendingJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobExpirePending, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	cutoff := s.clock.Now().Add(-s.cfg.PendingTimeout)
	var jobErr error

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ids, err := s.listAbandonedPending(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(ids) == 0 {
			break
		}

		failed := 0
		for _, id := range ids {
			_, err := s.changeRequests.Fail(ctx, id, abandonedReason)
			switch {
			case err == nil:
				run.AddProcessed(1)
			case errors.Is(err, crdomain.ErrInvalidTransition):
				// Raced with a payment result; nothing left to expire.
			default:
				failed++
				s.logSchedulerError(ctx, run, "scheduler.expire_pending.failed", JobExpirePending, id, err)
				jobErr = errors.Join(jobErr, err)
			}
		}
		if failed == len(ids) || len(ids) < s.cfg.BatchSize {
			break
		}
	}

	return jobErr
}

// FlagUnappliedJob reports paid requests that never reached completed.
// Activation is never retried here; an operator reconciles these.
func (s *Scheduler) FlagUnappliedJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobFlagUnapplied, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()

	pendingPaid, err := s.countPendingPaid(ctx, now.Add(-s.cfg.PendingTimeout))
	if err != nil {
		return err
	}
	processing, err := s.countStaleProcessing(ctx, now.Add(-s.cfg.ProcessingTimeout))
	if err != nil {
		return err
	}

	s.metrics.SetNeedingReconciliation(obsmetrics.StuckStatePendingPaid, int(pendingPaid))
	s.metrics.SetNeedingReconciliation(obsmetrics.StuckStateProcessingUnapplied, int(processing))

	counts := stuckCounts{pendingPaid: pendingPaid, processing: processing}
	if counts == (stuckCounts{}) {
		s.lastAlert = counts
		return nil
	}

	s.logger(ctx).Warn("change requests need reconciliation",
		zap.Int64("pending_paid", pendingPaid),
		zap.Int64("processing_unapplied", processing),
	)
	if counts != s.lastAlert {
		s.sendReconciliationAlert(ctx, run, counts, now)
	}
	s.lastAlert = counts
	return nil
}

// sendReconciliationAlert mails operators once per change in the stuck counts.
func (s *Scheduler) sendReconciliationAlert(ctx context.Context, run *jobRun, counts stuckCounts, now time.Time) {
	if s.mailer == nil || len(s.cfg.AlertRecipients) == 0 {
		return
	}
	err := s.mailer.SendTemplate(ctx, s.cfg.AlertRecipients, "reconciliation_alert", map[string]any{
		"environment":          s.cfg.Environment,
		"pending_paid":         counts.pendingPaid,
		"processing_unapplied": counts.processing,
		"checked_at":           now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.reconciliation_alert.failed", JobFlagUnapplied, "", err)
	}
}
