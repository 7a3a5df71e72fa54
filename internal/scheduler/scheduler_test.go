package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	crdomain "github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	crrepository "github.com/smallbiznis/rosterpay/internal/changerequest/repository"
	crservice "github.com/smallbiznis/rosterpay/internal/changerequest/service"
	"github.com/smallbiznis/rosterpay/internal/clock"
	"github.com/smallbiznis/rosterpay/internal/migration"
	obsmetrics "github.com/smallbiznis/rosterpay/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/rosterpay/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type noopMutator struct{}

func (noopMutator) Apply(context.Context, *gorm.DB, crdomain.ChangeRequest) error { return nil }

type sentAlert struct {
	to   []string
	data map[string]any
}

type recordingMailer struct {
	sent []sentAlert
}

func (m *recordingMailer) Send(context.Context, []string, string, string) error { return nil }

func (m *recordingMailer) SendTemplate(_ context.Context, to []string, templateName string, data any) error {
	if templateName == "reconciliation_alert" {
		m.sent = append(m.sent, sentAlert{to: to, data: data.(map[string]any)})
	}
	return nil
}

type fixture struct {
	sched    *Scheduler
	db       *gorm.DB
	svc      crdomain.Service
	clock    *clock.FakeClock
	registry *prometheus.Registry
	node     *snowflake.Node
	mailer   *recordingMailer
}

func setup(t *testing.T) fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.Apply(db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	log := zaptest.NewLogger(t)
	svc := crservice.New(crservice.Params{
		DB:      db,
		Log:     log,
		Repo:    crrepository.Provide(db),
		Mutator: noopMutator{},
		Clock:   clk,
	})

	registry := prometheus.NewRegistry()
	mailer := &recordingMailer{}
	sched, err := New(Params{
		DB:             db,
		Log:            log,
		GenID:          node,
		Clock:          clk,
		ChangeRequests: svc,
		Config: Config{
			BatchSize:         2,
			PendingTimeout:    30 * time.Minute,
			ProcessingTimeout: 15 * time.Minute,
			AlertRecipients:   []string{"ops@rosterpay.test"},
			Environment:       "test",
		},
		Metrics: obsmetrics.NewSchedulerMetricsForTest(registry),
		Mailer:  mailer,
	})
	require.NoError(t, err)

	return fixture{sched: sched, db: db, svc: svc, clock: clk, registry: registry, node: node, mailer: mailer}
}

func (f fixture) create(t *testing.T) crdomain.ChangeRequest {
	t.Helper()
	req, err := f.svc.Create(context.Background(), crdomain.ChangeRequest{
		ID:          uuid.NewString(),
		TeamID:      "team-1",
		RequestedBy: "captain-1",
		Type:        crdomain.ChangeTypeTeamRebrand,
		ItemID:      "1006",
		NewValue:    "Timberwolves",
	})
	require.NoError(t, err)
	return req
}

func (f fixture) recordPayment(t *testing.T, requestID string, status paymentdomain.PaymentStatus) {
	t.Helper()
	require.NoError(t, f.db.Create(&paymentdomain.PaymentRecord{
		ID:             f.node.Generate(),
		RequestID:      requestID,
		ReferenceID:    "ref-" + requestID,
		IdempotencyKey: uuid.NewString(),
		Amount:         "5.00",
		Currency:       paymentdomain.CurrencyUSD,
		Status:         status,
		CreatedAt:      f.clock.Now(),
	}).Error)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestExpirePendingFailsAbandonedRequests(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	abandoned := []crdomain.ChangeRequest{f.create(t), f.create(t), f.create(t)}
	declined := f.create(t)
	f.recordPayment(t, declined.ID, paymentdomain.PaymentStatusFailed)
	paid := f.create(t)
	f.recordPayment(t, paid.ID, paymentdomain.PaymentStatusCompleted)

	f.clock.Advance(31 * time.Minute)
	recent := f.create(t)

	require.NoError(t, f.sched.RunOnce(ctx))

	for _, req := range append(abandoned, declined) {
		got, err := f.svc.Get(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, crdomain.StatusFailed, got.Status)
		assert.Equal(t, abandonedReason, got.FailureReason)
	}

	got, err := f.svc.Get(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, crdomain.StatusPending, got.Status)

	got, err = f.svc.Get(ctx, recent.ID)
	require.NoError(t, err)
	assert.Equal(t, crdomain.StatusPending, got.Status)

	assert.Equal(t, float64(4), metricValue(t, f.registry, "rosterpay_scheduler_batch_processed_total", map[string]string{"job": JobExpirePending}))
	assert.Equal(t, float64(1), metricValue(t, f.registry, "rosterpay_change_requests_needing_reconciliation", map[string]string{"state": obsmetrics.StuckStatePendingPaid}))
}

func TestFlagUnappliedCountsStaleProcessing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	stale := f.create(t)
	_, err := f.svc.MarkProcessing(ctx, stale.ID, "pay_stale")
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	fresh := f.create(t)
	_, err = f.svc.MarkProcessing(ctx, fresh.ID, "pay_fresh")
	require.NoError(t, err)

	f.clock.Advance(6 * time.Minute)
	require.NoError(t, f.sched.FlagUnappliedJob(ctx))

	processingLabels := map[string]string{"state": obsmetrics.StuckStateProcessingUnapplied}
	assert.Equal(t, float64(1), metricValue(t, f.registry, "rosterpay_change_requests_needing_reconciliation", processingLabels))

	got, err := f.svc.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, crdomain.StatusProcessing, got.Status)

	_, err = f.svc.Activate(ctx, stale.ID)
	require.NoError(t, err)
	require.NoError(t, f.sched.FlagUnappliedJob(ctx))
	assert.Equal(t, float64(0), metricValue(t, f.registry, "rosterpay_change_requests_needing_reconciliation", processingLabels))
}

func TestFlagUnappliedAlertsOncePerChange(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.sched.FlagUnappliedJob(ctx))
	assert.Empty(t, f.mailer.sent)

	first := f.create(t)
	_, err := f.svc.MarkProcessing(ctx, first.ID, "pay_1")
	require.NoError(t, err)
	f.clock.Advance(20 * time.Minute)

	require.NoError(t, f.sched.FlagUnappliedJob(ctx))
	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, []string{"ops@rosterpay.test"}, f.mailer.sent[0].to)
	assert.Equal(t, int64(1), f.mailer.sent[0].data["processing_unapplied"])

	require.NoError(t, f.sched.FlagUnappliedJob(ctx))
	assert.Len(t, f.mailer.sent, 1)

	second := f.create(t)
	_, err = f.svc.MarkProcessing(ctx, second.ID, "pay_2")
	require.NoError(t, err)
	f.clock.Advance(20 * time.Minute)

	require.NoError(t, f.sched.FlagUnappliedJob(ctx))
	require.Len(t, f.mailer.sent, 2)
	assert.Equal(t, int64(2), f.mailer.sent[1].data["processing_unapplied"])
}

type recordingPusher struct {
	pushes int
}

func (p *recordingPusher) Push(_ context.Context, gatherer prometheus.Gatherer) error {
	if _, err := gatherer.Gather(); err != nil {
		return err
	}
	p.pushes++
	return nil
}

func TestPushMetricsSkipsCanceledRun(t *testing.T) {
	f := setup(t)
	pusher := &recordingPusher{}
	f.sched.pusher = pusher
	f.sched.gatherer = f.registry

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.sched.pushMetrics(ctx)
	assert.Equal(t, 0, pusher.pushes)

	f.sched.pushMetrics(context.Background())
	assert.Equal(t, 1, pusher.pushes)
}

func TestEnabledJobsFilter(t *testing.T) {
	f := setup(t)
	f.sched.cfg.EnabledJobs = []string{" FLAG_UNAPPLIED "}

	assert.True(t, f.sched.isJobEnabled(JobFlagUnapplied))
	assert.False(t, f.sched.isJobEnabled(JobExpirePending))

	req := f.create(t)
	f.clock.Advance(time.Hour)
	require.NoError(t, f.sched.RunOnce(context.Background()))

	got, err := f.svc.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, crdomain.StatusPending, got.Status)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	s := &Scheduler{
		log:     zap.NewNop(),
		genID:   node,
		clock:   clock.NewFakeClock(time.Time{}),
		metrics: obsmetrics.NewSchedulerMetricsForTest(registry),
	}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	assert.Equal(t, float64(1), metricValue(t, registry, "rosterpay_scheduler_job_timeouts_total", map[string]string{"job": "timeout_job"}))
	assert.Equal(t, float64(1), metricValue(t, registry, "rosterpay_scheduler_job_errors_total", map[string]string{
		"job":    "timeout_job",
		"reason": obsmetrics.StoreErrorReasonDeadlineExceeded,
	}))
}

func metricValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)

	want := map[string]string{"service": "rosterpay", "env": "test"}
	for k, v := range labels {
		want[k] = v
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, want) {
				continue
			}
			switch {
			case metric.Counter != nil:
				return metric.GetCounter().GetValue()
			case metric.Gauge != nil:
				return metric.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, want)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
