package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	crdomain "github.com/smallbiznis/rosterpay/internal/changerequest/domain"
	crrepository "github.com/smallbiznis/rosterpay/internal/changerequest/repository"
	crservice "github.com/smallbiznis/rosterpay/internal/changerequest/service"
	"github.com/smallbiznis/rosterpay/internal/config"
	"github.com/smallbiznis/rosterpay/internal/migration"
	"github.com/smallbiznis/rosterpay/internal/mutation"
	"github.com/smallbiznis/rosterpay/internal/payment/details"
	paymentdomain "github.com/smallbiznis/rosterpay/internal/payment/domain"
	"github.com/smallbiznis/rosterpay/internal/payment/gateway"
	paymentrepository "github.com/smallbiznis/rosterpay/internal/payment/repository"
	"github.com/smallbiznis/rosterpay/internal/ratelimit"
	"github.com/smallbiznis/rosterpay/internal/reference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type processor struct {
	mu       sync.Mutex
	calls    []string
	amounts  []float64
	handlers map[string]http.HandlerFunc
}

func (p *processor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	p.mu.Lock()
	p.calls = append(p.calls, r.URL.Path)
	if amount, ok := body["amount"].(float64); ok {
		p.amounts = append(p.amounts, amount)
	}
	handler, ok := p.handlers[r.URL.Path]
	p.mu.Unlock()
	if !ok {
		http.Error(w, `{"errors":[{"detail":"unavailable"}]}`, http.StatusInternalServerError)
		return
	}
	handler(w, r)
}

func completed(id string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"payment":{"id":"` + id + `","status":"COMPLETED","receipt_url":"https://squareup.test/r/` + id + `"}}`))
	}
}

type countingLock struct {
	ratelimit.Lock
	tries atomic.Int32
}

func (l *countingLock) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.tries.Add(1)
	return l.Lock.TryLock(ctx, key, ttl)
}

type failingPayments struct {
	paymentdomain.Repository
}

func (failingPayments) InsertPayment(context.Context, *gorm.DB, *paymentdomain.PaymentRecord) error {
	return errors.New("payments table unavailable")
}

type harness struct {
	db        *gorm.DB
	orch      *Orchestrator
	proc      *processor
	crs       crdomain.Service
	payments  paymentdomain.Repository
	guard     *ratelimit.SubmissionGuard
	locks     *countingLock
	simulated bool
}

func newHarness(t *testing.T, handlers map[string]http.HandlerFunc, simulate bool) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.Apply(db))
	require.NoError(t, db.Create(&mutation.Team{
		ID: "team-1", Name: "Wolves", Slug: "wolves", OwnerID: "captain-1",
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}).Error)

	log := zaptest.NewLogger(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	proc := &processor{handlers: handlers}
	srv := httptest.NewServer(proc)
	t.Cleanup(srv.Close)

	crs := crservice.New(crservice.Params{
		DB:      db,
		Log:     log,
		Repo:    crrepository.Provide(db),
		Mutator: mutation.New(mutation.Params{Log: log}),
	})
	payments := paymentrepository.Provide()
	locks := &countingLock{Lock: ratelimit.NewLocalLocker()}
	guard := ratelimit.NewSubmissionGuard(config.Config{}, locks, nil)

	orch := New(Params{
		DB:             db,
		Log:            log,
		GenID:          node,
		Builder:        details.NewBuilder(node),
		Catalog:        config.NewStaticCatalogHolder(config.DefaultCatalog()),
		ChangeRequests: crs,
		Gateway: gateway.NewClient(gateway.Config{
			BaseURL:           srv.URL,
			EndpointTimeout:   time.Second,
			SimulationAllowed: simulate,
		}, log, srv.Client()),
		Payments: payments,
		Guard:    guard,
	})
	return &harness{db: db, orch: orch, proc: proc, crs: crs, payments: payments, guard: guard, locks: locks, simulated: simulate}
}

func rebrandIntent() Intent {
	return Intent{
		TeamID:      "team-1",
		RequestedBy: "captain-1",
		Type:        crdomain.ChangeTypeTeamRebrand,
		ItemID:      "1006",
		Amount:      decimal.RequireFromString("20.00"),
		Description: "Team rebrand",
		OldValue:    "Wolves",
		NewValue:    "Timberwolves",
		SourceID:    "cnon:card-nonce-ok",
	}
}

func (h *harness) team(t *testing.T) mutation.Team {
	t.Helper()
	var team mutation.Team
	require.NoError(t, h.db.First(&team, "id = ?", "team-1").Error)
	return team
}

func TestSubmitRebrandEndToEnd(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{"/api/payments": completed("pay_1")}, false)
	ctx := context.Background()

	result, err := h.orch.Submit(ctx, rebrandIntent())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	assert.Equal(t, crdomain.StatusCompleted, result.Status)
	assert.Equal(t, "pay_1", result.PaymentID)
	assert.Equal(t, "20.00", result.Amount)
	assert.Len(t, result.ReferenceID, 37)
	assert.Equal(t, []float64{2000}, h.proc.amounts)

	req, err := h.crs.Get(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, crdomain.StatusCompleted, req.Status)
	assert.Equal(t, result.ReferenceID, req.PaymentReference)
	decoded, ok := reference.Decode(req.PaymentReference)
	require.True(t, ok)
	assert.Equal(t, result.RequestID, decoded)
	assert.Equal(t, "20.00", req.MetadataString(crdomain.MetadataAmount))

	team := h.team(t)
	assert.Equal(t, "Timberwolves", team.Name)
	assert.Equal(t, "timberwolves", team.Slug)

	payment, err := h.payments.FindCompletedPayment(ctx, h.db, result.RequestID)
	require.NoError(t, err)
	require.NotNil(t, payment)
	assert.Equal(t, "/api/payments", payment.Endpoint)
	assert.False(t, payment.Simulated)
}

func TestSubmitLogsChangeRequestFieldsOnce(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{"/api/payments": completed("pay_1")}, false)
	core, logs := observer.New(zap.InfoLevel)
	h.orch.log = zap.New(core)

	result, err := h.orch.Submit(context.Background(), rebrandIntent())
	require.NoError(t, err)

	entries := logs.FilterMessage("change request paid and applied").All()
	require.Len(t, entries, 1)
	counts := map[string]int{}
	for _, field := range entries[0].Context {
		counts[field.Key]++
	}
	assert.Equal(t, 1, counts["change_type"])
	assert.Equal(t, 1, counts["change_request_id"])
	assert.Equal(t, result.RequestID, entries[0].ContextMap()["change_request_id"])
}

func TestSubmitFallsBackToThirdEndpoint(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{"/payments": completed("pay_3")}, false)

	result, err := h.orch.Submit(context.Background(), rebrandIntent())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	assert.Equal(t, "/payments", result.Endpoint)
	assert.Equal(t, []string{"/api/payments", "/api/payments/process", "/payments"}, h.proc.calls)
	assert.Equal(t, "Timberwolves", h.team(t).Name)
}

func TestSubmitUsesCatalogPriceWhenAmountMissing(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{"/api/payments": completed("pay_1")}, false)

	intent := rebrandIntent()
	intent.Amount = decimal.Zero
	result, err := h.orch.Submit(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, "20.00", result.Amount)
	assert.Equal(t, []float64{2000}, h.proc.amounts)
}

func TestSubmitValidationHasNoSideEffects(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{"/api/payments": completed("pay_1")}, false)

	intent := rebrandIntent()
	intent.Type = crdomain.ChangeTypeTeamTransfer
	_, err := h.orch.Submit(context.Background(), intent)

	var verrs paymentdomain.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.True(t, verrs.HasField("new_owner_id"))
	assert.Empty(t, h.proc.calls)

	assert.Zero(t, h.locks.tries.Load())

	var count int64
	require.NoError(t, h.db.Model(&crdomain.ChangeRequest{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSubmitValidatedFieldsOverrideCallerMetadata(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{"/api/payments": completed("pay_1")}, false)
	ctx := context.Background()

	intent := rebrandIntent()
	intent.Type = crdomain.ChangeTypeTeamTransfer
	intent.ItemID = "1003"
	intent.Amount = decimal.RequireFromString("15.00")
	intent.NewOwnerID = "alice"
	intent.Metadata = map[string]any{
		crdomain.MetadataNewOwnerID: "mallory",
		crdomain.MetadataAmount:     "0.01",
		"source":                    "mobile",
	}

	result, err := h.orch.Submit(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	assert.Equal(t, []float64{1500}, h.proc.amounts)

	req, err := h.crs.Get(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "15.00", req.MetadataString(crdomain.MetadataAmount))
	assert.Equal(t, "alice", req.MetadataString(crdomain.MetadataNewOwnerID))
	assert.Equal(t, "mobile", req.MetadataString("source"))
	assert.Equal(t, "alice", h.team(t).OwnerID)
}

func TestSubmitDeclinedPaymentFailsRequest(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{
		"/api/payments": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"payment":{"id":"pay_x","status":"FAILED"},"errors":[{"detail":"Card declined."}]}`))
		},
	}, true)
	ctx := context.Background()

	result, err := h.orch.Submit(ctx, rebrandIntent())
	require.NoError(t, err)
	assert.Equal(t, OutcomePaymentFailed, result.Outcome)
	assert.Equal(t, crdomain.StatusFailed, result.Status)
	assert.Equal(t, "Card declined.", result.Error)

	req, err := h.crs.Get(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "Card declined.", req.FailureReason)
	assert.Equal(t, "Wolves", h.team(t).Name)

	items, err := h.payments.ListPayments(ctx, h.db, result.RequestID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, paymentdomain.PaymentStatusFailed, items[0].Status)
}

func TestSubmitExhaustionInProductionFails(t *testing.T) {
	h := newHarness(t, nil, false)

	result, err := h.orch.Submit(context.Background(), rebrandIntent())
	require.NoError(t, err)
	assert.Equal(t, OutcomePaymentFailed, result.Outcome)
	assert.Contains(t, result.Error, "unavailable")
	assert.Len(t, h.proc.calls, 3)
}

func TestSubmitExhaustionSimulatesOutsideProduction(t *testing.T) {
	h := newHarness(t, nil, true)

	result, err := h.orch.Submit(context.Background(), rebrandIntent())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, result.Outcome)
	assert.True(t, result.Simulated)
	assert.Equal(t, "Timberwolves", h.team(t).Name)
}

func TestSubmitReconciliationFailure(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{"/api/payments": completed("pay_1")}, false)
	ctx := context.Background()

	intent := rebrandIntent()
	intent.TeamID = "team-missing"
	result, err := h.orch.Submit(ctx, intent)

	var recErr *ReconciliationError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, result.RequestID, recErr.RequestID)
	assert.Equal(t, "pay_1", recErr.PaymentID)
	assert.ErrorIs(t, err, mutation.ErrTeamNotFound)

	assert.Equal(t, OutcomeReconciliationFailed, result.Outcome)
	assert.Equal(t, ReconciliationMessage, result.Message)
	assert.Equal(t, crdomain.StatusProcessing, result.Status)

	payment, err := h.payments.FindCompletedPayment(ctx, h.db, result.RequestID)
	require.NoError(t, err)
	assert.NotNil(t, payment)
}

func TestSubmitPaymentRecordFailureStillActivates(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{"/api/payments": completed("pay_1")}, false)
	h.orch.payments = failingPayments{Repository: h.payments}
	ctx := context.Background()

	result, err := h.orch.Submit(ctx, rebrandIntent())

	var recErr *ReconciliationError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, OutcomeReconciliationFailed, result.Outcome)
	assert.Equal(t, crdomain.StatusCompleted, result.Status)
	assert.Equal(t, "Timberwolves", h.team(t).Name)

	req, err := h.crs.Get(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, crdomain.StatusCompleted, req.Status)
	assert.Equal(t, result.ReferenceID, req.PaymentReference)
}

func TestSubmitRejectsConcurrentSubmission(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{"/api/payments": completed("pay_1")}, false)
	ctx := context.Background()

	token, ok, err := h.guard.TryLock(ctx, "team-1", string(crdomain.ChangeTypeTeamRebrand))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.orch.Submit(ctx, rebrandIntent())
	assert.ErrorIs(t, err, ErrSubmissionInProgress)
	assert.Empty(t, h.proc.calls)

	require.NoError(t, h.guard.Release(ctx, "team-1", string(crdomain.ChangeTypeTeamRebrand), token))
	result, err := h.orch.Submit(ctx, rebrandIntent())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, result.Outcome)
}

func TestSubmitMissingSourceCreatesNothing(t *testing.T) {
	h := newHarness(t, map[string]http.HandlerFunc{"/api/payments": completed("pay_1")}, false)

	intent := rebrandIntent()
	intent.SourceID = ""
	_, err := h.orch.Submit(context.Background(), intent)
	assert.ErrorIs(t, err, paymentdomain.ErrMissingParameter)
	assert.Empty(t, h.proc.calls)
	assert.Zero(t, h.locks.tries.Load())

	var count int64
	require.NoError(t, h.db.Model(&crdomain.ChangeRequest{}).Count(&count).Error)
	assert.Zero(t, count)
}
