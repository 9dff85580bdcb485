package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletpulse/walletpulse/internal/config"
	"github.com/walletpulse/walletpulse/internal/dispatch"
	"github.com/walletpulse/walletpulse/internal/domain"
	"github.com/walletpulse/walletpulse/internal/lock"
	"github.com/walletpulse/walletpulse/internal/queue"
)

const testWallet = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB"

type serverFixture struct {
	srv    *Server
	router chi.Router
	mgr    *queue.Manager
}

func newServerFixture(t *testing.T) serverFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mgr := queue.NewManager(client, queue.DefaultConfigs())
	locker := lock.NewService(client)
	cfg := config.Config{DashboardAnalysisTimeout: 15 * time.Minute, SyncWalletTimeout: 10 * time.Minute}
	d := dispatch.New(mgr, locker, nil, cfg)
	srv := NewServer(cfg, d, mgr, nil, nil)

	r := chi.NewRouter()
	r.Post("/analyses/wallets/dashboard-analysis", srv.DashboardAnalysisHandler())
	r.Post("/analyses/wallets/{address}/sync", srv.SyncWalletHandler())
	r.Post("/analyses/similarity/queue", srv.SimilarityQueueHandler())
	r.Post("/analyses/similarity/enrich-balances", srv.EnrichBalancesHandler())
	r.Post("/analyses/holder-profiles", srv.HolderProfilesHandler())
	r.Get("/jobs/{id}", srv.JobGetHandler())
	r.Get("/jobs/{id}/progress", srv.JobProgressHandler())
	r.Get("/jobs/{id}/result", srv.JobResultHandler())
	r.Delete("/jobs/{id}", srv.JobCancelHandler())
	r.Get("/jobs/queue/{name}/stats", srv.QueueStatsHandler())
	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	return serverFixture{srv: srv, router: r, mgr: mgr}
}

func doJSON(t *testing.T, f serverFixture, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeDispatchResult(t *testing.T, rec *httptest.ResponseRecorder) dispatch.Result {
	t.Helper()
	var res dispatch.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestDashboardAnalysisAccepted(t *testing.T) {
	f := newServerFixture(t)

	rec := doJSON(t, f, http.MethodPost, "/analyses/wallets/dashboard-analysis",
		`{"walletAddress":"`+testWallet+`","analysisScope":"flash","queueWorkingAfter":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	res := decodeDispatchResult(t, rec)
	require.NotNil(t, res.JobID)
	assert.Equal(t, dispatch.StatusQueued, res.Status)
	assert.Equal(t, domain.ScopeFlash, res.AnalysisScope)
	assert.Equal(t, []string{"working"}, res.QueuedFollowUpScopes)
}

func TestDashboardAnalysisRejectsBadAddress(t *testing.T) {
	f := newServerFixture(t)

	rec := doJSON(t, f, http.MethodPost, "/analyses/wallets/dashboard-analysis",
		`{"walletAddress":"not-base58!"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "INVALID_ARGUMENT", env.Error.Code)
}

func TestDashboardAnalysisRejectsBadScope(t *testing.T) {
	f := newServerFixture(t)
	rec := doJSON(t, f, http.MethodPost, "/analyses/wallets/dashboard-analysis",
		`{"walletAddress":"`+testWallet+`","analysisScope":"exhaustive"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDashboardAnalysisRejectsInvalidJSON(t *testing.T) {
	f := newServerFixture(t)
	rec := doJSON(t, f, http.MethodPost, "/analyses/wallets/dashboard-analysis", `{broken`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncWalletPathValidation(t *testing.T) {
	f := newServerFixture(t)

	rec := doJSON(t, f, http.MethodPost, "/analyses/wallets/nope/sync", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f, http.MethodPost, "/analyses/wallets/"+testWallet+"/sync", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	res := decodeDispatchResult(t, rec)
	assert.Equal(t, domain.QueueWalletOps, res.QueueName)
}

func TestSimilarityQueueValidation(t *testing.T) {
	f := newServerFixture(t)

	rec := doJSON(t, f, http.MethodPost, "/analyses/similarity/queue",
		`{"walletAddresses":["`+testWallet+`"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f, http.MethodPost, "/analyses/similarity/queue",
		`{"walletAddresses":["`+testWallet+`","`+strings.Repeat("B", 40)+`"],"vectorType":"cosine"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f, http.MethodPost, "/analyses/similarity/queue",
		`{"walletAddresses":["`+testWallet+`","`+strings.Repeat("B", 40)+`"],"vectorType":"binary"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	res := decodeDispatchResult(t, rec)
	assert.Equal(t, 2, res.WalletCount)
}

func TestEnrichBalancesValidation(t *testing.T) {
	f := newServerFixture(t)

	rec := doJSON(t, f, http.MethodPost, "/analyses/similarity/enrich-balances", `{"walletBalances":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f, http.MethodPost, "/analyses/similarity/enrich-balances",
		`{"walletBalances":{"`+testWallet+`":{"tokenBalances":[{"mint":"MintA","uiBalance":3.5}]}}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	res := decodeDispatchResult(t, rec)
	assert.Equal(t, 1, res.WalletCount)
	assert.Equal(t, 1, res.TokenCount)
}

func TestHolderProfilesTopNValidation(t *testing.T) {
	f := newServerFixture(t)
	rec := doJSON(t, f, http.MethodPost, "/analyses/holder-profiles",
		`{"tokenMint":"`+testWallet+`","topN":99}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobLifecycleEndpoints(t *testing.T) {
	f := newServerFixture(t)

	rec := doJSON(t, f, http.MethodPost, "/analyses/wallets/"+testWallet+"/sync", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := *decodeDispatchResult(t, rec).JobID

	rec = doJSON(t, f, http.MethodGet, "/jobs/"+jobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job domain.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, domain.JobWaiting, job.Status)

	rec = doJSON(t, f, http.MethodGet, "/jobs/"+jobID+"/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, f, http.MethodGet, "/jobs/"+jobID+"/result", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "waiting", result["status"])
	assert.NotContains(t, result, "returnvalue")

	rec = doJSON(t, f, http.MethodDelete, "/jobs/"+jobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cancel map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancel))
	assert.Equal(t, queue.CancelRemoved, cancel["outcome"])

	rec = doJSON(t, f, http.MethodGet, "/jobs/"+jobID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobGetUnknownID(t *testing.T) {
	f := newServerFixture(t)
	rec := doJSON(t, f, http.MethodGet, "/jobs/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueueStats(t *testing.T) {
	f := newServerFixture(t)

	rec := doJSON(t, f, http.MethodGet, "/jobs/queue/wallet-operations/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats queue.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, domain.QueueWalletOps, stats.Queue)

	rec = doJSON(t, f, http.MethodGet, "/jobs/queue/dead-letter/stats", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	f := newServerFixture(t)

	rec := doJSON(t, f, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// No checks wired: vacuously ready.
	rec = doJSON(t, f, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	f.srv.RedisCheck = func(ctx context.Context) error { return assert.AnError }
	rec = doJSON(t, f, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
