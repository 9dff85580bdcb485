package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/walletpulse/walletpulse/internal/config"
	"github.com/walletpulse/walletpulse/internal/dispatch"
	"github.com/walletpulse/walletpulse/internal/domain"
	"github.com/walletpulse/walletpulse/internal/queue"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Dispatch   *dispatch.Dispatcher
	Mgr        *queue.Manager
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, d *dispatch.Dispatcher, mgr *queue.Manager, dbCheck, redisCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Dispatch: d, Mgr: mgr, DBCheck: dbCheck, RedisCheck: redisCheck}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument)
	}
	return nil
}

// DashboardAnalysisHandler enqueues a scoped dashboard analysis.
func (s *Server) DashboardAnalysisHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			WalletAddress        string `json:"walletAddress" validate:"required,solana_address"`
			AnalysisScope        string `json:"analysisScope" validate:"omitempty,oneof=flash working deep"`
			TriggerSource        string `json:"triggerSource"`
			HistoryWindowDays    int    `json:"historyWindowDays" validate:"omitempty,min=0,max=3650"`
			TargetSignatureCount int    `json:"targetSignatureCount" validate:"omitempty,min=0"`
			ForceRefresh         bool   `json:"forceRefresh"`
			EnrichMetadata       bool   `json:"enrichMetadata"`
			QueueWorkingAfter    bool   `json:"queueWorkingAfter"`
			QueueDeepAfter       bool   `json:"queueDeepAfter"`
			TimeoutMinutes       int    `json:"timeoutMinutes" validate:"omitempty,min=0,max=120"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if details, err := validateStruct(req); err != nil {
			writeError(w, r, err, details)
			return
		}
		res, err := s.Dispatch.DashboardAnalysis(r.Context(), dispatch.DashboardRequest{
			WalletAddress:        req.WalletAddress,
			Scope:                domain.AnalysisScope(req.AnalysisScope),
			TriggerSource:        req.TriggerSource,
			HistoryWindowDays:    req.HistoryWindowDays,
			TargetSignatureCount: req.TargetSignatureCount,
			ForceRefresh:         req.ForceRefresh,
			EnrichMetadata:       req.EnrichMetadata,
			QueueWorkingAfter:    req.QueueWorkingAfter,
			QueueDeepAfter:       req.QueueDeepAfter,
			TimeoutMinutes:       req.TimeoutMinutes,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	}
}

// SyncWalletHandler enqueues a wallet history sync.
func (s *Server) SyncWalletHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := chi.URLParam(r, "address")
		if err := validateWalletAddress(addr); err != nil {
			writeError(w, r, err, map[string]string{"field": "address"})
			return
		}
		res, err := s.Dispatch.SyncWallet(r.Context(), addr, r.Header.Get("X-Request-Id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	}
}

type windowedRequest struct {
	HistoryWindowDays int `json:"historyWindowDays" validate:"omitempty,min=0,max=3650"`
}

// AnalyzePnlHandler enqueues a PnL analysis for one wallet.
func (s *Server) AnalyzePnlHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := chi.URLParam(r, "address")
		if err := validateWalletAddress(addr); err != nil {
			writeError(w, r, err, map[string]string{"field": "address"})
			return
		}
		var req windowedRequest
		if r.ContentLength > 0 {
			if err := decodeBody(w, r, &req); err != nil {
				writeError(w, r, err, nil)
				return
			}
			if details, err := validateStruct(req); err != nil {
				writeError(w, r, err, details)
				return
			}
		}
		res, err := s.Dispatch.AnalyzePnl(r.Context(), addr, req.HistoryWindowDays, r.Header.Get("X-Request-Id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	}
}

// AnalyzeBehaviorHandler enqueues a trading-behavior analysis for one wallet.
func (s *Server) AnalyzeBehaviorHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := chi.URLParam(r, "address")
		if err := validateWalletAddress(addr); err != nil {
			writeError(w, r, err, map[string]string{"field": "address"})
			return
		}
		var req windowedRequest
		if r.ContentLength > 0 {
			if err := decodeBody(w, r, &req); err != nil {
				writeError(w, r, err, nil)
				return
			}
			if details, err := validateStruct(req); err != nil {
				writeError(w, r, err, details)
				return
			}
		}
		res, err := s.Dispatch.AnalyzeBehavior(r.Context(), addr, req.HistoryWindowDays, r.Header.Get("X-Request-Id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	}
}

// SimilarityQueueHandler enqueues a multi-wallet similarity computation.
func (s *Server) SimilarityQueueHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			WalletAddresses []string `json:"walletAddresses" validate:"required,min=2,dive,solana_address"`
			VectorType      string   `json:"vectorType" validate:"omitempty,oneof=capital binary"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if details, err := validateStruct(req); err != nil {
			writeError(w, r, err, details)
			return
		}
		res, err := s.Dispatch.SimilarityFlow(r.Context(), req.WalletAddresses, req.VectorType)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	}
}

// EnrichBalancesHandler enqueues token-balance enrichment.
func (s *Server) EnrichBalancesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			WalletBalances map[string]domain.WalletBalance `json:"walletBalances" validate:"required,min=1"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if details, err := validateStruct(req); err != nil {
			writeError(w, r, err, details)
			return
		}
		res, err := s.Dispatch.EnrichBalances(r.Context(), domain.EnrichTokenBalancesPayload{WalletBalances: req.WalletBalances})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	}
}

// HolderProfilesHandler enqueues a token-mode holder-profiles analysis.
func (s *Server) HolderProfilesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TokenMint string `json:"tokenMint" validate:"required,solana_address"`
			TopN      int    `json:"topN" validate:"omitempty,min=1,max=50"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if details, err := validateStruct(req); err != nil {
			writeError(w, r, err, details)
			return
		}
		res, err := s.Dispatch.HolderProfilesToken(r.Context(), req.TokenMint, req.TopN)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	}
}

// HolderProfilesWalletHandler enqueues a wallet-mode holder-profiles analysis.
func (s *Server) HolderProfilesWalletHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			WalletAddress string `json:"walletAddress" validate:"required,solana_address"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if details, err := validateStruct(req); err != nil {
			writeError(w, r, err, details)
			return
		}
		res, err := s.Dispatch.HolderProfilesWallet(r.Context(), req.WalletAddress)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, res)
	}
}

// JobGetHandler returns the full broker record of one job.
func (s *Server) JobGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.Mgr.FindJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// JobProgressHandler returns a job's status and latest progress report.
func (s *Server) JobProgressHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.Mgr.FindJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"jobId":        job.ID,
			"status":       job.Status,
			"progress":     job.Progress,
			"attemptsMade": job.AttemptsMade,
		})
	}
}

// JobResultHandler returns a job's terminal outcome; non-terminal jobs get
// their status back without a result.
func (s *Server) JobResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.Mgr.FindJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		body := map[string]any{"jobId": job.ID, "status": job.Status}
		switch job.Status {
		case domain.JobCompleted:
			body["returnvalue"] = job.ReturnValue
		case domain.JobFailed:
			body["failedReason"] = job.FailedReason
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// JobCancelHandler removes a waiting job or requests abort of an active one.
func (s *Server) JobCancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outcome, err := s.Dispatch.CancelJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"jobId":   chi.URLParam(r, "id"),
			"outcome": outcome,
		})
	}
}

// QueueStatsHandler returns counts and pause state for one queue.
func (s *Server) QueueStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if !domain.ValidQueueName(name) {
			writeError(w, r, fmt.Errorf("%w: unknown queue %q", domain.ErrInvalidArgument, name), nil)
			return
		}
		q, err := s.Mgr.Queue(domain.QueueName(name))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		stats, err := q.GetStats(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// QueueJobsHandler lists one queue's jobs filtered by status.
func (s *Server) QueueJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if !domain.ValidQueueName(name) {
			writeError(w, r, fmt.Errorf("%w: unknown queue %q", domain.ErrInvalidArgument, name), nil)
			return
		}
		status := domain.JobStatus(r.URL.Query().Get("status"))
		if status == "" {
			status = domain.JobWaiting
		}
		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)
		q, err := s.Mgr.Queue(domain.QueueName(name))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		jobs, err := q.Jobs(r.Context(), status, offset, limit)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"queue":  name,
			"status": status,
			"jobs":   jobs,
		})
	}
}

// JobsListHandler aggregates non-terminal jobs across every queue.
func (s *Server) JobsListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := domain.JobStatus(r.URL.Query().Get("status"))
		statuses := []domain.JobStatus{domain.JobActive, domain.JobWaiting, domain.JobDelayed}
		if status != "" {
			statuses = []domain.JobStatus{status}
		}
		limit := queryInt(r, "limit", 50)
		out := []*domain.Job{}
		for _, q := range s.Mgr.All() {
			for _, st := range statuses {
				jobs, err := q.Jobs(r.Context(), st, 0, limit)
				if err != nil {
					writeError(w, r, err, nil)
					return
				}
				out = append(out, jobs...)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
	}
}

func queryInt(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// HealthzHandler is the liveness probe.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler probes the broker and the runs database.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "redis", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "redis", OK: true})
			}
		}
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "db", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}
		st := http.StatusOK
		for _, c := range checks {
			if !c.OK {
				st = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
