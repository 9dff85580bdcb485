// Package app wires the HTTP surface: router, middleware stack, CORS, rate
// limits, health probes, and the realtime gateway mount.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	httpserver "github.com/walletpulse/walletpulse/internal/adapter/httpserver"
	"github.com/walletpulse/walletpulse/internal/adapter/observability"
	"github.com/walletpulse/walletpulse/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
// wsHandler mounts the realtime gateway; nil skips the mount.
func BuildRouter(cfg config.Config, srv *httpserver.Server, wsHandler http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.FrontendURL),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Intake endpoints: rate limited and bounded by a request deadline. The
	// websocket route stays outside the timeout handler.
	r.Group(func(wr chi.Router) {
		wr.Use(httpserver.TimeoutMiddleware(30 * time.Second))
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Post("/analyses/wallets/dashboard-analysis", srv.DashboardAnalysisHandler())
		wr.Post("/analyses/wallets/{address}/sync", srv.SyncWalletHandler())
		wr.Post("/analyses/wallets/{address}/pnl", srv.AnalyzePnlHandler())
		wr.Post("/analyses/wallets/{address}/behavior", srv.AnalyzeBehaviorHandler())
		wr.Post("/analyses/similarity/queue", srv.SimilarityQueueHandler())
		wr.Post("/analyses/similarity/enrich-balances", srv.EnrichBalancesHandler())
		wr.Post("/analyses/holder-profiles", srv.HolderProfilesHandler())
		wr.Post("/analyses/holder-profiles/wallet", srv.HolderProfilesWalletHandler())
		wr.Delete("/jobs/{id}", srv.JobCancelHandler())
	})

	// Read-only job inspection.
	r.Group(func(rr chi.Router) {
		rr.Use(httpserver.TimeoutMiddleware(30 * time.Second))
		rr.Get("/jobs", srv.JobsListHandler())
		rr.Get("/jobs/{id}", srv.JobGetHandler())
		rr.Get("/jobs/{id}/progress", srv.JobProgressHandler())
		rr.Get("/jobs/{id}/result", srv.JobResultHandler())
		rr.Get("/jobs/queue/{name}/stats", srv.QueueStatsHandler())
		rr.Get("/jobs/queue/{name}/jobs", srv.QueueJobsHandler())
	})

	if wsHandler != nil {
		r.Get("/ws/jobs", wsHandler)
	}

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(otelhttp.NewHandler(r, "http.server"))
}
