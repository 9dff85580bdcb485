// Command worker runs the per-queue worker pools: it sweeps orphaned locks on
// boot, then reserves and processes jobs until drained by a shutdown signal.
// Metrics are exposed on a dedicated port for scraping.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/walletpulse/walletpulse/internal/adapter/analyzer/stub"
	"github.com/walletpulse/walletpulse/internal/adapter/observability"
	"github.com/walletpulse/walletpulse/internal/adapter/repo/postgres"
	"github.com/walletpulse/walletpulse/internal/app"
	holdercache "github.com/walletpulse/walletpulse/internal/cache/holderprofiles"
	"github.com/walletpulse/walletpulse/internal/config"
	"github.com/walletpulse/walletpulse/internal/dispatch"
	"github.com/walletpulse/walletpulse/internal/domain"
	"github.com/walletpulse/walletpulse/internal/events"
	"github.com/walletpulse/walletpulse/internal/lock"
	"github.com/walletpulse/walletpulse/internal/queue"
	"github.com/walletpulse/walletpulse/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr(), DB: cfg.RedisDB})
	defer func() { _ = rdb.Close() }()
	if err := queue.WaitReady(ctx, rdb); err != nil {
		slog.Error("broker unreachable", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	runs := postgres.NewRunRepo(pool)
	if err := runs.EnsureSchema(ctx); err != nil {
		slog.Error("schema setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	mgr := queue.NewManager(rdb, app.QueueConfigs(cfg))
	locker := lock.NewService(rdb)

	// Boot-time orphan sweep: locks whose owning job finished or vanished
	// while no worker was running are released before processing starts.
	report, err := locker.SweepOrphans(ctx, mgr)
	if err != nil {
		slog.Error("orphan lock sweep failed", slog.Any("error", err))
	} else {
		slog.Info("orphan lock sweep done",
			slog.Int("scanned", report.Scanned),
			slog.Int("orphaned", report.Orphaned))
	}

	dispatcher := dispatch.New(mgr, locker, runs, cfg)
	analyzer := stub.New()
	deps := worker.Deps{
		Syncer:     analyzer,
		Pnl:        analyzer,
		Behavior:   analyzer,
		Dashboard:  analyzer,
		Similarity: analyzer,
		Enricher:   analyzer,
		Profiler:   analyzer,
		Runs:       runs,
		Cache:      holdercache.New(rdb, holdercache.DefaultTTL),
		FollowUp: func(ctx context.Context, p domain.DashboardAnalysisPayload) error {
			_, err := dispatcher.DashboardAnalysis(ctx, dispatch.DashboardRequest{
				WalletAddress:     p.WalletAddress,
				Scope:             p.Scope,
				TriggerSource:     "follow-up",
				QueueWorkingAfter: p.QueueWorkingAfter,
				QueueDeepAfter:    p.QueueDeepAfter,
				EnrichMetadata:    p.EnrichMetadata,
				RequestID:         p.RequestID,
			})
			return err
		},
	}

	pub := events.NewPublisher(rdb)
	pool2 := worker.NewPool(mgr, worker.NewRegistry(deps), pub, locker,
		worker.WithDrainTimeout(cfg.WorkerDrainTimeout),
		worker.WithCompletionHook(deps.CompletionHook))

	slog.Info("worker pools starting", slog.String("env", cfg.AppEnv))
	if err := pool2.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("worker pool exited", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker drained")
}
