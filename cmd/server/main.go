// Command server starts the analysis intake API: HTTP endpoints, the
// realtime websocket gateway, and the job dispatcher over the shared broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/walletpulse/walletpulse/internal/adapter/httpserver"
	"github.com/walletpulse/walletpulse/internal/adapter/observability"
	"github.com/walletpulse/walletpulse/internal/adapter/repo/postgres"
	"github.com/walletpulse/walletpulse/internal/adapter/ws"
	"github.com/walletpulse/walletpulse/internal/app"
	"github.com/walletpulse/walletpulse/internal/config"
	"github.com/walletpulse/walletpulse/internal/dispatch"
	"github.com/walletpulse/walletpulse/internal/events"
	"github.com/walletpulse/walletpulse/internal/lock"
	"github.com/walletpulse/walletpulse/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

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
	dispatcher := dispatch.New(mgr, locker, runs, cfg)

	// Realtime gateway: bus subscriber feeding the websocket hub.
	hub := ws.NewHub()
	eventStream, err := events.NewSubscriber(rdb).Subscribe(ctx)
	if err != nil {
		slog.Error("bus subscribe failed", slog.Any("error", err))
		os.Exit(1)
	}
	go ws.NewBridge(hub, eventStream).Run(ctx)

	dbCheck, redisCheck := app.BuildReadinessChecks(pool, rdb)
	srv := httpserver.NewServer(cfg, dispatcher, mgr, dbCheck, redisCheck)
	handler := app.BuildRouter(cfg, srv, ws.Handler(hub, cfg.FrontendURL))

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
