// Package observability wires the process-wide logger, Prometheus metrics,
// and the OTLP tracer provider.
package observability

import (
	"log/slog"
	"os"

	"github.com/walletpulse/walletpulse/internal/config"
)

// SetupLogger builds the service-wide JSON slog logger tagged with the
// service and environment; dev enables debug level.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
	return logger
}
