package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Proton-105/clearity-bot/internal/health"
	"github.com/Proton-105/clearity-bot/internal/lifecycle"
	"github.com/Proton-105/clearity-bot/internal/middleware"
	"github.com/Proton-105/clearity-bot/pkg/config"
	"github.com/Proton-105/clearity-bot/pkg/graceful"
	"github.com/Proton-105/clearity-bot/pkg/logger"
)

const sentryFlushTimeout = 2 * time.Second

// setupLogging builds the process logger and initializes Sentry when enabled.
func setupLogging(cfg *config.Config) (*slog.Logger, func()) {
	log := logger.New(*cfg)
	slog.SetDefault(log)

	if err := logger.InitSentry(*cfg, version); err != nil {
		log.Warn("sentry disabled: init failed", slog.Any("error", err))
		return log, func() {}
	}
	if !cfg.Sentry.Enabled {
		return log, func() {}
	}

	return log, func() { sentry.Flush(sentryFlushTimeout) }
}

// newHTTPServer serves metrics, probes and any extra routes behind the correlation id and request logging middlewares.
func newHTTPServer(cfg *config.Config, log *slog.Logger, probes *lifecycle.Probes, routes func(mux *http.ServeMux)) *graceful.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	probes.Routes(mux)
	if routes != nil {
		routes(mux)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      logger.Middleware(middleware.New(log)(mux)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return graceful.NewServer(log, srv, cfg.Server.ShutdownTimeout)
}

// runShutdown drains the probes and runs the hooks with a fresh deadline.
func runShutdown(cfg *config.Config, log *slog.Logger, probes *lifecycle.Probes, shutdown *lifecycle.Shutdown) {
	probes.Drain()

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := shutdown.Execute(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("shutdown finished with errors", slog.Any("error", err))
	}
}

func newChecker(log *slog.Logger) (*health.Checker, *lifecycle.Probes) {
	checker := health.NewChecker(log)
	return checker, lifecycle.NewProbes(checker, log)
}
