package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/Proton-105/clearity-bot/internal/collector"
	"github.com/Proton-105/clearity-bot/internal/database"
	"github.com/Proton-105/clearity-bot/internal/health"
	"github.com/Proton-105/clearity-bot/internal/lifecycle"
	"github.com/Proton-105/clearity-bot/migrations"
	"github.com/Proton-105/clearity-bot/pkg/config"
)

var collectorCmd = &cobra.Command{
	Use:   "collector",
	Short: "Run the response collector service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := config.Load(configPath, config.SectionBot, config.SectionFunnel)
		if err != nil {
			return err
		}
		return runCollector(cmd.Context(), cfg)
	},
}

func runCollector(ctx context.Context, cfg *config.Config) error {
	log, flush := setupLogging(cfg)
	defer flush()

	log.Info("starting clearity collector", slog.String("version", version), slog.String("port", cfg.Server.Port))

	db, err := database.Open(ctx, cfg.Collector.DatabaseDSN, database.PoolConfig{
		MaxOpenConns:    cfg.Collector.MaxOpenConns,
		MaxIdleConns:    cfg.Collector.MaxIdleConns,
		ConnMaxLifetime: cfg.Collector.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}

	if cfg.Collector.Migrate {
		applied, err := database.NewMigrator(db, log).ApplyFS(ctx, migrations.FS, ".")
		if err != nil {
			_ = db.Close()
			return err
		}
		log.Info("database migrations applied", slog.Int("count", len(applied)))
	}

	checker, probes := newChecker(log)
	checker.AddCheck("postgres", health.NewDBChecker(db))

	handler := collector.NewHandler(collector.NewRepository(db, log), nil, log)

	shutdown := lifecycle.NewShutdown(log)
	shutdown.Register("postgres", func(context.Context) error { return db.Close() })

	server := newHTTPServer(cfg, log, probes, func(mux *http.ServeMux) {
		handler.Routes(mux)
	})

	err = server.ListenAndServe(ctx)

	runShutdown(cfg, log, probes, shutdown)

	log.Info("clearity collector stopped")
	return err
}
