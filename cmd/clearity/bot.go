package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Proton-105/clearity-bot/internal/analytics"
	"github.com/Proton-105/clearity-bot/internal/bot"
	apperrors "github.com/Proton-105/clearity-bot/internal/errors"
	"github.com/Proton-105/clearity-bot/internal/funnel"
	"github.com/Proton-105/clearity-bot/internal/health"
	"github.com/Proton-105/clearity-bot/internal/idempotency"
	"github.com/Proton-105/clearity-bot/internal/jobs"
	"github.com/Proton-105/clearity-bot/internal/lifecycle"
	"github.com/Proton-105/clearity-bot/internal/ratelimit"
	"github.com/Proton-105/clearity-bot/internal/script"
	"github.com/Proton-105/clearity-bot/internal/session"
	"github.com/Proton-105/clearity-bot/internal/submission"
	"github.com/Proton-105/clearity-bot/pkg/config"
	"github.com/Proton-105/clearity-bot/pkg/metrics"
	"github.com/Proton-105/clearity-bot/pkg/redis"
)

const (
	stageCollectInterval  = 15 * time.Second
	rateLimitCleanupEvery = 5 * time.Minute
	rateLimitMaxAge       = time.Hour
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Telegram funnel bot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := config.Load(configPath, config.SectionCollector)
		if err != nil {
			return err
		}
		return runBot(cmd.Context(), cfg)
	},
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Sessions.Storage == "redis" ||
		cfg.Idempotency.Enabled ||
		cfg.Submission.Mode == "queue" ||
		(cfg.RateLimit.Enabled && cfg.RateLimit.Backend != "memory")
}

func runBot(ctx context.Context, cfg *config.Config) error {
	log, flush := setupLogging(cfg)
	defer flush()

	log.Info("starting clearity bot",
		slog.String("version", version),
		slog.String("mode", cfg.Bot.Mode),
		slog.String("submission_mode", cfg.Submission.Mode),
	)

	funnel.RegisterTransitionRecorder(metrics.RecordStageTransition)

	store, err := script.NewStore(cfg.Script.Path, log)
	if err != nil {
		return fmt.Errorf("load script: %w", err)
	}

	checker, probes := newChecker(log)
	shutdown := lifecycle.NewShutdown(log)

	var rdb *redis.Client
	if needsRedis(cfg) {
		rdb, err = redis.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		checker.AddCheck("redis", health.NewRedisChecker(rdb.Client))
	}

	sink, err := newSink(cfg, log)
	if err != nil {
		return err
	}
	shutdown.Register("analytics", func(context.Context) error { return sink.Close() })

	submitter := submission.NewHTTPClient(submission.ClientConfig{
		Endpoint: cfg.Submission.Endpoint,
		Timeout:  cfg.Submission.Timeout,
		Retry: apperrors.RetryPolicy{
			MaxRetries:     cfg.Submission.MaxRetries,
			InitialBackoff: cfg.Submission.InitialBackoff,
			MaxBackoff:     cfg.Submission.MaxBackoff,
		},
	}, apperrors.NewCircuitBreaker(), log)

	var (
		dispatcher funnel.Dispatcher
		worker     jobs.Worker
	)
	switch cfg.Submission.Mode {
	case "queue":
		redisOpt := jobs.RedisOpt(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		manager := jobs.NewManager(redisOpt, log)
		shutdown.Register("jobs-client", func(context.Context) error { return manager.Close() })
		dispatcher = submission.NewQueueDispatcher(manager, log)

		worker = jobs.NewWorker(redisOpt, jobs.DefaultQueues(), cfg.Jobs.Concurrency, log)
		worker.RegisterHandler(jobs.TaskTypeSubmissionDeliver, submission.NewDeliverHandler(submitter, log))
	default:
		async := submission.NewAsyncDispatcher(submitter, cfg.Submission.Timeout, log)
		shutdown.Register("submissions", async.Wait)
		dispatcher = async
	}

	var storage session.Storage = session.NewMemoryStorage()
	if cfg.Sessions.Storage == "redis" {
		storage = session.NewRedisStorage(rdb.Client, cfg.Sessions.TTL, log)
	}

	var idem idempotency.Manager
	if cfg.Idempotency.Enabled {
		idem = idempotency.NewManager(idempotency.NewRedisStore(rdb.Client, log), log)
	}

	limiter, memoryLimiter := newLimiter(cfg, rdb, log)

	errHandler := apperrors.NewHandler(log, cfg.Sentry.Enabled).WithRecorder(func(code string, severity apperrors.Severity) {
		metrics.RecordError(code, string(severity))
	})

	b, err := bot.New(*cfg, bot.Deps{
		Log:         log,
		Script:      store,
		Storage:     storage,
		Sink:        sink,
		Dispatcher:  dispatcher,
		ErrHandler:  errHandler,
		Idempotency: idem,
		Limiter:     limiter,
	})
	if err != nil {
		return err
	}
	checker.AddCheck("telegram", health.NewTelegramChecker(b.Telebot()))
	shutdown.Register("bot", func(ctx context.Context) error {
		b.Stop(ctx)
		return nil
	})

	server := newHTTPServer(cfg, log, probes, nil)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return server.ListenAndServe(gctx) })

	g.Go(func() error {
		go b.Start()
		<-gctx.Done()
		return nil
	})

	g.Go(func() error {
		if err := store.Watch(gctx, cfg.Script.ReloadDebounce); err != nil {
			log.Warn("script watcher stopped", slog.Any("error", err))
		}
		return nil
	})

	g.Go(func() error {
		session.NewCleaner(b.Sessions(), storage, nil, log, cfg.Sessions.TTL, cfg.Sessions.CleanupInterval).Run(gctx)
		return nil
	})

	g.Go(func() error {
		metrics.NewStageCollector(b.Sessions(), stageNames(), stageCollectInterval).Run(gctx)
		return nil
	})

	if rdb != nil && cfg.Idempotency.Enabled {
		g.Go(func() error {
			idempotency.NewCleaner(rdb.Client, nil, log, time.Hour, cfg.Idempotency.TTL).Run(gctx)
			return nil
		})
	}

	if cfg.RateLimit.Enabled {
		client := rawClient(rdb)
		g.Go(func() error {
			ratelimit.NewCleaner(client, memoryLimiter, nil, log, rateLimitCleanupEvery, rateLimitMaxAge).Run(gctx)
			return nil
		})
	}

	if worker != nil {
		g.Go(func() error { return worker.Run(gctx) })
	}

	err = g.Wait()

	runShutdown(cfg, log, probes, shutdown)

	if rdb != nil {
		if cerr := rdb.Close(); cerr != nil {
			log.Warn("failed to close redis", slog.Any("error", cerr))
		}
	}

	log.Info("clearity bot stopped")
	return err
}

func newSink(cfg *config.Config, log *slog.Logger) (analytics.Sink, error) {
	var sinks analytics.Multi

	if cfg.Analytics.Log {
		sinks = append(sinks, analytics.NewLogSink(log))
	}
	if cfg.Analytics.Prometheus {
		prom, err := analytics.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			return nil, fmt.Errorf("analytics prometheus sink: %w", err)
		}
		sinks = append(sinks, prom)
	}
	if cfg.Analytics.PostHogKey != "" {
		ph, err := analytics.NewPostHogSink(analytics.PostHogConfig{
			APIKey:   cfg.Analytics.PostHogKey,
			Endpoint: cfg.Analytics.PostHogEndpoint,
		}, log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ph)
	}

	if len(sinks) == 0 {
		return analytics.NopSink{}, nil
	}
	return sinks, nil
}

func newLimiter(cfg *config.Config, rdb *redis.Client, log *slog.Logger) (ratelimit.Limiter, *ratelimit.MemoryLimiter) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}

	memory := ratelimit.NewMemoryLimiter(nil, log)

	switch cfg.RateLimit.Backend {
	case "redis":
		return ratelimit.NewRedisLimiter(rdb.Client, nil, log), nil
	case "adaptive":
		return ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(rdb.Client, nil, log), memory, log), memory
	default:
		return memory, memory
	}
}

func rawClient(rdb *redis.Client) *goredis.Client {
	if rdb == nil {
		return nil
	}
	return rdb.Client
}

func stageNames() []string {
	stages := funnel.AllStages()
	names := make([]string, 0, len(stages))
	for _, s := range stages {
		names = append(names, string(s))
	}
	return names
}
