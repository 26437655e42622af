package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/tambak-ops/tambak/internal/app"
	"github.com/tambak-ops/tambak/internal/audit"
	jobmetrics "github.com/tambak-ops/tambak/internal/jobs"
	"github.com/tambak-ops/tambak/internal/platform/cache"
	"github.com/tambak-ops/tambak/internal/platform/db"
	"github.com/tambak-ops/tambak/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	// "worker warmup" enqueues one warmup task and exits, for manual runs.
	if len(os.Args) > 1 && os.Args[1] == "warmup" {
		if err := triggerWarmup(ctx, cfg); err != nil {
			logger.Error("trigger warmup", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("warmup task enqueued")
		return
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo, logger, nil)
	dashCache := audit.NewDashboardCache(redisClient, cfg.DashboardCacheTTL)

	jobMetrics := jobmetrics.NewMetrics(nil)
	warmupJob := jobs.NewDashboardWarmupJob(auditService, auditRepo, dashCache, logger, jobMetrics)
	warmupTask, err := jobs.NewDashboardWarmupTask(cfg.WarmupWindowDays)
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskDashboardWarmup, Handler: warmupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.WarmupCron, Task: warmupTask},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func triggerWarmup(ctx context.Context, cfg *app.Config) error {
	client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	_, err = client.EnqueueDashboardWarmup(ctx, cfg.WarmupWindowDays)
	return err
}
