package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tambak-ops/tambak/internal/app"
	"github.com/tambak-ops/tambak/internal/audit"
	"github.com/tambak-ops/tambak/internal/companies"
	"github.com/tambak-ops/tambak/internal/observability"
	"github.com/tambak-ops/tambak/internal/platform/cache"
	"github.com/tambak-ops/tambak/internal/platform/db"
	"github.com/tambak-ops/tambak/internal/rbac"
	"github.com/tambak-ops/tambak/internal/shared"
	"github.com/tambak-ops/tambak/internal/users"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	metrics := observability.NewMetrics()
	sessions := shared.NewSessionManager(redisClient, cfg.SessionTTL)

	rbacService := rbac.NewService(rbac.NewRepository(pool))
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	auditService := audit.NewService(audit.NewRepository(pool), logger, metrics)
	dashCache := audit.NewDashboardCache(redisClient, cfg.DashboardCacheTTL)

	usersService := users.NewService(users.NewRepository(pool))
	companiesService := companies.NewService(companies.NewRepository(pool))

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessions,
		RBACHandler:      rbac.NewHandler(logger, rbacService, auditService, rbacMiddleware),
		AuditHandler:     audit.NewHandler(logger, auditService, dashCache, rbacMiddleware),
		UsersHandler:     users.NewHandler(logger, usersService, rbacMiddleware),
		CompaniesHandler: companies.NewHandler(logger, companiesService, rbacMiddleware),
		Metrics:          metrics,
	})

	if err := app.RunServer(ctx, cfg, logger, router); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
