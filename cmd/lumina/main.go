package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/lumina-cms/lumina/internal/app"
	"github.com/lumina-cms/lumina/internal/audit"
	audithttp "github.com/lumina-cms/lumina/internal/audit/http"
	"github.com/lumina-cms/lumina/internal/authz"
	"github.com/lumina-cms/lumina/internal/generation"
	"github.com/lumina-cms/lumina/internal/observability"
	"github.com/lumina-cms/lumina/internal/platform/cache"
	"github.com/lumina-cms/lumina/internal/platform/db"
	"github.com/lumina-cms/lumina/internal/projects"
	"github.com/lumina-cms/lumina/internal/users"
	"github.com/lumina-cms/lumina/jobs"
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

	// A missing Redis only disables the decision cache, it never blocks boot.
	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, decision cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	authzStore := authz.NewPostgresStore(pool)
	decisionCache := authz.NewDecisionCache(redisClient, cfg.DecisionCacheTTL)
	authzService := authz.NewService(authz.ServiceConfig{
		Store:   authzStore,
		Logger:  logger,
		Cache:   decisionCache,
		Metrics: metrics,
	})
	guard := authz.Middleware{Service: authzService, Logger: logger}
	authzHandler := authz.NewHandler(logger, authzService, guard)

	auditRepo := audit.NewPostgresRepository(pool)
	auditService := audit.NewService(auditRepo)
	auditHandler := audithttp.NewHandler(logger, auditService, audit.CSVExporter{}, guard)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo)
	usersHandler := users.NewHandler(logger, usersService, guard)

	projectsRepo := projects.NewRepository(pool)
	projectsService := projects.NewService(projectsRepo)
	projectsHandler := projects.NewHandler(logger, projectsService, guard)

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	provider := generation.NewHTTPProvider(cfg.GenerationEndpoint, cfg.GenerationAPIKey, cfg.GenerationTimeout)
	generationRepo := generation.NewRepository(pool)
	generationService := generation.NewService(generationRepo, provider, queueClient, logger)
	generationHandler := generation.NewHandler(logger, generationService, guard)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AuthzHandler:      authzHandler,
		AuditHandler:      auditHandler,
		ProjectsHandler:   projectsHandler,
		GenerationHandler: generationHandler,
		UsersHandler:      usersHandler,
		JobsHandler:       jobsHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
