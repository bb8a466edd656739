package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/identity"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
)

func main() {
	port := flag.String("port", "", "override WARDEN_PORT")
	dbURL := flag.String("db-url", "", "override WARDEN_DB_URL")
	flag.Parse()

	if *port != "" {
		os.Setenv("WARDEN_PORT", *port)
	}
	if *dbURL != "" {
		os.Setenv("WARDEN_DB_URL", *dbURL)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	db, err := storage.Open(cfg.Storage)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	store, err := postgres.NewStore(db, cfg.Storage.Driver, metrics)
	if err != nil {
		logger.WithError(err).Error("failed to initialize store")
		os.Exit(1)
	}

	var repo identity.Repository = store
	var redisClient *redis.Client
	if cfg.Storage.CacheEnabled && cfg.Storage.RedisURL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			logger.WithError(err).Error("failed to connect to redis")
			os.Exit(1)
		}
		defer redisClient.Close()
		repo = postgres.NewCachedRepository(store, redisClient, cfg.Storage.CacheTTL, metrics)
		logger.Info("redis read-through cache enabled")
	}

	service := identity.NewService(repo, identity.DefaultIndexTypes(), metrics)
	handlers := identity.NewHandlers(service, logger, metrics)

	tokenManager := auth.NewTokenManager(db)
	authMiddleware := middleware.NewAuthMiddleware(tokenManager, cfg.Auth.Optional)

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logging(logger))
	router.Use(authMiddleware.Handler)

	if cfg.Server.RateLimitEnabled {
		window := time.Minute
		rateLimit := middleware.NewRateLimitMiddlewareWithConfigs(
			&middleware.RateLimitConfig{
				RequestsPerWindow: int(cfg.Server.RateLimitRPS * window.Seconds()),
				WindowDuration:    window,
				BurstSize:         cfg.Server.RateLimitBurst,
			},
			middleware.DefaultRateLimitConfig(),
		)
		router.Use(rateLimit.Handler)
	}

	var retention *audit.RetentionJob
	if cfg.Audit.Enabled {
		auditLogger, err := audit.NewDBLogger(db, cfg.Storage.Driver)
		if err != nil {
			logger.WithError(err).Error("failed to initialize audit trail")
			os.Exit(1)
		}
		auditMiddleware := audit.NewMiddleware(auditLogger, false)
		router.Use(auditMiddleware.Handler)

		retention = audit.NewRetentionJob(auditLogger, audit.RetentionPolicy{
			RetentionDays: cfg.Audit.RetentionDays,
		}, logrus.StandardLogger())
		if err := retention.Start(cfg.Audit.RetentionSchedule); err != nil {
			logger.WithError(err).Error("failed to start audit retention job")
			os.Exit(1)
		}
		defer retention.Stop()
	}

	handlers.RegisterRoutes(router.PathPrefix("/api/v1").Subrouter())

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("identity API listening")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("api server shutdown incomplete")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("health server shutdown incomplete")
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
