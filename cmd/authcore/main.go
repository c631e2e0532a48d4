package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/caseworks/authcore/pkg/api"
	"github.com/caseworks/authcore/pkg/apikeys"
	"github.com/caseworks/authcore/pkg/audit"
	"github.com/caseworks/authcore/pkg/authz"
	"github.com/caseworks/authcore/pkg/config"
	"github.com/caseworks/authcore/pkg/db"
	"github.com/caseworks/authcore/pkg/identity"
	"github.com/caseworks/authcore/pkg/impersonation"
	"github.com/caseworks/authcore/pkg/middleware"
	"github.com/caseworks/authcore/pkg/observability"
	"github.com/caseworks/authcore/pkg/tenants"
)

func main() {
	boot := logrus.New()
	boot.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		boot.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, db.Config{
		URL:          cfg.Postgres.URL,
		MaxOpenConns: cfg.Postgres.MaxOpenConns,
		MaxIdleConns: cfg.Postgres.MaxIdleConns,
		ConnLifetime: cfg.Postgres.ConnLifetime,
	})
	if err != nil {
		boot.WithError(err).Fatal("Failed to connect to postgres")
	}
	defer database.Close()

	if err := db.RunMigrations(ctx, database); err != nil {
		boot.WithError(err).Fatal("Failed to run migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		boot.WithError(err).Fatal("Failed to connect to redis")
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		boot.WithError(err).Fatal("Failed to initialize OpenTelemetry")
	}

	auditLogger, err := audit.NewDBLogger(database)
	if err != nil {
		boot.WithError(err).Fatal("Failed to initialize audit logger")
	}

	actorStore := identity.NewStore(database)
	resolver := identity.NewResolver(actorStore, logger, metrics)
	tenantRegistry := tenants.NewRegistry(database)

	vocab, err := authz.LoadVocabulary(cfg.Authz.VocabularyFile, logger)
	if err != nil {
		boot.WithError(err).Fatal("Failed to load role vocabulary")
	}
	defer vocab.Close()

	grantStore := authz.NewStore(database)
	evaluator := authz.NewEvaluator(grantStore, tenantRegistry, auditLogger, logger, metrics,
		cfg.Authz.AdminEmails, cfg.Authz.StoreRetries)
	roleService := authz.NewRoleService(grantStore, vocab, auditLogger, logger, metrics)

	keyStore := apikeys.NewStore(database)
	authenticator := apikeys.NewAuthenticator(keyStore, tenantRegistry, auditLogger, logger, metrics,
		cfg.APIKeys.DefaultRateLimitPerMinute, cfg.APIKeys.MeteringTimeout)
	limiter := apikeys.NewRateLimiter(redisClient, logger, metrics)

	overlay := impersonation.NewOverlay(redisClient, evaluator, actorStore, auditLogger, logger, metrics,
		cfg.Authz.ImpersonationTTL)

	server := api.NewServer(api.Options{
		Evaluator:       evaluator,
		Roles:           roleService,
		Registry:        tenantRegistry,
		Authenticator:   authenticator,
		Overlay:         overlay,
		AuditLog:        auditLogger,
		Logger:          logger,
		IdentityMW:      middleware.NewIdentity(resolver, logger, cfg.Authz.StoreRetries),
		ImpersonationMW: middleware.NewImpersonation(overlay, actorStore, logger),
		APIKeyMW:        middleware.NewAPIKey(authenticator, tenantRegistry, limiter, logger),
		VerboseErrors:   cfg.Authz.VerboseErrors,
	})

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Authz.AuditPurgeSchedule, func() {
		purged, err := auditLogger.Purge(context.Background(), cfg.Authz.AuditRetention)
		if err != nil {
			logger.WithError(err).Error("Audit retention purge failed")
			return
		}
		logger.WithField("purged", purged).Info("Audit retention purge complete")
	}); err != nil {
		boot.WithError(err).Fatal("Failed to schedule audit purge")
	}
	scheduler.Start()
	defer scheduler.Stop()

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(metrics),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(database, redisClient)
	healthRouter := mux.NewRouter()
	healthRouter.HandleFunc("/healthz", health.Liveness).Methods(http.MethodGet)
	healthRouter.HandleFunc("/readyz", health.Readiness).Methods(http.MethodGet)
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthRouter,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("Starting API server")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Starting health server")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		logger.Info("Shutting down")
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("API server shutdown failed")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Health server shutdown failed")
		}
		if otelProviders != nil {
			if err := observability.ShutdownOTel(shutdownCtx, otelProviders, logger); err != nil {
				logger.WithError(err).Error("OpenTelemetry shutdown failed")
			}
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		boot.WithError(err).Fatal("Server error")
	}
	logger.Info("Shutdown complete")
}
