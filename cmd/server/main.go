package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	echoapi "github.com/tryliate/byoi/api/echo"
	"github.com/tryliate/byoi/cache"
	rediscache "github.com/tryliate/byoi/cache/redis"
	"github.com/tryliate/byoi/config"
	"github.com/tryliate/byoi/domain"
	"github.com/tryliate/byoi/internal/authflow"
	"github.com/tryliate/byoi/internal/pipeline"
	"github.com/tryliate/byoi/internal/platform"
	"github.com/tryliate/byoi/internal/provision"
	"github.com/tryliate/byoi/internal/schemasync"
	"github.com/tryliate/byoi/internal/vault"
	"github.com/tryliate/byoi/log"
	"github.com/tryliate/byoi/mongodb"
	"github.com/tryliate/byoi/postgres"
	"github.com/tryliate/byoi/tracing"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	appLogger := log.NewZerologAdapter(logLevel, cfg.LogPretty)
	ctx := context.Background()
	appLogger.Info(ctx, "Starting byoi-provisioner", map[string]interface{}{
		"http_addr": cfg.HTTPAddr,
		"log_level": logLevel.String(),
	})
	if parseErr != nil {
		appLogger.Warn(ctx, "Invalid BYOI_LOG_LEVEL, defaulting to info", map[string]interface{}{
			"configured": cfg.LogLevel,
		})
	}

	tp, err := tracing.InitTracerProvider("")
	if err != nil {
		appLogger.Error(ctx, "Failed to initialize TracerProvider", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(context.Background(), "TracerProvider shutdown failed", err)
		}
	}()

	// Master credential store.
	mongoClient, db, err := mongodb.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.DBName)
	if err != nil {
		appLogger.Error(ctx, "Failed to connect to MongoDB", err)
		os.Exit(1)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			appLogger.Error(context.Background(), "MongoDB disconnect failed", err)
		}
	}()
	identities, err := mongodb.NewIdentityRepository(ctx, db)
	if err != nil {
		appLogger.Error(ctx, "Failed to initialize identity repository", err)
		os.Exit(1)
	}

	// The secondary authorization registry is optional: without it the
	// vault synchronizer only writes the master store.
	var (
		registry domain.RegistryRepository
		markers  domain.SagaMarkerRepository
	)
	if cfg.Postgres.DSN != "" {
		pgdb, err := postgres.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			appLogger.Error(ctx, "Failed to connect to Postgres registry", err)
			os.Exit(1)
		}
		defer pgdb.Close()
		registry = postgres.NewRegistryRepository(pgdb)
		markers = postgres.NewSagaMarkerRepository(pgdb)
		appLogger.Info(ctx, "Authorization registry enabled")
	} else {
		appLogger.Info(ctx, "No Postgres DSN configured, authorization registry disabled")
	}

	// Handoff sessions live in Redis when available, falling back to an
	// in-process store that does not survive restarts.
	var handoffs cache.HandoffStore
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			appLogger.Error(ctx, "Failed to connect to Redis", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		handoffs = rediscache.NewHandoffStore(redisClient, cfg.Redis.Prefix)
	} else {
		memStore := cache.NewMemoryHandoffStore(cfg.Pipeline.HandoffTTL)
		defer memStore.Close()
		handoffs = memStore
		appLogger.Info(ctx, "No Redis configured, using in-memory handoff store")
	}

	guard := authflow.NewFlowGuard(cfg.Pipeline.StateTTL)
	defer guard.Close()
	coordinator := authflow.NewCoordinator(cfg, guard)

	platformClient := platform.NewClient(cfg.Platform.APIBaseURL, cfg.Platform.RequestTimeout)
	provisioner := provision.NewProvisioner(platformClient, cfg.Platform)
	poller := provision.NewPoller(platformClient, cfg.Pipeline.PollInterval, cfg.Pipeline.PollAttempts, provision.RealClock{})
	synchronizer := schemasync.NewSynchronizer(cfg.Pipeline, provision.RealClock{})
	vaultSync := vault.NewSynchronizer(identities, registry, markers, "supabase")
	flow := pipeline.New(cfg, platformClient, provisioner, poller, synchronizer, vaultSync, identities)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	api := echoapi.NewInfraAPI(cfg, coordinator, flow, identities, registry, handoffs)
	api.RegisterRoutes(e)

	go func() {
		appLogger.Info(ctx, "HTTP server listening", map[string]interface{}{"addr": cfg.HTTPAddr})
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(ctx, "HTTP server failed", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	appLogger.Info(ctx, "Shutdown signal received", map[string]interface{}{"signal": sig.String()})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(ctx, "HTTP server shutdown failed", err)
	}
	appLogger.Info(ctx, "Server stopped.")
}
