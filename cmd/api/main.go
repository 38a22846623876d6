package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-roadmap/internal/config"
	"github.com/noah-isme/gema-roadmap/internal/database"
	"github.com/noah-isme/gema-roadmap/internal/handler"
	"github.com/noah-isme/gema-roadmap/internal/middleware"
	"github.com/noah-isme/gema-roadmap/internal/repository"
	"github.com/noah-isme/gema-roadmap/internal/router"
	"github.com/noah-isme/gema-roadmap/internal/service"
	"github.com/noah-isme/gema-roadmap/pkg/careerapi"
)

const stateKeyPrefix = "roadmap:state:"

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.ValidateServer(); err != nil {
		logger.Fatal().Err(err).Msg("invalid server configuration")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
	}

	stateRepo, err := openStateRepository(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StateDriver).Msg("failed to open roadmap state store")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.AppName))
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, roadmap events go to redis only")
		} else {
			defer natsConn.Drain()
		}
	}

	client, err := careerapi.New(careerapi.Config{
		BaseURL: cfg.CareerAPIBaseURL,
		Timeout: cfg.CareerAPITimeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create career api client")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	sessions := service.NewRoadmapSessionService(
		service.ClientAPIFactory(client),
		service.RoadmapServiceDeps{
			Repository: stateRepo,
			Details:    service.NewCourseDetailService(cfg.CourseCacheTTL, logger),
			Events:     service.NewBrokerEventPublisher(redisClient, natsConn, cfg.NATSSubject, logger),
			Validator:  validate,
			Sanitizer:  bluemonday.StrictPolicy(),
			Logger:     logger,
		},
		service.RoadmapSessionConfig{
			TTL: cfg.SessionTTL,
			Service: service.RoadmapServiceConfig{
				Poller: service.PollerConfig{
					Interval:           cfg.PollInterval,
					Timeout:            cfg.PollTimeout,
					ResetBudgetOnRetry: cfg.ResetBudgetOnRetry,
				},
				RefreshDelay:      cfg.RefreshDelay,
				EvidenceMaxSizeMB: cfg.EvidenceMaxSizeMB,
			},
		},
	)
	defer sessions.Close()

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.EvidenceMaxSizeMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		RoadmapHandler: handler.NewRoadmapHandler(sessions, validate, logger),
		JWTMiddleware:  middleware.JWTProtected(cfg.JWTSecret),
		SessionCount:   sessions.Len,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, logger)
}

func openStateRepository(cfg config.Config, redisClient *redis.Client) (repository.RoadmapStateRepository, error) {
	switch cfg.StateDriver {
	case config.StateDriverPostgres:
		db, err := database.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.MigrateRoadmapState(db); err != nil {
			return nil, err
		}
		return repository.NewGormRoadmapStateRepository(db), nil
	case config.StateDriverSQLite:
		db, err := database.ConnectSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := database.MigrateRoadmapState(db); err != nil {
			return nil, err
		}
		return repository.NewGormRoadmapStateRepository(db), nil
	default:
		return repository.NewRedisRoadmapStateRepository(redisClient, stateKeyPrefix, cfg.StateTTL), nil
	}
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
