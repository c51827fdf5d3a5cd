package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"visitortracker/internal/config"
	"visitortracker/internal/handler"
	"visitortracker/internal/repository"
	"visitortracker/internal/service"
)

func main() {
	// Initialize logger
	logConfig := zap.NewProductionConfig()
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := logConfig.Build()
	defer logger.Sync()

	logger.Info("Starting up server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize PostgreSQL connection
	db, err := sqlx.Connect("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Initialize Redis connection
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to parse Redis URL", zap.Error(err))
	}

	redisClient := redis.NewClient(opt)
	defer redisClient.Close()

	// Initialize repositories
	postgresRepo := repository.NewPostgresRepository(db, logger)
	redisRepo := repository.NewRedisRepository(redisClient, cfg.GeoCacheTTL, cfg.PublicIPCacheTTL, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := postgresRepo.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	settings, err := postgresRepo.LoadOrCreateSiteSettings(ctx)
	if err != nil {
		logger.Fatal("Failed to load site settings", zap.Error(err))
	}

	logger.Info("Site settings loaded",
		zap.Bool("tracking_enabled", settings.TrackingEnabled),
		zap.Bool("public_ip_fallback", settings.PublicIPFallback))

	// Initialize services
	geoService := service.NewGeoService(cfg.GeoLookupURL, cfg.GeoTimeout, redisRepo, logger)
	resolver := service.NewPublicIPResolver(cfg.PublicIPURL, cfg.PublicIPTimeout, redisRepo, logger)
	visitorService := service.NewVisitorService(postgresRepo, geoService, logger)

	// Initialize HTTP server
	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(handler.RequestLogger(logger))

	h := handler.NewHandler(visitorService, resolver, settings, cfg.ExcludedPrefixes, logger)
	app.Use(h.TrackVisits)
	h.RegisterRoutes(app)

	app.Static("/static", cfg.StaticDir)
	app.Static("/", cfg.SiteDir)

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		if err := app.Listen(cfg.ServerPort); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-sigChan
	logger.Info("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}
}
