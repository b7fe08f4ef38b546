// Package main is the entry point for the escrow API server.
// It initializes all dependencies, sets up the HTTP server, runs the
// auto-release sweep on a ticker and shuts down gracefully on a signal.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrow/internal/config"
	"escrow/internal/handlers"
	"escrow/internal/logging"
	"escrow/internal/metrics"
	"escrow/internal/repositories"
	"escrow/internal/repositories/cache"
	"escrow/internal/routes"
	"escrow/internal/services/escrow"
	"escrow/internal/services/sweep"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

// main initializes and starts the HTTP server.
// It performs the following setup:
// - Loads configuration
// - Initializes database and optional Redis connections
// - Wires the escrow engine, sweeper and metrics
// - Configures routes
// - Starts the HTTP server and the sweep ticker
func main() {
	config.LoadEnv()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logr, err := logging.New(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logr.Sync() }()

	if cfg.JWTSecret == "" {
		logr.Fatal("JWT_SECRET must be set")
	}

	db, err := repositories.InitDB(cfg.Database, logging.Named(logr, "gorm"))
	if err != nil {
		logr.Fatalw("failed to initialize database", "error", err)
	}
	defer func() {
		if err := repositories.Close(db); err != nil {
			logr.Warnw("failed to close database connection", "error", err)
		}
	}()
	logr.Info("connected to database")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis is optional; leave the interfaces nil when it is off.
	var (
		detailCache escrow.Cache
		cacheHealth handlers.CacheHealth
		sweepLocker sweep.Locker
	)
	if cfg.Redis.Enabled {
		client, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			logr.Fatalw("failed to connect to redis", "addr", cfg.Redis.Addr(), "error", err)
		}
		cacheService := cache.NewCacheService(client, cfg.Escrow.DetailCacheTTL)
		defer func() {
			if err := cacheService.Close(); err != nil {
				logr.Warnw("failed to close redis connection", "error", err)
			}
		}()
		detailCache = cacheService
		cacheHealth = cacheService
		sweepLocker = cache.NewLocker(client, "lock:")
		logr.Infow("connected to redis", "addr", cfg.Redis.Addr())
	}

	collector := metrics.NewCollector()
	repo := repositories.NewEscrowRepository(db)
	escrowService := escrow.NewService(
		repo,
		detailCache,
		escrow.Config{
			DefaultConfirmationWindowHours: cfg.Escrow.ConfirmationWindowHours,
			DisputeReasonMinLength:         cfg.Escrow.DisputeReasonMinLength,
			DetailCacheTTL:                 cfg.Escrow.DetailCacheTTL,
		},
		collector,
		logging.Named(logr, "escrow"),
	)
	sweeper := sweep.NewSweeper(
		escrowService,
		sweep.Config{
			Concurrency: cfg.Sweep.Concurrency,
			BatchSize:   cfg.Sweep.BatchSize,
			LockTTL:     cfg.Sweep.LockTTL,
		},
		sweepLocker,
		collector,
		logging.Named(logr, "sweep"),
	)

	app := fiber.New(fiber.Config{
		AppName:      "escrow",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,HEAD",
		AllowCredentials: true,
	}))

	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Use("/api/escrows", limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests. Please try again later.",
			})
		},
	}))

	routes.SetupRoutes(app, routes.Dependencies{
		DB:        db,
		Escrows:   repo,
		Service:   escrowService,
		Sweeper:   sweeper,
		Cache:     cacheHealth,
		Metrics:   collector.Handler(),
		JWTSecret: cfg.JWTSecret,
		Log:       logging.Named(logr, "http"),
	})

	go runSweeps(ctx, sweeper, cfg.Sweep.Interval, logr)

	go func() {
		<-ctx.Done()
		logr.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logr.Warnw("server shutdown failed", "error", err)
		}
	}()

	logr.Infow("listening", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		logr.Errorw("server stopped", "error", err)
	}
}

// runSweeps triggers the auto-release sweep every interval until ctx ends.
func runSweeps(ctx context.Context, sweeper *sweep.Sweeper, interval time.Duration, logr *zap.SugaredLogger) {
	if interval <= 0 {
		logr.Info("auto-release sweep disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			_, err := sweeper.Run(ctx, now)
			switch {
			case err == nil, ctx.Err() != nil:
			case errors.Is(err, sweep.ErrSweepInProgress):
				logr.Debug("sweep held by another replica")
			default:
				logr.Errorw("auto-release sweep failed", "error", err)
			}
		}
	}
}
