package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ems-dashboard/backend/internal/cache"
	"github.com/ems-dashboard/backend/internal/config"
	"github.com/ems-dashboard/backend/internal/db"
	"github.com/ems-dashboard/backend/internal/events"
	"github.com/ems-dashboard/backend/internal/geocode"
	apphttp "github.com/ems-dashboard/backend/internal/http"
	"github.com/ems-dashboard/backend/internal/http/dto"
	"github.com/ems-dashboard/backend/internal/http/handlers"
	"github.com/ems-dashboard/backend/internal/metrics"
	"github.com/ems-dashboard/backend/internal/repositories"
	"github.com/ems-dashboard/backend/internal/services"
	"github.com/ems-dashboard/backend/migrations"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.DefaultPoolOptions, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	consentRepo := repositories.NewConsentRepo(pool)
	locationRepo := repositories.NewLocationRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	auditSpill := repositories.NewAuditSpill(rdb)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)
	broadcaster := events.NewBroadcaster(m.RealtimeDropped)
	notifier := events.NewLocationNotifier(publisher, log)

	// Reverse geocoding; without a key the client-reported address is kept
	var resolver geocode.Resolver
	if cfg.GoogleMapsAPIKey != "" {
		g, err := geocode.NewGoogleResolver(cfg.GoogleMapsAPIKey, cfg.GeocodeTimeout)
		if err != nil {
			log.Fatal("failed to create geocoder", zap.Error(err))
		}
		resolver = g
	}

	// Services
	current := cache.NewCurrentLocations()
	consentService := services.NewConsentService(consentRepo, log)
	auditLogger := services.NewAuditLogger(auditRepo, auditSpill, cfg.AuditRetryMaxElapsed, m, log)
	ingestor := services.NewLocationIngestor(consentService, locationRepo, current, resolver, notifier, cfg, m, log)
	queryService := services.NewLocationQueryService(consentService, locationRepo, userRepo, current, auditLogger, cfg, log)

	// Handlers
	userHandler := handlers.NewUserHandler(userRepo, log)
	consentHandler := handlers.NewConsentHandler(consentService, queryService, log)
	locationHandler := handlers.NewLocationHandler(ingestor, queryService, userRepo, log)
	auditHandler := handlers.NewAuditHandler(auditLogger, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, current, broadcaster, consentService, auditLogger, log)

	// Start WS hub
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe to location events", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(dto.ErrorResponse{Error: err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, m, reg, userHandler, consentHandler, locationHandler, auditHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
