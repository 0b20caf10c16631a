package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ems-dashboard/backend/internal/config"
	"github.com/ems-dashboard/backend/internal/db"
	"github.com/ems-dashboard/backend/internal/metrics"
	"github.com/ems-dashboard/backend/internal/repositories"
	"github.com/ems-dashboard/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4, MinConns: 1}, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// Repos
	locationRepo := repositories.NewLocationRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	auditSpill := repositories.NewAuditSpill(rdb)

	// Services
	sweeper := services.NewRetentionSweeper(locationRepo, cfg.RetentionWindow, cfg.RetentionBatchSize, m, log)
	auditLogger := services.NewAuditLogger(auditRepo, auditSpill, cfg.AuditRetryMaxElapsed, m, log)

	if cfg.MetricsEnabled {
		go serveMetrics(cfg, reg, log)
	}

	log.Info("worker started",
		zap.Duration("retention_window", cfg.RetentionWindow),
		zap.Duration("sweep_interval", cfg.RetentionSweepInterval),
	)

	// Sweep once at startup so a long-stopped worker catches up immediately
	runRetentionSweep(ctx, sweeper, log)

	// Run jobs on tickers
	sweepTicker := time.NewTicker(cfg.RetentionSweepInterval)
	redriveTicker := time.NewTicker(cfg.AuditRedriveInterval)
	defer sweepTicker.Stop()
	defer redriveTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sweepTicker.C:
			runRetentionSweep(ctx, sweeper, log)
		case <-redriveTicker.C:
			runAuditRedrive(ctx, auditLogger, auditSpill, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runRetentionSweep(ctx context.Context, sweeper *services.RetentionSweeper, log *zap.Logger) {
	if _, err := sweeper.Sweep(ctx); err != nil {
		log.Error("retention sweep failed", zap.Error(err))
	}
}

func runAuditRedrive(ctx context.Context, auditLogger *services.AuditLogger, spill *repositories.AuditSpill, log *zap.Logger) {
	pending, err := spill.Len(ctx)
	if err != nil {
		log.Error("failed to read audit spill length", zap.Error(err))
		return
	}
	if pending == 0 {
		return
	}

	n, err := auditLogger.Redrive(ctx)
	if err != nil {
		log.Error("audit redrive failed", zap.Int("redriven", n), zap.Int64("pending", pending), zap.Error(err))
		return
	}
	log.Info("redrove spilled audit entries", zap.Int("redriven", n))
}

func serveMetrics(cfg *config.Config, reg *prometheus.Registry, log *zap.Logger) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	addr := fmt.Sprintf(":%s", cfg.WorkerPort)
	if err := app.Listen(addr); err != nil {
		log.Error("metrics server stopped", zap.Error(err))
	}
}
