package http

import (
	"time"

	"github.com/ems-dashboard/backend/internal/config"
	"github.com/ems-dashboard/backend/internal/http/handlers"
	"github.com/ems-dashboard/backend/internal/metrics"
	"github.com/ems-dashboard/backend/internal/middleware"
	"github.com/ems-dashboard/backend/internal/rbac"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	userHandler *handlers.UserHandler,
	consentHandler *handlers.ConsentHandler,
	locationHandler *handlers.LocationHandler,
	auditHandler *handlers.AuditHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		ExposeHeaders: "Content-Disposition, Retry-After, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))
	app.Use(middleware.MetricsMiddleware(m))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if cfg.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api/v1")

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))
	protected.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))

	// User
	protected.Get("/me", userHandler.GetMe)

	// Consent (self-service)
	manageOwn := middleware.RequirePermission(rbac.PermManageOwnConsent)
	protected.Get("/location/consent", manageOwn, consentHandler.GetMyConsent)
	protected.Put("/location/consent", manageOwn, consentHandler.SetMyConsent)
	protected.Post("/location/consent", manageOwn, consentHandler.SetMyConsent)

	// Ingestion
	protected.Post("/location/record", middleware.RequirePermission(rbac.PermRecordLocation), locationHandler.Record)

	// Operator reads
	protected.Get("/location/consent/all", middleware.RequirePermission(rbac.PermViewConsentList), consentHandler.ListConsents)
	protected.Get("/location/current", middleware.RequirePermission(rbac.PermViewLocations), locationHandler.Current)
	protected.Get("/location/timeline/:subjectId", middleware.RequirePermission(rbac.PermViewLocations), locationHandler.Timeline)
	protected.Get("/location/timeline/:subjectId/export", middleware.RequirePermission(rbac.PermExportLocations), locationHandler.Export)

	// Audit (admin only)
	protected.Get("/location/audit", middleware.RequirePermission(rbac.PermViewAudit), auditHandler.List)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
