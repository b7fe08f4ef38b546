// Package routes defines the API routing configuration.
// It sets up all HTTP routes and their corresponding handlers,
// including middleware and authentication requirements.
package routes

import (
	"net/http"

	"escrow/internal/handlers"
	"escrow/internal/middleware"
	"escrow/internal/models"
	"escrow/internal/services/escrow"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dependencies are the wired components the routes hand requests to.
// Cache, Sweeper and Metrics are optional.
type Dependencies struct {
	DB        *gorm.DB
	Escrows   middleware.EscrowReader
	Service   escrow.Service
	Sweeper   handlers.SweepRunner
	Cache     handlers.CacheHealth
	Metrics   http.Handler
	JWTSecret string
	Log       *zap.SugaredLogger
}

// SetupRoutes configures all application routes.
// It groups routes by functionality and applies appropriate middleware.
func SetupRoutes(app *fiber.App, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Cache)
	escrowHandler := handlers.NewEscrowHandler(deps.Service, deps.Log)
	disputeHandler := handlers.NewDisputeHandler(deps.Service, deps.Log)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Escrow API",
			"version": handlers.Version,
			"docs":    "/api",
		})
	})
	app.Get("/health", healthHandler.HealthCheck)
	app.Get("/health/cache", healthHandler.CacheStats)
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	authMiddleware := middleware.NewAuthMiddleware(deps.JWTSecret, deps.Log)
	api := app.Group("/api", authMiddleware.Handler)

	setupEscrowRoutes(api, deps.Escrows, escrowHandler, disputeHandler)

	if deps.Sweeper != nil {
		adminHandler := handlers.NewAdminHandler(deps.Sweeper, deps.Log)
		admin := api.Group("/admin", middleware.RequireRole(models.PlatformRoleAdmin))
		admin.Post("/sweep", adminHandler.RunSweep)
	}
}

func setupEscrowRoutes(router fiber.Router, reader middleware.EscrowReader, h *handlers.EscrowHandler, d *handlers.DisputeHandler) {
	state := func(role models.Role, allowed ...models.EscrowStatus) fiber.Handler {
		if reader == nil {
			return func(c *fiber.Ctx) error { return c.Next() }
		}
		return middleware.EnsureEscrowState(reader, role, allowed...)
	}

	escrows := router.Group("/escrows")
	escrows.Post("/", h.CreateEscrow)
	escrows.Get("/", h.ListEscrows)
	escrows.Get("/:id", h.GetEscrow)
	escrows.Get("/:id/history", h.GetHistory)

	// Lifecycle
	escrows.Post("/:id/fund", state(models.RoleBuyer, models.StatusCreated), h.Fund)
	escrows.Post("/:id/ship", state(models.RoleSeller, models.StatusFunded), h.Ship)
	escrows.Post("/:id/deliver", state(models.RoleSeller, models.StatusShipping), h.Deliver)
	escrows.Post("/:id/release", state(models.RoleBuyer, models.StatusDelivered), h.Release)

	// Disputes. Evidence and resolution are left to the engine so that a
	// closed dispute is reported as already resolved.
	escrows.Post("/:id/dispute", state(models.RoleBuyer, models.StatusDelivered), d.RaiseDispute)
	escrows.Post("/:id/dispute/evidence", d.SubmitEvidence)
	escrows.Post("/:id/dispute/resolve", middleware.RequireArbiter, d.ResolveDispute)
}
