package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// CacheHealth is the part of the cache service the health endpoints use.
type CacheHealth interface {
	HealthCheck(ctx context.Context) error
	GetStats() *redis.PoolStats
}

type HealthHandler struct {
	db    *gorm.DB
	cache CacheHealth
}

// NewHealthHandler creates the health handler. cache may be nil when redis
// is disabled.
func NewHealthHandler(db *gorm.DB, cache CacheHealth) *HealthHandler {
	return &HealthHandler{db: db, cache: cache}
}

func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	services := fiber.Map{"database": "connected", "redis": "disabled"}

	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		services["database"] = "unavailable"
		status = fiber.StatusServiceUnavailable
	}
	if h.cache != nil {
		if err := h.cache.HealthCheck(ctx); err != nil {
			services["redis"] = "unavailable"
			status = fiber.StatusServiceUnavailable
		} else {
			services["redis"] = "connected"
		}
	}

	overall := "ok"
	if status != fiber.StatusOK {
		overall = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{
		"status":   overall,
		"version":  Version,
		"services": services,
	})
}

func (h *HealthHandler) CacheStats(c *fiber.Ctx) error {
	if h.cache == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache disabled"})
	}
	poolStats := h.cache.GetStats()

	return c.JSON(fiber.Map{
		"pool_stats": fiber.Map{
			"hits":        poolStats.Hits,
			"misses":      poolStats.Misses,
			"timeouts":    poolStats.Timeouts,
			"total_conns": poolStats.TotalConns,
			"idle_conns":  poolStats.IdleConns,
			"stale_conns": poolStats.StaleConns,
		},
	})
}
