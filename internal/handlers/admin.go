package handlers

import (
	"context"
	"errors"
	"time"

	"escrow/internal/services/sweep"
	"escrow/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// SweepRunner runs one deadline sweep.
type SweepRunner interface {
	Run(ctx context.Context, now time.Time) (sweep.Report, error)
}

type AdminHandler struct {
	sweeper SweepRunner
	clock   func() time.Time
	log     *zap.SugaredLogger
}

func NewAdminHandler(sweeper SweepRunner, log *zap.SugaredLogger) *AdminHandler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &AdminHandler{sweeper: sweeper, clock: time.Now, log: log}
}

type runSweepRequest struct {
	// Now overrides the sweep time; it may not be in the future.
	Now *time.Time `json:"now"`
}

// RunSweep triggers the auto-release sweep immediately (Admin only).
func (h *AdminHandler) RunSweep(c *fiber.Ctx) error {
	now := h.clock()

	var req runSweepRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.BadRequest(c, "Invalid request format")
		}
	}
	if req.Now != nil {
		if req.Now.After(now) {
			return response.BadRequest(c, "now may not be in the future")
		}
		now = *req.Now
	}

	report, err := h.sweeper.Run(c.UserContext(), now)
	if errors.Is(err, sweep.ErrSweepInProgress) {
		return response.Error(c, fiber.StatusConflict, err.Error())
	}
	if err != nil {
		h.log.Errorw("manual sweep failed", "error", err)
		return response.ServerError(c, "sweep failed")
	}
	return response.Success(c, "Sweep completed", report)
}
