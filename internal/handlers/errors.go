package handlers

import (
	"errors"

	apperrors "escrow/internal/errors"
	"escrow/internal/utils/response"
	"escrow/internal/utils/validation"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// writeError answers with the status of the error's kind. Storage and
// other unexpected failures are logged and answered with 500.
func writeError(c *fiber.Ctx, log *zap.SugaredLogger, err error) error {
	if _, ok := apperrors.KindOf(err); !ok {
		log.Errorw("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return response.DomainError(c, err)
}

func validationFailed(c *fiber.Ctx, err error) error {
	var fields validation.Errors
	if errors.As(err, &fields) {
		return response.ValidationError(c, "Validation failed", fields)
	}
	return response.ValidationError(c, err.Error(), nil)
}
