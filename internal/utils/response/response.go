package response

import (
	apperrors "escrow/internal/errors"

	"github.com/gofiber/fiber/v2"
)

func Success(c *fiber.Ctx, message string, data interface{}) error {
	return c.JSON(fiber.Map{
		"message": message,
		"data":    data,
	})
}

func Created(c *fiber.Ctx, message string, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": message,
		"data":    data,
	})
}

func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

// DomainError writes a typed engine error with its kind and code.
// Anything that is not a domain error is reported as an internal error
// without leaking its message.
func DomainError(c *fiber.Ctx, err error) error {
	kind, ok := apperrors.KindOf(err)
	if !ok {
		return ServerError(c, "internal server error")
	}
	body := fiber.Map{
		"error": err.Error(),
		"kind":  kind,
	}
	if code := apperrors.CodeOf(err); code != "" {
		body["code"] = code
	}
	return c.Status(kind.HTTPStatus()).JSON(body)
}

func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, message)
}

func ServerError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, message)
}

func Unauthorized(c *fiber.Ctx) error {
	return Error(c, fiber.StatusUnauthorized, "Unauthorized")
}

func ValidationError(c *fiber.Ctx, message string, fields interface{}) error {
	return c.Status(apperrors.KindValidationFailed.HTTPStatus()).JSON(fiber.Map{
		"error":  message,
		"kind":   apperrors.KindValidationFailed,
		"fields": fields,
	})
}
