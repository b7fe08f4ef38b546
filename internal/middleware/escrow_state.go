package middleware

import (
	"context"
	"errors"
	"strings"

	apperrors "escrow/internal/errors"
	"escrow/internal/models"
	"escrow/internal/repositories"
	"escrow/internal/utils"
	"escrow/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

// EscrowReader loads an escrow and its participants outside any transaction.
type EscrowReader interface {
	GetByID(ctx context.Context, id uint) (*models.Escrow, error)
	HasParticipant(ctx context.Context, escrowID, userID uint, role models.Role) (bool, error)
}

// EnsureEscrowState rejects a request early when the caller is not the
// escrow's participant in role, or when the escrow named by the :id param is
// not in one of the allowed statuses. Membership is checked before status,
// and the status itself is never echoed. The engine re-checks both under
// lock.
func EnsureEscrowState(reader EscrowReader, role models.Role, allowed ...models.EscrowStatus) fiber.Handler {
	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = string(s)
	}
	expected := "escrow must be " + strings.Join(names, " or ")

	return func(c *fiber.Ctx) error {
		id, err := c.ParamsInt("id")
		if err != nil || id <= 0 {
			return response.BadRequest(c, "Invalid escrow ID")
		}
		claims, err := utils.GetUserClaims(c)
		if err != nil {
			return response.Unauthorized(c)
		}

		ctx := c.UserContext()
		e, err := reader.GetByID(ctx, uint(id))
		if errors.Is(err, repositories.ErrEscrowNotFound) {
			return response.DomainError(c, apperrors.ErrEscrowNotFound)
		}
		if err != nil {
			return response.ServerError(c, "internal server error")
		}

		ok, err := reader.HasParticipant(ctx, e.ID, claims.UserID, role)
		if err != nil {
			return response.ServerError(c, "internal server error")
		}
		if !ok {
			return response.DomainError(c, apperrors.ErrNotParticipant)
		}

		for _, s := range allowed {
			if e.Status == s {
				return c.Next()
			}
		}
		return response.DomainError(c, apperrors.ErrTransitionNotAllowed.With(expected))
	}
}
