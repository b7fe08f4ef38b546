package handlers

import (
	"context"
	"errors"
	"strconv"

	"escrow/internal/models"
	"escrow/internal/services/escrow"
	"escrow/internal/utils"
	"escrow/internal/utils/pagination"
	"escrow/internal/utils/response"
	"escrow/internal/utils/validation"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	escrowService escrow.Service
	validate      *validation.Validator
	log           *zap.SugaredLogger
}

func NewEscrowHandler(escrowService escrow.Service, log *zap.SugaredLogger) *EscrowHandler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &EscrowHandler{
		escrowService: escrowService,
		validate:      validation.New(),
		log:           log,
	}
}

type createEscrowRequest struct {
	Title                   string `json:"title" validate:"required,max=200"`
	Description             string `json:"description" validate:"max=2000"`
	Amount                  int64  `json:"amount" validate:"gt=0"`
	BuyerID                 uint   `json:"buyer_id" validate:"required"`
	SellerID                uint   `json:"seller_id" validate:"required,nefield=BuyerID"`
	ConfirmationWindowHours int    `json:"confirmation_window_hours" validate:"gte=0,lte=8760"`
}

// CreateEscrow opens an escrow. The caller becomes its creator and has to
// be the buyer or the seller.
func (h *EscrowHandler) CreateEscrow(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var req createEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}
	if claims.UserID != req.BuyerID && claims.UserID != req.SellerID {
		return response.Error(c, fiber.StatusForbidden, "creator must be the buyer or the seller")
	}

	res, err := h.escrowService.CreateEscrow(c.UserContext(), escrow.CreateParams{
		Title:                   req.Title,
		Description:             req.Description,
		Amount:                  req.Amount,
		BuyerID:                 req.BuyerID,
		SellerID:                req.SellerID,
		ConfirmationWindowHours: req.ConfirmationWindowHours,
		CreatedBy:               claims.UserID,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return response.Created(c, "Escrow created successfully", res.Escrow)
}

func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	id, err := escrowID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid escrow ID")
	}
	detail, err := h.escrowService.GetDetail(c.UserContext(), id, viewer(claims))
	if err != nil {
		return h.fail(c, err)
	}
	return response.Success(c, "Escrow retrieved successfully", detail)
}

func (h *EscrowHandler) GetHistory(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	id, err := escrowID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid escrow ID")
	}
	history, err := h.escrowService.History(c.UserContext(), id, viewer(claims))
	if err != nil {
		return h.fail(c, err)
	}
	return response.Success(c, "Escrow history retrieved successfully", history)
}

func (h *EscrowHandler) ListEscrows(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	p := pagination.ParseFromRequest(c)
	escrows, err := h.escrowService.List(c.UserContext(), viewer(claims), p.Limit, p.Offset)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(pagination.Response(p, escrows, len(escrows)))
}

func (h *EscrowHandler) Fund(c *fiber.Ctx) error {
	return h.act(c, models.RoleBuyer, "Escrow funded", h.escrowService.Fund)
}

func (h *EscrowHandler) Ship(c *fiber.Ctx) error {
	return h.act(c, models.RoleSeller, "Escrow marked as shipping", h.escrowService.Ship)
}

func (h *EscrowHandler) Deliver(c *fiber.Ctx) error {
	return h.act(c, models.RoleSeller, "Escrow marked as delivered", h.escrowService.Deliver)
}

func (h *EscrowHandler) Release(c *fiber.Ctx) error {
	return h.act(c, models.RoleBuyer, "Escrow released to seller", h.escrowService.Release)
}

type commandFunc func(ctx context.Context, escrowID uint, actor escrow.Actor) (*escrow.Result, error)

// act runs a body-less command as the given escrow role.
func (h *EscrowHandler) act(c *fiber.Ctx, role models.Role, message string, run commandFunc) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	id, err := escrowID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid escrow ID")
	}
	res, err := run(c.UserContext(), id, escrow.Actor{UserID: claims.UserID, Role: role})
	if err != nil {
		return h.fail(c, err)
	}
	return response.Success(c, message, res)
}

// escrowID parses the :id route param.
func escrowID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, errors.New("escrow id must be positive")
	}
	return uint(id), nil
}

func (h *EscrowHandler) fail(c *fiber.Ctx, err error) error {
	return writeError(c, h.log, err)
}

// viewer is the actor used for reads: arbiters see every escrow, anyone
// else is matched against participant rows.
func viewer(claims *models.UserClaims) escrow.Actor {
	if claims.IsArbiter() {
		return escrow.Actor{UserID: claims.UserID, Role: models.RoleArbiter}
	}
	return escrow.Actor{UserID: claims.UserID}
}
