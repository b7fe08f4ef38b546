package handlers

import (
	"escrow/internal/models"
	"escrow/internal/services/dispute"
	"escrow/internal/services/escrow"
	"escrow/internal/utils"
	"escrow/internal/utils/response"
	"escrow/internal/utils/validation"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type DisputeHandler struct {
	escrowService escrow.Service
	validate      *validation.Validator
	log           *zap.SugaredLogger
}

func NewDisputeHandler(escrowService escrow.Service, log *zap.SugaredLogger) *DisputeHandler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &DisputeHandler{
		escrowService: escrowService,
		validate:      validation.New(),
		log:           log,
	}
}

// Length rules for the reason are enforced by the engine so the configured
// minimum applies to every caller.
type raiseDisputeRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type evidenceRequest struct {
	ArtifactRef string `json:"artifact_ref" validate:"required,max=512"`
	ContentType string `json:"content_type" validate:"max=127"`
	SizeBytes   int64  `json:"size_bytes" validate:"gt=0"`
	Description string `json:"description"`
}

type resolveDisputeRequest struct {
	Outcome string `json:"outcome" validate:"required"`
}

func (h *DisputeHandler) RaiseDispute(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	id, err := escrowID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid escrow ID")
	}

	var req raiseDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	actor := escrow.Actor{UserID: claims.UserID, Role: models.RoleBuyer}
	res, err := h.escrowService.RaiseDispute(c.UserContext(), id, actor, req.Reason)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return response.Created(c, "Dispute raised successfully", res)
}

func (h *DisputeHandler) SubmitEvidence(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	id, err := escrowID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid escrow ID")
	}

	var req evidenceRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	actor := escrow.Actor{UserID: claims.UserID, Role: models.RoleBuyer}
	res, err := h.escrowService.SubmitEvidence(c.UserContext(), id, actor, escrow.EvidenceInput{
		ArtifactRef: req.ArtifactRef,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		Description: req.Description,
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	return response.Created(c, "Evidence submitted successfully", res.Evidence)
}

// ResolveDispute is mounted behind RequireArbiter, so the caller's token
// already grants the arbiter role.
func (h *DisputeHandler) ResolveDispute(c *fiber.Ctx) error {
	claims, err := utils.GetUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}
	id, err := escrowID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid escrow ID")
	}

	var req resolveDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request format")
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	actor := escrow.Actor{UserID: claims.UserID, Role: models.RoleArbiter}
	res, err := h.escrowService.ResolveDispute(c.UserContext(), id, actor, dispute.Outcome(req.Outcome))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return response.Success(c, "Dispute resolved successfully", res)
}
