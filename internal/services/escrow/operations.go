package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "escrow/internal/errors"
	"escrow/internal/models"
	"escrow/internal/repositories"
	"escrow/internal/services/dispute"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CreateEscrow opens a new escrow in created with its buyer and seller.
// No status log is written; logs record transitions only.
func (s *service) CreateEscrow(ctx context.Context, params CreateParams) (res *Result, err error) {
	ctx, span := s.tracer.Start(ctx, "escrow."+OpCreate, trace.WithAttributes(
		attribute.Int64("escrow.amount", params.Amount),
	))
	start := time.Now()
	defer func() {
		var id uint
		if res != nil {
			id = res.Escrow.ID
		}
		s.finish(span, OpCreate, id, start, err)
	}()

	if err := s.validateCreate(&params); err != nil {
		return nil, err
	}

	now := s.now()
	e := &models.Escrow{
		Reference:               uuid.NewString(),
		Title:                   strings.TrimSpace(params.Title),
		Description:             strings.TrimSpace(params.Description),
		Amount:                  params.Amount,
		Status:                  models.StatusCreated,
		ConfirmationWindowHours: params.ConfirmationWindowHours,
		CreatedBy:               params.CreatedBy,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	participants := []models.Participant{
		{UserID: params.BuyerID, Role: models.RoleBuyer, CreatedAt: now},
		{UserID: params.SellerID, Role: models.RoleSeller, CreatedAt: now},
	}

	err = s.repo.ExecuteInTransaction(ctx, func(tx repositories.EscrowRepository) error {
		return tx.Create(ctx, e, participants)
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("escrow created",
		"escrow_id", e.ID,
		"reference", e.Reference,
		"amount", e.Amount,
		"buyer_id", params.BuyerID,
		"seller_id", params.SellerID,
	)
	return &Result{Escrow: e}, nil
}

func (s *service) validateCreate(params *CreateParams) error {
	if strings.TrimSpace(params.Title) == "" {
		return apperrors.ErrInvalidRequest.With("title is required")
	}
	if params.Amount <= 0 {
		return apperrors.ErrInvalidAmount
	}
	if params.BuyerID == 0 || params.SellerID == 0 || params.BuyerID == params.SellerID {
		return apperrors.ErrInvalidParticipants
	}
	if params.ConfirmationWindowHours < 0 {
		return apperrors.ErrInvalidRequest.With("confirmation window must be positive")
	}
	if params.ConfirmationWindowHours == 0 {
		params.ConfirmationWindowHours = s.config.DefaultConfirmationWindowHours
	}
	if params.CreatedBy == 0 {
		params.CreatedBy = params.BuyerID
	}
	return nil
}

// Fund records the buyer's deposit: created -> funded.
func (s *service) Fund(ctx context.Context, escrowID uint, actor Actor) (*Result, error) {
	return s.transition(ctx, escrowID, actor, command{
		op:      OpFund,
		role:    models.RoleBuyer,
		to:      models.StatusFunded,
		txnType: models.TransactionTypeFunding,
	})
}

// Ship marks the goods as sent: funded -> shipping.
func (s *service) Ship(ctx context.Context, escrowID uint, actor Actor) (*Result, error) {
	return s.transition(ctx, escrowID, actor, command{
		op:   OpShip,
		role: models.RoleSeller,
		to:   models.StatusShipping,
	})
}

// Deliver marks the goods as delivered and starts the buyer's
// confirmation window: shipping -> delivered.
func (s *service) Deliver(ctx context.Context, escrowID uint, actor Actor) (*Result, error) {
	return s.transition(ctx, escrowID, actor, command{
		op:   OpDeliver,
		role: models.RoleSeller,
		to:   models.StatusDelivered,
	})
}

// Release pays the seller on the buyer's confirmation: delivered -> released.
func (s *service) Release(ctx context.Context, escrowID uint, actor Actor) (*Result, error) {
	return s.transition(ctx, escrowID, actor, command{
		op:      OpRelease,
		role:    models.RoleBuyer,
		to:      models.StatusReleased,
		reason:  ReasonBuyerConfirmed,
		txnType: models.TransactionTypeRelease,
	})
}

// AutoRelease pays the seller once the confirmation deadline is strictly
// before now.
func (s *service) AutoRelease(ctx context.Context, escrowID uint, now time.Time) (*Result, error) {
	return s.transition(ctx, escrowID, System(), command{
		op:      OpAutoRelease,
		role:    models.RoleSystem,
		to:      models.StatusReleased,
		reason:  ReasonAutoRelease,
		txnType: models.TransactionTypeRelease,
		guard: func(_ context.Context, _ repositories.EscrowRepository, e *models.Escrow, _ time.Time) error {
			if e.ConfirmDeadline == nil || !e.ConfirmDeadline.Before(now) {
				return apperrors.ErrDeadlineNotPassed
			}
			return nil
		},
	})
}

// RaiseDispute opens a dispute on a delivered escrow: delivered -> disputed.
func (s *service) RaiseDispute(ctx context.Context, escrowID uint, actor Actor, reason string) (*Result, error) {
	reason = strings.TrimSpace(reason)
	return s.transition(ctx, escrowID, actor, command{
		op:     OpRaiseDispute,
		role:   models.RoleBuyer,
		to:     models.StatusDisputed,
		reason: reason,
		guard: func(context.Context, repositories.EscrowRepository, *models.Escrow, time.Time) error {
			return dispute.ValidateReason(reason, s.config.DisputeReasonMinLength)
		},
		apply: func(ctx context.Context, tx repositories.EscrowRepository, e *models.Escrow, now time.Time, res *Result) error {
			d := dispute.Open(e.ID, actor.UserID, reason, now)
			if err := tx.CreateDispute(ctx, d); err != nil {
				return mapRepoError(err)
			}
			res.Dispute = d
			return nil
		},
	})
}

// ResolveDispute applies the arbiter's decision: disputed -> released or
// refunded, closing the dispute in the same transaction.
func (s *service) ResolveDispute(ctx context.Context, escrowID uint, actor Actor, outcome dispute.Outcome) (*Result, error) {
	parsed, err := dispute.ParseOutcome(string(outcome))
	if err != nil {
		_, span := s.tracer.Start(ctx, "escrow."+OpResolveDispute, trace.WithAttributes(
			attribute.Int64("escrow.id", int64(escrowID)),
			attribute.String("escrow.actor_role", string(actor.Role)),
		))
		s.finish(span, OpResolveDispute, escrowID, time.Now(), err)
		return nil, err
	}

	var open *models.Dispute
	return s.transition(ctx, escrowID, actor, command{
		op:      OpResolveDispute,
		role:    models.RoleArbiter,
		to:      parsed.TargetStatus(),
		reason:  fmt.Sprintf(reasonResolvedFormat, parsed),
		txnType: parsed.TransactionType(),
		check: func(ctx context.Context, tx repositories.EscrowRepository, e *models.Escrow) error {
			d, err := tx.GetDisputeByEscrowIDForUpdate(ctx, e.ID)
			if err != nil {
				if errors.Is(err, repositories.ErrDisputeNotFound) && e.Status != models.StatusDisputed {
					// no dispute was ever raised; the policy lookup rejects
					return nil
				}
				return mapRepoError(err)
			}
			if !d.IsOpen() {
				return apperrors.ErrDisputeNotOpen
			}
			open = d
			return nil
		},
		apply: func(ctx context.Context, tx repositories.EscrowRepository, _ *models.Escrow, now time.Time, res *Result) error {
			if open == nil {
				return apperrors.ErrDisputeNotFound
			}
			if err := dispute.Resolve(open, actor.UserID, parsed, now); err != nil {
				return err
			}
			if err := tx.ResolveDispute(ctx, open); err != nil {
				return mapRepoError(err)
			}
			res.Dispute = open
			return nil
		},
	})
}

// SubmitEvidence attaches an artifact reference to the open dispute of a
// disputed escrow. Only the buyer may upload.
func (s *service) SubmitEvidence(ctx context.Context, escrowID uint, actor Actor, in EvidenceInput) (res *Result, err error) {
	ctx, span := s.tracer.Start(ctx, "escrow."+OpSubmitEvidence, trace.WithAttributes(
		attribute.Int64("escrow.id", int64(escrowID)),
		attribute.String("escrow.actor_role", string(actor.Role)),
	))
	start := time.Now()
	defer func() { s.finish(span, OpSubmitEvidence, escrowID, start, err) }()

	err = s.repo.ExecuteInTransaction(ctx, func(tx repositories.EscrowRepository) error {
		e, err := tx.GetByIDForUpdate(ctx, escrowID)
		if err != nil {
			return mapRepoError(err)
		}
		if err := s.authorize(ctx, tx, e.ID, actor, models.RoleBuyer); err != nil {
			return err
		}

		d, err := tx.GetDisputeByEscrowIDForUpdate(ctx, e.ID)
		if err != nil {
			if errors.Is(err, repositories.ErrDisputeNotFound) && e.Status != models.StatusDisputed {
				return apperrors.ErrTransitionNotAllowed.With(fmt.Sprintf("escrow is %s, not disputed", e.Status))
			}
			return mapRepoError(err)
		}
		// A resolved dispute wins over whatever status the escrow shows.
		if err := dispute.CanAttachEvidence(d); err != nil {
			return err
		}
		if e.Status != models.StatusDisputed {
			return apperrors.ErrTransitionNotAllowed.With(fmt.Sprintf("escrow is %s, not disputed", e.Status))
		}
		if err := dispute.ValidateEvidence(in); err != nil {
			return err
		}

		ev := dispute.NewEvidence(d, actor.UserID, in)
		ev.CreatedAt = s.now()
		if err := tx.AddEvidence(ctx, ev); err != nil {
			return err
		}
		res = &Result{Escrow: e, Dispute: d, Evidence: ev}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, escrowID)
	s.log.Infow("dispute evidence added",
		"escrow_id", escrowID,
		"dispute_id", res.Dispute.ID,
		"evidence_id", res.Evidence.ID,
		"content_type", res.Evidence.ContentType,
	)
	return res, nil
}
