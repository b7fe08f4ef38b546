package escrow

import (
	"context"
	"errors"
	"time"

	apperrors "escrow/internal/errors"
	"escrow/internal/models"
	"escrow/internal/repositories"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// GetDetail returns the escrow with its participants, dispute, evidence and
// history. Only participants and arbiters may view it.
func (s *service) GetDetail(ctx context.Context, escrowID uint, actor Actor) (*Detail, error) {
	detail, err := s.loadDetail(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, detail, actor); err != nil {
		return nil, err
	}
	detail.NextStatuses = nextStatuses(detail, actor)
	return detail, nil
}

// History returns the status logs and financial records of an escrow.
func (s *service) History(ctx context.Context, escrowID uint, actor Actor) (*History, error) {
	detail, err := s.loadDetail(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, detail, actor); err != nil {
		return nil, err
	}
	return &detail.History, nil
}

// List returns the escrows the actor takes part in, newest first.
func (s *service) List(ctx context.Context, actor Actor, limit, offset int) ([]models.Escrow, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByParticipant(ctx, actor.UserID, limit, offset)
}

// DueForAutoRelease returns up to limit ids of delivered escrows whose
// deadline is before now, in id order after afterID.
func (s *service) DueForAutoRelease(ctx context.Context, now time.Time, afterID uint, limit int) ([]uint, error) {
	return s.repo.FindDueForAutoRelease(ctx, now, afterID, limit)
}

func (s *service) loadDetail(ctx context.Context, escrowID uint) (*Detail, error) {
	// The generation is read before the snapshot so a concurrent change
	// moves readers past whatever this call writes back.
	var key string
	if s.cache != nil {
		var gen int64
		if _, err := s.cache.Get(ctx, detailGenKey(escrowID), &gen); err != nil {
			s.log.Warnw("escrow cache generation read failed", "escrow_id", escrowID, "error", err)
		} else {
			key = detailKey(escrowID, gen)
		}
	}
	if key != "" {
		var cached Detail
		found, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.log.Warnw("escrow cache read failed", "key", key, "error", err)
		}
		if found {
			s.metrics.RecordCacheHit(key)
			return &cached, nil
		}
		s.metrics.RecordCacheMiss(key)
	}

	detail := &Detail{}
	err := s.repo.ExecuteInTransaction(ctx, func(tx repositories.EscrowRepository) error {
		e, err := tx.GetByID(ctx, escrowID)
		if err != nil {
			return mapRepoError(err)
		}
		detail.Escrow = *e

		if detail.Participants, err = tx.GetParticipants(ctx, escrowID); err != nil {
			return err
		}

		d, err := tx.GetDisputeByEscrowID(ctx, escrowID)
		switch {
		case errors.Is(err, repositories.ErrDisputeNotFound):
		case err != nil:
			return err
		default:
			detail.Dispute = d
			if detail.Evidence, err = tx.GetEvidence(ctx, d.ID); err != nil {
				return err
			}
		}

		if detail.History.StatusLogs, err = tx.GetStatusLogs(ctx, escrowID); err != nil {
			return err
		}
		if detail.History.Transactions, err = tx.GetTransactions(ctx, escrowID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if key != "" {
		if err := s.cache.SetWithTTL(ctx, key, detail, s.config.DetailCacheTTL); err != nil {
			s.log.Warnw("escrow cache write failed", "key", key, "error", err)
		}
	}
	return detail, nil
}

func (s *service) canView(ctx context.Context, detail *Detail, actor Actor) error {
	switch actor.Role {
	case models.RoleSystem:
		return nil
	case models.RoleArbiter:
		return s.verifyArbiter(ctx, actor)
	}
	for _, p := range detail.Participants {
		if p.UserID == actor.UserID {
			return nil
		}
	}
	return apperrors.ErrNotParticipant.With("caller is not a participant of this escrow")
}

// nextStatuses lists the transitions the actor could request now, across
// every role they hold on the escrow.
func nextStatuses(detail *Detail, actor Actor) []models.EscrowStatus {
	roles := make(map[models.Role]bool)
	if actor.Role == models.RoleArbiter || actor.Role == models.RoleSystem {
		roles[actor.Role] = true
	}
	for _, p := range detail.Participants {
		if p.UserID == actor.UserID && actor.UserID != 0 {
			roles[p.Role] = true
		}
	}

	next := []models.EscrowStatus{}
	for _, to := range models.EscrowStatuses {
		for _, role := range models.Roles {
			if roles[role] && CanTransitionByRole(detail.Escrow.Status, to, role) {
				next = append(next, to)
				break
			}
		}
	}
	return next
}
