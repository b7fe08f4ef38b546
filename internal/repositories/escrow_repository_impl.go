package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type escrowRepository struct {
	db *gorm.DB
}

func NewEscrowRepository(db *gorm.DB) EscrowRepository {
	return &escrowRepository{
		db: db,
	}
}

func (r *escrowRepository) Create(ctx context.Context, escrow *models.Escrow, participants []models.Participant) error {
	if err := r.db.WithContext(ctx).Create(escrow).Error; err != nil {
		return fmt.Errorf("failed to create escrow: %w", err)
	}
	if len(participants) == 0 {
		return nil
	}
	for i := range participants {
		participants[i].EscrowID = escrow.ID
	}
	if err := r.db.WithContext(ctx).Create(&participants).Error; err != nil {
		return fmt.Errorf("failed to create participants: %w", err)
	}
	return nil
}

func (r *escrowRepository) GetByID(ctx context.Context, id uint) (*models.Escrow, error) {
	return r.getEscrow(r.db.WithContext(ctx), id)
}

// GetByIDForUpdate reads the escrow under a row lock where the dialect
// supports one. SQLite ignores the clause; there the single-connection pool
// serializes transactions instead.
func (r *escrowRepository) GetByIDForUpdate(ctx context.Context, id uint) (*models.Escrow, error) {
	return r.getEscrow(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *escrowRepository) getEscrow(db *gorm.DB, id uint) (*models.Escrow, error) {
	var escrow models.Escrow
	if err := db.First(&escrow, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEscrowNotFound
		}
		return nil, fmt.Errorf("failed to get escrow: %w", err)
	}
	return &escrow, nil
}

// UpdateStatus writes the escrow's status and delivery fields only if the
// stored status still equals from.
func (r *escrowRepository) UpdateStatus(ctx context.Context, escrow *models.Escrow, from models.EscrowStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.Escrow{}).
		Where("id = ? AND status = ?", escrow.ID, from).
		Updates(map[string]interface{}{
			"status":           escrow.Status,
			"delivered_at":     escrow.DeliveredAt,
			"confirm_deadline": escrow.ConfirmDeadline,
			"updated_at":       escrow.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update escrow status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *escrowRepository) ListByParticipant(ctx context.Context, userID uint, limit, offset int) ([]models.Escrow, error) {
	var escrows []models.Escrow
	query := r.db.WithContext(ctx).
		Model(&models.Escrow{}).
		Joins("JOIN escrow_participants ON escrow_participants.escrow_id = escrows.id").
		Where("escrow_participants.user_id = ?", userID).
		Order("escrows.id DESC")
	if limit > 0 {
		query = query.Limit(limit).Offset(offset)
	}
	if err := query.Find(&escrows).Error; err != nil {
		return nil, fmt.Errorf("failed to list escrows: %w", err)
	}
	return escrows, nil
}

// FindDueForAutoRelease returns ids of delivered escrows whose confirmation
// deadline is strictly before now, in id order after afterID.
func (r *escrowRepository) FindDueForAutoRelease(ctx context.Context, now time.Time, afterID uint, limit int) ([]uint, error) {
	var ids []uint
	query := r.db.WithContext(ctx).
		Model(&models.Escrow{}).
		Where("status = ? AND confirm_deadline IS NOT NULL AND confirm_deadline < ? AND id > ?",
			models.StatusDelivered, now.UTC(), afterID).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to find escrows due for auto release: %w", err)
	}
	return ids, nil
}

func (r *escrowRepository) GetParticipants(ctx context.Context, escrowID uint) ([]models.Participant, error) {
	var participants []models.Participant
	err := r.db.WithContext(ctx).
		Where("escrow_id = ?", escrowID).
		Order("id ASC").
		Find(&participants).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	return participants, nil
}

func (r *escrowRepository) HasParticipant(ctx context.Context, escrowID, userID uint, role models.Role) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("escrow_id = ? AND user_id = ? AND role = ?", escrowID, userID, role).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return count > 0, nil
}

func (r *escrowRepository) AppendStatusLog(ctx context.Context, entry *models.StatusLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append status log: %w", err)
	}
	return nil
}

func (r *escrowRepository) AppendTransaction(ctx context.Context, txn *models.EscrowTransaction) error {
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (r *escrowRepository) GetStatusLogs(ctx context.Context, escrowID uint) ([]models.StatusLog, error) {
	var logs []models.StatusLog
	err := r.db.WithContext(ctx).
		Where("escrow_id = ?", escrowID).
		Order("created_at ASC, id ASC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get status logs: %w", err)
	}
	return logs, nil
}

func (r *escrowRepository) GetTransactions(ctx context.Context, escrowID uint) ([]models.EscrowTransaction, error) {
	var txns []models.EscrowTransaction
	err := r.db.WithContext(ctx).
		Where("escrow_id = ?", escrowID).
		Order("executed_at ASC, id ASC").
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	return txns, nil
}

func (r *escrowRepository) CreateDispute(ctx context.Context, dispute *models.Dispute) error {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("escrow_id = ?", dispute.EscrowID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to check existing dispute: %w", err)
	}
	if count > 0 {
		return ErrDuplicateDispute
	}
	if err := r.db.WithContext(ctx).Create(dispute).Error; err != nil {
		return fmt.Errorf("failed to create dispute: %w", err)
	}
	return nil
}

func (r *escrowRepository) GetDisputeByEscrowID(ctx context.Context, escrowID uint) (*models.Dispute, error) {
	return r.getDispute(r.db.WithContext(ctx), escrowID)
}

func (r *escrowRepository) GetDisputeByEscrowIDForUpdate(ctx context.Context, escrowID uint) (*models.Dispute, error) {
	return r.getDispute(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), escrowID)
}

func (r *escrowRepository) getDispute(db *gorm.DB, escrowID uint) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := db.Where("escrow_id = ?", escrowID).First(&dispute).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("failed to get dispute: %w", err)
	}
	return &dispute, nil
}

// ResolveDispute persists the resolution fields only while the stored
// dispute is still open.
func (r *escrowRepository) ResolveDispute(ctx context.Context, dispute *models.Dispute) error {
	result := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status = ?", dispute.ID, models.DisputeStatusOpen).
		Updates(map[string]interface{}{
			"status":      dispute.Status,
			"resolved_by": dispute.ResolvedBy,
			"resolution":  dispute.Resolution,
			"resolved_at": dispute.ResolvedAt,
			"updated_at":  dispute.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to resolve dispute: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDisputeConflict
	}
	return nil
}

func (r *escrowRepository) AddEvidence(ctx context.Context, evidence *models.Evidence) error {
	if err := r.db.WithContext(ctx).Create(evidence).Error; err != nil {
		return fmt.Errorf("failed to add evidence: %w", err)
	}
	return nil
}

func (r *escrowRepository) GetEvidence(ctx context.Context, disputeID uint) ([]models.Evidence, error) {
	var evidence []models.Evidence
	err := r.db.WithContext(ctx).
		Where("dispute_id = ?", disputeID).
		Order("id ASC").
		Find(&evidence).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get evidence: %w", err)
	}
	return evidence, nil
}

// ExecuteInTransaction runs fn against a repository bound to one database
// transaction. A nil return commits; an error or panic rolls back.
func (r *escrowRepository) ExecuteInTransaction(ctx context.Context, fn func(EscrowRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &escrowRepository{db: tx}
		return fn(txRepo)
	})
}
