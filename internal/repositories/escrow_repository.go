package repositories

import (
	"context"
	"errors"
	"time"

	"escrow/internal/models"
)

var (
	ErrEscrowNotFound  = errors.New("escrow not found")
	ErrDisputeNotFound = errors.New("dispute not found")
	// ErrStatusConflict means the escrow row no longer holds the status the
	// caller read; another transition won.
	ErrStatusConflict = errors.New("escrow status changed concurrently")
	// ErrDisputeConflict means the dispute was no longer open at write time.
	ErrDisputeConflict  = errors.New("dispute is not open")
	ErrDuplicateDispute = errors.New("dispute already exists for escrow")
)

// EscrowRepository defines the storage contract of the escrow engine.
// Implementations returned by ExecuteInTransaction are bound to that
// transaction; every write made through them commits or rolls back together.
type EscrowRepository interface {
	// Escrow operations
	Create(ctx context.Context, escrow *models.Escrow, participants []models.Participant) error
	GetByID(ctx context.Context, id uint) (*models.Escrow, error)
	GetByIDForUpdate(ctx context.Context, id uint) (*models.Escrow, error)
	UpdateStatus(ctx context.Context, escrow *models.Escrow, from models.EscrowStatus) error
	ListByParticipant(ctx context.Context, userID uint, limit, offset int) ([]models.Escrow, error)
	FindDueForAutoRelease(ctx context.Context, now time.Time, afterID uint, limit int) ([]uint, error)

	// Participant operations
	GetParticipants(ctx context.Context, escrowID uint) ([]models.Participant, error)
	HasParticipant(ctx context.Context, escrowID, userID uint, role models.Role) (bool, error)

	// Audit trail
	AppendStatusLog(ctx context.Context, entry *models.StatusLog) error
	AppendTransaction(ctx context.Context, txn *models.EscrowTransaction) error
	GetStatusLogs(ctx context.Context, escrowID uint) ([]models.StatusLog, error)
	GetTransactions(ctx context.Context, escrowID uint) ([]models.EscrowTransaction, error)

	// Dispute operations
	CreateDispute(ctx context.Context, dispute *models.Dispute) error
	GetDisputeByEscrowID(ctx context.Context, escrowID uint) (*models.Dispute, error)
	GetDisputeByEscrowIDForUpdate(ctx context.Context, escrowID uint) (*models.Dispute, error)
	ResolveDispute(ctx context.Context, dispute *models.Dispute) error
	AddEvidence(ctx context.Context, evidence *models.Evidence) error
	GetEvidence(ctx context.Context, disputeID uint) ([]models.Evidence, error)

	// Unit of work
	ExecuteInTransaction(ctx context.Context, fn func(EscrowRepository) error) error
}
