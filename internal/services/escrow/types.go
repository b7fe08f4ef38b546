package escrow

import (
	"context"
	"time"

	"escrow/internal/models"
	"escrow/internal/services/dispute"
)

// Actor is the caller of a command. The system actor has no user.
type Actor struct {
	UserID uint
	Role   models.Role
}

// System returns the synthetic actor used by the deadline sweep.
func System() Actor {
	return Actor{Role: models.RoleSystem}
}

func (a Actor) IsSystem() bool {
	return a.Role == models.RoleSystem
}

// userRef is the identity recorded in audit rows; nil for the system actor.
func (a Actor) userRef() *uint {
	if a.IsSystem() {
		return nil
	}
	id := a.UserID
	return &id
}

// CreateParams describes a new escrow. A zero ConfirmationWindowHours takes
// the configured default.
type CreateParams struct {
	Title                   string
	Description             string
	Amount                  int64
	BuyerID                 uint
	SellerID                uint
	ConfirmationWindowHours int
	CreatedBy               uint
}

// EvidenceInput is re-exported so callers need only this package.
type EvidenceInput = dispute.EvidenceInput

// Result carries the records written by one accepted command.
type Result struct {
	Escrow      *models.Escrow            `json:"escrow"`
	StatusLog   *models.StatusLog         `json:"status_log,omitempty"`
	Transaction *models.EscrowTransaction `json:"transaction,omitempty"`
	Dispute     *models.Dispute           `json:"dispute,omitempty"`
	Evidence    *models.Evidence          `json:"evidence,omitempty"`
}

// History is the audit trail of one escrow in creation order.
type History struct {
	StatusLogs   []models.StatusLog         `json:"status_logs"`
	Transactions []models.EscrowTransaction `json:"transactions"`
}

// Detail is the full view of an escrow. NextStatuses depends on the caller
// and is never cached.
type Detail struct {
	Escrow       models.Escrow         `json:"escrow"`
	Participants []models.Participant  `json:"participants"`
	Dispute      *models.Dispute       `json:"dispute,omitempty"`
	Evidence     []models.Evidence     `json:"evidence,omitempty"`
	History      History               `json:"history"`
	NextStatuses []models.EscrowStatus `json:"next_statuses"`
}

// Config holds engine settings.
type Config struct {
	DefaultConfirmationWindowHours int
	DisputeReasonMinLength         int
	DetailCacheTTL                 time.Duration
}

// MetricsCollector defines the interface for collecting escrow metrics
type MetricsCollector interface {
	// Operation metrics
	RecordOperationDuration(operation string, duration time.Duration)
	RecordOperationResult(operation, result string)

	// Lifecycle metrics
	RecordTransition(from, to models.EscrowStatus, role models.Role)
	RecordTransaction(txType models.TransactionType, amount int64)

	// Cache metrics
	RecordCacheHit(key string)
	RecordCacheMiss(key string)

	// Error metrics
	RecordError(operation, errType string)
}

// Cache stores escrow detail views. Detail entries are keyed by a per-escrow
// generation counter that Incr advances on every change.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// ArbiterVerifier confirms that a user may resolve disputes. Without one the
// engine trusts the arbiter role asserted by the authentication layer.
type ArbiterVerifier interface {
	IsArbiter(ctx context.Context, userID uint) (bool, error)
}
