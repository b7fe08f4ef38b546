package models

import (
	"time"
)

// Transaction types recorded alongside money-moving transitions
const (
	TransactionTypeFunding TransactionType = "funding"
	TransactionTypeRelease TransactionType = "release"
	TransactionTypeRefund  TransactionType = "refund"
)

// TransactionType classifies an escrow financial record.
type TransactionType string

// StatusLog is one accepted transition. Rows are never updated or deleted.
// ChangedBy is nil when the system acted.
type StatusLog struct {
	ID         uint         `gorm:"primarykey" json:"id"`
	EscrowID   uint         `gorm:"not null;index" json:"escrow_id"`
	FromStatus EscrowStatus `gorm:"type:varchar(16);not null" json:"from_status"`
	ToStatus   EscrowStatus `gorm:"type:varchar(16);not null" json:"to_status"`
	ChangedBy  *uint        `json:"changed_by"`
	Reason     *string      `json:"reason,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

func (StatusLog) TableName() string { return "escrow_status_logs" }

// EscrowTransaction records the decision to move money. Settlement happens
// outside this service.
type EscrowTransaction struct {
	ID         uint            `gorm:"primarykey" json:"id"`
	EscrowID   uint            `gorm:"not null;index" json:"escrow_id"`
	Type       TransactionType `gorm:"type:varchar(16);not null" json:"type"`
	Amount     int64           `gorm:"not null" json:"amount"`
	ExecutedBy *uint           `json:"executed_by"`
	ExecutedAt time.Time       `gorm:"not null" json:"executed_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (EscrowTransaction) TableName() string { return "escrow_transactions" }
