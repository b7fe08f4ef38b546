package models

import (
	"time"
)

// EscrowStatus is the lifecycle state of an escrow.
type EscrowStatus string

// Escrow statuses
const (
	StatusCreated   EscrowStatus = "created"
	StatusFunded    EscrowStatus = "funded"
	StatusShipping  EscrowStatus = "shipping"
	StatusDelivered EscrowStatus = "delivered"
	StatusReleased  EscrowStatus = "released"
	StatusDisputed  EscrowStatus = "disputed"
	StatusRefunded  EscrowStatus = "refunded"
)

// EscrowStatuses lists every status in lifecycle order.
var EscrowStatuses = []EscrowStatus{
	StatusCreated,
	StatusFunded,
	StatusShipping,
	StatusDelivered,
	StatusReleased,
	StatusDisputed,
	StatusRefunded,
}

// Valid reports whether s is one of the defined statuses.
func (s EscrowStatus) Valid() bool {
	for _, known := range EscrowStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition can leave s.
func (s EscrowStatus) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// Role identifies who is acting on an escrow.
type Role string

// Escrow roles. Buyer and seller are bound per escrow through Participant
// rows; arbiter is a platform role; system is the synthetic scheduler actor.
const (
	RoleBuyer   Role = "buyer"
	RoleSeller  Role = "seller"
	RoleArbiter Role = "arbiter"
	RoleSystem  Role = "system"
)

// Roles lists every acting role.
var Roles = []Role{RoleBuyer, RoleSeller, RoleArbiter, RoleSystem}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleArbiter, RoleSystem:
		return true
	}
	return false
}

// Escrow is one trade held between a buyer and a seller.
// Amount is expressed in minor currency units.
type Escrow struct {
	ID                      uint         `gorm:"primarykey" json:"id"`
	Reference               string       `gorm:"type:varchar(36);uniqueIndex;not null" json:"reference"`
	Title                   string       `gorm:"not null" json:"title"`
	Description             string       `json:"description,omitempty"`
	Amount                  int64        `gorm:"not null" json:"amount"`
	Status                  EscrowStatus `gorm:"type:varchar(16);not null;index:idx_escrows_status_deadline,priority:1" json:"status"`
	ConfirmationWindowHours int          `gorm:"not null" json:"confirmation_window_hours"`
	DeliveredAt             *time.Time   `json:"delivered_at,omitempty"`
	ConfirmDeadline         *time.Time   `gorm:"index:idx_escrows_status_deadline,priority:2" json:"confirm_deadline,omitempty"`
	CreatedBy               uint         `gorm:"not null" json:"created_by"`
	CreatedAt               time.Time    `json:"created_at"`
	UpdatedAt               time.Time    `json:"updated_at"`
}

func (Escrow) TableName() string { return "escrows" }

// ConfirmationWindow returns the buyer's confirmation window as a duration.
func (e *Escrow) ConfirmationWindow() time.Duration {
	return time.Duration(e.ConfirmationWindowHours) * time.Hour
}

// Participant binds a user to one role within one escrow.
type Participant struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	EscrowID  uint      `gorm:"not null;uniqueIndex:idx_participants_escrow_role" json:"escrow_id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Role      Role      `gorm:"type:varchar(16);not null;uniqueIndex:idx_participants_escrow_role" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (Participant) TableName() string { return "escrow_participants" }
