package models

import (
	"time"
)

// DisputeStatus is the lifecycle of a dispute record.
type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "open"
	DisputeStatusResolved DisputeStatus = "resolved"
)

// DisputeResolution is the arbiter's binary decision.
type DisputeResolution string

const (
	ResolutionRelease DisputeResolution = "release"
	ResolutionRefund  DisputeResolution = "refund"
)

// Dispute is opened at most once per escrow, on delivered -> disputed.
type Dispute struct {
	ID         uint               `gorm:"primarykey" json:"id"`
	EscrowID   uint               `gorm:"not null;uniqueIndex" json:"escrow_id"`
	OpenedBy   uint               `gorm:"not null" json:"opened_by"`
	Reason     string             `gorm:"type:text;not null" json:"reason"`
	Status     DisputeStatus      `gorm:"type:varchar(16);not null" json:"status"`
	ResolvedBy *uint              `json:"resolved_by,omitempty"`
	Resolution *DisputeResolution `gorm:"type:varchar(16)" json:"resolution,omitempty"`
	ResolvedAt *time.Time         `json:"resolved_at,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func (Dispute) TableName() string { return "escrow_disputes" }

// IsOpen reports whether the dispute still accepts evidence and resolution.
func (d *Dispute) IsOpen() bool {
	return d.Status == DisputeStatusOpen
}

// Evidence is an immutable attachment to an open dispute. ArtifactRef points
// at a file already persisted by the external file store.
type Evidence struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	DisputeID   uint      `gorm:"not null;index" json:"dispute_id"`
	UploadedBy  uint      `gorm:"not null" json:"uploaded_by"`
	ArtifactRef string    `gorm:"not null" json:"artifact_ref"`
	ContentType string    `gorm:"type:varchar(64);not null" json:"content_type"`
	SizeBytes   int64     `gorm:"not null" json:"size_bytes"`
	Description *string   `gorm:"type:varchar(255)" json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Evidence) TableName() string { return "dispute_evidence" }
