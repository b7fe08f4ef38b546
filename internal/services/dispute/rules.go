// Package dispute holds the rules of the dispute sub-lifecycle: reason and
// evidence validation, outcome parsing and the open -> resolved step.
// Nothing here touches storage; the escrow service applies these rules
// inside its transactions.
package dispute

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "escrow/internal/errors"
	"escrow/internal/models"
)

const (
	DefaultReasonMinLength = 10
	ReasonMaxLength        = 2000

	MaxEvidenceBytes          = 2048 * 1024
	MaxEvidenceDescriptionLen = 255
)

// Outcome is the arbiter's decision on a dispute.
type Outcome string

const (
	OutcomeRelease Outcome = Outcome(models.ResolutionRelease)
	OutcomeRefund  Outcome = Outcome(models.ResolutionRefund)
)

// ParseOutcome accepts "release" or "refund", case-insensitively.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(strings.ToLower(strings.TrimSpace(s))) {
	case OutcomeRelease:
		return OutcomeRelease, nil
	case OutcomeRefund:
		return OutcomeRefund, nil
	}
	return "", apperrors.ErrInvalidOutcome.With(fmt.Sprintf("unsupported outcome %q", s))
}

// TargetStatus is the escrow status the outcome drives to.
func (o Outcome) TargetStatus() models.EscrowStatus {
	if o == OutcomeRefund {
		return models.StatusRefunded
	}
	return models.StatusReleased
}

// TransactionType is the financial record written with the outcome.
func (o Outcome) TransactionType() models.TransactionType {
	if o == OutcomeRefund {
		return models.TransactionTypeRefund
	}
	return models.TransactionTypeRelease
}

func (o Outcome) Resolution() models.DisputeResolution {
	return models.DisputeResolution(o)
}

// ValidateReason checks a dispute reason against the minimum length and the
// fixed maximum, counted in runes after trimming.
func ValidateReason(reason string, minLen int) error {
	if minLen <= 0 {
		minLen = DefaultReasonMinLength
	}
	n := utf8.RuneCountInString(strings.TrimSpace(reason))
	if n < minLen {
		return apperrors.ErrInvalidReason.With(fmt.Sprintf("reason must be at least %d characters", minLen))
	}
	if n > ReasonMaxLength {
		return apperrors.ErrInvalidReason.With(fmt.Sprintf("reason must be at most %d characters", ReasonMaxLength))
	}
	return nil
}

// EvidenceInput describes an artifact already stored by the file store.
type EvidenceInput struct {
	ArtifactRef string
	ContentType string
	SizeBytes   int64
	Description string
}

var evidenceTypes = map[string]string{
	"jpg":             "image/jpeg",
	"jpeg":            "image/jpeg",
	"png":             "image/png",
	"pdf":             "application/pdf",
	"image/jpeg":      "image/jpeg",
	"image/jpg":       "image/jpeg",
	"image/png":       "image/png",
	"application/pdf": "application/pdf",
}

// NormalizeContentType maps an extension or MIME type to its canonical MIME
// type. ok is false for anything other than jpg, jpeg, png or pdf.
func NormalizeContentType(contentType string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(key, ';'); i >= 0 {
		key = strings.TrimSpace(key[:i])
	}
	key = strings.TrimPrefix(key, ".")
	mime, ok := evidenceTypes[key]
	return mime, ok
}

// ValidateEvidence checks reference, type, size and description. When the
// content type is empty the artifact extension decides.
func ValidateEvidence(in EvidenceInput) error {
	if strings.TrimSpace(in.ArtifactRef) == "" {
		return apperrors.ErrInvalidEvidence.With("artifact reference is required")
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = path.Ext(in.ArtifactRef)
	}
	if _, ok := NormalizeContentType(contentType); !ok {
		return apperrors.ErrInvalidEvidence.With("evidence must be a jpg, jpeg, png or pdf file")
	}
	if in.SizeBytes <= 0 {
		return apperrors.ErrInvalidEvidence.With("evidence size must be positive")
	}
	if in.SizeBytes > MaxEvidenceBytes {
		return apperrors.ErrInvalidEvidence.With("evidence must not exceed 2048 KiB")
	}
	if utf8.RuneCountInString(in.Description) > MaxEvidenceDescriptionLen {
		return apperrors.ErrInvalidEvidence.With(fmt.Sprintf("description must be at most %d characters", MaxEvidenceDescriptionLen))
	}
	return nil
}

// NewEvidence builds the record for a validated input.
func NewEvidence(d *models.Dispute, uploader uint, in EvidenceInput) *models.Evidence {
	contentType := in.ContentType
	if contentType == "" {
		contentType = path.Ext(in.ArtifactRef)
	}
	mime, _ := NormalizeContentType(contentType)

	ev := &models.Evidence{
		DisputeID:   d.ID,
		UploadedBy:  uploader,
		ArtifactRef: strings.TrimSpace(in.ArtifactRef),
		ContentType: mime,
		SizeBytes:   in.SizeBytes,
	}
	if desc := strings.TrimSpace(in.Description); desc != "" {
		ev.Description = &desc
	}
	return ev
}

// Open builds a new open dispute for an escrow.
func Open(escrowID, openedBy uint, reason string, at time.Time) *models.Dispute {
	return &models.Dispute{
		EscrowID:  escrowID,
		OpenedBy:  openedBy,
		Reason:    strings.TrimSpace(reason),
		Status:    models.DisputeStatusOpen,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// CanAttachEvidence reports whether d still accepts evidence.
func CanAttachEvidence(d *models.Dispute) error {
	if d == nil {
		return apperrors.ErrDisputeNotFound
	}
	if !d.IsOpen() {
		return apperrors.ErrDisputeNotOpen
	}
	return nil
}

// Resolve moves an open dispute to resolved, recording who decided what and
// when. A dispute that is not open is left untouched.
func Resolve(d *models.Dispute, resolver uint, outcome Outcome, at time.Time) error {
	if d == nil {
		return apperrors.ErrDisputeNotFound
	}
	if !d.IsOpen() {
		return apperrors.ErrDisputeNotOpen
	}
	resolution := outcome.Resolution()
	d.Status = models.DisputeStatusResolved
	d.ResolvedBy = &resolver
	d.Resolution = &resolution
	d.ResolvedAt = &at
	d.UpdatedAt = at
	return nil
}
