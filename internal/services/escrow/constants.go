package escrow

import (
	"fmt"
	"time"
)

// Default configuration values
const (
	DefaultConfirmationWindowHours = 48
	DefaultDetailCacheTTL          = 5 * time.Minute

	// detailGenTTL outlives any cached detail so an expired counter never
	// resurrects an old generation.
	detailGenTTL = 24 * time.Hour
)

// Status log reasons
const (
	ReasonBuyerConfirmed = "Buyer confirmed delivery"
	ReasonAutoRelease    = "Auto release by system (deadline passed)"
	reasonResolvedFormat = "Dispute resolved by arbiter: %s"
)

// Operation names used for spans, logs and metrics
const (
	OpCreate         = "create"
	OpFund           = "fund"
	OpShip           = "ship"
	OpDeliver        = "deliver"
	OpRelease        = "release"
	OpRaiseDispute   = "raise_dispute"
	OpAutoRelease    = "auto_release"
	OpResolveDispute = "resolve_dispute"
	OpSubmitEvidence = "submit_evidence"
)

// Cache keys
const (
	DetailCachePrefix = "escrow:detail:"
)

// detailGenKey holds the generation counter of an escrow's detail view.
func detailGenKey(escrowID uint) string {
	return fmt.Sprintf("%s%d:gen", DetailCachePrefix, escrowID)
}

// detailKey names the detail view cached for one generation. A fill that
// raced an invalidation lands on a generation no reader asks for.
func detailKey(escrowID uint, gen int64) string {
	return fmt.Sprintf("%s%d:v%d", DetailCachePrefix, escrowID, gen)
}
