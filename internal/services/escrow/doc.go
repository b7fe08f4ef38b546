/*
Package escrow implements the escrow workflow engine.

An escrow moves through a fixed lifecycle:

	created -> funded -> shipping -> delivered -> released
	                                          \-> disputed -> released | refunded

Each step is a command taken by one role:
- Fund (buyer), Ship and Deliver (seller), Release and RaiseDispute (buyer)
- ResolveDispute (arbiter)
- AutoRelease (system), once the buyer's confirmation deadline has passed

Usage:

	svc := escrow.NewService(repo, cache, escrow.Config{}, metrics, log)

	res, err := svc.CreateEscrow(ctx, escrow.CreateParams{
	    Title:    "Vintage camera",
	    Amount:   150000,
	    BuyerID:  buyerID,
	    SellerID: sellerID,
	})

	_, err = svc.Fund(ctx, res.Escrow.ID, escrow.Actor{UserID: buyerID, Role: models.RoleBuyer})

Atomicity:

Every command runs inside EscrowRepository.ExecuteInTransaction. The escrow
row is read under lock, the caller's participant row is checked, the
transition table is consulted and the status is written with a
compare-and-swap on the previous status. The status log, the financial
record and any dispute record are written in the same transaction. Any
failure rolls all of it back.

Configuration:

	config := escrow.Config{
	    DefaultConfirmationWindowHours: 48,
	    DisputeReasonMinLength:         10,
	    DetailCacheTTL:                 5 * time.Minute,
	}

Error Handling:

Rejected commands return *errors.DomainError values from
escrow/internal/errors; match them with errors.Is against the kind
sentinels:
- ErrNotFound: escrow or dispute does not exist
- ErrForbidden: caller does not hold the required role
- ErrInvalidTransition: status and role do not permit the step
- ErrValidationFailed: bad reason, outcome, evidence or create input
- ErrAlreadyResolved: the dispute is no longer open

Any other error is a storage fault.

Cache Management:

Detail views are cached per escrow when a Cache is supplied and dropped
after every committed change.
*/
package escrow
