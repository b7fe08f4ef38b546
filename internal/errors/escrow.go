package errors

var (
	ErrEscrowNotFound = &DomainError{
		Kind:    KindNotFound,
		Code:    "ESCROW_NOT_FOUND",
		Message: "escrow not found",
	}
	ErrDisputeNotFound = &DomainError{
		Kind:    KindNotFound,
		Code:    "DISPUTE_NOT_FOUND",
		Message: "dispute not found",
	}
	ErrNotParticipant = &DomainError{
		Kind:    KindForbidden,
		Code:    "NOT_PARTICIPANT",
		Message: "caller is not a participant with the required role",
	}
	ErrNotArbiter = &DomainError{
		Kind:    KindForbidden,
		Code:    "NOT_ARBITER",
		Message: "caller is not an arbiter",
	}
	ErrTransitionNotAllowed = &DomainError{
		Kind:    KindInvalidTransition,
		Code:    "TRANSITION_NOT_ALLOWED",
		Message: "transition not allowed",
	}
	ErrDeadlineNotPassed = &DomainError{
		Kind:    KindInvalidTransition,
		Code:    "DEADLINE_NOT_PASSED",
		Message: "confirmation deadline has not passed",
	}
	ErrDisputeNotOpen = &DomainError{
		Kind:    KindAlreadyResolved,
		Code:    "DISPUTE_NOT_OPEN",
		Message: "dispute is no longer open",
	}
	ErrInvalidAmount = &DomainError{
		Kind:    KindValidationFailed,
		Code:    "INVALID_AMOUNT",
		Message: "amount must be positive",
	}
	ErrInvalidParticipants = &DomainError{
		Kind:    KindValidationFailed,
		Code:    "INVALID_PARTICIPANTS",
		Message: "buyer and seller must be distinct users",
	}
	ErrInvalidReason = &DomainError{
		Kind:    KindValidationFailed,
		Code:    "INVALID_DISPUTE_REASON",
		Message: "invalid dispute reason",
	}
	ErrInvalidOutcome = &DomainError{
		Kind:    KindValidationFailed,
		Code:    "INVALID_OUTCOME",
		Message: "outcome must be release or refund",
	}
	ErrInvalidEvidence = &DomainError{
		Kind:    KindValidationFailed,
		Code:    "INVALID_EVIDENCE",
		Message: "invalid evidence",
	}
	ErrInvalidRequest = &DomainError{
		Kind:    KindValidationFailed,
		Code:    "INVALID_REQUEST",
		Message: "invalid request",
	}
)
