package models

import "errors"

var (
	ErrInvalidPhase     = errors.New("operation not valid in current phase")
	ErrSessionNotFound  = errors.New("session not found")
	ErrPlayerNotFound   = errors.New("player not found")
	ErrCardUnavailable  = errors.New("no unburned card with that value")
	ErrAlreadyCommitted = errors.New("commitment already recorded this round")

	ErrCommitmentSubmissionFailed = errors.New("oracle request submission failed")
	ErrFulfillmentTimeout         = errors.New("no oracle fulfillment within retry budget")
	ErrDuplicateRequest           = errors.New("roll already requested for this round")

	// ErrVersionConflict reports a lost optimistic-concurrency race; the
	// caller re-reads and usually finds the work already done.
	ErrVersionConflict = errors.New("session modified concurrently")
)
