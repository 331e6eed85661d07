package pipeline

import "errors"

var (
	// ErrNotFound means the document id is unknown.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidState means a stage was invoked while the document does not
	// satisfy the stage's precondition. Caller misuse; never retried.
	ErrInvalidState = errors.New("invalid state for stage")
	// ErrAlreadyFinalized means a decision already exists for the document.
	ErrAlreadyFinalized = errors.New("document already finalized")
	// ErrMissingInput means reconcile was attempted without both a correction
	// and a fetch result.
	ErrMissingInput = errors.New("missing reconciliation input")
	// ErrCollaborator means an external collaborator failed after retries.
	ErrCollaborator = errors.New("collaborator failure")
)

// Stable error codes exposed at the HTTP boundary.
const (
	ErrorCodeNotFound         = "NOT_FOUND"
	ErrorCodeInvalidState     = "INVALID_STATE"
	ErrorCodeAlreadyFinalized = "ALREADY_FINALIZED"
	ErrorCodeMissingInput     = "MISSING_INPUT"
	ErrorCodeCollaborator     = "COLLABORATOR_FAILURE"
	ErrorCodeValidation       = "VALIDATION_ERROR"
	ErrorCodeInternal         = "INTERNAL_ERROR"
)
