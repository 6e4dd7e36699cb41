package domain

import "errors"

var (
	// ErrValidation is returned when a template fails publish validation.
	ErrValidation = errors.New("template validation failed")
	// ErrUnboundedLoop is returned when a template contains a cycle with no
	// timeout or retry bound on any step in the cycle.
	ErrUnboundedLoop = errors.New("template contains an unbounded loop")
	// ErrTemplateNotFound is returned when a template is missing, unpublished or inactive.
	ErrTemplateNotFound = errors.New("template not found or inactive")
	// ErrInvalidTransition is returned for a status transition outside the allowed table.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConcurrentModification is returned when an optimistic version check fails on write.
	// Callers must re-read the aggregate and retry.
	ErrConcurrentModification = errors.New("aggregate was modified concurrently")
	// ErrNoMatchingBranch is returned when a condition step matches none of its branches.
	ErrNoMatchingBranch = errors.New("no branch condition matched")
	// ErrNotAuthorized is returned when a decision arrives from a user that is not
	// the addressed approver.
	ErrNotAuthorized = errors.New("approver not authorized to decide")
	// ErrAlreadyDecided is returned when an approver slot is no longer pending.
	ErrAlreadyDecided = errors.New("approver has already decided")
	// ErrNotFound is a generic missing-aggregate error.
	ErrNotFound = errors.New("not found")
)
