package models

import "errors"

// Shared error kinds. Services wrap these with context via fmt.Errorf("%w")
// and callers branch with errors.Is; the command layer maps each kind to a
// user-facing message key.
var (
	// ErrValidation marks malformed input: bad durations, empty content,
	// invalid turn patterns.
	ErrValidation = errors.New("validation")
	// ErrNotFound marks a failed entity lookup.
	ErrNotFound = errors.New("not found")
	// ErrStaleState marks a conditional update that lost a race: the entity
	// transitioned under us.
	ErrStaleState = errors.New("stale state")
	// ErrPrecondition marks a domain rule refusal: banned creator, cooldown
	// not met, season not joinable.
	ErrPrecondition = errors.New("precondition violated")
	// ErrScheduler marks a durable timer store rejection.
	ErrScheduler = errors.New("scheduler error")
	// ErrNotification marks a downstream delivery failure. Never fatal.
	ErrNotification = errors.New("notification error")
)
