package domain

import "errors"

var (
	// ErrValidation marks input rejected before any sub-system call.
	ErrValidation = errors.New("validation error")
	// ErrUpstreamUnavailable marks an unreachable or timed-out collaborator.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrDataIntegrity marks a single chunk or vector that must be skipped.
	ErrDataIntegrity = errors.New("data integrity error")
	// ErrNonEducational is returned when a query is gated by the router.
	ErrNonEducational = errors.New("query is not educational")
)
