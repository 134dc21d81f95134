package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidIdentifier  = errors.New("invalid identifier")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidState       = errors.New("invalid state")
	ErrAlreadyExists      = errors.New("already exists")
	ErrRuntimeUnavailable = errors.New("runtime unavailable")
	ErrLogUnavailable     = errors.New("log unavailable")
	ErrResourceExhausted  = errors.New("resource exhausted")

	// ErrLogTimeout is a LogUnavailable that ran out of time rather than finding nothing.
	ErrLogTimeout = fmt.Errorf("%w: timed out", ErrLogUnavailable)

	// ErrInvalidTransition is returned when the state machine forbids a move.
	ErrInvalidTransition = fmt.Errorf("%w: transition not allowed", ErrInvalidState)

	// ErrStatusConflict is returned by compare-and-swap when the stored status is not the expected one.
	ErrStatusConflict = fmt.Errorf("%w: status changed concurrently", ErrInvalidState)
)
