// Package domain contains core domain types for the counseling trainer.
package domain

import "errors"

var (
	// ErrNotFound is returned for unknown session or patient ids.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest is returned for missing or malformed input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSessionClosed is returned when an exchange targets an ended session.
	ErrSessionClosed = errors.New("session ended")
	// ErrProvider wraps upstream model failures, including timeouts.
	ErrProvider = errors.New("provider error")
	// ErrInternal marks unexpected failures. Details are logged, never returned.
	ErrInternal = errors.New("internal error")
	// ErrInvalidFormat is returned when a dataset record has an unrecognized shape.
	ErrInvalidFormat = errors.New("invalid format")
)
