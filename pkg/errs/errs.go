// Package errs defines the error kinds shared by the relay and the chat client.
//
// Callers wrap these with fmt.Errorf and %w and test for them with errors.Is.
package errs

import "errors"

var (
	// ErrInvalidArgument is returned for missing or out-of-range input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState is returned when an operation is not allowed in the current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrCryptoFailure is returned when a cipher or digest operation fails.
	ErrCryptoFailure = errors.New("crypto failure")

	// ErrTransportFailure is returned when the underlying connection is closed or unreachable.
	ErrTransportFailure = errors.New("transport failure")

	// ErrProtocolViolation is returned for envelopes that decode but are not valid.
	ErrProtocolViolation = errors.New("protocol violation")
)
