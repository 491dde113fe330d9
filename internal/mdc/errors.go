package mdc

import "errors"

// Domain-specific errors for the MDC client.
var (
	// ErrReadTimeout is returned when the display does not answer within
	// the configured read timeout.
	ErrReadTimeout = errors.New("mdc: read timeout")

	// ErrResponse is returned when a reply cannot be parsed: bad header,
	// bad checksum, wrong command echo or values outside the known ranges.
	ErrResponse = errors.New("mdc: malformed response")

	// ErrNAK is returned when the display rejects a command.
	ErrNAK = errors.New("mdc: command rejected by display")

	// ErrConnectionFailed is returned when the transport cannot be opened.
	ErrConnectionFailed = errors.New("mdc: connection failed")

	// ErrInvalidValue is returned for request values outside the protocol range.
	ErrInvalidValue = errors.New("mdc: invalid value")
)
