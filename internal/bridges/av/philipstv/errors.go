package philipstv

import "errors"

// Domain-specific errors for Philips TVs.
var (
	// ErrConnectionFailure is returned when the TV cannot be reached. TVs
	// in deep standby drop off the network, so this is expected.
	ErrConnectionFailure = errors.New("philipstv: connection failure")

	// ErrProtocol is returned for unexpected HTTP status or payloads.
	ErrProtocol = errors.New("philipstv: unexpected response")

	// ErrTurnOnUnsupported is returned by TurnOn when the TV is off the
	// network and no turn-on action is attached.
	ErrTurnOnUnsupported = errors.New("philipstv: no way to turn on the TV")

	// ErrInvalidArgument is returned for caller errors detected before I/O.
	ErrInvalidArgument = errors.New("philipstv: invalid argument")
)
