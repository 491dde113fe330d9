package av

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-av/internal/bridges/av/philipstv"
	"github.com/nerrad567/gray-logic-av/internal/bridges/av/samsungmdc"
)

// Domain-specific errors for the AV bridge.
var (
	// ErrEntryNotFound is returned for an unknown entry id.
	ErrEntryNotFound = errors.New("av: entry not found")

	// ErrEntryExists is returned when setting up an id twice.
	ErrEntryExists = errors.New("av: entry already set up")

	// ErrInvalidEntry is returned for entries that cannot be built.
	ErrInvalidEntry = errors.New("av: invalid entry")

	// ErrNotReady is returned when the first refresh of an entry fails.
	// The entry is not registered; the caller may retry later.
	ErrNotReady = errors.New("av: entry not ready")

	// ErrCannotConnect is returned by Probe when the host cannot be reached.
	ErrCannotConnect = errors.New("av: cannot connect")

	// ErrUnknown is returned by Probe for any other failure.
	ErrUnknown = errors.New("av: unknown error")

	// ErrUnsupported is returned for commands the device family lacks.
	ErrUnsupported = errors.New("av: command not supported")

	// ErrInvalidCommand is returned for unknown command names.
	ErrInvalidCommand = errors.New("av: invalid command")

	// ErrInvalidParameters is returned for missing or malformed parameters.
	ErrInvalidParameters = errors.New("av: invalid parameters")
)

// ErrorCode maps a command error onto an ack error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrEntryNotFound):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrInvalidCommand), errors.Is(err, ErrUnsupported):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidParameters),
		errors.Is(err, samsungmdc.ErrInvalidArgument),
		errors.Is(err, philipstv.ErrInvalidArgument):
		return ErrCodeInvalidParameters
	case errors.Is(err, samsungmdc.ErrTimeout),
		errors.Is(err, samsungmdc.ErrPoweringOn),
		errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, samsungmdc.ErrMalformedResponse), errors.Is(err, philipstv.ErrProtocol):
		return ErrCodeProtocolError
	case errors.Is(err, samsungmdc.ErrGeneralFault),
		errors.Is(err, samsungmdc.ErrClosed),
		errors.Is(err, philipstv.ErrConnectionFailure),
		errors.Is(err, philipstv.ErrTurnOnUnsupported):
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeBridgeError
	}
}
