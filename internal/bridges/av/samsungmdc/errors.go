package samsungmdc

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-av/internal/mdc"
)

// Error taxonomy for display operations. Timeout, MalformedResponse and
// GeneralFault are recoverable: the connection is closed and reopened on
// the next request.
var (
	// ErrTimeout means the display did not answer before the read deadline.
	ErrTimeout = errors.New("samsungmdc: display timed out")

	// ErrMalformedResponse means the display answered with a payload that
	// could not be decoded.
	ErrMalformedResponse = errors.New("samsungmdc: malformed response")

	// ErrGeneralFault covers every other device or transport error.
	ErrGeneralFault = errors.New("samsungmdc: device fault")

	// ErrInvalidArgument is returned for caller errors detected before I/O.
	ErrInvalidArgument = errors.New("samsungmdc: invalid argument")

	// ErrPoweringOn is returned for commands sent while the display is in
	// its power-on grace window. Nothing is sent.
	ErrPoweringOn = errors.New("samsungmdc: display powering on")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("samsungmdc: adapter closed")
)

// CommandError reports a failed command.
type CommandError struct {
	Op  string
	Err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("samsungmdc: %s: %v", e.Op, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// classify maps a connection error onto the taxonomy. The returned error
// wraps both the category and the original cause.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mdc.ErrReadTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, mdc.ErrResponse):
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	default:
		return fmt.Errorf("%w: %w", ErrGeneralFault, err)
	}
}
