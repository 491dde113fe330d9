// Package samsungmdc adapts Samsung MDC displays to the AV bridge.
//
// An Adapter owns one display connection and a DeviceState. Poll refreshes
// the state; TurnOn, TurnOff, SetMute, SetVolume and SelectSource forward
// commands. All operations on one adapter are serialised by its mutex.
//
// Displays ignore or garble requests for about 15 seconds after a power-on
// command. TurnOn therefore reports the display as on straight away, closes
// the connection and suppresses polling until a per-adapter grace timer
// fires. Other commands fail with ErrPoweringOn until then.
package samsungmdc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-av/internal/clock"
	"github.com/nerrad567/gray-logic-av/internal/mdc"
)

// DefaultPowerOnGrace is how long polling stays suspended after TurnOn.
const DefaultPowerOnGrace = 15 * time.Second

// Connection is the display client used by the adapter.
// *mdc.Client implements it.
type Connection interface {
	Status(ctx context.Context, id byte) (mdc.Status, error)
	Power(ctx context.Context, id byte, state mdc.PowerState) error
	Volume(ctx context.Context, id byte, level int) error
	Mute(ctx context.Context, id byte, muted bool) error
	InputSource(ctx context.Context, id byte, src mdc.InputSource) error
	Close() error
}

var _ Connection = (*mdc.Client)(nil)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures an Adapter.
type Options struct {
	// DisplayID is the MDC display id (0 for a single TCP display).
	DisplayID byte

	// SerialNumber is the display serial, used as the unique id.
	SerialNumber string

	// Model is the display model, used in the display name.
	Model string

	// Sources restricts the selectable inputs. Empty means all.
	Sources []Source

	// PowerOnGrace overrides DefaultPowerOnGrace.
	PowerOnGrace time.Duration

	// Clock drives the grace timer. Default: wall clock.
	Clock clock.Clock

	// Logger is optional.
	Logger Logger

	// OnUpdate is called with a copy of the state after every change.
	// It runs without the adapter lock held.
	OnUpdate func(DeviceState)
}

// Adapter is a polling adapter for one MDC display.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Poll and commands never overlap on the connection.
type Adapter struct {
	conn     Connection
	opts     Options
	sources  *SourceTable
	clock    clock.Clock
	logger   Logger
	onUpdate func(DeviceState)

	mu         sync.Mutex
	state      DeviceState
	phase      Phase
	graceTimer clock.Timer
	graceDone  chan struct{}
	closed     bool
}

// New creates an adapter. No I/O happens until the first Poll or command.
func New(conn Connection, opts Options) (*Adapter, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: connection is required", ErrInvalidArgument)
	}
	sources, err := NewSourceTable(opts.Sources)
	if err != nil {
		return nil, err
	}
	if opts.PowerOnGrace <= 0 {
		opts.PowerOnGrace = DefaultPowerOnGrace
	}

	a := &Adapter{
		conn:     conn,
		opts:     opts,
		sources:  sources,
		clock:    opts.Clock,
		logger:   opts.Logger,
		onUpdate: opts.OnUpdate,
		phase:    PhaseDisconnected,
	}
	if a.clock == nil {
		a.clock = clock.New()
	}
	return a, nil
}

// Name returns the display name.
func (a *Adapter) Name() string {
	return "Samsung " + a.opts.Model
}

// UniqueID returns the display serial number.
func (a *Adapter) UniqueID() string {
	return a.opts.SerialNumber
}

// SourceList returns the selectable input sources.
func (a *Adapter) SourceList() []Source {
	return a.sources.List()
}

// State returns a copy of the current state.
func (a *Adapter) State() DeviceState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Phase returns the current connection phase.
func (a *Adapter) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// Poll refreshes the state from the display.
//
// During the power-on grace window it returns the current state without
// I/O. Device faults close the connection, mark the display unavailable and
// are returned as errors wrapping ErrTimeout, ErrMalformedResponse or
// ErrGeneralFault.
func (a *Adapter) Poll(ctx context.Context) (DeviceState, error) {
	a.mu.Lock()

	if a.closed {
		a.mu.Unlock()
		return DeviceState{}, ErrClosed
	}
	if a.state.AwaitingPowerOn {
		st := a.state
		a.mu.Unlock()
		return st, nil
	}

	prev := a.state
	status, err := a.conn.Status(ctx, a.opts.DisplayID)
	if err != nil {
		err = a.failLocked("poll", err)
		st := a.state
		a.mu.Unlock()
		a.notify(prev, st)
		return st, err
	}

	next := a.state
	switch status.Power {
	case mdc.PowerOn:
		next.Power = PowerOn
	default:
		// Reboot reads as off until the display reports on again.
		next.Power = PowerOff
	}
	volume := status.Volume
	next.Volume = &volume
	next.Muted = status.Muted
	if name, ok := SourceName(status.Input); ok {
		next.Source = name
	}
	next.Available = true

	a.state = next
	a.phase = PhaseConnectedAvailable
	a.mu.Unlock()

	a.notify(prev, next)
	return next, nil
}

// TurnOn powers the display on.
//
// If the display is already on it returns nil without I/O. Otherwise the
// state is set to on and awaiting power-on before the command is sent, a
// malformed acknowledgement is ignored, the connection is closed and the
// grace timer is armed. TurnOn does not wait for the grace window; use
// WaitPowerOn for that.
func (a *Adapter) TurnOn(ctx context.Context) error {
	a.mu.Lock()

	if a.closed {
		a.mu.Unlock()
		return &CommandError{Op: "turn_on", Err: ErrClosed}
	}
	if a.state.Power == PowerOn {
		a.mu.Unlock()
		return nil
	}

	prev := a.state
	prevPhase := a.phase
	a.state.AwaitingPowerOn = true
	a.state.Power = PowerOn
	a.phase = PhaseAwaitingPowerOn

	err := a.conn.Power(ctx, a.opts.DisplayID, mdc.PowerOn)
	if err != nil && !errors.Is(err, mdc.ErrResponse) {
		// The command did not go through; restore and report.
		a.state = prev
		a.phase = prevPhase
		cerr := a.failLocked("turn_on", err)
		st := a.state
		a.mu.Unlock()
		a.notify(prev, st)
		return &CommandError{Op: "turn_on", Err: cerr}
	}
	if err != nil && a.logger != nil {
		a.logger.Debug("ignoring power-on acknowledgement",
			"serial", a.opts.SerialNumber, "error", err)
	}

	if cerr := a.conn.Close(); cerr != nil && a.logger != nil {
		a.logger.Debug("closing display connection", "serial", a.opts.SerialNumber, "error", cerr)
	}

	a.graceDone = make(chan struct{})
	done := a.graceDone
	a.graceTimer = a.clock.AfterFunc(a.opts.PowerOnGrace, func() { a.endGrace(done) })

	st := a.state
	a.mu.Unlock()

	if a.logger != nil {
		a.logger.Info("display powering on", "serial", a.opts.SerialNumber, "grace", a.opts.PowerOnGrace)
	}
	a.notify(prev, st)
	return nil
}

// WaitPowerOn blocks until the current grace window ends or ctx is done.
// It returns nil immediately when no window is active.
func (a *Adapter) WaitPowerOn(ctx context.Context) error {
	a.mu.Lock()
	done := a.graceDone
	a.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// endGrace clears the awaiting flag unconditionally. done identifies the
// window so a stale timer cannot end a newer one.
func (a *Adapter) endGrace(done chan struct{}) {
	a.mu.Lock()
	if a.closed || a.graceDone != done {
		a.mu.Unlock()
		return
	}

	prev := a.state
	a.state.AwaitingPowerOn = false
	a.state.Available = true
	a.phase = PhaseConnectedAvailable
	a.graceTimer = nil
	a.graceDone = nil
	close(done)
	st := a.state
	a.mu.Unlock()

	a.notify(prev, st)
}

// TurnOff powers the display off.
func (a *Adapter) TurnOff(ctx context.Context) error {
	return a.command(ctx, "turn_off", func(ctx context.Context) error {
		return a.conn.Power(ctx, a.opts.DisplayID, mdc.PowerOff)
	})
}

// SetMute mutes or unmutes the display.
func (a *Adapter) SetMute(ctx context.Context, muted bool) error {
	return a.command(ctx, "set_mute", func(ctx context.Context) error {
		return a.conn.Mute(ctx, a.opts.DisplayID, muted)
	})
}

// SetVolume sets the volume from a 0..1 level. The level is clamped and
// rounded to the display's 0..100 scale.
func (a *Adapter) SetVolume(ctx context.Context, level float64) error {
	if math.IsNaN(level) {
		return &CommandError{Op: "set_volume", Err: fmt.Errorf("%w: volume is NaN", ErrInvalidArgument)}
	}
	percent := int(math.Round(math.Max(0, math.Min(1, level)) * 100))

	return a.command(ctx, "set_volume", func(ctx context.Context) error {
		return a.conn.Volume(ctx, a.opts.DisplayID, percent)
	})
}

// SelectSource switches the input. Unknown sources fail with
// ErrInvalidArgument before any I/O.
func (a *Adapter) SelectSource(ctx context.Context, src Source) error {
	code, ok := a.sources.Code(src)
	if !ok {
		return &CommandError{Op: "select_source", Err: fmt.Errorf("%w: unknown source %q", ErrInvalidArgument, src)}
	}

	return a.command(ctx, "select_source", func(ctx context.Context) error {
		return a.conn.InputSource(ctx, a.opts.DisplayID, code)
	})
}

// Close tears the adapter down: the grace timer is cancelled, waiters are
// released and the connection is closed. Later calls fail with ErrClosed.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if a.graceTimer != nil {
		a.graceTimer.Stop()
		a.graceTimer = nil
	}
	if a.graceDone != nil {
		close(a.graceDone)
		a.graceDone = nil
	}
	a.phase = PhaseDisconnected
	return a.conn.Close()
}

// command runs send under the adapter lock and converts failures. During
// the grace window nothing is sent and availability is left alone.
func (a *Adapter) command(ctx context.Context, op string, send func(context.Context) error) error {
	a.mu.Lock()

	if a.closed {
		a.mu.Unlock()
		return &CommandError{Op: op, Err: ErrClosed}
	}
	if a.state.AwaitingPowerOn {
		a.mu.Unlock()
		return &CommandError{Op: op, Err: ErrPoweringOn}
	}

	prev := a.state
	err := send(ctx)
	if err == nil {
		a.mu.Unlock()
		return nil
	}

	cerr := a.failLocked(op, err)
	st := a.state
	a.mu.Unlock()

	a.notify(prev, st)
	return &CommandError{Op: op, Err: cerr}
}

// failLocked classifies err, closes the connection and marks the display
// unavailable. Callers hold a.mu.
func (a *Adapter) failLocked(op string, err error) error {
	cerr := classify(err)

	if a.logger != nil {
		switch {
		case errors.Is(cerr, ErrTimeout):
			a.logger.Warn("display timed out", "op", op, "serial", a.opts.SerialNumber)
		case errors.Is(cerr, ErrMalformedResponse):
			a.logger.Error("unknown response from display", "op", op, "serial", a.opts.SerialNumber, "error", err)
		default:
			a.logger.Error("display error", "op", op, "serial", a.opts.SerialNumber, "error", err)
		}
	}

	if closeErr := a.conn.Close(); closeErr != nil && a.logger != nil {
		a.logger.Debug("closing display connection", "serial", a.opts.SerialNumber, "error", closeErr)
	}

	a.state.Available = false
	if a.phase == PhaseConnectedAvailable {
		a.phase = PhaseConnectedUnavailable
	}
	return cerr
}

func (a *Adapter) notify(prev, next DeviceState) {
	if a.onUpdate == nil || prev.Equal(next) {
		return
	}
	a.onUpdate(next)
}
