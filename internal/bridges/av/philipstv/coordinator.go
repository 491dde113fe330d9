// Package philipstv adapts Philips TVs (JointSpace API) to the AV bridge.
//
// The Coordinator polls the TV every 30 seconds. While the TV is fully on
// and supports it, a long-poll notify loop runs alongside the poll so
// changes made with the remote show up immediately. The loop never runs in
// standby: TVs in low-power states answer HTTP erratically.
package philipstv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-av/internal/clock"
	"github.com/nerrad567/gray-logic-av/internal/coordinator"
)

// Coordinator timing.
const (
	UpdateInterval  = 30 * time.Second
	RefreshCooldown = 2 * time.Second
	NotifyTimeout   = 130 * time.Second
)

// API is the TV client used by the coordinator. *Client implements it.
type API interface {
	Update(ctx context.Context) error
	On() bool
	PowerState() string
	NotifyChangeSupported() bool
	NotifyChange(ctx context.Context, timeout time.Duration) (bool, error)
	SetPowerState(ctx context.Context, state string) error
	SetVolume(ctx context.Context, level *float64, muted *bool) error
	Volume() *Volume
	System() *System
}

var _ API = (*Client)(nil)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options are the user-editable entry options.
type Options struct {
	// AllowNotify enables the notify long-poll loop.
	AllowNotify bool
}

// Config configures a Coordinator.
type Config struct {
	Name    string
	API     API
	Options Options
	Clock   clock.Clock
	Logger  Logger

	// Interval and Cooldown override the defaults (tests).
	Interval time.Duration
	Cooldown time.Duration
}

// Coordinator keeps one TV's state fresh.
type Coordinator struct {
	*coordinator.Coordinator

	api    API
	opts   Options
	logger Logger

	// TurnOn holds the actions run when the TV is off the network.
	TurnOn *PluggableAction

	mu           sync.Mutex
	baseCtx      context.Context
	notifyCancel context.CancelFunc
	notifyDone   chan struct{}
}

// NewCoordinator creates a stopped coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.API == nil {
		return nil, fmt.Errorf("%w: api is required", ErrInvalidArgument)
	}
	if cfg.Interval == 0 {
		cfg.Interval = UpdateInterval
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = RefreshCooldown
	}

	c := &Coordinator{
		api:     cfg.API,
		opts:    cfg.Options,
		logger:  cfg.Logger,
		baseCtx: context.Background(),
	}

	var coordLogger coordinator.Logger
	if cfg.Logger != nil {
		coordLogger = cfg.Logger
	}
	inner, err := coordinator.New(coordinator.Config{
		Name:     cfg.Name,
		Interval: cfg.Interval,
		Cooldown: cfg.Cooldown,
		Refresh:  c.update,
		Clock:    cfg.Clock,
		Logger:   coordLogger,
	})
	if err != nil {
		return nil, err
	}
	c.Coordinator = inner
	c.TurnOn = NewPluggableAction(inner.NotifyListeners)

	inner.OnListenersGone(c.stopNotify)
	inner.OnStop(c.stopNotify)
	return c, nil
}

// Start starts scheduled refreshes. The notify loop inherits ctx.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()
	c.Coordinator.Start(ctx)
}

// API returns the TV client.
func (c *Coordinator) API() API {
	return c.api
}

// NotifyRunning reports whether the notify loop is active.
func (c *Coordinator) NotifyRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifyDone != nil && !isClosed(c.notifyDone)
}

// PowerOn turns the TV on: over the API when it is reachable, otherwise by
// running the attached turn-on actions.
func (c *Coordinator) PowerOn(ctx context.Context) error {
	if c.api.On() && c.api.PowerState() != "" {
		if err := c.api.SetPowerState(ctx, "On"); err != nil {
			return err
		}
		c.RequestRefresh()
		return nil
	}
	if !c.TurnOn.Attached() {
		return ErrTurnOnUnsupported
	}
	c.TurnOn.Run(ctx)
	return nil
}

// PowerOff puts the TV in standby.
func (c *Coordinator) PowerOff(ctx context.Context) error {
	if err := c.api.SetPowerState(ctx, "Standby"); err != nil {
		return err
	}
	c.RequestRefresh()
	return nil
}

// SetVolume sets the volume from a 0..1 level.
func (c *Coordinator) SetVolume(ctx context.Context, level float64) error {
	if err := c.api.SetVolume(ctx, &level, nil); err != nil {
		return err
	}
	c.RequestRefresh()
	return nil
}

// SetMute mutes or unmutes the TV.
func (c *Coordinator) SetMute(ctx context.Context, muted bool) error {
	if err := c.api.SetVolume(ctx, nil, &muted); err != nil {
		return err
	}
	c.RequestRefresh()
	return nil
}

// State returns a snapshot for publishing.
func (c *Coordinator) State() State {
	st := State{
		On:           c.api.On(),
		PowerState:   c.api.PowerState(),
		Available:    c.LastUpdateSuccess(),
		NotifyActive: c.NotifyRunning(),
	}
	if v := c.api.Volume(); v != nil {
		st.Muted = v.Muted
		if v.Max > v.Min {
			level := float64(v.Current-v.Min) / float64(v.Max-v.Min)
			st.VolumeLevel = &level
		}
	}
	if s := c.api.System(); s != nil {
		st.Name = s.Name
	}
	return st
}

// update is the refresh function. Connection failures are expected while
// the TV is in deep standby and are not reported.
func (c *Coordinator) update(ctx context.Context) error {
	if err := c.api.Update(ctx); err != nil {
		if errors.Is(err, ErrConnectionFailure) {
			return nil
		}
		return err
	}
	c.scheduleNotify()
	return nil
}

func (c *Coordinator) notifyWanted() bool {
	return c.api.On() &&
		c.api.PowerState() == "On" &&
		c.api.NotifyChangeSupported() &&
		c.opts.AllowNotify
}

func (c *Coordinator) scheduleNotify() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.notifyDone != nil && !isClosed(c.notifyDone) {
		return
	}
	if !c.notifyWanted() {
		return
	}

	ctx, cancel := context.WithCancel(c.baseCtx)
	done := make(chan struct{})
	c.notifyCancel = cancel
	c.notifyDone = done

	go c.notifyLoop(ctx, done)
}

func (c *Coordinator) notifyLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for c.notifyWanted() {
		changed, err := c.api.NotifyChange(ctx, NotifyTimeout)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if c.logger != nil {
				c.logger.Debug("aborting notify due to unexpected return", "error", err)
			}
			return
		}
		if changed {
			c.SetUpdated()
		}
	}
}

func (c *Coordinator) stopNotify() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.notifyCancel != nil {
		c.notifyCancel()
		c.notifyCancel = nil
	}
	c.notifyDone = nil
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
