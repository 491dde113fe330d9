// Package coordinator schedules device refreshes.
//
// A Coordinator calls a refresh function on a fixed interval, coalesces
// on-demand refresh requests through a cooldown, and tells registered
// listeners when new data is available. One coordinator serves one device
// entry; coordinators share nothing.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-av/internal/clock"
)

// Defaults applied by New.
const (
	DefaultInterval = 30 * time.Second
	DefaultCooldown = 2 * time.Second
)

// RefreshFunc fetches fresh data for one device.
type RefreshFunc func(ctx context.Context) error

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds coordinator configuration.
type Config struct {
	// Name identifies the coordinator in logs.
	Name string

	// Interval between scheduled refreshes. Default: 30 seconds.
	Interval time.Duration

	// Cooldown delays RequestRefresh; requests inside the window coalesce.
	// Default: 2 seconds.
	Cooldown time.Duration

	// Refresh is required.
	Refresh RefreshFunc

	// Clock drives both timers. Default: wall clock.
	Clock clock.Clock

	// Logger is optional.
	Logger Logger
}

// Coordinator runs scheduled and requested refreshes.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Refreshes never overlap.
type Coordinator struct {
	cfg Config

	mu              sync.Mutex
	ctx             context.Context
	cancel          context.CancelFunc
	running         bool
	intervalTimer   clock.Timer
	debounceTimer   clock.Timer
	listeners       map[uint64]func()
	nextListener    uint64
	onListenersGone []func()
	onStop          []func()
	lastErr         error
	lastRefresh     time.Time
	hasRefreshed    bool

	refreshMu sync.Mutex
}

// New creates a stopped coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Refresh == nil {
		return nil, errors.New("coordinator: refresh func is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	return &Coordinator{
		cfg:       cfg,
		listeners: make(map[uint64]func()),
	}, nil
}

// Start arms the interval timer. The first scheduled refresh happens one
// interval after Start; call Refresh first for an immediate update.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.running = true
	c.scheduleLocked()
}

// Stop cancels pending refreshes and runs the stop hooks. Safe to call
// more than once.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	if c.intervalTimer != nil {
		c.intervalTimer.Stop()
		c.intervalTimer = nil
	}
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
	c.cancel()
	hooks := append([]func(){}, c.onStop...)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Running reports whether the coordinator has been started and not stopped.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Refresh runs the refresh function now and notifies listeners.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	err := c.cfg.Refresh(ctx)

	c.mu.Lock()
	prevErr := c.lastErr
	c.lastErr = err
	c.lastRefresh = c.cfg.Clock.Now()
	c.hasRefreshed = true
	c.mu.Unlock()

	if c.cfg.Logger != nil {
		switch {
		case err != nil && prevErr == nil:
			c.cfg.Logger.Warn("refresh failed", "coordinator", c.cfg.Name, "error", err)
		case err == nil && prevErr != nil:
			c.cfg.Logger.Info("refresh recovered", "coordinator", c.cfg.Name)
		}
	}

	c.NotifyListeners()
	return err
}

// RequestRefresh schedules a refresh after the cooldown. Requests made
// while one is pending are absorbed by it.
func (c *Coordinator) RequestRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.debounceTimer != nil {
		return
	}
	c.debounceTimer = c.cfg.Clock.AfterFunc(c.cfg.Cooldown, func() {
		c.mu.Lock()
		c.debounceTimer = nil
		running, ctx := c.running, c.ctx
		c.mu.Unlock()

		if running {
			_ = c.Refresh(ctx) //nolint:errcheck // logged and recorded in Refresh
		}
	})
}

// SetUpdated notifies listeners of data that arrived outside a refresh.
func (c *Coordinator) SetUpdated() {
	c.mu.Lock()
	c.lastErr = nil
	c.lastRefresh = c.cfg.Clock.Now()
	c.hasRefreshed = true
	c.mu.Unlock()

	c.NotifyListeners()
}

// AddListener registers fn for update notifications. The returned func
// removes it; removing the last listener runs the OnListenersGone hooks.
func (c *Coordinator) AddListener(fn func()) (remove func()) {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.removeListener(id) })
	}
}

// Listeners returns the number of registered listeners.
func (c *Coordinator) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// OnListenersGone registers fn to run when the last listener is removed.
func (c *Coordinator) OnListenersGone(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onListenersGone = append(c.onListenersGone, fn)
}

// OnStop registers fn to run when the coordinator stops.
func (c *Coordinator) OnStop(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStop = append(c.onStop, fn)
}

// LastError returns the error from the most recent refresh.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LastUpdateSuccess reports whether at least one refresh ran and the most
// recent one succeeded.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasRefreshed && c.lastErr == nil
}

// LastRefresh returns when the last refresh finished.
func (c *Coordinator) LastRefresh() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRefresh
}

func (c *Coordinator) removeListener(id uint64) {
	c.mu.Lock()
	if _, ok := c.listeners[id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.listeners, id)
	var hooks []func()
	if len(c.listeners) == 0 {
		hooks = append(hooks, c.onListenersGone...)
	}
	c.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// NotifyListeners calls every listener without touching refresh state.
func (c *Coordinator) NotifyListeners() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// scheduleLocked arms the next interval tick. Callers hold c.mu.
func (c *Coordinator) scheduleLocked() {
	c.intervalTimer = c.cfg.Clock.AfterFunc(c.cfg.Interval, c.tick)
}

func (c *Coordinator) tick() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.mu.Unlock()

	_ = c.Refresh(ctx) //nolint:errcheck // logged and recorded in Refresh

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.scheduleLocked()
	}
}
