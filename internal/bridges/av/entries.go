package av

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-av/internal/bridges/av/philipstv"
	"github.com/nerrad567/gray-logic-av/internal/bridges/av/samsungmdc"
	"github.com/nerrad567/gray-logic-av/internal/clock"
	"github.com/nerrad567/gray-logic-av/internal/coordinator"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-av/internal/mdc"
)

// probeTimeout bounds Probe when the caller's context has no deadline.
const probeTimeout = 10 * time.Second

// Entry is one configured device.
type Entry struct {
	ID   string
	Kind Kind
	Name string

	// Host is the network address. Samsung displays may use SerialDevice
	// instead.
	Host string

	// Samsung MDC.
	Port         int
	SerialDevice string
	BaudRate     int
	DisplayID    byte
	SerialNumber string
	Model        string
	Sources      []string

	// Philips TV.
	APIVersion  int
	Username    string
	Password    string
	AllowNotify bool
}

// EntriesFromConfig lists the configured displays and TVs.
func EntriesFromConfig(cfg *config.Config) []Entry {
	entries := make([]Entry, 0, len(cfg.SamsungMDC)+len(cfg.PhilipsTV))
	for _, d := range cfg.SamsungMDC {
		entries = append(entries, Entry{
			ID:           d.ID,
			Kind:         KindSamsungMDC,
			Name:         d.Name,
			Host:         d.Host,
			Port:         d.Port,
			SerialDevice: d.SerialDevice,
			BaudRate:     d.BaudRate,
			DisplayID:    byte(d.DisplayID),
			SerialNumber: d.SerialNumber,
			Model:        d.Model,
			Sources:      d.Sources,
		})
	}
	for _, tv := range cfg.PhilipsTV {
		entries = append(entries, Entry{
			ID:          tv.ID,
			Kind:        KindPhilipsTV,
			Name:        tv.Name,
			Host:        tv.Host,
			APIVersion:  tv.APIVersion,
			Username:    tv.Username,
			Password:    tv.Password,
			AllowNotify: tv.AllowNotify,
		})
	}
	return entries
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ManagerConfig configures an EntryManager.
type ManagerConfig struct {
	// PollInterval and RefreshCooldown are passed to every coordinator.
	PollInterval    time.Duration
	RefreshCooldown time.Duration

	// RetryInterval is the delay before retrying an entry that was not
	// ready. Default: PollInterval.
	RetryInterval time.Duration

	Clock  clock.Clock
	Logger Logger

	// DialMDC and NewTVAPI override the real clients (tests).
	DialMDC  func(e Entry) (samsungmdc.Connection, error)
	NewTVAPI func(e Entry) (philipstv.API, error)
}

// EntryManager sets up and tears down device entries.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type EntryManager struct {
	cfg ManagerConfig

	mu         sync.RWMutex
	devices    map[string]Device
	retries    map[string]*pendingRetry
	onSetup    []func(Device)
	onTeardown []func(string)
	closed     bool

	// ctx outlives individual Setup calls; coordinators and notify loops
	// inherit it.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewEntryManager creates an empty manager.
func NewEntryManager(cfg ManagerConfig) *EntryManager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = coordinator.DefaultInterval
	}
	if cfg.RefreshCooldown <= 0 {
		cfg.RefreshCooldown = coordinator.DefaultCooldown
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = cfg.PollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EntryManager{
		cfg:     cfg,
		devices: make(map[string]Device),
		retries: make(map[string]*pendingRetry),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnSetup registers fn to run after an entry is set up.
func (m *EntryManager) OnSetup(fn func(Device)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSetup = append(m.onSetup, fn)
}

// OnTeardown registers fn to run after an entry is removed.
func (m *EntryManager) OnTeardown(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTeardown = append(m.onTeardown, fn)
}

// pendingRetry marks a scheduled or running retry. A retry only registers
// its device while it is still the entry's current one.
type pendingRetry struct {
	timer clock.Timer
}

// errRetryCancelled is returned when a retry's entry was torn down while it
// was still setting up.
var errRetryCancelled = errors.New("av: retry cancelled")

// Setup builds the client, device and coordinator for e, performs the first
// refresh and registers the device. A failed first refresh returns an error
// wrapping ErrNotReady and leaves nothing registered.
func (m *EntryManager) Setup(ctx context.Context, e Entry) (Device, error) {
	return m.setup(ctx, e, nil)
}

func (m *EntryManager) setup(ctx context.Context, e Entry, retry *pendingRetry) (Device, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidEntry)
	}

	m.mu.RLock()
	_, exists := m.devices[e.ID]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("%w: manager closed", ErrInvalidEntry)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrEntryExists, e.ID)
	}

	dev, err := m.build(ctx, e)
	if err != nil {
		return nil, err
	}

	if err := dev.Refresh(ctx); err != nil {
		dev.Close() //nolint:errcheck // not registered yet
		return nil, fmt.Errorf("%w: %s: %w", ErrNotReady, e.ID, err)
	}

	m.mu.Lock()
	if retry != nil && m.retries[e.ID] != retry {
		m.mu.Unlock()
		dev.Close() //nolint:errcheck // torn down mid-setup
		return nil, fmt.Errorf("%w: %s", errRetryCancelled, e.ID)
	}
	if _, exists := m.devices[e.ID]; exists || m.closed {
		m.mu.Unlock()
		dev.Close() //nolint:errcheck // lost the race
		return nil, fmt.Errorf("%w: %s", ErrEntryExists, e.ID)
	}
	if retry != nil {
		delete(m.retries, e.ID)
	}
	m.devices[e.ID] = dev
	hooks := append([]func(Device){}, m.onSetup...)
	m.mu.Unlock()

	m.start(dev)
	m.logInfo("entry set up", "entry", e.ID, "platform", string(e.Kind))

	for _, fn := range hooks {
		fn(dev)
	}
	return dev, nil
}

// SetupWithRetry calls Setup and, while the entry is not ready, retries it
// every RetryInterval until it succeeds, fails otherwise, or the manager
// is closed. Only the first attempt's error is returned.
func (m *EntryManager) SetupWithRetry(ctx context.Context, e Entry) error {
	_, err := m.Setup(ctx, e)
	if err == nil || !errors.Is(err, ErrNotReady) {
		return err
	}
	m.logWarn("entry not ready, will retry", "entry", e.ID, "retry_in", m.cfg.RetryInterval, "error", err)
	m.scheduleRetry(e)
	return err
}

func (m *EntryManager) scheduleRetry(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	r := &pendingRetry{}
	r.timer = m.cfg.Clock.AfterFunc(m.cfg.RetryInterval, func() { m.runRetry(e, r) })
	m.retries[e.ID] = r
}

// runRetry keeps r in the retry table while Setup runs, so Teardown can
// cancel it until the device is registered.
func (m *EntryManager) runRetry(e Entry, r *pendingRetry) {
	m.mu.RLock()
	current := m.retries[e.ID] == r
	m.mu.RUnlock()
	if !current {
		return
	}

	_, err := m.setup(m.ctx, e, r)
	if err == nil {
		return
	}

	m.mu.Lock()
	current = m.retries[e.ID] == r
	if current {
		delete(m.retries, e.ID)
	}
	m.mu.Unlock()

	switch {
	case !current || errors.Is(err, errRetryCancelled):
		m.logDebug("entry retry cancelled", "entry", e.ID)
	case errors.Is(err, ErrNotReady):
		m.logDebug("entry still not ready", "entry", e.ID, "error", err)
		m.scheduleRetry(e)
	default:
		m.logWarn("entry retry abandoned", "entry", e.ID, "error", err)
	}
}

// Teardown stops the entry's coordinator, closes its connection and
// removes it.
func (m *EntryManager) Teardown(id string) error {
	m.mu.Lock()
	if r, ok := m.retries[id]; ok {
		r.timer.Stop()
		delete(m.retries, id)
	}
	dev, ok := m.devices[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	delete(m.devices, id)
	hooks := append([]func(string){}, m.onTeardown...)
	m.mu.Unlock()

	err := dev.Close()
	m.logInfo("entry torn down", "entry", id)

	for _, fn := range hooks {
		fn(id)
	}
	return err
}

// Get returns the device for id.
func (m *EntryManager) Get(id string) (Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dev, ok := m.devices[id]
	return dev, ok
}

// List returns all devices ordered by id.
func (m *EntryManager) List() []Device {
	m.mu.RLock()
	out := make([]Device, 0, len(m.devices))
	for _, dev := range m.devices {
		out = append(out, dev)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Count returns the number of set-up entries.
func (m *EntryManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// Close tears down every entry and cancels pending retries.
func (m *EntryManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, r := range m.retries {
		r.timer.Stop()
		delete(m.retries, id)
	}
	ids := make([]string, 0, len(m.devices))
	for id := range m.devices {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Teardown(id); err != nil {
			m.logWarn("closing entry", "entry", id, "error", err)
		}
	}
	m.cancel()
}

func (m *EntryManager) build(_ context.Context, e Entry) (Device, error) {
	cc := coordinator.Config{
		Name:     e.ID,
		Interval: m.cfg.PollInterval,
		Cooldown: m.cfg.RefreshCooldown,
		Clock:    m.cfg.Clock,
	}
	if m.cfg.Logger != nil {
		cc.Logger = m.cfg.Logger
	}

	switch e.Kind {
	case KindSamsungMDC:
		conn, err := m.dialMDC(e)
		if err != nil {
			return nil, err
		}
		sources := make([]samsungmdc.Source, len(e.Sources))
		for i, s := range e.Sources {
			sources[i] = samsungmdc.Source(s)
		}
		opts := samsungmdc.Options{
			DisplayID:    e.DisplayID,
			SerialNumber: e.SerialNumber,
			Model:        e.Model,
			Sources:      sources,
			Clock:        m.cfg.Clock,
		}
		if opts.SerialNumber == "" {
			opts.SerialNumber = e.ID
		}
		if m.cfg.Logger != nil {
			opts.Logger = m.cfg.Logger
		}
		dev, err := newMDCDevice(e.ID, e.Name, conn, opts, cc)
		if err != nil {
			conn.Close() //nolint:errcheck // nothing opened yet
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidEntry, e.ID, err)
		}
		return dev, nil

	case KindPhilipsTV:
		api, err := m.newTVAPI(e)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidEntry, e.ID, err)
		}
		tc := philipstv.Config{
			Name:     e.ID,
			API:      api,
			Options:  philipstv.Options{AllowNotify: e.AllowNotify},
			Clock:    m.cfg.Clock,
			Interval: m.cfg.PollInterval,
			Cooldown: m.cfg.RefreshCooldown,
		}
		if m.cfg.Logger != nil {
			tc.Logger = m.cfg.Logger
		}
		coord, err := philipstv.NewCoordinator(tc)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidEntry, e.ID, err)
		}
		return &tvDevice{id: e.ID, name: e.Name, coord: coord}, nil

	default:
		return nil, fmt.Errorf("%w: %s: unknown platform %q", ErrInvalidEntry, e.ID, e.Kind)
	}
}

func (m *EntryManager) dialMDC(e Entry) (samsungmdc.Connection, error) {
	if m.cfg.DialMDC != nil {
		return m.cfg.DialMDC(e)
	}
	var dial mdc.Dialer
	switch {
	case e.SerialDevice != "":
		dial = mdc.SerialDialer(e.SerialDevice, e.BaudRate)
	case e.Host != "":
		dial = mdc.TCPDialer(e.Host, e.Port)
	default:
		return nil, fmt.Errorf("%w: %s: host or serial_device is required", ErrInvalidEntry, e.ID)
	}
	mc := mdc.Config{Dial: dial}
	if m.cfg.Logger != nil {
		mc.Logger = m.cfg.Logger
	}
	client, err := mdc.NewClient(mc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidEntry, e.ID, err)
	}
	return client, nil
}

func (m *EntryManager) newTVAPI(e Entry) (philipstv.API, error) {
	if m.cfg.NewTVAPI != nil {
		return m.cfg.NewTVAPI(e)
	}
	return philipstv.NewClient(philipstv.ClientConfig{
		Host:       e.Host,
		APIVersion: e.APIVersion,
		Username:   e.Username,
		Password:   e.Password,
	})
}

// start arms the device's scheduled refreshes under the manager context.
func (m *EntryManager) start(dev Device) {
	switch d := dev.(type) {
	case *mdcDevice:
		d.coord.Start(m.ctx)
	case *tvDevice:
		d.coord.Start(m.ctx)
	}
}

func (m *EntryManager) logInfo(msg string, kv ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Info(msg, kv...)
	}
}

func (m *EntryManager) logWarn(msg string, kv ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Warn(msg, kv...)
	}
}

func (m *EntryManager) logDebug(msg string, kv ...any) {
	if m.cfg.Logger != nil {
		m.cfg.Logger.Debug(msg, kv...)
	}
}

// Probe checks that a Samsung display answers MDC at host:port before an
// entry is created. Unreachable hosts return ErrCannotConnect; any other
// failure returns ErrUnknown.
func Probe(ctx context.Context, host string, port int) error {
	if host == "" {
		return fmt.Errorf("%w: host is required", ErrUnknown)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, probeTimeout)
		defer cancel()
	}

	client, err := mdc.NewClient(mdc.Config{Dial: mdc.TCPDialer(host, port)})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnknown, err)
	}
	defer client.Close() //nolint:errcheck // probe connection

	_, err = client.Status(ctx, 0)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mdc.ErrConnectionFailed),
		errors.Is(err, mdc.ErrReadTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %w", ErrCannotConnect, host, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrUnknown, host, err)
	}
}
