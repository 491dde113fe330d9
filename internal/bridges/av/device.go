package av

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/gray-logic-av/internal/bridges/av/philipstv"
	"github.com/nerrad567/gray-logic-av/internal/bridges/av/samsungmdc"
	"github.com/nerrad567/gray-logic-av/internal/coordinator"
	"github.com/nerrad567/gray-logic-av/internal/sensor"
)

// Kind is the device family of an entry.
type Kind string

// Supported entry kinds.
const (
	KindSamsungMDC Kind = "samsung_mdc"
	KindPhilipsTV  Kind = "philips_tv"
)

// Snapshot is a point-in-time view of one device, shared by MQTT state
// messages, the REST API and telemetry.
type Snapshot struct {
	DeviceID string `json:"device_id"`
	Kind     Kind   `json:"platform"`
	Name     string `json:"name"`
	UniqueID string `json:"unique_id,omitempty"`

	// EntityState is "on", "off" or "unavailable".
	EntityState string `json:"entity_state"`
	Available   bool   `json:"available"`

	Power  bool   `json:"power"`
	Volume *int   `json:"volume,omitempty"`
	Muted  bool   `json:"muted"`
	Source string `json:"source,omitempty"`

	SourceList []string `json:"source_list,omitempty"`

	// Values holds the enabled sensor values keyed by sensor key.
	Values map[string]any `json:"state"`

	// Entities holds every sensor, enabled or not.
	Entities []sensor.Entity `json:"entities,omitempty"`

	LastRefresh time.Time `json:"last_refresh,omitzero"`
}

// Device is one set-up entry. The bridge and the REST API only talk to
// devices through this interface.
type Device interface {
	ID() string
	Kind() Kind
	Snapshot() Snapshot

	// Refresh polls the device now.
	Refresh(ctx context.Context) error

	// RequestRefresh schedules a debounced refresh.
	RequestRefresh()

	// AddListener registers fn for state updates and returns its remover.
	AddListener(fn func()) (remove func())

	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
	SetMute(ctx context.Context, muted bool) error

	// SetVolume takes a 0..1 level.
	SetVolume(ctx context.Context, level float64) error
	SelectSource(ctx context.Context, source string) error

	// Close stops refreshing and releases the connection.
	Close() error
}

// mdcDevice is a Samsung MDC display polled by its own coordinator.
type mdcDevice struct {
	id      string
	name    string
	adapter *samsungmdc.Adapter
	coord   *coordinator.Coordinator
}

var _ Device = (*mdcDevice)(nil)

func newMDCDevice(id, name string, conn samsungmdc.Connection, opts samsungmdc.Options, cc coordinator.Config) (*mdcDevice, error) {
	d := &mdcDevice{id: id, name: name}

	// Commands change state without a poll (turn-on, grace expiry); the
	// adapter reports those through OnUpdate.
	opts.OnUpdate = func(samsungmdc.DeviceState) {
		if d.coord != nil {
			d.coord.NotifyListeners()
		}
	}
	adapter, err := samsungmdc.New(conn, opts)
	if err != nil {
		return nil, err
	}
	d.adapter = adapter

	cc.Refresh = func(ctx context.Context) error {
		_, err := adapter.Poll(ctx)
		return err
	}
	coord, err := coordinator.New(cc)
	if err != nil {
		return nil, err
	}
	d.coord = coord
	return d, nil
}

func (d *mdcDevice) ID() string { return d.id }
func (d *mdcDevice) Kind() Kind { return KindSamsungMDC }
func (d *mdcDevice) RequestRefresh() { d.coord.RequestRefresh() }

func (d *mdcDevice) Refresh(ctx context.Context) error {
	return d.coord.Refresh(ctx)
}

func (d *mdcDevice) AddListener(fn func()) func() {
	return d.coord.AddListener(fn)
}

func (d *mdcDevice) Snapshot() Snapshot {
	st := d.adapter.State()
	sources := d.adapter.SourceList()
	list := make([]string, len(sources))
	for i, s := range sources {
		list[i] = string(s)
	}
	name := d.name
	if name == "" {
		name = d.adapter.Name()
	}
	return Snapshot{
		DeviceID:    d.id,
		Kind:        KindSamsungMDC,
		Name:        name,
		UniqueID:    d.adapter.UniqueID(),
		EntityState: st.EntityState(),
		Available:   st.EntityState() != "unavailable",
		Power:       st.Power == samsungmdc.PowerOn,
		Volume:      st.Volume,
		Muted:       st.Muted,
		Source:      string(st.Source),
		SourceList:  list,
		Values:      samsungmdc.Sensors.Values(st),
		Entities:    samsungmdc.Sensors.Entities(d.id, st),
		LastRefresh: d.coord.LastRefresh(),
	}
}

func (d *mdcDevice) TurnOn(ctx context.Context) error {
	return d.adapter.TurnOn(ctx)
}

func (d *mdcDevice) TurnOff(ctx context.Context) error {
	if err := d.adapter.TurnOff(ctx); err != nil {
		return err
	}
	d.coord.RequestRefresh()
	return nil
}

func (d *mdcDevice) SetMute(ctx context.Context, muted bool) error {
	if err := d.adapter.SetMute(ctx, muted); err != nil {
		return err
	}
	d.coord.RequestRefresh()
	return nil
}

func (d *mdcDevice) SetVolume(ctx context.Context, level float64) error {
	if err := d.adapter.SetVolume(ctx, level); err != nil {
		return err
	}
	d.coord.RequestRefresh()
	return nil
}

func (d *mdcDevice) SelectSource(ctx context.Context, source string) error {
	if err := d.adapter.SelectSource(ctx, samsungmdc.Source(source)); err != nil {
		return err
	}
	d.coord.RequestRefresh()
	return nil
}

func (d *mdcDevice) Close() error {
	d.coord.Stop()
	return d.adapter.Close()
}

// tvDevice is a Philips TV driven by its coordinator.
type tvDevice struct {
	id    string
	name  string
	coord *philipstv.Coordinator
}

var _ Device = (*tvDevice)(nil)

func (d *tvDevice) ID() string { return d.id }
func (d *tvDevice) Kind() Kind { return KindPhilipsTV }
func (d *tvDevice) RequestRefresh() { d.coord.RequestRefresh() }

func (d *tvDevice) Refresh(ctx context.Context) error {
	return d.coord.Refresh(ctx)
}

func (d *tvDevice) AddListener(fn func()) func() {
	return d.coord.AddListener(fn)
}

func (d *tvDevice) Snapshot() Snapshot {
	st := d.coord.State()
	s := Snapshot{
		DeviceID:    d.id,
		Kind:        KindPhilipsTV,
		Name:        st.Name,
		EntityState: st.EntityState(),
		Available:   st.Available,
		Power:       st.EntityState() == "on",
		Muted:       st.Muted,
		Values:      philipstv.Sensors.Values(st),
		Entities:    philipstv.Sensors.Entities(d.id, st),
		LastRefresh: d.coord.LastRefresh(),
	}
	if st.VolumeLevel != nil {
		v := int(math.Round(*st.VolumeLevel * 100))
		s.Volume = &v
	}
	if d.name != "" {
		s.Name = d.name
	}
	if s.Name == "" {
		s.Name = d.id
	}
	return s
}

func (d *tvDevice) TurnOn(ctx context.Context) error {
	return d.coord.PowerOn(ctx)
}

func (d *tvDevice) TurnOff(ctx context.Context) error {
	return d.coord.PowerOff(ctx)
}

func (d *tvDevice) SetMute(ctx context.Context, muted bool) error {
	return d.coord.SetMute(ctx, muted)
}

func (d *tvDevice) SetVolume(ctx context.Context, level float64) error {
	if math.IsNaN(level) {
		return fmt.Errorf("%w: volume is NaN", ErrInvalidParameters)
	}
	return d.coord.SetVolume(ctx, math.Max(0, math.Min(1, level)))
}

func (d *tvDevice) SelectSource(context.Context, string) error {
	return fmt.Errorf("%w: %s has no source selection", ErrUnsupported, KindPhilipsTV)
}

func (d *tvDevice) Close() error {
	d.coord.Stop()
	return nil
}
