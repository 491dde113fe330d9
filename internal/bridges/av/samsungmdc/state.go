package samsungmdc

import "fmt"

// Power is the last known power state of a display.
type Power int

// Power states. The zero value is PowerUnknown.
const (
	PowerUnknown Power = iota
	PowerOn
	PowerOff
)

// String returns the lowercase power state.
func (p Power) String() string {
	switch p {
	case PowerOn:
		return "on"
	case PowerOff:
		return "off"
	default:
		return "unknown"
	}
}

// MarshalText encodes the power state as its string form.
func (p Power) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// DeviceState is the adapter's view of a display.
//
// Invariant: AwaitingPowerOn implies Power == PowerOn.
type DeviceState struct {
	Power Power `json:"power"`

	// Volume is 0..100, nil until the first successful poll.
	Volume *int `json:"volume,omitempty"`

	Muted bool `json:"muted"`

	// Source is empty until the first successful poll.
	Source Source `json:"source,omitempty"`

	Available       bool `json:"available"`
	AwaitingPowerOn bool `json:"awaiting_power_on"`
}

// VolumeLevel returns the volume as 0..1, or nil when unknown.
func (s DeviceState) VolumeLevel() *float64 {
	if s.Volume == nil {
		return nil
	}
	v := float64(*s.Volume) / 100.0
	return &v
}

// EntityState returns the media player state string: "unavailable" when
// the display is not reachable, otherwise "on" or "off".
func (s DeviceState) EntityState() string {
	if !s.Available && !s.AwaitingPowerOn {
		return "unavailable"
	}
	if s.Power == PowerOn {
		return "on"
	}
	return "off"
}

// Equal reports whether two states are identical.
func (s DeviceState) Equal(o DeviceState) bool {
	if (s.Volume == nil) != (o.Volume == nil) {
		return false
	}
	if s.Volume != nil && *s.Volume != *o.Volume {
		return false
	}
	return s.Power == o.Power &&
		s.Muted == o.Muted &&
		s.Source == o.Source &&
		s.Available == o.Available &&
		s.AwaitingPowerOn == o.AwaitingPowerOn
}

// Phase is the adapter connection state.
type Phase int

// Adapter phases.
const (
	PhaseDisconnected Phase = iota
	PhaseConnectedAvailable
	PhaseConnectedUnavailable
	PhaseAwaitingPowerOn
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnectedAvailable:
		return "connected_available"
	case PhaseConnectedUnavailable:
		return "connected_unavailable"
	case PhaseAwaitingPowerOn:
		return "awaiting_power_on"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}
