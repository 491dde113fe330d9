package philipstv

import "github.com/nerrad567/gray-logic-av/internal/sensor"

// State is the published view of a TV.
type State struct {
	On           bool     `json:"on"`
	PowerState   string   `json:"power_state"`
	VolumeLevel  *float64 `json:"volume_level,omitempty"`
	Muted        bool     `json:"muted"`
	Name         string   `json:"name,omitempty"`
	Available    bool     `json:"available"`
	NotifyActive bool     `json:"notify_active"`
}

// EntityState returns "on" only when the TV is reachable and fully on.
func (s State) EntityState() string {
	if s.On && s.PowerState == "On" {
		return "on"
	}
	return "off"
}

// Sensors describes the attributes published for a TV.
var Sensors = sensor.MustTable(
	sensor.Description[State]{
		Kind:             sensor.KindPower,
		Key:              "state",
		Name:             "State",
		DeviceClass:      "tv",
		EnabledByDefault: true,
		Value:            func(s State) any { return s.EntityState() },
	},
	sensor.Description[State]{
		Kind:             sensor.KindPowerState,
		Name:             "Power state",
		Category:         sensor.CategoryDiagnostic,
		EnabledByDefault: true,
		Value:            func(s State) any { return s.PowerState },
	},
	sensor.Description[State]{
		Kind:             sensor.KindVolume,
		Name:             "Volume",
		Unit:             "%",
		StateClass:       sensor.StateClassMeasurement,
		EnabledByDefault: true,
		Value: func(s State) any {
			if s.VolumeLevel == nil {
				return nil
			}
			return int(*s.VolumeLevel*100 + 0.5)
		},
	},
	sensor.Description[State]{
		Kind:             sensor.KindMuted,
		Name:             "Muted",
		EnabledByDefault: true,
		Value:            func(s State) any { return s.Muted },
	},
	sensor.Description[State]{
		Kind:             sensor.KindAvailable,
		Name:             "Reachable",
		DeviceClass:      "connectivity",
		Category:         sensor.CategoryDiagnostic,
		EnabledByDefault: true,
		Value:            func(s State) any { return s.Available },
	},
	sensor.Description[State]{
		Kind:     sensor.KindNotifyActive,
		Name:     "Push updates",
		Category: sensor.CategoryDiagnostic,
		Value:    func(s State) any { return s.NotifyActive },
	},
)
