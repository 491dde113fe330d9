package samsungmdc

import "github.com/nerrad567/gray-logic-av/internal/sensor"

// Sensors describes the attributes published for a display.
var Sensors = sensor.MustTable(
	sensor.Description[DeviceState]{
		Kind:             sensor.KindPower,
		Key:              "state",
		Name:             "State",
		DeviceClass:      "tv",
		EnabledByDefault: true,
		Value:            func(s DeviceState) any { return s.EntityState() },
	},
	sensor.Description[DeviceState]{
		Kind:             sensor.KindVolume,
		Name:             "Volume",
		Unit:             "%",
		StateClass:       sensor.StateClassMeasurement,
		EnabledByDefault: true,
		Value: func(s DeviceState) any {
			if s.Volume == nil {
				return nil
			}
			return *s.Volume
		},
	},
	sensor.Description[DeviceState]{
		Kind:             sensor.KindMuted,
		Name:             "Muted",
		EnabledByDefault: true,
		Value:            func(s DeviceState) any { return s.Muted },
	},
	sensor.Description[DeviceState]{
		Kind:             sensor.KindSource,
		Name:             "Input source",
		EnabledByDefault: true,
		Value: func(s DeviceState) any {
			if s.Source == "" {
				return nil
			}
			return string(s.Source)
		},
	},
	sensor.Description[DeviceState]{
		Kind:             sensor.KindAvailable,
		Name:             "Reachable",
		DeviceClass:      "connectivity",
		Category:         sensor.CategoryDiagnostic,
		EnabledByDefault: true,
		Value:            func(s DeviceState) any { return s.Available },
	},
	sensor.Description[DeviceState]{
		Kind:     sensor.KindAssumedState,
		Name:     "Assumed state",
		Category: sensor.CategoryDiagnostic,
		Value:    func(s DeviceState) any { return s.AwaitingPowerOn },
	},
)
