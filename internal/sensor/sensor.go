// Package sensor describes the entity attributes the AV bridge publishes.
//
// Each device family declares a Table mapping a Kind to a Description with a
// pure accessor over its state type. Tables are built once, at package
// initialisation, and are read-only afterwards.
package sensor

import (
	"errors"
	"fmt"
)

// Kind identifies a sensor attribute.
type Kind int

// Sensor kinds.
const (
	KindPower Kind = iota + 1
	KindVolume
	KindMuted
	KindSource
	KindAvailable
	KindAssumedState
	KindPowerState
	KindNotifyActive
)

// String returns the default key for the kind.
func (k Kind) String() string {
	switch k {
	case KindPower:
		return "power"
	case KindVolume:
		return "volume"
	case KindMuted:
		return "muted"
	case KindSource:
		return "source"
	case KindAvailable:
		return "available"
	case KindAssumedState:
		return "assumed_state"
	case KindPowerState:
		return "power_state"
	case KindNotifyActive:
		return "notify_active"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// EntityCategory groups non-primary entities.
type EntityCategory string

// Entity categories.
const (
	CategoryNone       EntityCategory = ""
	CategoryDiagnostic EntityCategory = "diagnostic"
	CategoryConfig     EntityCategory = "config"
)

// StateClass describes how a numeric value evolves.
type StateClass string

// State classes.
const (
	StateClassNone        StateClass = ""
	StateClassMeasurement StateClass = "measurement"
)

// Description is the static contract for one sensor attribute.
type Description[S any] struct {
	Kind             Kind
	Key              string
	Name             string
	Unit             string
	DeviceClass      string
	Category         EntityCategory
	EnabledByDefault bool
	StateClass       StateClass

	// Value extracts the attribute from a state snapshot. It must not
	// retain or modify the state.
	Value func(S) any
}

// Table is an immutable set of descriptions for one state type.
type Table[S any] struct {
	order  []Kind
	byKind map[Kind]Description[S]
}

// ErrDuplicateKind is returned when a table declares a kind twice.
var ErrDuplicateKind = errors.New("sensor: duplicate kind")

// ErrMissingAccessor is returned when a description has no Value func.
var ErrMissingAccessor = errors.New("sensor: missing accessor")

// NewTable validates descs and builds a table. Keys default to the kind name.
func NewTable[S any](descs ...Description[S]) (*Table[S], error) {
	t := &Table[S]{byKind: make(map[Kind]Description[S], len(descs))}

	for _, d := range descs {
		if _, dup := t.byKind[d.Kind]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKind, d.Kind)
		}
		if d.Value == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingAccessor, d.Kind)
		}
		if d.Key == "" {
			d.Key = d.Kind.String()
		}
		t.order = append(t.order, d.Kind)
		t.byKind[d.Kind] = d
	}
	return t, nil
}

// MustTable is NewTable for package-level tables.
func MustTable[S any](descs ...Description[S]) *Table[S] {
	t, err := NewTable(descs...)
	if err != nil {
		panic(err)
	}
	return t
}

// Describe returns the description for k.
func (t *Table[S]) Describe(k Kind) (Description[S], bool) {
	d, ok := t.byKind[k]
	return d, ok
}

// All returns the descriptions in declaration order.
func (t *Table[S]) All() []Description[S] {
	out := make([]Description[S], 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.byKind[k])
	}
	return out
}

// Values evaluates every enabled-by-default description against s, keyed
// by description key.
func (t *Table[S]) Values(s S) map[string]any {
	out := make(map[string]any, len(t.order))
	for _, k := range t.order {
		d := t.byKind[k]
		if !d.EnabledByDefault {
			continue
		}
		out[d.Key] = d.Value(s)
	}
	return out
}

// Entity is a published sensor entity.
type Entity struct {
	UniqueID         string         `json:"unique_id"`
	Key              string         `json:"key"`
	Name             string         `json:"name"`
	Unit             string         `json:"unit,omitempty"`
	DeviceClass      string         `json:"device_class,omitempty"`
	Category         EntityCategory `json:"entity_category,omitempty"`
	StateClass       StateClass     `json:"state_class,omitempty"`
	EnabledByDefault bool           `json:"enabled_by_default"`
	Value            any            `json:"value"`
}

// Entities renders every description (enabled or not) for one entry.
func (t *Table[S]) Entities(entryID string, s S) []Entity {
	out := make([]Entity, 0, len(t.order))
	for _, k := range t.order {
		d := t.byKind[k]
		out = append(out, Entity{
			UniqueID:         UniqueID(entryID, d.Key),
			Key:              d.Key,
			Name:             d.Name,
			Unit:             d.Unit,
			DeviceClass:      d.DeviceClass,
			Category:         d.Category,
			StateClass:       d.StateClass,
			EnabledByDefault: d.EnabledByDefault,
			Value:            d.Value(s),
		})
	}
	return out
}

// UniqueID builds an entity unique id from its entry and description key.
func UniqueID(entryID, key string) string {
	return entryID + "_" + key
}
