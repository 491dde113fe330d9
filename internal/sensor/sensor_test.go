package sensor

import (
	"errors"
	"testing"
)

type fakeState struct {
	on     bool
	volume int
}

func testTable(t *testing.T) *Table[fakeState] {
	t.Helper()
	table, err := NewTable(
		Description[fakeState]{
			Kind:             KindPower,
			Name:             "Power",
			EnabledByDefault: true,
			Value:            func(s fakeState) any { return s.on },
		},
		Description[fakeState]{
			Kind:             KindVolume,
			Name:             "Volume",
			Unit:             "%",
			StateClass:       StateClassMeasurement,
			EnabledByDefault: true,
			Value:            func(s fakeState) any { return s.volume },
		},
		Description[fakeState]{
			Kind:     KindAvailable,
			Key:      "reachable",
			Name:     "Reachable",
			Category: CategoryDiagnostic,
			Value:    func(fakeState) any { return true },
		},
	)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	return table
}

func TestNewTableValidation(t *testing.T) {
	noop := func(fakeState) any { return nil }

	_, err := NewTable(
		Description[fakeState]{Kind: KindPower, Value: noop},
		Description[fakeState]{Kind: KindPower, Value: noop},
	)
	if !errors.Is(err, ErrDuplicateKind) {
		t.Errorf("duplicate kind error = %v, want ErrDuplicateKind", err)
	}

	_, err = NewTable(Description[fakeState]{Kind: KindMuted})
	if !errors.Is(err, ErrMissingAccessor) {
		t.Errorf("missing accessor error = %v, want ErrMissingAccessor", err)
	}
}

func TestDescribeDefaultsKey(t *testing.T) {
	table := testTable(t)

	d, ok := table.Describe(KindVolume)
	if !ok {
		t.Fatal("Describe(KindVolume) not found")
	}
	if d.Key != "volume" || d.Unit != "%" {
		t.Errorf("Describe(KindVolume) = %+v", d)
	}

	if _, ok := table.Describe(KindSource); ok {
		t.Error("Describe(KindSource) found, want missing")
	}
}

func TestValuesSkipsDisabled(t *testing.T) {
	table := testTable(t)

	got := table.Values(fakeState{on: true, volume: 42})
	if len(got) != 2 {
		t.Fatalf("Values() = %v, want 2 entries", got)
	}
	if got["power"] != true || got["volume"] != 42 {
		t.Errorf("Values() = %v", got)
	}
	if _, ok := got["reachable"]; ok {
		t.Error("Values() includes disabled description")
	}
}

func TestEntities(t *testing.T) {
	table := testTable(t)

	entities := table.Entities("entry1", fakeState{volume: 7})
	if len(entities) != 3 {
		t.Fatalf("Entities() = %d entries, want 3", len(entities))
	}

	wantIDs := []string{"entry1_power", "entry1_volume", "entry1_reachable"}
	for i, e := range entities {
		if e.UniqueID != wantIDs[i] {
			t.Errorf("entity %d UniqueID = %q, want %q", i, e.UniqueID, wantIDs[i])
		}
	}
	if entities[2].Category != CategoryDiagnostic || entities[2].EnabledByDefault {
		t.Errorf("reachable entity = %+v", entities[2])
	}
}

func TestMustTablePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustTable() did not panic on invalid table")
		}
	}()
	MustTable(Description[fakeState]{Kind: KindPower})
}
