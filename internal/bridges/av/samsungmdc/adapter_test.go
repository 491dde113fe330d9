package samsungmdc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-av/internal/clock"
	"github.com/nerrad567/gray-logic-av/internal/mdc"
)

// mockConnection records calls and returns canned results.
type mockConnection struct {
	mu sync.Mutex

	status    mdc.Status
	statusErr error
	powerErr  error
	sendErr   error

	calls  []string
	closes int
}

func (m *mockConnection) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *mockConnection) Status(_ context.Context, _ byte) (mdc.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("status")
	return m.status, m.statusErr
}

func (m *mockConnection) Power(_ context.Context, _ byte, state mdc.PowerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("power:" + state.String())
	return m.powerErr
}

func (m *mockConnection) Volume(_ context.Context, _ byte, level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(fmt.Sprintf("volume:%d", level))
	return m.sendErr
}

func (m *mockConnection) Mute(_ context.Context, _ byte, muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(fmt.Sprintf("mute:%t", muted))
	return m.sendErr
}

func (m *mockConnection) InputSource(_ context.Context, _ byte, src mdc.InputSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(fmt.Sprintf("input:0x%02X", byte(src)))
	return m.sendErr
}

func (m *mockConnection) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *mockConnection) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockConnection) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

func (m *mockConnection) set(fn func(m *mockConnection)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

func newTestAdapter(t *testing.T) (*Adapter, *mockConnection, *clock.Mock) {
	t.Helper()

	conn := &mockConnection{
		status: mdc.Status{Power: mdc.PowerOff, Volume: 30, Muted: false, Input: mdc.InputHDMI1},
	}
	clk := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	a, err := New(conn, Options{
		DisplayID:    1,
		SerialNumber: "0F4H3CAN900123",
		Model:        "QM55R",
		Clock:        clk,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, conn, clk
}

func TestNewDefaults(t *testing.T) {
	a, _, _ := newTestAdapter(t)

	st := a.State()
	if st.Power != PowerUnknown || st.Volume != nil || st.Available || st.AwaitingPowerOn {
		t.Errorf("initial state = %+v", st)
	}
	if a.Phase() != PhaseDisconnected {
		t.Errorf("Phase() = %v, want disconnected", a.Phase())
	}
	if a.Name() != "Samsung QM55R" {
		t.Errorf("Name() = %q", a.Name())
	}
	if a.UniqueID() != "0F4H3CAN900123" {
		t.Errorf("UniqueID() = %q", a.UniqueID())
	}
	if len(a.SourceList()) != len(allSources) {
		t.Errorf("SourceList() has %d entries, want %d", len(a.SourceList()), len(allSources))
	}
}

func TestNewRejectsUnknownSource(t *testing.T) {
	_, err := New(&mockConnection{}, Options{Sources: []Source{"HDMI9"}})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("New() error = %v, want ErrInvalidArgument", err)
	}
}

func TestPollSuccess(t *testing.T) {
	a, _, _ := newTestAdapter(t)

	st, err := a.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if st.Power != PowerOff || st.Volume == nil || *st.Volume != 30 || st.Muted || st.Source != SourceHDMI1 || !st.Available {
		t.Errorf("Poll() state = %+v", st)
	}
	if a.Phase() != PhaseConnectedAvailable {
		t.Errorf("Phase() = %v, want connected_available", a.Phase())
	}
}

func TestPollRebootReadsAsOff(t *testing.T) {
	a, conn, _ := newTestAdapter(t)
	conn.set(func(m *mockConnection) { m.status.Power = mdc.PowerReboot })

	st, err := a.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if st.Power != PowerOff {
		t.Errorf("Power = %v, want off", st.Power)
	}
}

func TestPollFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"timeout", fmt.Errorf("status: %w", mdc.ErrReadTimeout), ErrTimeout},
		{"context deadline", context.DeadlineExceeded, ErrTimeout},
		{"malformed", fmt.Errorf("status: %w", mdc.ErrResponse), ErrMalformedResponse},
		{"nak", fmt.Errorf("status: %w", mdc.ErrNAK), ErrGeneralFault},
		{"connection", mdc.ErrConnectionFailed, ErrGeneralFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, conn, _ := newTestAdapter(t)
			ctx := context.Background()

			if _, err := a.Poll(ctx); err != nil {
				t.Fatalf("first Poll() error = %v", err)
			}
			before := a.State()

			conn.set(func(m *mockConnection) {
				m.statusErr = tt.err
				m.status.Volume = 99
			})
			st, err := a.Poll(ctx)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Poll() error = %v, want %v", err, tt.wantErr)
			}
			if st.Available {
				t.Error("Available = true after failed poll")
			}
			if *st.Volume != *before.Volume || st.Muted != before.Muted || st.Source != before.Source {
				t.Errorf("state changed on failed poll: %+v -> %+v", before, st)
			}
			if conn.Closes() != 1 {
				t.Errorf("Close() calls = %d, want 1", conn.Closes())
			}
			if a.Phase() != PhaseConnectedUnavailable {
				t.Errorf("Phase() = %v, want connected_unavailable", a.Phase())
			}
		})
	}
}

func TestAvailableStaysFalseUntilSuccessfulPoll(t *testing.T) {
	a, conn, _ := newTestAdapter(t)
	ctx := context.Background()

	if _, err := a.Poll(ctx); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	conn.set(func(m *mockConnection) { m.statusErr = mdc.ErrReadTimeout })
	for i := 0; i < 3; i++ {
		if _, err := a.Poll(ctx); err == nil {
			t.Fatal("Poll() error = nil, want failure")
		}
		if a.State().Available {
			t.Fatalf("Available = true after failed poll %d", i)
		}
	}

	conn.set(func(m *mockConnection) { m.statusErr = nil })
	st, err := a.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if !st.Available {
		t.Error("Available = false after successful poll")
	}
	if a.Phase() != PhaseConnectedAvailable {
		t.Errorf("Phase() = %v, want connected_available", a.Phase())
	}
}

func TestPollFailureBeforeFirstSuccessStaysDisconnected(t *testing.T) {
	a, conn, _ := newTestAdapter(t)
	conn.set(func(m *mockConnection) { m.statusErr = mdc.ErrConnectionFailed })

	if _, err := a.Poll(context.Background()); !errors.Is(err, ErrGeneralFault) {
		t.Fatalf("Poll() error = %v, want ErrGeneralFault", err)
	}
	if a.Phase() != PhaseDisconnected {
		t.Errorf("Phase() = %v, want disconnected", a.Phase())
	}
}

func TestTurnOnWhenAlreadyOnDoesNoIO(t *testing.T) {
	a, conn, clk := newTestAdapter(t)
	conn.set(func(m *mockConnection) { m.status.Power = mdc.PowerOn })

	if _, err := a.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	callsBefore := len(conn.Calls())

	if err := a.TurnOn(context.Background()); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if got := len(conn.Calls()); got != callsBefore {
		t.Errorf("TurnOn() made %d calls, want 0", got-callsBefore)
	}
	if clk.Pending() != 0 {
		t.Error("TurnOn() armed a grace timer while already on")
	}
}

func TestTurnOnScenario(t *testing.T) {
	a, conn, clk := newTestAdapter(t)
	ctx := context.Background()

	st, err := a.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if st.Power != PowerOff || *st.Volume != 30 || st.Muted || st.Source != SourceHDMI1 || !st.Available {
		t.Fatalf("Poll() state = %+v", st)
	}

	if err := a.TurnOn(ctx); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	st = a.State()
	if st.Power != PowerOn || !st.AwaitingPowerOn || *st.Volume != 30 || st.Source != SourceHDMI1 {
		t.Fatalf("state after TurnOn = %+v", st)
	}
	if a.Phase() != PhaseAwaitingPowerOn {
		t.Errorf("Phase() = %v, want awaiting_power_on", a.Phase())
	}
	if conn.Closes() != 1 {
		t.Errorf("connection closes = %d, want 1", conn.Closes())
	}

	calls := len(conn.Calls())
	clk.Advance(time.Second)
	polled, err := a.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll() during grace error = %v", err)
	}
	if len(conn.Calls()) != calls {
		t.Error("Poll() during grace window performed I/O")
	}
	if !polled.Equal(st) {
		t.Errorf("Poll() during grace = %+v, want %+v", polled, st)
	}

	clk.Advance(14 * time.Second)
	st = a.State()
	if st.AwaitingPowerOn {
		t.Error("AwaitingPowerOn = true after grace window")
	}
	if st.Power != PowerOn {
		t.Errorf("Power = %v, want on", st.Power)
	}
	if a.Phase() != PhaseConnectedAvailable {
		t.Errorf("Phase() = %v, want connected_available", a.Phase())
	}
	if err := a.WaitPowerOn(ctx); err != nil {
		t.Errorf("WaitPowerOn() error = %v", err)
	}
}

func TestTurnOnIgnoresMalformedAck(t *testing.T) {
	a, conn, clk := newTestAdapter(t)
	conn.set(func(m *mockConnection) { m.powerErr = fmt.Errorf("power: %w", mdc.ErrResponse) })

	if err := a.TurnOn(context.Background()); err != nil {
		t.Fatalf("TurnOn() error = %v, want nil", err)
	}
	if !a.State().AwaitingPowerOn {
		t.Error("AwaitingPowerOn = false after TurnOn")
	}

	// Device never actually boots: the window still ends.
	conn.set(func(m *mockConnection) { m.statusErr = mdc.ErrReadTimeout })
	clk.Advance(DefaultPowerOnGrace)
	if a.State().AwaitingPowerOn {
		t.Error("AwaitingPowerOn = true after grace window")
	}
}

func TestTurnOnSendFailureRestoresState(t *testing.T) {
	a, conn, clk := newTestAdapter(t)
	ctx := context.Background()

	if _, err := a.Poll(ctx); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	conn.set(func(m *mockConnection) { m.powerErr = mdc.ErrReadTimeout })

	err := a.TurnOn(ctx)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Op != "turn_on" {
		t.Fatalf("TurnOn() error = %v, want *CommandError", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("TurnOn() error = %v, want ErrTimeout", err)
	}

	st := a.State()
	if st.AwaitingPowerOn || st.Power != PowerOff || st.Available {
		t.Errorf("state after failed TurnOn = %+v", st)
	}
	if clk.Pending() != 0 {
		t.Error("grace timer armed after failed TurnOn")
	}
}

func TestWaitPowerOnBlocksUntilGraceEnds(t *testing.T) {
	a, _, clk := newTestAdapter(t)

	if err := a.TurnOn(context.Background()); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.WaitPowerOn(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitPowerOn() returned before grace window ended")
	case <-time.After(20 * time.Millisecond):
	}

	clk.Advance(DefaultPowerOnGrace)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitPowerOn() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitPowerOn() did not return after grace window")
	}
}

func TestGraceWindowIsPerAdapter(t *testing.T) {
	first, _, clk := newTestAdapter(t)
	second, secondConn, _ := newTestAdapter(t)

	if err := first.TurnOn(context.Background()); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if _, err := second.Poll(context.Background()); err != nil {
		t.Fatalf("second Poll() error = %v", err)
	}
	if len(secondConn.Calls()) != 1 {
		t.Errorf("second adapter calls = %v, want one status", secondConn.Calls())
	}
	clk.Advance(DefaultPowerOnGrace)
}

func TestCloseCancelsGraceAndBlocksIO(t *testing.T) {
	a, conn, clk := newTestAdapter(t)
	ctx := context.Background()

	if err := a.TurnOn(ctx); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if clk.Pending() != 0 {
		t.Error("grace timer still pending after Close")
	}
	if err := a.WaitPowerOn(ctx); err != nil {
		t.Errorf("WaitPowerOn() after Close error = %v", err)
	}

	calls := len(conn.Calls())
	if _, err := a.Poll(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Poll() after Close error = %v, want ErrClosed", err)
	}
	if err := a.TurnOff(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("TurnOff() after Close error = %v, want ErrClosed", err)
	}
	if err := a.SetVolume(ctx, 0.2); !errors.Is(err, ErrClosed) {
		t.Errorf("SetVolume() after Close error = %v, want ErrClosed", err)
	}
	if len(conn.Calls()) != calls {
		t.Error("I/O performed after Close")
	}
	if a.Phase() != PhaseDisconnected {
		t.Errorf("Phase() = %v, want disconnected", a.Phase())
	}
}

func TestSetVolumeScaling(t *testing.T) {
	tests := []struct {
		level float64
		want  string
	}{
		{0.5, "volume:50"},
		{0, "volume:0"},
		{1, "volume:100"},
		{0.333, "volume:33"},
		{-0.2, "volume:0"},
		{1.7, "volume:100"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			a, conn, _ := newTestAdapter(t)
			if err := a.SetVolume(context.Background(), tt.level); err != nil {
				t.Fatalf("SetVolume(%v) error = %v", tt.level, err)
			}
			calls := conn.Calls()
			if len(calls) != 1 || calls[0] != tt.want {
				t.Errorf("SetVolume(%v) calls = %v, want [%s]", tt.level, calls, tt.want)
			}
		})
	}
}

func TestSelectSourceUnknownDoesNoIO(t *testing.T) {
	a, conn, _ := newTestAdapter(t)

	err := a.SelectSource(context.Background(), "HDMI9")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("SelectSource() error = %v, want ErrInvalidArgument", err)
	}
	if len(conn.Calls()) != 0 {
		t.Errorf("SelectSource() calls = %v, want none", conn.Calls())
	}
}

func TestSelectSourceRestrictedTable(t *testing.T) {
	conn := &mockConnection{}
	a, err := New(conn, Options{Sources: []Source{SourceHDMI1, SourceHDMI2}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if err := a.SelectSource(context.Background(), SourceDVI); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SelectSource(DVI) error = %v, want ErrInvalidArgument", err)
	}
	if err := a.SelectSource(context.Background(), SourceHDMI2); err != nil {
		t.Fatalf("SelectSource(HDMI2) error = %v", err)
	}
	if calls := conn.Calls(); len(calls) != 1 || calls[0] != "input:0x23" {
		t.Errorf("calls = %v, want [input:0x23]", calls)
	}
}

func TestCommandsForward(t *testing.T) {
	a, conn, _ := newTestAdapter(t)
	ctx := context.Background()

	if err := a.TurnOff(ctx); err != nil {
		t.Fatalf("TurnOff() error = %v", err)
	}
	if err := a.SetMute(ctx, true); err != nil {
		t.Fatalf("SetMute() error = %v", err)
	}
	if err := a.SelectSource(ctx, SourceHDMI1); err != nil {
		t.Fatalf("SelectSource() error = %v", err)
	}

	want := []string{"power:off", "mute:true", "input:0x21"}
	got := conn.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
	if st := a.State(); st.Power != PowerUnknown || st.Muted {
		t.Errorf("commands changed state optimistically: %+v", st)
	}
}

func TestCommandsDuringGraceDoNoIO(t *testing.T) {
	tests := []struct {
		name string
		op   string
		run  func(a *Adapter) error
	}{
		{"turn off", "turn_off", func(a *Adapter) error { return a.TurnOff(context.Background()) }},
		{"mute", "set_mute", func(a *Adapter) error { return a.SetMute(context.Background(), true) }},
		{"volume", "set_volume", func(a *Adapter) error { return a.SetVolume(context.Background(), 0.5) }},
		{"source", "select_source", func(a *Adapter) error { return a.SelectSource(context.Background(), SourceHDMI2) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, conn, clk := newTestAdapter(t)
			if _, err := a.Poll(context.Background()); err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if err := a.TurnOn(context.Background()); err != nil {
				t.Fatalf("TurnOn() error = %v", err)
			}
			calls, closes := len(conn.Calls()), conn.Closes()

			err := tt.run(a)
			var cmdErr *CommandError
			if !errors.As(err, &cmdErr) || cmdErr.Op != tt.op || !errors.Is(err, ErrPoweringOn) {
				t.Fatalf("error = %v, want %s CommandError wrapping ErrPoweringOn", err, tt.op)
			}
			if len(conn.Calls()) != calls || conn.Closes() != closes {
				t.Errorf("command during grace did I/O: calls = %v, closes = %d", conn.Calls(), conn.Closes())
			}
			st := a.State()
			if !st.Available || !st.AwaitingPowerOn || a.Phase() != PhaseAwaitingPowerOn {
				t.Errorf("state after rejected command = %+v, phase %v", st, a.Phase())
			}

			// Once the window closes the command goes through.
			clk.Advance(DefaultPowerOnGrace)
			if err := tt.run(a); err != nil {
				t.Errorf("after grace error = %v", err)
			}
			if len(conn.Calls()) != calls+1 {
				t.Errorf("calls after grace = %v, want one more", conn.Calls())
			}
		})
	}
}

func TestCommandFailureIsCommandError(t *testing.T) {
	a, conn, _ := newTestAdapter(t)
	conn.set(func(m *mockConnection) { m.sendErr = fmt.Errorf("mute: %w", mdc.ErrNAK) })

	err := a.SetMute(context.Background(), true)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("SetMute() error = %T, want *CommandError", err)
	}
	if cmdErr.Op != "set_mute" || !errors.Is(err, ErrGeneralFault) || !errors.Is(err, mdc.ErrNAK) {
		t.Errorf("SetMute() error = %v", err)
	}
	if conn.Closes() != 1 {
		t.Errorf("connection closes = %d, want 1", conn.Closes())
	}
}

func TestOnUpdateCalledOnChange(t *testing.T) {
	conn := &mockConnection{status: mdc.Status{Power: mdc.PowerOn, Volume: 10, Input: mdc.InputHDMI2}}

	var mu sync.Mutex
	var updates []DeviceState
	a, err := New(conn, Options{OnUpdate: func(s DeviceState) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, s)
	}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := a.Poll(ctx); err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1 (unchanged polls are not reported)", len(updates))
	}
	if updates[0].Source != SourceHDMI2 || updates[0].Power != PowerOn {
		t.Errorf("update = %+v", updates[0])
	}
}

func TestEntityState(t *testing.T) {
	vol := 40
	tests := []struct {
		name  string
		state DeviceState
		want  string
	}{
		{"unavailable", DeviceState{Power: PowerOn}, "unavailable"},
		{"on", DeviceState{Power: PowerOn, Available: true}, "on"},
		{"off", DeviceState{Power: PowerOff, Available: true, Volume: &vol}, "off"},
		{"awaiting", DeviceState{Power: PowerOn, AwaitingPowerOn: true}, "on"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.EntityState(); got != tt.want {
				t.Errorf("EntityState() = %q, want %q", got, tt.want)
			}
		})
	}
}
