package av

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-av/internal/audit"
	"github.com/nerrad567/gray-logic-av/internal/bridges/av/philipstv"
	"github.com/nerrad567/gray-logic-av/internal/bridges/av/samsungmdc"
	"github.com/nerrad567/gray-logic-av/internal/clock"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-av/internal/mdc"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []string
	connected     bool
	handlers      map[string]mqtt.MessageHandler
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, topic)
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	m.mu.Unlock()
}

// Deliver routes a message to the handler subscribed with a matching
// single-level wildcard pattern.
func (m *MockMQTTClient) Deliver(t *testing.T, topic string, payload []byte) {
	t.Helper()
	m.mu.Lock()
	var handler mqtt.MessageHandler
	for pattern, h := range m.handlers {
		if topicMatches(pattern, topic) {
			handler = h
		}
	}
	m.mu.Unlock()

	if handler == nil {
		t.Fatalf("no handler for topic %s", topic)
	}
	if err := handler(topic, payload); err != nil {
		t.Fatalf("handler(%s) error = %v", topic, err)
	}
}

func (m *MockMQTTClient) Published(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func topicMatches(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	if len(pp) != len(tp) {
		return false
	}
	for i := range pp {
		if pp[i] != "+" && pp[i] != tp[i] {
			return false
		}
	}
	return true
}

// mockConn is a scripted MDC display.
type mockConn struct {
	mu        sync.Mutex
	status    mdc.Status
	statusErr error
	cmdErr    error
	calls     []string
	closes    int

	// onStatus runs at the start of every status poll, outside mu.
	onStatus func()
}

func newMockConn() *mockConn {
	return &mockConn{
		status: mdc.Status{Power: mdc.PowerOn, Volume: 30, Input: mdc.InputHDMI1},
	}
}

func (m *mockConn) Status(context.Context, byte) (mdc.Status, error) {
	m.mu.Lock()
	hook := m.onStatus
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "status")
	return m.status, m.statusErr
}

func (m *mockConn) Power(_ context.Context, _ byte, state mdc.PowerState) error {
	return m.command("power:" + state.String())
}

func (m *mockConn) Volume(_ context.Context, _ byte, level int) error {
	return m.command("volume:" + strconv.Itoa(level))
}

func (m *mockConn) Mute(_ context.Context, _ byte, muted bool) error {
	if muted {
		return m.command("mute:on")
	}
	return m.command("mute:off")
}

func (m *mockConn) InputSource(_ context.Context, _ byte, src mdc.InputSource) error {
	return m.command("input:" + strconv.Itoa(int(src)))
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *mockConn) command(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return m.cmdErr
}

func (m *mockConn) set(fn func(m *mockConn)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

func (m *mockConn) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockConn) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// mockTV is a reachable Philips TV.
type mockTV struct {
	mu     sync.Mutex
	on     bool
	muted  bool
	levels []float64
}

func (f *mockTV) Update(context.Context) error { return nil }

func (f *mockTV) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

func (f *mockTV) PowerState() string {
	if f.On() {
		return "On"
	}
	return "Standby"
}

func (f *mockTV) NotifyChangeSupported() bool { return false }

func (f *mockTV) NotifyChange(context.Context, time.Duration) (bool, error) { return false, nil }

func (f *mockTV) SetPowerState(_ context.Context, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on = state == "On"
	return nil
}

func (f *mockTV) SetVolume(_ context.Context, level *float64, muted *bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if level != nil {
		f.levels = append(f.levels, *level)
	}
	if muted != nil {
		f.muted = *muted
	}
	return nil
}

func (f *mockTV) Volume() *philipstv.Volume {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &philipstv.Volume{Current: 20, Min: 0, Max: 40, Muted: f.muted}
}

func (f *mockTV) System() *philipstv.System { return &philipstv.System{Name: "Living Room TV"} }

// fakeHistory records history writes.
type fakeHistory struct {
	mu      sync.Mutex
	records []historyRecord
}

type historyRecord struct {
	DeviceID string
	Source   string
}

func (f *fakeHistory) Record(_ context.Context, deviceID string, _ any, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, historyRecord{DeviceID: deviceID, Source: source})
	return nil
}

func (f *fakeHistory) Records() []historyRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]historyRecord(nil), f.records...)
}

// fakeAudit records audit entries.
type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeAudit) Record(_ context.Context, e *audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeAudit) Entries() []audit.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]audit.Entry(nil), f.entries...)
}

// fakeTelemetry records telemetry writes.
type fakeTelemetry struct {
	mu       sync.Mutex
	states   []influxdb.DisplayState
	commands []string
}

func (f *fakeTelemetry) WriteDisplayState(s influxdb.DisplayState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, s)
}

func (f *fakeTelemetry) WriteCommand(deviceID, command string, success bool, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := "ok"
	if !success {
		result = "failed"
	}
	f.commands = append(f.commands, deviceID+":"+command+":"+result)
}

func (f *fakeTelemetry) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// testEnv wires a manager with scripted devices on a mock clock.
type testEnv struct {
	clock   *clock.Mock
	manager *EntryManager
	conns   map[string]*mockConn
	tvs     map[string]*mockTV
	mu      sync.Mutex
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		clock: clock.NewMock(testStart),
		conns: make(map[string]*mockConn),
		tvs:   make(map[string]*mockTV),
	}
	env.manager = NewEntryManager(ManagerConfig{
		PollInterval:    30 * time.Second,
		RefreshCooldown: 2 * time.Second,
		Clock:           env.clock,
		DialMDC: func(e Entry) (samsungmdc.Connection, error) {
			return env.conn(e.ID), nil
		},
		NewTVAPI: func(e Entry) (philipstv.API, error) {
			return env.tv(e.ID), nil
		},
	})
	t.Cleanup(env.manager.Close)
	return env
}

func (env *testEnv) conn(id string) *mockConn {
	env.mu.Lock()
	defer env.mu.Unlock()
	c, ok := env.conns[id]
	if !ok {
		c = newMockConn()
		env.conns[id] = c
	}
	return c
}

func (env *testEnv) tv(id string) *mockTV {
	env.mu.Lock()
	defer env.mu.Unlock()
	tv, ok := env.tvs[id]
	if !ok {
		tv = &mockTV{on: true}
		env.tvs[id] = tv
	}
	return tv
}

func (env *testEnv) setup(t *testing.T, e Entry) Device {
	t.Helper()
	dev, err := env.manager.Setup(context.Background(), e)
	if err != nil {
		t.Fatalf("Setup(%s) error = %v", e.ID, err)
	}
	return dev
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
