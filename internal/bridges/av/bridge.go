// Package av bridges Samsung MDC displays and Philips TVs to Gray Logic Core.
//
// The Bridge listens for commands on graylogic/command/av/{device_id},
// forwards them to the device set up by the EntryManager, and publishes
// acknowledgements, retained state and periodic health. State changes are
// also recorded in the history store and written to InfluxDB when those
// are configured.
package av

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-av/internal/audit"
	"github.com/nerrad567/gray-logic-av/internal/history"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/mqtt"
)

const (
	// DefaultCommandTimeout bounds one device command.
	DefaultCommandTimeout = 10 * time.Second

	// historyTimeout bounds one history or audit write.
	historyTimeout = 5 * time.Second

	// commandTopicParts is graylogic/command/av/{device_id}.
	commandTopicParts = 4

	qosAtLeastOnce byte = 1
)

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// HistoryRecorder stores state changes. *history.Repository implements it.
type HistoryRecorder interface {
	Record(ctx context.Context, deviceID string, state any, source string) error
}

// TelemetryWriter records time-series samples. *influxdb.Client implements it.
type TelemetryWriter interface {
	WriteDisplayState(s influxdb.DisplayState)
	WriteCommand(deviceID, command string, success bool, latency time.Duration)
}

// CommandAuditor records executed commands. *audit.Repository implements it.
type CommandAuditor interface {
	Record(ctx context.Context, e *audit.Entry) error
}

type originKey struct{}

type origin struct {
	source string
	actor  string
}

// WithOrigin tags ctx with where a command came from, for the audit trail.
func WithOrigin(ctx context.Context, source, actor string) context.Context {
	return context.WithValue(ctx, originKey{}, origin{source: source, actor: actor})
}

func originFrom(ctx context.Context) origin {
	if o, ok := ctx.Value(originKey{}).(origin); ok {
		return o
	}
	return origin{source: audit.SourceAPI}
}

// Config holds bridge configuration.
type Config struct {
	BridgeID string
	Version  string

	MQTT    MQTTClient
	Entries *EntryManager

	// History, Telemetry and Audit are optional.
	History   HistoryRecorder
	Telemetry TelemetryWriter
	Audit     CommandAuditor

	HealthInterval time.Duration
	CommandTimeout time.Duration

	Logger Logger
}

// Bridge connects the entry manager to MQTT.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Bridge struct {
	cfg    Config
	topics mqtt.Topics
	health *HealthReporter

	// Last published values per device, for change detection.
	stateCache   map[string]map[string]any
	stateCacheMu sync.Mutex

	// updateMu serializes snapshot, dedupe and publish per device so an
	// older snapshot can never be retained over a newer one.
	updateMu   map[string]*sync.Mutex
	updateMuMu sync.Mutex

	// Devices whose next state change follows a command.
	commanded   map[string]bool
	commandedMu sync.Mutex

	tracked   map[string]func()
	trackedMu sync.Mutex

	stateSubs   []func(Snapshot)
	stateSubsMu sync.RWMutex

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// New creates a bridge. Call Start to subscribe and begin publishing.
func New(cfg Config) (*Bridge, error) {
	if cfg.MQTT == nil {
		return nil, errors.New("av: mqtt client is required")
	}
	if cfg.Entries == nil {
		return nil, errors.New("av: entry manager is required")
	}
	if cfg.BridgeID == "" {
		cfg.BridgeID = "av-bridge"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		cfg:        cfg,
		stateCache: make(map[string]map[string]any),
		updateMu:   make(map[string]*sync.Mutex),
		commanded:  make(map[string]bool),
		tracked:    make(map[string]func()),
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  cancel,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  cfg.BridgeID,
		Version:   cfg.Version,
		Topic:     b.topics.BridgeHealth(mqtt.ProtocolAV),
		Interval:  cfg.HealthInterval,
		Publisher: cfg.MQTT,
		Devices:   b,
		Logger:    cfg.Logger,
	})
	return b, nil
}

// Start subscribes to commands, tracks every entry and starts health
// reporting. Entries set up later are tracked as they appear.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	if err := b.cfg.MQTT.Subscribe(b.topics.BridgeCommands(mqtt.ProtocolAV), qosAtLeastOnce, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}

	b.cfg.Entries.OnSetup(b.track)
	b.cfg.Entries.OnTeardown(b.untrack)
	for _, dev := range b.cfg.Entries.List() {
		b.track(dev)
	}

	b.health.Start(ctx)
	b.logInfo("av bridge started", "bridge_id", b.cfg.BridgeID, "devices", b.cfg.Entries.Count())
	return nil
}

// Stop stops listening to devices, waits for in-flight commands and
// publishes a final health status. Entries are left to the caller.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()

		b.trackedMu.Lock()
		removers := make([]func(), 0, len(b.tracked))
		for id, remove := range b.tracked {
			removers = append(removers, remove)
			delete(b.tracked, id)
		}
		b.trackedMu.Unlock()
		for _, remove := range removers {
			remove()
		}

		b.wg.Wait()
		b.health.Stop()
		b.logInfo("av bridge stopped")
	})
}

// OnStateChange registers fn to run after each published state change.
func (b *Bridge) OnStateChange(fn func(Snapshot)) {
	b.stateSubsMu.Lock()
	b.stateSubs = append(b.stateSubs, fn)
	b.stateSubsMu.Unlock()
}

// DeviceCounts reports set-up and reachable entries.
func (b *Bridge) DeviceCounts() (managed, available int) {
	for _, dev := range b.cfg.Entries.List() {
		managed++
		if dev.Snapshot().Available {
			available++
		}
	}
	return managed, available
}

// Execute runs a command against a device and records telemetry and the
// audit trail. It is shared by the MQTT handler and the REST API; tag ctx
// with WithOrigin to attribute the command.
func (b *Bridge) Execute(ctx context.Context, deviceID, command string, params map[string]any) error {
	dev, ok := b.cfg.Entries.Get(deviceID)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrEntryNotFound, deviceID)
		b.audit(ctx, deviceID, command, params, err, 0)
		return err
	}

	cmdCtx, cancel := context.WithTimeout(ctx, b.cfg.CommandTimeout)
	defer cancel()

	b.markCommanded(deviceID)
	start := time.Now()
	err := Execute(cmdCtx, dev, command, params)
	latency := time.Since(start)

	b.audit(ctx, deviceID, command, params, err, latency)
	if b.cfg.Telemetry != nil {
		b.cfg.Telemetry.WriteCommand(deviceID, command, err == nil, latency)
	}
	if err != nil {
		b.logWarn("command failed", "device_id", deviceID, "command", command, "error", err)
		return err
	}
	b.logDebug("command executed", "device_id", deviceID, "command", command, "latency", latency)
	return nil
}

// audit records one command outcome. Failures are logged, never returned.
func (b *Bridge) audit(ctx context.Context, deviceID, command string, params map[string]any, err error, latency time.Duration) {
	if b.cfg.Audit == nil || command == "" {
		return
	}
	o := originFrom(ctx)
	entry := &audit.Entry{
		DeviceID:   deviceID,
		Command:    command,
		Parameters: params,
		Source:     o.source,
		Actor:      o.actor,
		Result:     audit.ResultAccepted,
		LatencyMS:  latency.Milliseconds(),
	}
	if err != nil {
		entry.ErrorCode = ErrorCode(err)
		entry.Result = audit.ResultFailed
		if entry.ErrorCode == ErrCodeTimeout {
			entry.Result = audit.ResultTimeout
		}
	}

	// The command context may already be cancelled; the write gets its own.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()
	if werr := b.cfg.Audit.Record(wctx, entry); werr != nil {
		b.logError("failed to record command audit", werr)
	}
}

// PublishDiscovery announces devices found on the network.
func (b *Bridge) PublishDiscovery(devices []DiscoveredDevice) error {
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    b.cfg.BridgeID,
		Devices:   devices,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal discovery: %w", err)
	}
	return b.cfg.MQTT.Publish(b.topics.BridgeDiscovery(mqtt.ProtocolAV), payload, qosAtLeastOnce, false)
}

// handleMQTTMessage routes an inbound message by topic.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != commandTopicParts || parts[1] != "command" || parts[2] != mqtt.ProtocolAV {
		b.logDebug("ignoring message on unexpected topic", "topic", topic)
		return nil
	}

	select {
	case <-b.done:
		return nil
	default:
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.handleCommand(parts[3], payload)
	}()
	return nil
}

func (b *Bridge) handleCommand(topicID string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		cmd.DeviceID = topicID
		b.publishAckError(cmd, "", ErrCodeInvalidParameters, "malformed command payload")
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = topicID
	}
	if cmd.DeviceID != topicID {
		msg := fmt.Sprintf("device_id %q does not match topic %q", cmd.DeviceID, topicID)
		cmd.DeviceID = topicID
		b.publishAckError(cmd, "", ErrCodeInvalidParameters, msg)
		return
	}

	platform := ""
	if dev, ok := b.cfg.Entries.Get(cmd.DeviceID); ok {
		platform = string(dev.Kind())
	}

	actor := cmd.UserID
	if actor == "" {
		actor = cmd.Source
	}
	ctx := WithOrigin(b.ctx, audit.SourceMQTT, actor)
	if err := b.Execute(ctx, cmd.DeviceID, cmd.Command, cmd.Parameters); err != nil {
		b.publishAckError(cmd, platform, ErrorCode(err), err.Error())
		return
	}
	b.publishAck(cmd, platform, AckAccepted)
}

// track subscribes to a device's updates and publishes its current state.
func (b *Bridge) track(dev Device) {
	select {
	case <-b.done:
		return
	default:
	}

	remove := dev.AddListener(func() { b.onDeviceUpdate(dev) })

	b.trackedMu.Lock()
	if old, ok := b.tracked[dev.ID()]; ok {
		old()
	}
	b.tracked[dev.ID()] = remove
	b.trackedMu.Unlock()

	b.onDeviceUpdate(dev)
}

func (b *Bridge) untrack(id string) {
	b.trackedMu.Lock()
	remove, ok := b.tracked[id]
	delete(b.tracked, id)
	b.trackedMu.Unlock()
	if ok {
		remove()
	}

	b.stateCacheMu.Lock()
	delete(b.stateCache, id)
	b.stateCacheMu.Unlock()
}

// onDeviceUpdate publishes, records and broadcasts a state that differs
// from the last one published.
func (b *Bridge) onDeviceUpdate(dev Device) {
	mu := b.deviceLock(dev.ID())
	mu.Lock()
	defer mu.Unlock()

	snap := dev.Snapshot()
	if b.stateUnchanged(snap.DeviceID, snap.Values) {
		return
	}

	source := history.SourcePoll
	if b.takeCommanded(snap.DeviceID) {
		source = history.SourceCommand
	}

	b.publishState(snap)

	if b.cfg.History != nil {
		ctx, cancel := context.WithTimeout(b.ctx, historyTimeout)
		if err := b.cfg.History.Record(ctx, snap.DeviceID, snap.Values, source); err != nil {
			b.logError("failed to record state history", err)
		}
		cancel()
	}

	if b.cfg.Telemetry != nil {
		b.cfg.Telemetry.WriteDisplayState(influxdb.DisplayState{
			DeviceID:  snap.DeviceID,
			Platform:  string(snap.Kind),
			Power:     snap.Power,
			Volume:    snap.Volume,
			Muted:     snap.Muted,
			Source:    snap.Source,
			Available: snap.Available,
		})
	}

	b.stateSubsMu.RLock()
	subs := append([]func(Snapshot){}, b.stateSubs...)
	b.stateSubsMu.RUnlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func (b *Bridge) deviceLock(id string) *sync.Mutex {
	b.updateMuMu.Lock()
	defer b.updateMuMu.Unlock()
	mu, ok := b.updateMu[id]
	if !ok {
		mu = &sync.Mutex{}
		b.updateMu[id] = mu
	}
	return mu
}

// stateUnchanged reports whether values match the cache and stores them if not.
func (b *Bridge) stateUnchanged(deviceID string, values map[string]any) bool {
	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if cached, ok := b.stateCache[deviceID]; ok && reflect.DeepEqual(cached, values) {
		return true
	}
	b.stateCache[deviceID] = maps.Clone(values)
	return false
}

func (b *Bridge) markCommanded(deviceID string) {
	b.commandedMu.Lock()
	b.commanded[deviceID] = true
	b.commandedMu.Unlock()
}

func (b *Bridge) takeCommanded(deviceID string) bool {
	b.commandedMu.Lock()
	defer b.commandedMu.Unlock()
	ok := b.commanded[deviceID]
	delete(b.commanded, deviceID)
	return ok
}

func (b *Bridge) publishState(snap Snapshot) {
	payload, err := json.Marshal(NewStateMessage(snap))
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.cfg.MQTT.Publish(b.topics.BridgeState(mqtt.ProtocolAV, snap.DeviceID), payload, qosAtLeastOnce, true); err != nil {
		b.logError("failed to publish state", err)
	}
}

func (b *Bridge) publishAck(cmd CommandMessage, platform string, status AckStatus) {
	b.sendAck(NewAckMessage(cmd, status, platform))
}

func (b *Bridge) publishAckError(cmd CommandMessage, platform, code, message string) {
	b.sendAck(NewAckError(cmd, platform, code, message))
}

func (b *Bridge) sendAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.cfg.MQTT.Publish(b.topics.BridgeAck(mqtt.ProtocolAV, ack.DeviceID), payload, qosAtLeastOnce, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

func (b *Bridge) logInfo(msg string, kv ...any) {
	if b.cfg.Logger != nil {
		b.cfg.Logger.Info(msg, kv...)
	}
}

func (b *Bridge) logWarn(msg string, kv ...any) {
	if b.cfg.Logger != nil {
		b.cfg.Logger.Warn(msg, kv...)
	}
}

func (b *Bridge) logDebug(msg string, kv ...any) {
	if b.cfg.Logger != nil {
		b.cfg.Logger.Debug(msg, kv...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if b.cfg.Logger != nil {
		b.cfg.Logger.Error(msg, "error", err)
	}
}
