package av

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// DefaultHealthInterval is how often health is published.
const DefaultHealthInterval = 30 * time.Second

// HealthPublisher is satisfied by *mqtt.Client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// DeviceCounter reports how many entries exist and how many are reachable.
type DeviceCounter interface {
	DeviceCounts() (managed, available int)
}

// HealthReporterConfig wires a HealthReporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string
	Topic    string // retained

	Interval  time.Duration // DefaultHealthInterval when zero
	Publisher HealthPublisher
	Devices   DeviceCounter
	Logger    Logger
}

// HealthReporter keeps a retained health document on the bridge's health
// topic: starting, then healthy or degraded on every tick, then stopping.
type HealthReporter struct {
	cfg     HealthReporterConfig
	started time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthReporter returns an idle reporter; Start begins the ticks.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultHealthInterval
	}
	return &HealthReporter{cfg: cfg, started: time.Now()}
}

// Start publishes now and then every interval until ctx ends or Stop.
func (h *HealthReporter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.cfg.Interval)
		defer ticker.Stop()
		for {
			if err := h.PublishNow(); err != nil && h.cfg.Logger != nil {
				h.cfg.Logger.Error("failed to publish health", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the ticks and publishes "stopping". Only the first call
// publishes.
func (h *HealthReporter) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	h.wg.Wait()
	h.publish(HealthStopping, "") //nolint:errcheck // shutting down
}

// PublishStarting announces the bridge before devices are tracked.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publish(status, reason)
}

// determineStatus is degraded while MQTT is down or any entry is
// unreachable.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if managed, available := h.counts(); available < managed {
		return HealthDegraded, "devices unreachable"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) counts() (managed, available int) {
	if h.cfg.Devices == nil {
		return 0, 0
	}
	return h.cfg.Devices.DeviceCounts()
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}

	managed, available := h.counts()
	msg := NewHealthMessage(h.cfg.BridgeID, h.cfg.Version, status, managed, available, h.started)
	msg.Reason = reason

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.cfg.Topic, payload, qosAtLeastOnce, true)
}
