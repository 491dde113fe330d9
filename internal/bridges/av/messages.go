package av

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-av/internal/infrastructure/mqtt"
)

// CommandMessage arrives on graylogic/command/av/{device_id}. The ack
// echoes ID as command_id.
type CommandMessage struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`

	// Parameters by command: mute {"muted": bool}, volume {"level": 0..1}
	// or {"percent": 0..100}, source {"source": name}.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source and UserID name the sender for the audit trail.
	Source string `json:"source"`
	UserID string `json:"user_id,omitempty"`
}

// Command names.
const (
	CommandOn      = "on"
	CommandOff     = "off"
	CommandMute    = "mute"
	CommandVolume  = "volume"
	CommandSource  = "source"
	CommandRefresh = "refresh"
)

// AckStatus is the outcome reported for a command.
type AckStatus string

const (
	AckAccepted AckStatus = "accepted" // the device took the command
	AckFailed   AckStatus = "failed"
	AckTimeout  AckStatus = "timeout" // the device did not answer in time
)

// AckMessage answers a command on graylogic/ack/av/{device_id}.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	Platform  string    `json:"platform,omitempty"` // samsung_mdc or philips_tv
	Error     *AckError `json:"error,omitempty"`
}

// AckError carries an ErrCode* value and the error text.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes; ErrorCode maps errors onto them.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is retained on graylogic/state/av/{device_id} and
// republished only when the values change.
type StateMessage struct {
	DeviceID    string         `json:"device_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Protocol    string         `json:"protocol"`
	Platform    string         `json:"platform"`
	Name        string         `json:"name,omitempty"`
	EntityState string         `json:"entity_state"` // on, off or unavailable
	State       map[string]any `json:"state"`        // enabled sensor values by key
}

// HealthStatus is the bridge-level status.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline is published by the broker as the last will.
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is retained on graylogic/health/av.
type HealthMessage struct {
	Bridge           string       `json:"bridge"`
	Timestamp        time.Time    `json:"timestamp"`
	Status           HealthStatus `json:"status"`
	Version          string       `json:"version"`
	UptimeSeconds    int64        `json:"uptime_seconds"`
	DevicesManaged   int          `json:"devices_managed"`
	DevicesAvailable int          `json:"devices_available"`
	Reason           string       `json:"reason,omitempty"`
}

// DiscoveryMessage announces devices found by mDNS browsing.
// Topic: graylogic/discovery/av
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Devices   []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice is a device found during discovery that is not yet an entry.
type DiscoveredDevice struct {
	Platform      string   `json:"platform"`
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	Addresses     []string `json:"addresses,omitempty"`
	SuggestedName string   `json:"suggested_name,omitempty"`
}

// MarshalJSON writes the timestamp as RFC 3339 in UTC.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON accepts an RFC 3339 timestamp or none.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage acknowledges cmd.
func NewAckMessage(cmd CommandMessage, status AckStatus, platform string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  mqtt.ProtocolAV,
		Platform:  platform,
	}
}

// NewAckError acknowledges a failed cmd; a TIMEOUT code sets the timeout
// status.
func NewAckError(cmd CommandMessage, platform, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status, platform)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage renders a snapshot for the state topic.
func NewStateMessage(s Snapshot) StateMessage {
	return StateMessage{
		DeviceID:    s.DeviceID,
		Timestamp:   time.Now().UTC(),
		Protocol:    mqtt.ProtocolAV,
		Platform:    string(s.Kind),
		Name:        s.Name,
		EntityState: s.EntityState,
		State:       s.Values,
	}
}

// NewHealthMessage stamps uptime since startTime.
func NewHealthMessage(bridgeID, version string, status HealthStatus, managed, available int, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:           bridgeID,
		Timestamp:        time.Now().UTC(),
		Status:           status,
		Version:          version,
		UptimeSeconds:    int64(time.Since(startTime).Seconds()),
		DevicesManaged:   managed,
		DevicesAvailable: available,
	}
}
