package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementDisplayState = "display_state"
	MeasurementCommand      = "display_command"
)

// DisplayState is one telemetry sample for a display or TV.
type DisplayState struct {
	DeviceID string
	Platform string

	Power     bool
	Volume    *int
	Muted     bool
	Source    string
	Available bool
}

// WriteDisplayState records a display state sample.
//
// Tags are low cardinality (device, platform); the source name is a tag so
// input usage can be grouped. Volume is omitted while unknown.
func (c *Client) WriteDisplayState(s DisplayState) {
	c.writeAt(displayStatePoint(s, time.Now()))
}

func displayStatePoint(s DisplayState, at time.Time) *write.Point {
	tags := map[string]string{
		"device_id": s.DeviceID,
		"platform":  s.Platform,
	}
	if s.Source != "" {
		tags["source"] = s.Source
	}

	fields := map[string]interface{}{
		"power":     s.Power,
		"muted":     s.Muted,
		"available": s.Available,
	}
	if s.Volume != nil {
		fields["volume"] = int64(*s.Volume)
	}

	return write.NewPoint(MeasurementDisplayState, tags, fields, at)
}

// WriteCommand records the outcome of one device command.
func (c *Client) WriteCommand(deviceID, command string, success bool, latency time.Duration) {
	c.writeAt(write.NewPoint(
		MeasurementCommand,
		map[string]string{
			"device_id": deviceID,
			"command":   command,
		},
		map[string]interface{}{
			"success":    success,
			"latency_ms": latency.Milliseconds(),
		},
		time.Now(),
	))
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.writeAt(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writeAt(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
