// Package influxdb records display telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Each poll or push
// update produces a display_state point (power, volume, mute, source,
// availability) and each command produces a display_command point with
// its latency and outcome.
//
// Telemetry is optional: Connect returns ErrDisabled when
// influxdb.enabled is false and the bridge carries on without it.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteDisplayState(influxdb.DisplayState{DeviceID: "lobby", Platform: "samsung_mdc", Power: true})
package influxdb
