// Package api implements the HTTP REST API and WebSocket server for the
// Gray Logic AV bridge.
//
// This package provides:
//   - REST endpoints to read display state and history and to send commands
//   - WebSocket hub for real-time state change broadcasts
//   - Bearer JWT (HS256) authentication on every route except /health
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits beside the MQTT bridge. Both drive the same set of
// devices: REST commands run through the bridge's Execute so they share
// timeouts, telemetry and history attribution, and every state change the
// bridge publishes is relayed as "device.state_changed" to the WebSocket
// clients following that device.
//
// # Errors
//
// Failures use the envelope {"error":{"code":"...","message":"..."}}.
package api
