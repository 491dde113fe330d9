package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-av/internal/audit"
	"github.com/nerrad567/gray-logic-av/internal/bridges/av"
)

// DeviceCommand is the body of POST /devices/{id}/command.
type DeviceCommand struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// handleListDevices returns a snapshot of every set-up device.
//
// Query parameters:
//   - platform: filter by kind (samsung_mdc, philips_tv)
//   - available: "true" or "false"
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	platform := r.URL.Query().Get("platform")
	available := r.URL.Query().Get("available")
	if available != "" && available != "true" && available != "false" {
		writeBadRequest(w, "available must be true or false")
		return
	}

	devices := make([]av.Snapshot, 0)
	for _, dev := range s.devices.List() {
		if platform != "" && string(dev.Kind()) != platform {
			continue
		}
		snap := dev.Snapshot()
		if available != "" && snap.Available != (available == "true") {
			continue
		}
		devices = append(devices, snap)
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device's state and sensor entities.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dev.Snapshot())
}

// handleDeviceCommand runs a command synchronously through the bridge and
// returns the device state afterwards.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var cmd DeviceCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if cmd.Command == "" {
		writeBadRequest(w, "command field is required")
		return
	}

	commandID := uuid.NewString()
	ctx := av.WithOrigin(r.Context(), audit.SourceAPI, subjectFrom(r.Context()))
	err := s.commander.Execute(ctx, dev.ID(), cmd.Command, cmd.Parameters)

	s.logger.Info("device command",
		"device_id", dev.ID(),
		"command", cmd.Command,
		"command_id", commandID,
		"subject", subjectFrom(r.Context()),
		"request_id", requestID(r.Context()),
		"error", err,
	)

	if err != nil {
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"command_id": commandID,
		"status":     string(av.AckAccepted),
		"device":     dev.Snapshot(),
	})
}

// handleRefreshDevice schedules a debounced refresh.
func (s *Server) handleRefreshDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	dev.RequestRefresh()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": dev.ID(),
		"status":    "refresh_scheduled",
	})
}

// lookupDevice resolves the {id} path parameter, writing a 404 when the
// device is not set up.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (av.Device, bool) {
	id := chi.URLParam(r, "id")
	dev, ok := s.devices.Get(id)
	if !ok {
		writeNotFound(w, "device not found")
		return nil, false
	}
	return dev, true
}

// writeCommandError maps a command failure onto an HTTP status. Device
// failures reuse the MQTT ack codes, lower-cased.
func writeCommandError(w http.ResponseWriter, err error) {
	code := av.ErrorCode(err)
	status := http.StatusBadGateway

	switch {
	case errors.Is(err, av.ErrEntryNotFound):
		status = http.StatusNotFound
	case code == av.ErrCodeInvalidCommand, code == av.ErrCodeInvalidParameters:
		status = http.StatusBadRequest
	case code == av.ErrCodeTimeout, errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case code == av.ErrCodeBridgeError:
		status = http.StatusInternalServerError
	}

	writeError(w, status, strings.ToLower(code), err.Error())
}
