package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-av/internal/audit"
)

// handleListAudit returns executed commands, newest first. Query
// parameters: device_id, source (mqtt|api), result
// (accepted|failed|timeout), limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "command audit is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID: q.Get("device_id"),
		Source:   q.Get("source"),
		Result:   q.Get("result"),
	}

	switch filter.Source {
	case "", audit.SourceMQTT, audit.SourceAPI:
	default:
		writeBadRequest(w, "source must be mqtt or api")
		return
	}
	switch filter.Result {
	case "", audit.ResultAccepted, audit.ResultFailed, audit.ResultTimeout:
	default:
		writeBadRequest(w, "result must be accepted, failed or timeout")
		return
	}

	limit, err := parseHistoryLimit(q.Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	filter.Limit = limit

	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("audit query failed", "error", err)
		writeInternalError(w, "failed to read command audit")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
