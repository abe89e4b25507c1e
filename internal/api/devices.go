package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Latest-record sources reported to clients.
const (
	latestFromCache = "cache"
	latestFromStore = "store"
)

// LatestResponse is returned by GET /api/v1/devices/{id}/latest.
type LatestResponse struct {
	DeviceID int            `json:"device_id"`
	Source   string         `json:"source"`
	Record   map[string]any `json:"record"`
}

// handleDeviceLatest serves the newest record for a device from the
// cache, falling back to storage. A cache error is logged and treated
// as a miss.
func (s *Server) handleDeviceLatest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 || (s.maxDevices > 0 && id > s.maxDevices) {
		writeBadRequest(w, "device id must be a valid device number")
		return
	}
	ctx := r.Context()

	if s.latest != nil {
		snap, ok, err := s.latest.Latest(ctx, id)
		switch {
		case err != nil:
			s.logger.Warn("latest cache read failed", "device_id", id, "error", err)
		case ok:
			record := make(map[string]any, len(snap.Fields)+3)
			for k, v := range snap.Fields {
				record[k] = v
			}
			record["machine_name"] = snap.MachineName
			record["timestamp"] = snap.Timestamp
			writeJSON(w, http.StatusOK, LatestResponse{DeviceID: id, Source: latestFromCache, Record: record})
			return
		}
	}

	if s.store == nil {
		writeNotFound(w, "no record for device")
		return
	}

	rows, err := s.store.QuerySnapshot(ctx, id, 1)
	if err != nil {
		s.logger.Error("latest store read failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to read latest record")
		return
	}
	if len(rows) == 0 {
		writeNotFound(w, "no record for device")
		return
	}
	writeJSON(w, http.StatusOK, LatestResponse{DeviceID: id, Source: latestFromStore, Record: rows[0]})
}
