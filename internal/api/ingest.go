package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/electrolyser-core/internal/ingest"
	"github.com/nerrad567/electrolyser-core/internal/reconcile"
)

// QueueStatus describes the ingress queue.
type QueueStatus struct {
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
	Dropped  uint64 `json:"dropped"`
}

// CounterStatus carries lifetime message counters.
type CounterStatus struct {
	Received uint64 `json:"received"`
	Merged   uint64 `json:"merged"`
	Rejected uint64 `json:"rejected"`
}

// MirrorStatus reports the InfluxDB mirror.
type MirrorStatus struct {
	Queued      uint64 `json:"queued"`
	WriteErrors uint64 `json:"write_errors"`
}

// IngestStatus is returned by GET /api/v1/ingest/status.
type IngestStatus struct {
	Connected      bool                `json:"connected"`
	Broker         string              `json:"broker"`
	Port           int                 `json:"port"`
	Topic          string              `json:"topic"`
	ClientID       string              `json:"client_id"`
	Queue          QueueStatus         `json:"queue"`
	Workers        int                 `json:"workers"`
	PendingDevices int                 `json:"pending_devices"`
	TimerArmed     bool                `json:"timer_armed"`
	Counters       CounterStatus       `json:"counters"`
	LastFlush      *ingest.FlushResult `json:"last_flush"`
	LastReconcile  *reconcile.Result   `json:"last_reconcile"`
	SourceBreaker  string              `json:"source_breaker,omitempty"`
	InfluxDB       *MirrorStatus       `json:"influxdb,omitempty"`
}

// LogsResponse is returned by GET /api/v1/ingest/logs.
type LogsResponse struct {
	Logs  []ingest.Event `json:"logs"`
	Total int            `json:"total"`
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, _ *http.Request) {
	stats := s.pipeline.Stats()

	resp := IngestStatus{
		Connected: stats.Connected,
		Broker:    s.mqttCfg.Broker.Host,
		Port:      s.mqttCfg.Broker.Port,
		Topic:     s.mqttCfg.Topic,
		ClientID:  s.clientID,
		Queue: QueueStatus{
			Depth:    stats.QueueDepth,
			Capacity: stats.QueueCapacity,
			Dropped:  stats.Dropped,
		},
		Workers:        stats.Workers,
		PendingDevices: stats.PendingDevices,
		TimerArmed:     stats.Armed,
		Counters: CounterStatus{
			Received: stats.Received,
			Merged:   stats.Merged,
			Rejected: stats.Rejected,
		},
	}
	if last, ok := s.pipeline.LastFlush(); ok {
		resp.LastFlush = &last
	}
	if s.reconciler != nil {
		if last, ok := s.reconciler.LastResult(); ok {
			resp.LastReconcile = &last
		}
		resp.SourceBreaker = s.reconciler.BreakerState()
	}
	if s.mirror != nil {
		queued, writeErrors := s.mirror()
		resp.InfluxDB = &MirrorStatus{Queued: queued, WriteErrors: writeErrors}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleIngestLogs returns the event log, oldest first. An optional
// ?limit=N keeps only the newest N entries; total is always the full
// log length.
func (s *Server) handleIngestLogs(w http.ResponseWriter, r *http.Request) {
	logs := s.pipeline.Events().Snapshot()
	total := len(logs)

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		if limit < len(logs) {
			logs = logs[len(logs)-limit:]
		}
	}

	writeJSON(w, http.StatusOK, LogsResponse{Logs: logs, Total: total})
}

// handleReconcile runs one reconciliation pass synchronously.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "reconciliation is disabled")
		return
	}

	result, err := s.reconciler.RunOnce(r.Context())
	switch {
	case errors.Is(err, reconcile.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, ErrCodeConflict, "a reconciliation pass is already running")
	case err != nil:
		writeJSON(w, http.StatusBadGateway, result)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}
