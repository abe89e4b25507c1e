package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// healthCheckTimeout bounds each dependency check.
const healthCheckTimeout = 2 * time.Second

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	MQTTConnected bool              `json:"mqtt_connected"`
	MQTT          string            `json:"mqtt,omitempty"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// handleHealth checks every registered dependency. The MQTT link is
// reported but does not degrade health, since the client reconnects on
// its own.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		MQTTConnected: s.pipeline.Connected(),
	}

	if s.link != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		resp.MQTT = "ok"
		if err := s.link.HealthCheck(ctx); err != nil {
			resp.MQTT = err.Error()
		}
		cancel()
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > 0 {
		resp.Checks = make(map[string]string, len(names))
	}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
