// Package api exposes the ingestion status surface over HTTP and a
// WebSocket event stream.
//
// Endpoints:
//   - GET  /api/v1/health              dependency checks and MQTT link state
//   - GET  /api/v1/ingest/status       queue depth, pending devices, last flush and reconcile,
//     source breaker state, InfluxDB mirror counters
//   - GET  /api/v1/ingest/logs         operator event log, oldest first
//   - POST /api/v1/reconcile           run one reconciliation pass now
//   - GET  /api/v1/devices/{id}/latest newest record, Redis first then storage
//   - GET  /api/v1/ws                  channels ingest.log, ingest.flush, ingest.reconcile
//   - GET  /metrics                    Prometheus exposition
//
// The server is read-mostly. It never writes telemetry and never blocks
// the ingestion path: WebSocket fan-out is non-blocking and slow clients
// miss events rather than stall a flush.
//
// Lifecycle:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
