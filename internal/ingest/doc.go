// Package ingest implements the push-path telemetry pipeline.
//
// The WinCC gateway publishes one tag value per MQTT message, interleaved
// across up to fifteen electrolysers. This package reassembles that
// stream into one composite row per device and writes the rows once the
// burst has gone quiet.
//
// Architecture:
//
//	MQTT callback ──► Queue (bounded, lossy) ──► Pool (N workers)
//	                                               │ Normalize
//	                                               ▼
//	                                   Assembler (one lock, one map)
//	                                               │ re-arm
//	                                               ▼
//	                                   IdleTrigger (single global timer)
//	                                               │ idle threshold elapsed
//	                                               ▼
//	                               swap map ──► Flusher ──► store.Store
//	                                                   └──► Sinks (Redis, InfluxDB, WebSocket)
//
// The subscription callback only enqueues. When the queue is full the
// message is dropped and a warning is recorded; the MQTT link matters
// more than any single reading.
//
// One idle timer serves every device. A steady stream from one unit
// therefore delays the flush of a quiet unit's finished record. This
// matches the gateway's burst-per-cycle behaviour, where all devices
// publish together.
//
// Shutdown order is StopTimer, disconnect the MQTT client, Stop.
// Records not yet flushed are dropped and recovered by the next
// reconciliation pass.
//
// Usage:
//
//	p, err := ingest.New(ingest.Options{Config: cfg.Ingest, Store: st, Logger: log})
//	if err != nil { return err }
//	p.Start(ctx)
//	client.Subscribe(mqtt.Topics{}.AllTelemetry(), 0, p.HandleMessage)
package ingest
