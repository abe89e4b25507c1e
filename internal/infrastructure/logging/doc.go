// Package logging provides structured logging for the electrolyser core.
//
// This package wraps Go's standard log/slog package so every component
// (MQTT client, normalisation workers, flusher, reconciler) emits the
// same structured shape.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("batch flushed", "batch_id", id, "records", 15)
//
// Per-reading noise (unmapped tags, malformed payloads) is logged at debug
// level only. The operator-facing event log lives in the ingest package.
//
// # Security
//
// Never log broker passwords, source tokens or database URLs.
package logging
