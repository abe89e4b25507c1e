package ingest

import "errors"

// Domain errors for the push-path pipeline.
var (
	// ErrQueueFull indicates a message was rejected because the ingress
	// queue was at capacity. The message is dropped.
	ErrQueueFull = errors.New("ingest: queue full")

	// ErrNoStore indicates the pipeline was built without a storage handle.
	ErrNoStore = errors.New("ingest: store is required")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("ingest: pipeline already started")

	// ErrStopped indicates the pipeline has been stopped and no longer
	// accepts messages.
	ErrStopped = errors.New("ingest: pipeline stopped")
)
