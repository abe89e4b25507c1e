package store

import "context"

// Store is the storage primitive both ingest paths write through.
//
// Implementations must be safe for concurrent use. Each ingest path holds
// its own Store so the reconciliation poller never shares a connection
// with the push-path flusher.
type Store interface {
	// InsertRow writes one row and returns the number of rows affected.
	// There is no uniqueness constraint on (device, date, time).
	InsertRow(ctx context.Context, table string, fields map[string]any) (int64, error)

	// QueryMaxTimestamp returns the newest stored (date, time) for a
	// device. ok is false when the device has no rows.
	QueryMaxTimestamp(ctx context.Context, deviceID int) (MaxTimestamp, bool, error)

	// QuerySnapshot returns up to limit rows for a device, newest first.
	QuerySnapshot(ctx context.Context, deviceID int, limit int) ([]map[string]any, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying connection(s).
	Close() error
}

var (
	_ Store = (*SQLite)(nil)
	_ Store = (*Postgres)(nil)
)
