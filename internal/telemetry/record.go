package telemetry

import (
	"time"
)

// Record is the in-progress composite row for one device.
//
// Each field keeps the value with the latest observation time, so the
// result does not depend on the order readings are merged in. The record
// timestamp is the latest observation across all fields.
//
// Thread Safety:
//   - Not safe for concurrent use. The owner serialises access.
type Record struct {
	DeviceID  int
	Timestamp time.Time
	Fields    map[Field]any

	observed map[Field]time.Time
}

// NewRecord creates an empty record for a device.
func NewRecord(deviceID int) *Record {
	return &Record{
		DeviceID: deviceID,
		Fields:   make(map[Field]any),
		observed: make(map[Field]time.Time),
	}
}

// Merge folds a reading into the record.
//
// The field is replaced unless the stored value was observed strictly
// later; equal observation times resolve last-write-wins. The record
// timestamp advances to the reading's time if it is later.
//
// Returns:
//   - bool: true if the field value was replaced
func (r *Record) Merge(rd Reading) bool {
	if rd.ObservedAt.After(r.Timestamp) || r.Timestamp.IsZero() {
		r.Timestamp = rd.ObservedAt
	}

	if prev, ok := r.observed[rd.Field]; ok && rd.ObservedAt.Before(prev) {
		return false
	}
	r.Fields[rd.Field] = rd.Value
	r.observed[rd.Field] = rd.ObservedAt
	return true
}

// Empty reports whether no field has been merged.
func (r *Record) Empty() bool {
	return len(r.Fields) == 0
}

// Snapshot is an immutable, serialisable copy of a Record.
type Snapshot struct {
	DeviceID    int            `json:"device_id"`
	MachineName string         `json:"machine_name"`
	Timestamp   time.Time      `json:"timestamp"`
	Fields      map[string]any `json:"fields"`
}

// Snapshot copies the record.
func (r *Record) Snapshot() Snapshot {
	fields := make(map[string]any, len(r.Fields))
	for f, v := range r.Fields {
		fields[string(f)] = v
	}
	return Snapshot{
		DeviceID:    r.DeviceID,
		MachineName: MachineName(r.DeviceID),
		Timestamp:   r.Timestamp,
		Fields:      fields,
	}
}
