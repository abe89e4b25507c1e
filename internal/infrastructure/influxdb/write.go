package influxdb

import (
	"context"
	"strconv"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/electrolyser-core/internal/telemetry"
)

// measurement is the InfluxDB measurement for composite readings.
const measurement = "electrolyser"

// Name identifies the sink in logs and metrics.
func (c *Client) Name() string {
	return "influxdb"
}

// RecordFlushed queues one flushed record as a point. It never blocks on
// the network; delivery failures surface through SetOnError.
//
// Returns:
//   - error: ErrNotConnected after Close, nil otherwise
func (c *Client) RecordFlushed(_ context.Context, snap telemetry.Snapshot) error {
	if c.closed.Load() {
		return ErrNotConnected
	}
	if p := recordPoint(snap); p != nil {
		c.writeAPI.WritePoint(p)
		c.queued.Add(1)
	}
	return nil
}

// recordPoint converts a snapshot to a point. Numeric values become
// float fields; the machine model becomes a tag. A snapshot with no
// numeric values yields nil.
func recordPoint(snap telemetry.Snapshot) *write.Point {
	tags := map[string]string{
		"device_id":    strconv.Itoa(snap.DeviceID),
		"machine_name": snap.MachineName,
	}
	fields := make(map[string]interface{}, len(snap.Fields))
	for name, v := range snap.Fields {
		switch val := v.(type) {
		case float64:
			fields[name] = val
		case string:
			if telemetry.Field(name).IsText() {
				tags["machine_model"] = val
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return write.NewPoint(measurement, tags, fields, snap.Timestamp)
}
