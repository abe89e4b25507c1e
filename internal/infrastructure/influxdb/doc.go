// Package influxdb mirrors flushed electrolyser records into InfluxDB.
//
// The relational store remains the system of record. This mirror exists
// for dashboards that want the readings as a time series: each flushed
// composite record becomes one point in the "electrolyser" measurement,
// tagged by device and model, with every numeric channel as a float field.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // mirror not configured
//	}
//	defer client.Close()
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval.
package influxdb
