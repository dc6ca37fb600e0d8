// Package influxdb records gateway telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. The integration is
// optional: with influxdb.enabled false, Connect returns ErrDisabled and the
// gateway runs without it.
//
// # Measurements
//
//   - temperature: one point per reading, tagged with the node address
//   - dropped_frames: one point per checksum-failed frame
//   - gateway: periodic serial and broker counters
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTemperature(r)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes are non-blocking and batched according to batch_size and
// flush_interval; write failures are delivered to the SetOnError callback.
package influxdb
