// Package influxdb provides time-series export of speaker telemetry.
//
// It wraps the official influxdb-client-go v2 library with connection
// management and write helpers for the two measurements the daemon
// produces:
//   - speaker_state: volume, mute, power, and source per speaker
//   - speaker_connectivity: reachability transitions per speaker
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSpeakerState("kef-lsx-office", state)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to config (batch_size, flush_interval); async write
// failures surface through the SetOnError callback.
package influxdb
