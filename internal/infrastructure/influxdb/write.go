package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/kefd/internal/kef"
)

// Measurement names.
const (
	measurementState        = "speaker_state"
	measurementConnectivity = "speaker_connectivity"
)

// WriteSpeakerState records a full state snapshot for a speaker.
// The write is non-blocking; points are batched and sent asynchronously.
func (c *Client) WriteSpeakerState(identity string, state kef.State) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(speakerStatePoint(identity, state, time.Now()))
}

// WriteConnectivity records a reachability transition for a speaker.
func (c *Client) WriteConnectivity(identity string, connectivity kef.Connectivity) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(connectivityPoint(identity, connectivity, time.Now()))
}

// WritePoint writes a custom point for measurements the helpers do not
// cover. Tags should stay low cardinality.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

// speakerStatePoint builds the speaker_state point. Volume lands as an
// integer field so range queries work without casts.
func speakerStatePoint(identity string, state kef.State, at time.Time) *write.Point {
	return write.NewPoint(
		measurementState,
		map[string]string{
			"identity": identity,
		},
		map[string]interface{}{
			"volume": int64(state.Volume),
			"muted":  state.Muted,
			"power":  string(state.Power),
			"source": string(state.Source),
		},
		at,
	)
}

// connectivityPoint builds the speaker_connectivity point. The boolean
// field makes uptime queries trivial; the string keeps the raw verdict.
func connectivityPoint(identity string, connectivity kef.Connectivity, at time.Time) *write.Point {
	return write.NewPoint(
		measurementConnectivity,
		map[string]string{
			"identity": identity,
		},
		map[string]interface{}{
			"connected": connectivity == kef.ConnectivityConnected,
			"status":    string(connectivity),
		},
		at,
	)
}
