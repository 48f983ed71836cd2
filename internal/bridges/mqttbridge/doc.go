// Package mqttbridge mirrors the speaker registry onto an MQTT broker.
//
// It handles:
//   - Publishing speaker state, connectivity, and presence to retained
//     topics as registry events arrive
//   - Receiving commands on per-speaker command topics and dispatching
//     them to the registry
//   - Clearing retained topics when a speaker is retired
//
// The bridge is optional; kefd runs fully without a broker configured.
//
// Thread Safety: All methods are safe for concurrent use.
package mqttbridge
