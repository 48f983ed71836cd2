// Package kef implements the KEF speaker control protocol.
//
// KEF network speakers expose a JSON-over-HTTP control API on their
// service port. Each property is addressed by a fixed path string and
// carried as a tagged value object; push-style notification is modelled
// with a server-side long-poll queue.
//
// # Layers
//
// The package is built leaf-first:
//
//   - Codec: pure translation between typed values and the device's wire
//     envelopes. No state, no I/O; the protocol is testable without a
//     network.
//   - Transport: one HTTP request/response or long-poll exchange against
//     one device. No retries.
//   - Session: the per-device lifecycle. Serialises commands, runs the
//     state-watch long-poll loop, counts consecutive failures, and
//     publishes state/connectivity events.
//
// # Forward compatibility
//
// Power and source enumerations are device firmware constants. Tags this
// client has never seen decode to the Unknown variant rather than failing;
// new firmware must not break the poll loop.
//
// # Thread Safety
//
// Transport and Session are safe for concurrent use. A Transport is owned
// by exactly one Session and never shared across devices, because the
// long-poll queue it targets is per-client state.
package kef
