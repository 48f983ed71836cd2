// Package history records speaker state transitions to SQLite.
//
// The recorder subscribes to the registry event stream like any other
// consumer and persists a full snapshot per transition. The registry
// itself holds no durable state; history exists so shells can show
// recently seen speakers and their last known state across restarts.
//
// Entries past the configured retention window are pruned periodically.
package history
