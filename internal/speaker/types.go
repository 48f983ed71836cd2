package speaker

import (
	"time"

	"github.com/nerrad567/kefd/internal/kef"
)

// Speaker is a point-in-time snapshot of one registry entry. Snapshots
// are copies; mutating one has no effect on the registry.
type Speaker struct {
	// Identity is the stable registry key for the physical device.
	Identity string `json:"identity"`

	// Name and Model come from the speaker's advertisement and may be
	// empty.
	Name  string `json:"name,omitempty"`
	Model string `json:"model,omitempty"`

	// Address and Port locate the control endpoint most recently
	// resolved by discovery.
	Address string `json:"address"`
	Port    int    `json:"port"`

	// State is the last known device state, nil until the session's
	// first successful read. A stale snapshot is kept through outages;
	// it is never cleared by a failed poll.
	State *kef.State `json:"state,omitempty"`

	// Connectivity is the session's current reachability verdict.
	Connectivity kef.Connectivity `json:"connectivity"`

	// FirstSeen and LastSeen bound the speaker's discovery lifetime.
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// EventKind classifies a registry event.
type EventKind string

// Registry event kinds. EventSpeakerUpdated reports a known speaker
// re-resolving to a new address; EventSpeakerAdded is reserved for
// identities the registry has not seen in their current lifetime.
const (
	EventSpeakerAdded        EventKind = "speaker_added"
	EventSpeakerUpdated      EventKind = "speaker_updated"
	EventSpeakerRemoved      EventKind = "speaker_removed"
	EventStateChanged        EventKind = "state_changed"
	EventConnectivityChanged EventKind = "connectivity_changed"
)

// Event is published by the registry whenever an entry is created,
// retired, or updated. Speaker is the entry's snapshot at publish time;
// for EventSpeakerRemoved it is the final snapshot before retirement.
type Event struct {
	Kind    EventKind `json:"kind"`
	Speaker Speaker   `json:"speaker"`
}
