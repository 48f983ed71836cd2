package kef

// PowerState is the speaker's power mode as reported by the device.
type PowerState string

// Known power states.
const (
	PowerOn      PowerState = "on"
	PowerStandby PowerState = "standby"
	PowerUnknown PowerState = "unknown"
)

// Source is a physical input source.
type Source string

// Known input sources. SourceUnknown covers tags this client has never
// seen; newer firmware adds sources and decoding must not fail on them.
const (
	SourceWifi      Source = "wifi"
	SourceBluetooth Source = "bluetooth"
	SourceUsb       Source = "usb"
	SourceOptical   Source = "optical"
	SourceTV        Source = "tv"
	SourceUnknown   Source = "unknown"
)

// State is a full snapshot of a speaker's user-visible state.
// A snapshot is always replaced wholesale; it is never partially updated
// in place by callers.
type State struct {
	Power  PowerState `json:"power"`
	Source Source     `json:"source"`
	Volume int        `json:"volume"`
	Muted  bool       `json:"muted"`
}

// Connectivity describes whether a speaker is currently responding.
type Connectivity string

// Connectivity states.
const (
	ConnectivityUnknown     Connectivity = "unknown"
	ConnectivityConnected   Connectivity = "connected"
	ConnectivityUnreachable Connectivity = "unreachable"
)

// CommandType identifies which state field a Command changes.
type CommandType string

// Command types.
const (
	CmdSetPower   CommandType = "set_power"
	CmdSetSource  CommandType = "set_source"
	CmdSetVolume  CommandType = "set_volume"
	CmdToggleMute CommandType = "toggle_mute"
)

// Command is a request to change one field of a speaker's state.
// Only the field matching Type is meaningful.
type Command struct {
	Type   CommandType `json:"type"`
	Power  PowerState  `json:"power,omitempty"`
	Source Source      `json:"source,omitempty"`
	Volume int         `json:"volume,omitempty"`
}

// EventKind identifies a session event.
type EventKind string

// Session event kinds.
const (
	EventStateChanged        EventKind = "state_changed"
	EventConnectivityChanged EventKind = "connectivity_changed"
)

// SessionEvent is published by a Session when its device's state or
// reachability changes. Events for one device are delivered in the order
// the device reported them.
type SessionEvent struct {
	Identity     string
	Kind         EventKind
	State        State        // valid when Kind == EventStateChanged
	Connectivity Connectivity // valid when Kind == EventConnectivityChanged
}
