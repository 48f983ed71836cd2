package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the kefd MQTT surface.
//
// Per-speaker topics use the scheme: kef/speaker/{identity}/{channel}
const (
	// TopicPrefix is the base for all kefd topics.
	TopicPrefix = "kef"

	// TopicPrefixSpeaker is the base for per-speaker topics.
	TopicPrefixSpeaker = "kef/speaker"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "kef/system"
)

// Topics provides builders for kefd MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.SpeakerState("kef-ls50-abc123")
//	// Returns: "kef/speaker/kef-ls50-abc123/state"
type Topics struct{}

// SpeakerState returns the retained topic carrying a speaker's latest
// state snapshot.
//
// Example: kef/speaker/kef-ls50-abc123/state
func (Topics) SpeakerState(identity string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixSpeaker, identity)
}

// SpeakerConnectivity returns the retained topic carrying a speaker's
// reachability verdict.
//
// Example: kef/speaker/kef-ls50-abc123/connectivity
func (Topics) SpeakerConnectivity(identity string) string {
	return fmt.Sprintf("%s/%s/connectivity", TopicPrefixSpeaker, identity)
}

// SpeakerCommand returns the topic kefd accepts commands on for one
// speaker. Not retained; commands are requests, not state.
//
// Example: kef/speaker/kef-ls50-abc123/command
func (Topics) SpeakerCommand(identity string) string {
	return fmt.Sprintf("%s/%s/command", TopicPrefixSpeaker, identity)
}

// SpeakerPresence returns the retained topic announcing whether a
// speaker is currently registered.
//
// Example: kef/speaker/kef-ls50-abc123/presence
func (Topics) SpeakerPresence(identity string) string {
	return fmt.Sprintf("%s/%s/presence", TopicPrefixSpeaker, identity)
}

// SystemStatus returns the kefd daemon status topic, used for the LWT
// and graceful shutdown announcements.
//
// Example: kef/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllSpeakerCommands returns a pattern matching command topics for every
// speaker.
//
// Pattern: kef/speaker/+/command
func (Topics) AllSpeakerCommands() string {
	return fmt.Sprintf("%s/+/command", TopicPrefixSpeaker)
}

// AllSpeakerStates returns a pattern matching every speaker state topic.
//
// Pattern: kef/speaker/+/state
func (Topics) AllSpeakerStates() string {
	return fmt.Sprintf("%s/+/state", TopicPrefixSpeaker)
}

// AllTopics returns a pattern matching all kefd topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: kef/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// CommandIdentity extracts the speaker identity from a command topic.
// Returns an empty string if the topic is not a speaker command topic.
func CommandIdentity(topic string) string {
	rest, ok := strings.CutPrefix(topic, TopicPrefixSpeaker+"/")
	if !ok {
		return ""
	}
	identity, ok := strings.CutSuffix(rest, "/command")
	if !ok || identity == "" || strings.Contains(identity, "/") {
		return ""
	}
	return identity
}
