package mqttbridge

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/kefd/internal/speaker"
)

// stateMessage is the wire shape for speaker state topics.
type stateMessage struct {
	Identity  string `json:"identity"`
	Power     string `json:"power"`
	Source    string `json:"source"`
	Volume    int    `json:"volume"`
	Muted     bool   `json:"muted"`
	Timestamp string `json:"timestamp"`
}

// connectivityMessage is the wire shape for connectivity topics.
type connectivityMessage struct {
	Identity     string `json:"identity"`
	Connectivity string `json:"connectivity"`
	Timestamp    string `json:"timestamp"`
}

// presenceMessage is the wire shape for presence topics.
type presenceMessage struct {
	Identity  string `json:"identity"`
	Present   bool   `json:"present"`
	Name      string `json:"name,omitempty"`
	Model     string `json:"model,omitempty"`
	Address   string `json:"address,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statePayload(sp speaker.Speaker) []byte {
	if sp.State == nil {
		return nil
	}
	data, err := json.Marshal(stateMessage{
		Identity:  sp.Identity,
		Power:     string(sp.State.Power),
		Source:    string(sp.State.Source),
		Volume:    sp.State.Volume,
		Muted:     sp.State.Muted,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil
	}
	return data
}

func connectivityPayload(sp speaker.Speaker) []byte {
	data, err := json.Marshal(connectivityMessage{
		Identity:     sp.Identity,
		Connectivity: string(sp.Connectivity),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil
	}
	return data
}

func presencePayload(sp speaker.Speaker, present bool) []byte {
	msg := presenceMessage{
		Identity:  sp.Identity,
		Present:   present,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if present {
		msg.Name = sp.Name
		msg.Model = sp.Model
		msg.Address = sp.Address
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return data
}
