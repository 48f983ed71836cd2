package kef

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Device property paths. These are fixed constants of the KEF control API,
// captured from live traffic against LSX/LS50 hardware.
const (
	// PathSpeakerStatus reports power state ("powerOn"/"standby").
	PathSpeakerStatus = "settings:/kef/host/speakerStatus"

	// PathPhysicalSource reports and selects the input source. Writing
	// "powerOn"/"standby" to this path is also how the device is powered
	// on and off.
	PathPhysicalSource = "settings:/kef/play/physicalSource"

	// PathVolume is the master volume, 0-100.
	PathVolume = "player:volume"

	// PathMute is the mute flag.
	PathMute = "settings:/mediaPlayer/mute"
)

// Wire type tags used in the device's tagged JSON values.
const (
	tagSpeakerStatus  = "kefSpeakerStatus"
	tagPhysicalSource = "kefPhysicalSource"
	tagI32            = "i32_"
	tagBool           = "bool_"
)

// Power tags on the wire.
const (
	wirePowerOn      = "powerOn"
	wirePowerStandby = "standby"
)

// WatchPaths are the property paths a session subscribes to for its
// long-poll queue.
var WatchPaths = []string{
	PathSpeakerStatus,
	PathPhysicalSource,
	PathVolume,
	PathMute,
}

// Value is one decoded tagged value from the device. Tag identifies which
// field carries the payload.
type Value struct {
	Tag    string
	Power  PowerState // when Tag == "kefSpeakerStatus"
	Source Source     // when Tag == "kefPhysicalSource"
	Int    int        // when Tag == "i32_"
	Bool   bool       // when Tag == "bool_"
}

// Change is one entry of a long-poll response: the property that changed
// and its new value.
type Change struct {
	Path  string
	Value Value
}

// EncodeGet builds the query for a single-value read via /api/getData.
func EncodeGet(path string) url.Values {
	q := url.Values{}
	q.Set("path", path)
	q.Set("roles", "value")
	return q
}

// EncodeSet builds the query for a property write via /api/setData.
// value must be a tagged-value JSON document from one of the *Value
// builders below.
func EncodeSet(path, value string) url.Values {
	q := url.Values{}
	q.Set("path", path)
	q.Set("roles", "value")
	q.Set("value", value)
	return q
}

// EncodeSubscribe builds the query for /api/event/modifyQueue, registering
// the given paths on a fresh long-poll queue.
func EncodeSubscribe(paths []string) (url.Values, error) {
	subscribe, err := json.Marshal(paths)
	if err != nil {
		return nil, fmt.Errorf("encoding subscribe paths: %w", err)
	}
	q := url.Values{}
	q.Set("subscribe", string(subscribe))
	q.Set("unsubscribe", "[]")
	return q, nil
}

// EncodePoll builds the query for /api/event/pollQueue. wait is the
// server-side hold time before the device answers "no change".
func EncodePoll(queueID string, wait time.Duration) url.Values {
	q := url.Values{}
	q.Set("queueId", queueID)
	q.Set("timeout", strconv.Itoa(int(wait.Seconds())))
	return q
}

// SourceValue encodes an input source as a tagged value document.
func SourceValue(s Source) (string, error) {
	tag, ok := sourceToTag[s]
	if !ok {
		return "", fmt.Errorf("%w: source %q", ErrInvalidCommand, s)
	}
	return taggedString(tagPhysicalSource, tag), nil
}

// PowerValue encodes a power transition. The device models power as a
// pseudo-source write: "powerOn" wakes it, "standby" puts it to sleep.
func PowerValue(p PowerState) (string, error) {
	switch p {
	case PowerOn:
		return taggedString(tagPhysicalSource, wirePowerOn), nil
	case PowerStandby:
		return taggedString(tagPhysicalSource, wirePowerStandby), nil
	default:
		return "", fmt.Errorf("%w: power %q", ErrInvalidCommand, p)
	}
}

// VolumeValue encodes a volume level, clamped to 0-100.
func VolumeValue(v int) string {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return fmt.Sprintf(`{"type":%q,%q:%d}`, tagI32, tagI32, v)
}

// MuteValue encodes the mute flag.
func MuteValue(muted bool) string {
	return fmt.Sprintf(`{"type":%q,%q:%t}`, tagBool, tagBool, muted)
}

// DecodeGetResponse decodes a /api/getData response body. The device
// answers with a one-element JSON array holding a tagged value.
func DecodeGetResponse(body []byte) (Value, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return Value{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if len(items) == 0 {
		return Value{}, fmt.Errorf("%w: empty response array", ErrUnexpectedShape)
	}
	return DecodeValue(items[0])
}

// DecodeQueueID decodes a /api/event/modifyQueue response: a bare JSON
// string naming the long-poll queue.
func DecodeQueueID(body []byte) (string, error) {
	var id string
	if err := json.Unmarshal(body, &id); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if id == "" {
		return "", fmt.Errorf("%w: empty queue id", ErrUnexpectedShape)
	}
	return id, nil
}

// DecodePollResponse decodes a /api/event/pollQueue response body into the
// list of changed properties. An empty body or empty array is the device's
// "nothing changed" answer and yields no changes and no error.
func DecodePollResponse(body []byte) ([]Change, error) {
	if len(body) == 0 {
		return nil, nil
	}

	var items []struct {
		Path      string          `json:"path"`
		ItemType  string          `json:"itemType"`
		ItemValue json.RawMessage `json:"itemValue"`
	}
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	changes := make([]Change, 0, len(items))
	for _, item := range items {
		if item.Path == "" || len(item.ItemValue) == 0 {
			continue
		}
		v, err := DecodeValue(item.ItemValue)
		if err != nil {
			return nil, fmt.Errorf("change at %s: %w", item.Path, err)
		}
		changes = append(changes, Change{Path: item.Path, Value: v})
	}
	return changes, nil
}

// DecodeValue decodes one tagged value object.
//
// Unrecognised power and source tags decode to PowerUnknown/SourceUnknown
// rather than failing: firmware revisions add tags this client has never
// seen, and a poll loop must keep working against them.
func DecodeValue(raw json.RawMessage) (Value, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Value{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	var typeTag string
	if rawType, ok := envelope["type"]; ok {
		if err := json.Unmarshal(rawType, &typeTag); err != nil {
			return Value{}, fmt.Errorf("%w: type tag is not a string", ErrUnexpectedShape)
		}
	}
	if typeTag == "" {
		return Value{}, fmt.Errorf("%w: missing type tag", ErrUnexpectedShape)
	}

	payload, ok := envelope[typeTag]
	if !ok {
		return Value{}, fmt.Errorf("%w: no %q field for type tag", ErrUnexpectedShape, typeTag)
	}

	v := Value{Tag: typeTag}
	switch typeTag {
	case tagSpeakerStatus:
		var tag string
		if err := json.Unmarshal(payload, &tag); err != nil {
			return Value{}, fmt.Errorf("%w: %s is not a string", ErrUnexpectedShape, typeTag)
		}
		v.Power = powerFromTag(tag)
	case tagPhysicalSource:
		var tag string
		if err := json.Unmarshal(payload, &tag); err != nil {
			return Value{}, fmt.Errorf("%w: %s is not a string", ErrUnexpectedShape, typeTag)
		}
		v.Source = sourceFromTag(tag)
	case tagI32:
		if err := json.Unmarshal(payload, &v.Int); err != nil {
			return Value{}, fmt.Errorf("%w: %s is not an integer", ErrUnexpectedShape, typeTag)
		}
	case tagBool:
		if err := json.Unmarshal(payload, &v.Bool); err != nil {
			return Value{}, fmt.Errorf("%w: %s is not a bool", ErrUnexpectedShape, typeTag)
		}
	default:
		return Value{}, fmt.Errorf("%w: type tag %q", ErrUnexpectedShape, typeTag)
	}

	return v, nil
}

// sourceToTag maps semantic sources to wire tags. The device distinguishes
// the TOSLINK input ("optic") from HDMI/TV ("tv").
var sourceToTag = map[Source]string{
	SourceWifi:      "wifi",
	SourceBluetooth: "bluetooth",
	SourceUsb:       "usb",
	SourceOptical:   "optic",
	SourceTV:        "tv",
}

func sourceFromTag(tag string) Source {
	switch tag {
	case "wifi":
		return SourceWifi
	case "bluetooth":
		return SourceBluetooth
	case "usb":
		return SourceUsb
	case "optic":
		return SourceOptical
	case "tv":
		return SourceTV
	default:
		return SourceUnknown
	}
}

func powerFromTag(tag string) PowerState {
	switch tag {
	case wirePowerOn:
		return PowerOn
	case wirePowerStandby:
		return PowerStandby
	default:
		return PowerUnknown
	}
}

// taggedString builds a tagged value document with a string payload.
func taggedString(typeTag, value string) string {
	doc, _ := json.Marshal(map[string]string{ //nolint:errcheck // string maps cannot fail to marshal
		"type":  typeTag,
		typeTag: value,
	})
	return string(doc)
}
