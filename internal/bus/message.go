package bus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Topics used by the radio link and its tools.
const (
	TopicDownlinkFrame    = "radio.downlink_frame"
	TopicSDRDownlinkFrame = "sdr.downlink_frame"
	TopicUplinkFrame      = "radio.uplink_frame"
	TopicRSSIInstant      = "radio.rssi_instant"
	TopicRSSIPacket       = "radio.rssi_packet"
	TopicStats            = "radio.stats"
	TopicUplinkState      = "radio.uplink_state"
	TopicPAPowerRequest   = "radio.pa_power_request"
	TopicLinkLoss         = "radio.link_loss"

	TopicUplinkSDURequest = "uslp.uplink_sdu_request"
)

var (
	// ErrMalformed is returned for messages whose parts or metadata can not be used.
	ErrMalformed = errors.New("bus: malformed message")
	// ErrClosed is returned once the bus connection is gone.
	ErrClosed = errors.New("bus: connection closed")
)

// Message is one bus message: topic, JSON metadata and an optional payload.
// A nil Payload means the payload part is absent.
type Message struct {
	Topic   string
	Meta    json.RawMessage
	Payload []byte
}

// NewMessage builds a message, encoding meta as JSON.
func NewMessage(topic string, meta interface{}, payload []byte) (Message, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s metadata: %w", topic, err)
	}
	return Message{Topic: topic, Meta: raw, Payload: payload}, nil
}

// ParseParts builds a message from its wire parts.
func ParseParts(parts [][]byte) (Message, error) {
	if len(parts) < 2 {
		return Message{}, fmt.Errorf("%w: expected at least 2 parts, got %d", ErrMalformed, len(parts))
	}

	meta := bytes.TrimSpace(parts[1])
	if !json.Valid(meta) || len(meta) == 0 || meta[0] != '{' {
		return Message{}, fmt.Errorf("%w: %s metadata is not a JSON object", ErrMalformed, parts[0])
	}

	msg := Message{Topic: string(parts[0]), Meta: json.RawMessage(parts[1])}
	if len(parts) > 2 {
		msg.Payload = parts[2]
		if msg.Payload == nil {
			msg.Payload = []byte{}
		}
	}
	return msg, nil
}

// Parts returns the wire parts of the message.
func (m Message) Parts() [][]byte {
	parts := [][]byte{[]byte(m.Topic), []byte(m.Meta)}
	if m.Payload != nil {
		parts = append(parts, m.Payload)
	}
	return parts
}

// HasPayload reports whether the payload part is present.
func (m Message) HasPayload() bool {
	return m.Payload != nil
}

// DecodeMeta unmarshals the metadata into v.
func (m Message) DecodeMeta(v interface{}) error {
	if err := json.Unmarshal(m.Meta, v); err != nil {
		return fmt.Errorf("%w: %s metadata: %v", ErrMalformed, m.Topic, err)
	}
	return nil
}

// MetaFields decodes the metadata into a flat key/value map.
func (m Message) MetaFields() (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	if err := m.DecodeMeta(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// RequireKeys checks that every key is present in the metadata.
func (m Message) RequireKeys(keys ...string) error {
	fields := make(map[string]json.RawMessage)
	if err := m.DecodeMeta(&fields); err != nil {
		return err
	}
	for _, key := range keys {
		if _, ok := fields[key]; !ok {
			return fmt.Errorf("%w: %s metadata has no field %q but it is required", ErrMalformed, m.Topic, key)
		}
	}
	return nil
}

// Result is the outcome of handling one inbound message.
type Result int

const (
	// Processed means the message was consumed.
	Processed Result = iota
	// Ignored means the topic or message is not handled by the receiver.
	Ignored
	// Rejected means the message was valid but refused by policy.
	Rejected
	// Malformed means the message was dropped because its parts or metadata are unusable.
	Malformed
)

func (r Result) String() string {
	switch r {
	case Processed:
		return "processed"
	case Ignored:
		return "ignored"
	case Rejected:
		return "rejected"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}
