package bus

import (
	"fmt"
	"strconv"
	"strings"
)

// QoS is the requested delivery quality of an uplink SDU.
type QoS string

const (
	QoSExpedited          QoS = "expedited"
	QoSSequenceControlled QoS = "sequence_controlled"
)

// ParseQoS validates a QoS string.
func ParseQoS(s string) (QoS, error) {
	switch QoS(s) {
	case QoSExpedited, QoSSequenceControlled:
		return QoS(s), nil
	default:
		return "", fmt.Errorf("invalid qos value %q (expected %s or %s)", s, QoSExpedited, QoSSequenceControlled)
	}
}

// ChannelID addresses a USLP MAP channel: spacecraft, virtual channel and MAP ids.
type ChannelID struct {
	SC  int
	VC  int
	MAP int
}

func (c ChannelID) String() string {
	return fmt.Sprintf("sc_id=0x%X, vc_id=0x%X, map_id=0x%X", c.SC, c.VC, c.MAP)
}

// ChannelTopic appends the channel ids to a topic base.
func ChannelTopic(base string, ch ChannelID) string {
	return fmt.Sprintf("%s.%d.%d.%d", base, ch.SC, ch.VC, ch.MAP)
}

// UplinkSDUTopic is the topic an uplink SDU request for ch is published on.
func UplinkSDUTopic(ch ChannelID) string {
	return ChannelTopic(TopicUplinkSDURequest, ch)
}

// ChannelFromTopic extracts the channel ids from the last three dot separated
// tokens of a topic. Numbers may carry a 0x or 0 prefix.
func ChannelFromTopic(topic string) (ChannelID, error) {
	var parts []string
	for _, p := range strings.Split(topic, ".") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 3 {
		return ChannelID{}, fmt.Errorf("bad topic for channel id extraction: %s", topic)
	}

	ids := make([]int, 3)
	for i, p := range parts[len(parts)-3:] {
		v, err := strconv.ParseInt(p, 0, 32)
		if err != nil {
			return ChannelID{}, fmt.Errorf("bad topic for channel id extraction: %s: %w", topic, err)
		}
		ids[i] = int(v)
	}
	return ChannelID{SC: ids[0], VC: ids[1], MAP: ids[2]}, nil
}

// SDURequest is the metadata of an uplink SDU request.
type SDURequest struct {
	SCID   int    `json:"sc_id"`
	VCID   int    `json:"vchannel_id"`
	MAPID  int    `json:"map_id"`
	Cookie uint64 `json:"cookie"`
	QoS    QoS    `json:"qos"`
}

// NewSDURequest builds the bus message asking the USLP stack to send data on ch.
func NewSDURequest(ch ChannelID, cookie uint64, qos QoS, data []byte) (Message, error) {
	meta := SDURequest{SCID: ch.SC, VCID: ch.VC, MAPID: ch.MAP, Cookie: cookie, QoS: qos}
	return NewMessage(UplinkSDUTopic(ch), meta, data)
}
