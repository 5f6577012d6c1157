package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage_Parts(t *testing.T) {
	msg, err := NewMessage(TopicUplinkFrame, map[string]uint64{"cookie": 7}, []byte{1, 2, 3})
	require.NoError(t, err)

	parts := msg.Parts()
	require.Len(t, parts, 3)
	assert.Equal(t, []byte("radio.uplink_frame"), parts[0])
	assert.JSONEq(t, `{"cookie":7}`, string(parts[1]))
	assert.Equal(t, []byte{1, 2, 3}, parts[2])
}

func TestNewMessage_NoPayload(t *testing.T) {
	msg, err := NewMessage(TopicPAPowerRequest, map[string]int{"pa_power": 10}, nil)
	require.NoError(t, err)

	assert.False(t, msg.HasPayload())
	assert.Len(t, msg.Parts(), 2)
}

func TestParseParts(t *testing.T) {
	msg, err := ParseParts([][]byte{[]byte("radio.uplink_frame"), []byte(`{"cookie": 3}`), {}})
	require.NoError(t, err)

	assert.Equal(t, TopicUplinkFrame, msg.Topic)
	assert.True(t, msg.HasPayload(), "an empty payload part is still present")

	var meta struct {
		Cookie uint64 `json:"cookie"`
	}
	require.NoError(t, msg.DecodeMeta(&meta))
	assert.Equal(t, uint64(3), meta.Cookie)
}

func TestParseParts_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		parts [][]byte
	}{
		{"topic only", [][]byte{[]byte("radio.stats")}},
		{"bad json", [][]byte{[]byte("radio.stats"), []byte("{not json")}},
		{"json array", [][]byte{[]byte("radio.stats"), []byte("[1,2]")}},
		{"empty meta", [][]byte{[]byte("radio.stats"), {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseParts(tt.parts)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestRequireKeys(t *testing.T) {
	msg, err := NewMessage(TopicUplinkFrame, map[string]int{"cookie": 1}, nil)
	require.NoError(t, err)

	assert.NoError(t, msg.RequireKeys("cookie"))
	err = msg.RequireKeys("cookie", "pa_power")
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "pa_power")
}

func TestMetaFields(t *testing.T) {
	msg := Message{Topic: TopicDownlinkFrame, Meta: []byte(`{"frame_no": 12, "checksum_valid": true}`)}

	fields, err := msg.MetaFields()
	require.NoError(t, err)
	assert.Equal(t, float64(12), fields["frame_no"])
	assert.Equal(t, true, fields["checksum_valid"])
}

func TestChannelTopicRoundTrip(t *testing.T) {
	ch := ChannelID{SC: 0x42, VC: 0, MAP: 3}
	topic := UplinkSDUTopic(ch)
	assert.Equal(t, "uslp.uplink_sdu_request.66.0.3", topic)

	got, err := ChannelFromTopic(topic)
	require.NoError(t, err)
	assert.Equal(t, ch, got)
}

func TestChannelFromTopic_Prefixes(t *testing.T) {
	got, err := ChannelFromTopic("uslp.downlink_sdu.0x42..1.07")
	require.NoError(t, err)
	assert.Equal(t, ChannelID{SC: 0x42, VC: 1, MAP: 7}, got)

	_, err = ChannelFromTopic("uslp.downlink_sdu")
	assert.Error(t, err)

	_, err = ChannelFromTopic("a.b.c.d")
	assert.Error(t, err)
}

func TestParseQoS(t *testing.T) {
	q, err := ParseQoS("sequence_controlled")
	require.NoError(t, err)
	assert.Equal(t, QoSSequenceControlled, q)

	_, err = ParseQoS("fast")
	assert.Error(t, err)
}

func TestNewSDURequest(t *testing.T) {
	msg, err := NewSDURequest(ChannelID{SC: 0x42, VC: 0, MAP: 1}, 5, QoSExpedited, []byte{0xFE})
	require.NoError(t, err)

	assert.Equal(t, "uslp.uplink_sdu_request.66.0.1", msg.Topic)
	assert.JSONEq(t, `{"sc_id":66,"vchannel_id":0,"map_id":1,"cookie":5,"qos":"expedited"}`, string(msg.Meta))
	assert.Equal(t, []byte{0xFE}, msg.Payload)
}
