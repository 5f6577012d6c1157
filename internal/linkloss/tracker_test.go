package linkloss

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundlink/internal/bus"
	"groundlink/pkg/types"
)

func frameMessage(t *testing.T, topic string, meta interface{}) bus.Message {
	t.Helper()
	msg, err := bus.NewMessage(topic, meta, []byte{0xAA})
	require.NoError(t, err)
	return msg
}

func TestObserve_Gap(t *testing.T) {
	tr := NewTracker()

	assert.Equal(t, types.LossSummary{Count: 0, Num: 1}, tr.Observe(1))
	assert.Equal(t, types.LossSummary{Count: 0, Num: 2}, tr.Observe(2))
	assert.Equal(t, types.LossSummary{Count: 2, Num: 5}, tr.Observe(5))
	assert.Equal(t, types.LossSummary{Count: 2, Num: 6}, tr.Observe(6))
	assert.Equal(t, uint64(2), tr.Lost())
}

func TestObserve_FirstFrameIsNotLoss(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, uint64(0), tr.Observe(1000).Count)
}

// The comparison is deliberately not modular: the wrap itself is not loss.
func TestObserve_WrapIsNotCounted(t *testing.T) {
	tr := NewTracker()
	tr.Observe(65534)
	tr.Observe(65535)
	assert.Equal(t, uint64(0), tr.Observe(0).Count)
	assert.Equal(t, uint64(0), tr.Observe(1).Count)
}

func TestObserve_BackwardsStepAndRepeat(t *testing.T) {
	tr := NewTracker()
	tr.Observe(10)
	assert.Equal(t, uint64(0), tr.Observe(10).Count)
	assert.Equal(t, uint64(0), tr.Observe(3).Count)
	// counting continues from the last seen number
	assert.Equal(t, uint64(1), tr.Observe(5).Count)
}

func TestReset(t *testing.T) {
	tr := NewTracker()
	tr.Observe(1)
	tr.Observe(4)
	tr.Reset()
	assert.Equal(t, uint64(0), tr.Lost())
	assert.Equal(t, uint64(0), tr.Observe(100).Count)
}

func TestProcess_Topics(t *testing.T) {
	tr := NewTracker()

	s, res := tr.Process(frameMessage(t, bus.TopicDownlinkFrame, map[string]interface{}{"frame_no": 1}))
	assert.Equal(t, bus.Processed, res)
	assert.Equal(t, int64(1), s.Num)

	s, res = tr.Process(frameMessage(t, bus.TopicSDRDownlinkFrame, map[string]interface{}{"frame_no": 3}))
	assert.Equal(t, bus.Processed, res)
	assert.Equal(t, types.LossSummary{Count: 1, Num: 3}, s)

	_, res = tr.Process(frameMessage(t, bus.TopicStats, map[string]interface{}{"frame_no": 9}))
	assert.Equal(t, bus.Ignored, res)
	assert.Equal(t, uint64(1), tr.Lost())
}

func TestProcess_Malformed(t *testing.T) {
	tr := NewTracker()
	tr.Observe(1)

	tests := []struct {
		name string
		meta interface{}
	}{
		{"missing frame_no", map[string]interface{}{"cookie": 4}},
		{"null frame_no", map[string]interface{}{"frame_no": nil}},
		{"fractional frame_no", map[string]interface{}{"frame_no": 2.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, res := tr.Process(frameMessage(t, bus.TopicDownlinkFrame, tt.meta))
			assert.Equal(t, bus.Malformed, res)
		})
	}

	// malformed messages leave the state untouched
	assert.Equal(t, uint64(1), tr.Observe(3).Count)
}

func TestProcess_NonNumericFrameNo(t *testing.T) {
	tr := NewTracker()
	msg := bus.Message{Topic: bus.TopicDownlinkFrame, Meta: []byte(`{"frame_no":"seven"}`)}
	_, res := tr.Process(msg)
	assert.Equal(t, bus.Malformed, res)
}

func TestSummaryMessage(t *testing.T) {
	msg, err := SummaryMessage(types.LossSummary{Count: 2, Num: 6})
	require.NoError(t, err)
	assert.Equal(t, bus.TopicLinkLoss, msg.Topic)
	assert.JSONEq(t, `{"count":2,"num":6}`, string(msg.Meta))
	assert.False(t, msg.HasPayload())
}
