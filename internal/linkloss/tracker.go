// Package linkloss derives a running count of missed downlink frames from the
// frame numbers published by the radio.
package linkloss

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"groundlink/internal/bus"
	"groundlink/pkg/types"
)

// Tracker counts frames skipped between consecutive downlink frame numbers.
//
// The comparison is not wrap aware: a jump from 65535 to 0 is not loss, and
// neither is any step backwards. Downstream tools depend on these numbers, so
// it stays that way.
type Tracker struct {
	last *int64
	lost uint64
}

// NewTracker creates a tracker that has not seen any frame yet.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe accounts one frame number and returns the updated summary.
func (t *Tracker) Observe(frameNo int64) types.LossSummary {
	if t.last != nil && frameNo > *t.last+1 {
		t.lost += uint64(frameNo - (*t.last + 1))
	}
	t.last = &frameNo
	return types.LossSummary{Count: t.lost, Num: frameNo}
}

// Lost returns the number of frames counted as missed so far.
func (t *Tracker) Lost() uint64 {
	return t.lost
}

// Reset forgets the last seen frame and the running count.
func (t *Tracker) Reset() {
	t.last = nil
	t.lost = 0
}

// Process feeds a downlink frame message into the tracker.
func (t *Tracker) Process(msg bus.Message) (types.LossSummary, bus.Result) {
	if msg.Topic != bus.TopicDownlinkFrame && msg.Topic != bus.TopicSDRDownlinkFrame {
		return types.LossSummary{}, bus.Ignored
	}

	var meta struct {
		FrameNo *json.Number `json:"frame_no"`
	}
	if err := msg.DecodeMeta(&meta); err != nil {
		log.WithError(err).Warn("Dropping downlink frame with bad metadata")
		return types.LossSummary{}, bus.Malformed
	}
	if meta.FrameNo == nil {
		log.WithField("topic", msg.Topic).Warn("Dropping downlink frame without frame_no")
		return types.LossSummary{}, bus.Malformed
	}

	frameNo, err := meta.FrameNo.Int64()
	if err != nil {
		log.WithFields(log.Fields{
			"topic":    msg.Topic,
			"frame_no": meta.FrameNo.String(),
		}).Warn("Dropping downlink frame with non-integer frame_no")
		return types.LossSummary{}, bus.Malformed
	}

	summary := t.Observe(frameNo)
	log.WithFields(log.Fields{
		"frame_no": frameNo,
		"lost":     summary.Count,
	}).Debug("Downlink frame accounted")
	return summary, bus.Processed
}

// SummaryMessage builds the radio.link_loss message for a summary.
func SummaryMessage(s types.LossSummary) (bus.Message, error) {
	return bus.NewMessage(bus.TopicLinkLoss, s, nil)
}
