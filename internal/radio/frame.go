package radio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"groundlink/internal/bus"
)

// frameNoSize is the little-endian frame counter prefixed to every datagram
// on the raw link.
const frameNoSize = 2

// ErrShortFrame is returned for raw datagrams too short to carry a frame number.
var ErrShortFrame = errors.New("radio: datagram shorter than its frame number")

// Synthetic link quality reported for every frame.
const (
	syntheticRSSIPkt    = 0
	syntheticSNRPkt     = 11
	syntheticRSSISignal = 0
	syntheticRSSI       = 0
)

// DownlinkFrame is one frame received from the probe.
type DownlinkFrame struct {
	FrameNo       uint16
	Cookie        uint64
	Payload       []byte
	ChecksumValid bool
	RSSIPkt       int
	SNRPkt        int
	RSSISignal    int
	ReceivedAt    time.Time
}

type downlinkMeta struct {
	Stamp
	ChecksumValid bool   `json:"checksum_valid"`
	Cookie        uint64 `json:"cookie"`
	FrameNo       uint16 `json:"frame_no"`
	RSSIPkt       int    `json:"rssi_pkt"`
	SNRPkt        int    `json:"snr_pkt"`
	RSSISignal    int    `json:"rssi_signal"`
}

// ParseRawFrame splits a raw link datagram into frame number and payload.
func ParseRawFrame(data []byte) (uint16, []byte, error) {
	if len(data) < frameNoSize {
		return 0, nil, fmt.Errorf("%w: got %d bytes", ErrShortFrame, len(data))
	}
	return binary.LittleEndian.Uint16(data[:frameNoSize]), data[frameNoSize:], nil
}

// EncodeRawFrame prefixes payload with its frame number for the raw link.
func EncodeRawFrame(frameNo uint16, payload []byte) []byte {
	buf := make([]byte, frameNoSize+len(payload))
	binary.LittleEndian.PutUint16(buf, frameNo)
	copy(buf[frameNoSize:], payload)
	return buf
}

func (f DownlinkFrame) meta() downlinkMeta {
	return downlinkMeta{
		Stamp:         StampOf(f.ReceivedAt),
		ChecksumValid: f.ChecksumValid,
		Cookie:        f.Cookie,
		FrameNo:       f.FrameNo,
		RSSIPkt:       f.RSSIPkt,
		SNRPkt:        f.SNRPkt,
		RSSISignal:    f.RSSISignal,
	}
}

// Messages returns the radio.downlink_frame message carrying the payload and
// its companion radio.rssi_packet.
func (f DownlinkFrame) Messages() (bus.Message, bus.Message, error) {
	payload := f.Payload
	if payload == nil {
		payload = []byte{}
	}

	frame, err := bus.NewMessage(bus.TopicDownlinkFrame, f.meta(), payload)
	if err != nil {
		return bus.Message{}, bus.Message{}, err
	}
	rssi, err := bus.NewMessage(bus.TopicRSSIPacket, f.meta(), nil)
	if err != nil {
		return bus.Message{}, bus.Message{}, err
	}
	return frame, rssi, nil
}

// UplinkFrameRequest is the metadata of a radio.uplink_frame message.
type UplinkFrameRequest struct {
	Cookie uint64 `json:"cookie"`
}

// NewUplinkFrameMessage builds a request to transmit payload under cookie.
func NewUplinkFrameMessage(cookie uint64, payload []byte) (bus.Message, error) {
	if payload == nil {
		payload = []byte{}
	}
	return bus.NewMessage(bus.TopicUplinkFrame, UplinkFrameRequest{Cookie: cookie}, payload)
}

// NewPAPowerRequest builds a radio.pa_power_request message.
func NewPAPowerRequest(dbm int) (bus.Message, error) {
	return bus.NewMessage(bus.TopicPAPowerRequest, paPowerMeta{PAPower: &dbm}, nil)
}

// DecodeUplinkState reads a radio.uplink_state message.
func DecodeUplinkState(msg bus.Message) (UplinkState, error) {
	var meta uplinkStateMeta
	if err := msg.DecodeMeta(&meta); err != nil {
		return UplinkState{}, err
	}
	return meta.UplinkState, nil
}
