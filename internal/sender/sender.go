// Package sender builds the test traffic the bus tool injects: uplink frame
// sequences, USLP SDU requests and PA power requests.
package sender

import (
	"fmt"

	"groundlink/internal/bus"
	"groundlink/internal/cookie"
	"groundlink/internal/epp"
	"groundlink/internal/radio"
)

const (
	// FrameSize is the payload size of generated uplink frames.
	FrameSize = 200
	// SDUSize is the size of the generated SDU before encapsulation.
	SDUSize = 500
)

// PAPowerLevels are the transmitter powers the modem supports, in dBm.
var PAPowerLevels = []int{10, 14, 17, 20, 22}

// CheckPAPower reports whether dbm is a supported power level.
func CheckPAPower(dbm int) error {
	for _, level := range PAPowerLevels {
		if dbm == level {
			return nil
		}
	}
	return fmt.Errorf("invalid pa power value %d, allowed values: %v", dbm, PAPowerLevels)
}

// Sequencer keeps the radio's uplink window busy: whenever its last frame is
// no longer waiting it produces the next one.
type Sequencer struct {
	cookies   *cookie.Allocator
	serial    byte
	frameSize int
}

// NewSequencer creates a sequencer producing frames of frameSize bytes.
func NewSequencer(frameSize int) *Sequencer {
	if frameSize <= 0 {
		frameSize = FrameSize
	}
	return &Sequencer{cookies: cookie.NewAllocator(1), frameSize: frameSize}
}

// Current returns the cookie of the last frame produced, 0 before the first.
func (s *Sequencer) Current() uint64 {
	return s.cookies.Last()
}

// Step reacts to an uplink state report. It returns the next uplink frame
// request unless the current frame is still waiting for or held by the
// transmitter.
func (s *Sequencer) Step(state radio.UplinkState) (bus.Message, bool, error) {
	current := s.cookies.Last()
	if holds(state.InWait, current) || holds(state.InProgress, current) {
		return bus.Message{}, false, nil
	}

	msg, err := radio.NewUplinkFrameMessage(s.cookies.Next(), s.nextPayload())
	if err != nil {
		return bus.Message{}, false, err
	}
	return msg, true, nil
}

func holds(slot *uint64, cookie uint64) bool {
	return slot != nil && *slot == cookie
}

// nextPayload fills a frame with a byte counter that continues across frames.
func (s *Sequencer) nextPayload() []byte {
	payload := make([]byte, s.frameSize)
	for i := range payload {
		payload[i] = s.serial
		s.serial++
	}
	return payload
}

// TestSDU returns the n byte test pattern sent as an SDU.
func TestSDU(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 0xFF)
	}
	return data
}

// SDURequest wraps data in a private EPP packet and addresses it to ch.
func SDURequest(ch bus.ChannelID, cookie uint64, qos bus.QoS, data []byte) (bus.Message, error) {
	packet, err := epp.Wrap(epp.ProtocolPrivate, data)
	if err != nil {
		return bus.Message{}, fmt.Errorf("failed to encapsulate SDU: %w", err)
	}
	return bus.NewSDURequest(ch, cookie, qos, packet)
}
