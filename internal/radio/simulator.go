// Package radio imitates the half-duplex ground modem: frames arriving on the
// raw link are published on the bus, and uplink requests from the bus are
// transmitted back out one at a time.
package radio

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"groundlink/internal/bus"
	"groundlink/internal/cookie"
)

// ErrTransportClosed is returned when the raw link stops delivering frames
// without reporting a cause.
var ErrTransportClosed = errors.New("radio: raw transport closed")

// Bus is the part of the bus client the simulator uses.
type Bus interface {
	Publish(msg bus.Message) error
	Messages() <-chan bus.Message
}

// Transport is the raw air link.
type Transport interface {
	Frames() <-chan []byte
	Send(data []byte) error
	Err() error
}

// Timing holds the simulated modem timings.
type Timing struct {
	// Poll bounds a single wait on the bus so emitters stay on schedule.
	Poll time.Duration
	// FrameRecv is the receive slot: at most one frame is taken per slot.
	FrameRecv time.Duration
	// FrameTransmit is the time an uplink frame spends on air.
	FrameTransmit time.Duration
	// Listen is how long the receive window stays open after the last frame.
	Listen time.Duration

	InstantRSSI time.Duration
	Stats       time.Duration
	UplinkState time.Duration
}

// DefaultTiming returns the timings of the real modem.
func DefaultTiming() Timing {
	return Timing{
		Poll:          time.Millisecond,
		FrameRecv:     200 * time.Millisecond,
		FrameTransmit: 400 * time.Millisecond,
		Listen:        5 * time.Second,
		InstantRSSI:   100 * time.Millisecond,
		Stats:         time.Second,
		UplinkState:   time.Second,
	}
}

// Options configure a Simulator.
type Options struct {
	Timing           Timing
	BlockInstantRSSI bool
	BlockStats       bool
	Policy           Policy
	PAPower          int
}

// State of the modem.
type State int

const (
	Idle State = iota
	Listening
	Transmitting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Transmitting:
		return "transmitting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Simulator runs the modem loop. All of its state is owned by the goroutine
// calling Run or Cycle.
type Simulator struct {
	bus  Bus
	link Transport
	opts Options

	state         State
	stats         Stats
	uplink        *uplinkWindow
	cookies       *cookie.Allocator
	uplinkFrameNo uint16

	lastInstantRSSI time.Time
	lastStats       time.Time
	lastUplinkState time.Time

	now func() time.Time
}

// New creates a simulator publishing to b and radiating over link.
func New(b Bus, link Transport, opts Options) *Simulator {
	if opts.Timing == (Timing{}) {
		opts.Timing = DefaultTiming()
	}
	if opts.Timing.Poll <= 0 {
		opts.Timing.Poll = time.Millisecond
	}
	if opts.PAPower == 0 {
		opts.PAPower = DefaultPAPower
	}

	return &Simulator{
		bus:     b,
		link:    link,
		opts:    opts,
		stats:   NewStats(opts.PAPower),
		uplink:  newUplinkWindow(opts.Policy),
		cookies: cookie.NewAllocator(1),
		now:     time.Now,
	}
}

// State returns the current modem state.
func (s *Simulator) State() State {
	return s.state
}

// Stats returns a copy of the modem counters.
func (s *Simulator) Stats() Stats {
	st := s.stats
	if st.RequestedPAPower != nil {
		v := *st.RequestedPAPower
		st.RequestedPAPower = &v
	}
	return st
}

// Uplink returns a copy of the uplink window state.
func (s *Simulator) Uplink() UplinkState {
	return s.uplink.state.clone()
}

// Run cycles until ctx is cancelled or a transport fails.
func (s *Simulator) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"listen":   s.opts.Timing.Listen,
		"transmit": s.opts.Timing.FrameTransmit,
		"policy":   s.uplink.policy,
	}).Info("Radio imitator started")

	for ctx.Err() == nil {
		if err := s.Cycle(ctx); err != nil {
			return err
		}
	}

	log.Info("Radio imitator stopped")
	return nil
}

// Cycle runs one listen window followed by at most one uplink transmission.
// Cancelling ctx closes the window at the next wait point; a transmission
// that already started always completes.
func (s *Simulator) Cycle(ctx context.Context) error {
	defer func() { s.state = Idle }()

	s.state = Listening
	deadline := s.now().Add(s.opts.Timing.Listen)
	for s.now().Before(deadline) {
		got, err := s.receiveIteration(ctx)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if got {
			deadline = s.now().Add(s.opts.Timing.Listen)
		}
	}

	return s.transmitIteration(ctx)
}

// receiveIteration spends one receive slot, then takes at most one frame off
// the raw link.
func (s *Simulator) receiveIteration(ctx context.Context) (bool, error) {
	if err := s.activeSleep(ctx, s.opts.Timing.FrameRecv, true); err != nil {
		return false, err
	}
	if ctx.Err() != nil {
		return false, nil
	}

	select {
	case data, ok := <-s.link.Frames():
		if !ok {
			if err := s.link.Err(); err != nil {
				return false, fmt.Errorf("raw link failed: %w", err)
			}
			return false, ErrTransportClosed
		}
		return true, s.receiveFrame(data)
	default:
		return false, nil
	}
}

func (s *Simulator) receiveFrame(data []byte) error {
	frameNo, payload, err := ParseRawFrame(data)
	if err != nil {
		s.stats.HdrErrors++
		log.WithError(err).Warn("Dropping raw frame")
		return nil
	}

	frame := DownlinkFrame{
		FrameNo:       frameNo,
		Cookie:        s.cookies.Next(),
		Payload:       payload,
		ChecksumValid: true,
		RSSIPkt:       syntheticRSSIPkt,
		SNRPkt:        syntheticSNRPkt,
		RSSISignal:    syntheticRSSISignal,
		ReceivedAt:    s.now(),
	}

	frameMsg, rssiMsg, err := frame.Messages()
	if err != nil {
		return err
	}
	if err := s.publish(frameMsg); err != nil {
		return err
	}
	if err := s.publish(rssiMsg); err != nil {
		return err
	}

	s.stats.SrvRxFrames++
	s.stats.PktReceived++

	log.WithFields(log.Fields{
		"frame_no": frame.FrameNo,
		"cookie":   frame.Cookie,
		"size":     len(payload),
	}).Info("Got downlink frame")
	return nil
}

func (s *Simulator) transmitIteration(ctx context.Context) error {
	uplinkCookie, payload, ok := s.uplink.begin()
	if !ok {
		return nil
	}
	s.state = Transmitting

	data := EncodeRawFrame(s.uplinkFrameNo, payload)
	frameNo := s.uplinkFrameNo
	s.uplinkFrameNo++

	if err := s.sendUplinkState(); err != nil {
		return err
	}

	if err := s.activeSleep(ctx, s.opts.Timing.FrameTransmit, false); err != nil {
		return err
	}

	if err := s.link.Send(data); err != nil {
		return fmt.Errorf("failed to transmit uplink frame %d: %w", frameNo, err)
	}
	s.stats.SrvTxFrames++
	s.uplink.complete()

	log.WithFields(log.Fields{
		"frame_no": frameNo,
		"cookie":   uplinkCookie,
		"size":     len(payload),
	}).Info("Transmitted uplink frame")

	return s.sendUplinkState()
}

// activeSleep waits for d while serving the bus and the periodic emitters.
// When interruptible is false ctx cancellation does not shorten the wait.
func (s *Simulator) activeSleep(ctx context.Context, d time.Duration, interruptible bool) error {
	done := ctx.Done()
	deadline := s.now().Add(d)

	for {
		remaining := deadline.Sub(s.now())
		if remaining <= 0 {
			return nil
		}
		wait := s.opts.Timing.Poll
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case msg, ok := <-s.bus.Messages():
			timer.Stop()
			if !ok {
				return bus.ErrClosed
			}
			if _, err := s.HandleMessage(msg); err != nil {
				return err
			}
		case <-done:
			timer.Stop()
			if interruptible {
				return nil
			}
			done = nil
		case <-timer.C:
		}

		if err := s.serviceEmitters(); err != nil {
			return err
		}
	}
}

func (s *Simulator) serviceEmitters() error {
	now := s.now()
	t := s.opts.Timing

	if now.Sub(s.lastInstantRSSI) > t.InstantRSSI {
		if !s.opts.BlockInstantRSSI {
			if err := s.sendInstantRSSI(now); err != nil {
				return err
			}
		}
		s.lastInstantRSSI = now
	}

	if now.Sub(s.lastStats) > t.Stats {
		if !s.opts.BlockStats {
			if err := s.sendStats(now); err != nil {
				return err
			}
		}
		s.lastStats = now
	}

	if now.Sub(s.lastUplinkState) > t.UplinkState {
		return s.sendUplinkState()
	}
	return nil
}

// HandleMessage applies one inbound bus message. Only a failure to publish
// the resulting state is returned as an error.
func (s *Simulator) HandleMessage(msg bus.Message) (bus.Result, error) {
	switch msg.Topic {
	case bus.TopicPAPowerRequest:
		return s.handlePAPowerRequest(msg), nil
	case bus.TopicUplinkFrame:
		return s.handleUplinkFrame(msg)
	default:
		log.WithField("topic", msg.Topic).Warn("Got an unknown topic")
		return bus.Ignored, nil
	}
}

func (s *Simulator) handlePAPowerRequest(msg bus.Message) bus.Result {
	var meta paPowerMeta
	if err := msg.DecodeMeta(&meta); err != nil {
		log.WithError(err).Error("Dropping PA power request")
		return bus.Malformed
	}
	if meta.PAPower == nil {
		log.WithField("meta", string(msg.Meta)).Error("Dropping PA power request without pa_power")
		return bus.Malformed
	}

	log.WithField("pa_power", *meta.PAPower).Info("Got PA power request")
	s.stats.RequestedPAPower = meta.PAPower
	return bus.Processed
}

func (s *Simulator) handleUplinkFrame(msg bus.Message) (bus.Result, error) {
	if err := msg.RequireKeys("cookie"); err != nil {
		log.WithError(err).Error("Dropping uplink frame request")
		return bus.Malformed, nil
	}
	var req UplinkFrameRequest
	if err := msg.DecodeMeta(&req); err != nil {
		log.WithError(err).Error("Dropping uplink frame request")
		return bus.Malformed, nil
	}
	if !msg.HasPayload() {
		log.WithField("cookie", req.Cookie).Error("Dropping uplink frame request without payload")
		return bus.Malformed, nil
	}

	result := s.uplink.offer(req.Cookie, msg.Payload)
	fields := log.Fields{
		"cookie": req.Cookie,
		"size":   len(msg.Payload),
	}
	if result == bus.Rejected {
		log.WithFields(fields).Warn("Rejected uplink frame request, transmitter busy")
	} else {
		log.WithFields(fields).Info("Got uplink frame request")
	}

	return result, s.sendUplinkState()
}

func (s *Simulator) sendInstantRSSI(now time.Time) error {
	msg, err := bus.NewMessage(bus.TopicRSSIInstant, instantRSSIMeta{Stamp: StampOf(now), RSSI: syntheticRSSI}, nil)
	if err != nil {
		return err
	}
	return s.publish(msg)
}

func (s *Simulator) sendStats(now time.Time) error {
	msg, err := bus.NewMessage(bus.TopicStats, statsMeta{Stats: s.stats, Stamp: StampOf(now)}, nil)
	if err != nil {
		return err
	}
	return s.publish(msg)
}

func (s *Simulator) sendUplinkState() error {
	now := s.now()
	msg, err := bus.NewMessage(bus.TopicUplinkState, uplinkStateMeta{Stamp: StampOf(now), UplinkState: s.uplink.state}, nil)
	if err != nil {
		return err
	}
	s.lastUplinkState = now
	return s.publish(msg)
}

func (s *Simulator) publish(msg bus.Message) error {
	if err := s.bus.Publish(msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Topic, err)
	}
	log.WithField("topic", msg.Topic).Debug("Published")
	return nil
}
