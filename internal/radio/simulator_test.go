package radio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundlink/internal/bus"
)

func cookiePtr(c uint64) *uint64 { return &c }

func TestHandleMessage_UplinkOverwrite(t *testing.T) {
	sim, b, _ := newTestSimulator(Options{})

	res, err := sim.HandleMessage(uplinkRequest(t, 10, []byte("A")))
	require.NoError(t, err)
	assert.Equal(t, bus.Processed, res)

	res, err = sim.HandleMessage(uplinkRequest(t, 11, []byte("B")))
	require.NoError(t, err)
	assert.Equal(t, bus.Processed, res)

	assert.Equal(t, UplinkState{InWait: cookiePtr(11)}, sim.Uplink())
	assert.Len(t, b.byTopic(bus.TopicUplinkState), 2, "every change is published right away")
}

func TestHandleMessage_UplinkReject(t *testing.T) {
	sim, _, _ := newTestSimulator(Options{Policy: PolicyReject})

	_, err := sim.HandleMessage(uplinkRequest(t, 10, []byte("A")))
	require.NoError(t, err)
	res, err := sim.HandleMessage(uplinkRequest(t, 11, []byte("B")))
	require.NoError(t, err)

	assert.Equal(t, bus.Rejected, res)
	assert.Equal(t, UplinkState{InWait: cookiePtr(10), Dropped: cookiePtr(11)}, sim.Uplink())
}

func TestHandleMessage_PAPower(t *testing.T) {
	sim, _, _ := newTestSimulator(Options{})

	msg, err := NewPAPowerRequest(17)
	require.NoError(t, err)
	res, err := sim.HandleMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, bus.Processed, res)

	st := sim.Stats()
	require.NotNil(t, st.RequestedPAPower)
	assert.Equal(t, 17, *st.RequestedPAPower)
	assert.Equal(t, DefaultPAPower, st.CurrentPAPower, "requests are not actuated")
}

func TestHandleMessage_Malformed(t *testing.T) {
	tests := []struct {
		name string
		msg  bus.Message
	}{
		{"uplink without cookie", bus.Message{Topic: bus.TopicUplinkFrame, Meta: []byte(`{}`), Payload: []byte{1}}},
		{"uplink without payload", bus.Message{Topic: bus.TopicUplinkFrame, Meta: []byte(`{"cookie":3}`)}},
		{"uplink with bad cookie", bus.Message{Topic: bus.TopicUplinkFrame, Meta: []byte(`{"cookie":"x"}`), Payload: []byte{1}}},
		{"power without pa_power", bus.Message{Topic: bus.TopicPAPowerRequest, Meta: []byte(`{"power":10}`)}},
		{"power with bad json", bus.Message{Topic: bus.TopicPAPowerRequest, Meta: []byte(`{`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, b, _ := newTestSimulator(Options{})
			res, err := sim.HandleMessage(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, bus.Malformed, res)
			assert.Equal(t, UplinkState{}, sim.Uplink())
			assert.Nil(t, sim.Stats().RequestedPAPower)
			assert.Empty(t, b.byTopic(bus.TopicUplinkState))
		})
	}
}

func TestHandleMessage_UnknownTopic(t *testing.T) {
	sim, _, _ := newTestSimulator(Options{})
	res, err := sim.HandleMessage(bus.Message{Topic: "radio.something", Meta: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, bus.Ignored, res)
}

func TestHandleMessage_PublishFailure(t *testing.T) {
	sim, b, _ := newTestSimulator(Options{})
	b.err = errors.New("socket gone")

	_, err := sim.HandleMessage(uplinkRequest(t, 1, []byte{1}))
	assert.Error(t, err)
}

func TestCycle_DownlinkFrames(t *testing.T) {
	sim, b, _ := newTestSimulator(Options{},
		[]byte{0x05, 0x00, 'a', 'b'},
		[]byte{0x06, 0x00, 'c'},
	)

	require.NoError(t, sim.Cycle(context.Background()))
	assert.Equal(t, Idle, sim.State())

	frames := b.byTopic(bus.TopicDownlinkFrame)
	require.Len(t, frames, 2)
	assert.Len(t, b.byTopic(bus.TopicRSSIPacket), 2)

	first := decodeFields(t, frames[0])
	assert.Equal(t, float64(5), first["frame_no"])
	assert.Equal(t, float64(1), first["cookie"])
	assert.Equal(t, true, first["checksum_valid"])
	assert.Equal(t, float64(11), first["snr_pkt"])
	assert.Equal(t, []byte("ab"), frames[0].Payload)

	second := decodeFields(t, frames[1])
	assert.Equal(t, float64(6), second["frame_no"])
	assert.Equal(t, float64(2), second["cookie"])

	st := sim.Stats()
	assert.Equal(t, uint64(2), st.PktReceived)
	assert.Equal(t, uint64(2), st.SrvRxFrames)
}

func TestCycle_FramesKeepListeningWindowOpen(t *testing.T) {
	const frames = 6
	timing := testTiming()
	timing.Listen = 50 * time.Millisecond
	sim, b, link := newTestSimulator(Options{Timing: timing})

	_, err := sim.HandleMessage(uplinkRequest(t, 1, []byte("up")))
	require.NoError(t, err)

	lastFrame := make(chan time.Time, 1)
	go func() {
		var at time.Time
		for i := 0; i < frames; i++ {
			time.Sleep(20 * time.Millisecond)
			at = time.Now()
			link.frames <- []byte{byte(i), 0x00, 'd'}
		}
		lastFrame <- at
	}()

	require.NoError(t, sim.Cycle(context.Background()))

	last := <-lastFrame
	assert.Len(t, b.byTopic(bus.TopicDownlinkFrame), frames)
	sentAt := link.sendTimes()
	require.Len(t, sentAt, 1)
	assert.GreaterOrEqual(t, sentAt[0].Sub(last), timing.Listen,
		"the uplink goes out only after a full listen period without frames")
}

func TestCycle_ShortFrameCountsHeaderError(t *testing.T) {
	sim, b, _ := newTestSimulator(Options{}, []byte{0x01})

	require.NoError(t, sim.Cycle(context.Background()))
	assert.Empty(t, b.byTopic(bus.TopicDownlinkFrame))
	assert.Equal(t, uint64(1), sim.Stats().HdrErrors)
	assert.Equal(t, uint64(0), sim.Stats().PktReceived)
}

func TestCycle_TransmitsBufferedUplink(t *testing.T) {
	sim, b, link := newTestSimulator(Options{})
	ctx := context.Background()

	_, err := sim.HandleMessage(uplinkRequest(t, 7, []byte("hi")))
	require.NoError(t, err)
	require.NoError(t, sim.Cycle(ctx))

	require.Equal(t, [][]byte{{0x00, 0x00, 'h', 'i'}}, link.sentFrames())
	assert.Equal(t, UplinkState{Sent: cookiePtr(7)}, sim.Uplink())
	assert.Equal(t, uint64(1), sim.Stats().SrvTxFrames)

	var sawInProgress bool
	for _, msg := range b.byTopic(bus.TopicUplinkState) {
		state, err := DecodeUplinkState(msg)
		require.NoError(t, err)
		if state.InProgress != nil && *state.InProgress == 7 {
			assert.Nil(t, state.InWait)
			sawInProgress = true
		}
	}
	assert.True(t, sawInProgress, "in_progress state is published before the frame goes out")

	_, err = sim.HandleMessage(uplinkRequest(t, 8, []byte("yo")))
	require.NoError(t, err)
	require.NoError(t, sim.Cycle(ctx))

	sent := link.sentFrames()
	require.Len(t, sent, 2)
	assert.Equal(t, []byte{0x01, 0x00, 'y', 'o'}, sent[1])
	assert.Equal(t, UplinkState{Sent: cookiePtr(8)}, sim.Uplink())
}

func TestTransmit_RequestDuringTransmitIsDropped(t *testing.T) {
	for _, policy := range []Policy{PolicyOverwrite, PolicyReject} {
		t.Run(string(policy), func(t *testing.T) {
			sim, b, link := newTestSimulator(Options{Policy: policy})

			_, err := sim.HandleMessage(uplinkRequest(t, 1, []byte("A")))
			require.NoError(t, err)
			// served by the active sleep of the transmit delay
			b.in <- uplinkRequest(t, 2, []byte("B"))

			require.NoError(t, sim.transmitIteration(context.Background()))

			assert.Equal(t, [][]byte{{0x00, 0x00, 'A'}}, link.sentFrames())
			assert.Equal(t, UplinkState{Sent: cookiePtr(1), Dropped: cookiePtr(2)}, sim.Uplink())
			assert.Empty(t, b.in)

			for _, msg := range b.byTopic(bus.TopicUplinkState) {
				state, err := DecodeUplinkState(msg)
				require.NoError(t, err)
				assert.False(t, state.InWait != nil && state.InProgress != nil,
					"in_wait=%v in_progress=%v", state.InWait, state.InProgress)
			}
		})
	}
}

func TestCycle_NothingToTransmit(t *testing.T) {
	sim, _, link := newTestSimulator(Options{})
	require.NoError(t, sim.Cycle(context.Background()))
	assert.Empty(t, link.sentFrames())
}

func TestCycle_TransportClosed(t *testing.T) {
	sim, _, link := newTestSimulator(Options{})
	close(link.frames)
	assert.ErrorIs(t, sim.Cycle(context.Background()), ErrTransportClosed)

	sim, _, link = newTestSimulator(Options{})
	link.err = errors.New("read failed")
	close(link.frames)
	assert.ErrorIs(t, sim.Cycle(context.Background()), link.err)
}

func TestCycle_BusClosed(t *testing.T) {
	sim, b, _ := newTestSimulator(Options{})
	close(b.in)
	assert.ErrorIs(t, sim.Cycle(context.Background()), bus.ErrClosed)
}

func TestRun_CancelEndsListening(t *testing.T) {
	timing := testTiming()
	timing.Listen = time.Hour
	sim, _, link := newTestSimulator(Options{Timing: timing})

	_, err := sim.HandleMessage(uplinkRequest(t, 3, []byte{1}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	require.NoError(t, sim.Run(ctx))
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, link.sentFrames(), "no transmission starts after cancellation")
	assert.Equal(t, cookiePtr(3), sim.Uplink().InWait)
}

func TestActiveSleep_ServesBus(t *testing.T) {
	sim, b, _ := newTestSimulator(Options{})
	b.in <- uplinkRequest(t, 42, []byte("x"))

	require.NoError(t, sim.activeSleep(context.Background(), 10*time.Millisecond, false))
	assert.Equal(t, cookiePtr(42), sim.Uplink().InWait)
}

func TestActiveSleep_Emitters(t *testing.T) {
	timing := testTiming()
	timing.InstantRSSI = time.Millisecond
	sim, b, _ := newTestSimulator(Options{Timing: timing})

	require.NoError(t, sim.activeSleep(context.Background(), 30*time.Millisecond, false))
	assert.GreaterOrEqual(t, len(b.byTopic(bus.TopicRSSIInstant)), 2)
	assert.Len(t, b.byTopic(bus.TopicStats), 1)
	assert.Len(t, b.byTopic(bus.TopicUplinkState), 1)
}

func TestActiveSleep_BlockedEmitters(t *testing.T) {
	timing := testTiming()
	timing.InstantRSSI = time.Millisecond
	sim, b, _ := newTestSimulator(Options{Timing: timing, BlockInstantRSSI: true, BlockStats: true})

	require.NoError(t, sim.activeSleep(context.Background(), 10*time.Millisecond, false))
	assert.Empty(t, b.byTopic(bus.TopicRSSIInstant))
	assert.Empty(t, b.byTopic(bus.TopicStats))
	assert.Len(t, b.byTopic(bus.TopicUplinkState), 1, "uplink state can not be blocked")
}

func TestActiveSleep_Cancellation(t *testing.T) {
	sim, _, _ := newTestSimulator(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	require.NoError(t, sim.activeSleep(ctx, 50*time.Millisecond, false))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "transmit delays always complete")

	start = time.Now()
	require.NoError(t, sim.activeSleep(ctx, time.Hour, true))
	assert.Less(t, time.Since(start), time.Second)
}

func TestStatsMessage(t *testing.T) {
	sim, b, _ := newTestSimulator(Options{})
	require.NoError(t, sim.sendStats(time.Unix(100, 250_000)))

	msgs := b.byTopic(bus.TopicStats)
	require.Len(t, msgs, 1)
	fields := decodeFields(t, msgs[0])

	for _, key := range []string{
		"pkt_received", "crc_errors", "hdr_errors",
		"error_rc64k_calib", "error_rc13m_calib", "error_pll_calib", "error_adc_calib",
		"error_img_calib", "error_xosc_start", "error_pll_lock", "error_pa_ramp",
		"srv_rx_done", "srv_rx_frames", "srv_tx_frames",
		"current_pa_power", "requested_pa_power", "time_s", "time_us",
	} {
		assert.Contains(t, fields, key)
	}
	assert.Equal(t, float64(22), fields["current_pa_power"])
	assert.Nil(t, fields["requested_pa_power"])
	assert.Equal(t, float64(100), fields["time_s"])
	assert.Equal(t, float64(250), fields["time_us"])
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "listening", Listening.String())
	assert.Equal(t, "transmitting", Transmitting.String())
}
