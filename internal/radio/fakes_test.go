package radio

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"groundlink/internal/bus"
)

type fakeBus struct {
	in chan bus.Message

	mu        sync.Mutex
	published []bus.Message
	err       error
}

func newFakeBus() *fakeBus {
	return &fakeBus{in: make(chan bus.Message, 16)}
}

func (b *fakeBus) Publish(msg bus.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, msg)
	return nil
}

func (b *fakeBus) Messages() <-chan bus.Message {
	return b.in
}

func (b *fakeBus) byTopic(topic string) []bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []bus.Message
	for _, m := range b.published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fakeLink struct {
	frames chan []byte
	err    error

	mu     sync.Mutex
	sent   [][]byte
	sentAt []time.Time
}

func newFakeLink(frames ...[]byte) *fakeLink {
	l := &fakeLink{frames: make(chan []byte, 16)}
	for _, f := range frames {
		l.frames <- f
	}
	return l
}

func (l *fakeLink) Frames() <-chan []byte { return l.frames }
func (l *fakeLink) Err() error            { return l.err }

func (l *fakeLink) Send(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, data)
	l.sentAt = append(l.sentAt, time.Now())
	return nil
}

func (l *fakeLink) sendTimes() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Time(nil), l.sentAt...)
}

func (l *fakeLink) sentFrames() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.sent...)
}

// testTiming keeps cycles short and fires the periodic emitters only once.
func testTiming() Timing {
	return Timing{
		Poll:          time.Millisecond,
		FrameRecv:     2 * time.Millisecond,
		FrameTransmit: 10 * time.Millisecond,
		Listen:        20 * time.Millisecond,
		InstantRSSI:   time.Hour,
		Stats:         time.Hour,
		UplinkState:   time.Hour,
	}
}

func newTestSimulator(opts Options, frames ...[]byte) (*Simulator, *fakeBus, *fakeLink) {
	if opts.Timing == (Timing{}) {
		opts.Timing = testTiming()
	}
	b := newFakeBus()
	l := newFakeLink(frames...)
	return New(b, l, opts), b, l
}

func uplinkRequest(t *testing.T, cookie uint64, payload []byte) bus.Message {
	t.Helper()
	msg, err := NewUplinkFrameMessage(cookie, payload)
	require.NoError(t, err)
	return msg
}

func decodeFields(t *testing.T, msg bus.Message) map[string]interface{} {
	t.Helper()
	fields, err := msg.MetaFields()
	require.NoError(t, err)
	return fields
}
