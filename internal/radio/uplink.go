package radio

import (
	"fmt"

	"groundlink/internal/bus"
)

// Policy decides what happens to an uplink request that arrives while another
// one is still waiting for the transmitter. A request arriving while a frame is
// in progress is always dropped, whatever the policy.
type Policy string

const (
	// PolicyOverwrite replaces the waiting payload with the new one.
	PolicyOverwrite Policy = "overwrite"
	// PolicyReject keeps the waiting payload and reports the new cookie as dropped.
	PolicyReject Policy = "reject"
)

// ParsePolicy parses an uplink policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyOverwrite, PolicyReject:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown uplink policy %q (expected %s or %s)", s, PolicyOverwrite, PolicyReject)
}

// UplinkState is the snapshot of the uplink window published on
// radio.uplink_state. Empty slots are nil.
type UplinkState struct {
	InWait     *uint64 `json:"cookie_in_wait"`
	InProgress *uint64 `json:"cookie_in_progress"`
	Sent       *uint64 `json:"cookie_sent"`
	Dropped    *uint64 `json:"cookie_dropped"`
}

func (u UplinkState) clone() UplinkState {
	return UplinkState{
		InWait:     cloneCookie(u.InWait),
		InProgress: cloneCookie(u.InProgress),
		Sent:       cloneCookie(u.Sent),
		Dropped:    cloneCookie(u.Dropped),
	}
}

func cloneCookie(c *uint64) *uint64 {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}

type uplinkStateMeta struct {
	Stamp
	UplinkState
}

// uplinkWindow is a transmit window of depth one. A cookie moves
// in_wait -> in_progress -> sent and never back.
type uplinkWindow struct {
	policy  Policy
	state   UplinkState
	payload []byte
}

func newUplinkWindow(policy Policy) *uplinkWindow {
	if policy == "" {
		policy = PolicyOverwrite
	}
	return &uplinkWindow{policy: policy}
}

// offer buffers a payload for transmission. At most one cookie is ever held
// in_wait or in_progress.
func (w *uplinkWindow) offer(cookie uint64, payload []byte) bus.Result {
	busy := w.state.InProgress != nil || (w.state.InWait != nil && w.policy == PolicyReject)
	if busy {
		w.state.Dropped = &cookie
		return bus.Rejected
	}
	w.state.InWait = &cookie
	w.payload = payload
	return bus.Processed
}

// begin moves the waiting cookie in progress and hands out its payload.
func (w *uplinkWindow) begin() (uint64, []byte, bool) {
	if w.state.InWait == nil {
		return 0, nil, false
	}
	cookie := *w.state.InWait
	payload := w.payload

	w.state.InProgress = w.state.InWait
	w.state.InWait = nil
	w.payload = nil
	return cookie, payload, true
}

// complete marks the cookie in progress as sent.
func (w *uplinkWindow) complete() {
	if w.state.InProgress == nil {
		return
	}
	w.state.Sent = w.state.InProgress
	w.state.InProgress = nil
}
