package radio

import "time"

// DefaultPAPower is the transmitter power reported at start, in dBm.
const DefaultPAPower = 22

// Stamp is the wall clock time attached to every radio message.
type Stamp struct {
	TimeS  int64 `json:"time_s"`
	TimeUS int64 `json:"time_us"`
}

// StampOf splits t into whole seconds and microseconds.
func StampOf(t time.Time) Stamp {
	return Stamp{
		TimeS:  t.Unix(),
		TimeUS: int64(t.Nanosecond() / 1000),
	}
}

// Time converts the stamp back into a time.
func (s Stamp) Time() time.Time {
	return time.Unix(s.TimeS, s.TimeUS*1000)
}

// Stats are the modem counters published on radio.stats. They live as long
// as the simulator that owns them.
type Stats struct {
	PktReceived     uint64 `json:"pkt_received"`
	CRCErrors       uint64 `json:"crc_errors"`
	HdrErrors       uint64 `json:"hdr_errors"`
	ErrorRC64KCalib bool   `json:"error_rc64k_calib"`
	ErrorRC13MCalib bool   `json:"error_rc13m_calib"`
	ErrorPLLCalib   bool   `json:"error_pll_calib"`
	ErrorADCCalib   bool   `json:"error_adc_calib"`
	ErrorIMGCalib   bool   `json:"error_img_calib"`
	ErrorXOSCStart  bool   `json:"error_xosc_start"`
	ErrorPLLLock    bool   `json:"error_pll_lock"`
	ErrorPARamp     bool   `json:"error_pa_ramp"`
	SrvRxDone       uint64 `json:"srv_rx_done"`
	SrvRxFrames     uint64 `json:"srv_rx_frames"`
	SrvTxFrames     uint64 `json:"srv_tx_frames"`
	CurrentPAPower  int    `json:"current_pa_power"`
	// RequestedPAPower is nil until a power request arrives.
	RequestedPAPower *int `json:"requested_pa_power"`
}

// NewStats returns zeroed counters reporting the given PA power.
func NewStats(paPower int) Stats {
	return Stats{CurrentPAPower: paPower}
}

type statsMeta struct {
	Stats
	Stamp
}

type instantRSSIMeta struct {
	Stamp
	RSSI int `json:"rssi"`
}

type paPowerMeta struct {
	PAPower *int `json:"pa_power"`
}
