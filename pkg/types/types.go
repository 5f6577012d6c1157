package types

import (
	"net"
	"time"
)

// RawFrame is a radio datagram extracted from a capture of the imitator's
// raw UDP link.
type RawFrame struct {
	Data      []byte
	Timestamp time.Time
	SrcIP     net.IP
	DstIP     net.IP
	SrcPort   uint16
	DstPort   uint16
}

// Direction of a radio frame relative to the ground station.
type Direction string

const (
	Downlink Direction = "downlink"
	Uplink   Direction = "uplink"
)

// LossSummary is the running frame loss published by the link loss tracker.
type LossSummary struct {
	Count uint64 `json:"count"`
	Num   int64  `json:"num"`
}
