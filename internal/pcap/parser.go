package pcap

import (
	"fmt"
	"net"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"

	"groundlink/pkg/types"
)

// Parser reads capture files and extracts radio datagrams exchanged over the
// imitator's raw UDP link.
type Parser struct {
	// Port selects datagrams sent to this UDP port (the receiving end of the link).
	Port uint16
}

// NewParser creates a parser for datagrams addressed to port.
func NewParser(port uint16) *Parser {
	return &Parser{Port: port}
}

// Parse reads a pcap file and returns the matching datagrams in capture order.
func (p *Parser) Parse(filename string) ([]types.RawFrame, error) {
	var frames []types.RawFrame
	total, matched := 0, 0

	err := p.walk(filename, func(packet gopacket.Packet, udp *layers.UDP) {
		total++
		if uint16(udp.DstPort) != p.Port || len(udp.Payload) == 0 {
			return
		}
		matched++

		var srcIP, dstIP net.IP
		if ipv4Layer := packet.Layer(layers.LayerTypeIPv4); ipv4Layer != nil {
			ipv4, _ := ipv4Layer.(*layers.IPv4)
			srcIP = ipv4.SrcIP
			dstIP = ipv4.DstIP
		} else if ipv6Layer := packet.Layer(layers.LayerTypeIPv6); ipv6Layer != nil {
			ipv6, _ := ipv6Layer.(*layers.IPv6)
			srcIP = ipv6.SrcIP
			dstIP = ipv6.DstIP
		}

		// Copy payload since we're using NoCopy
		data := make([]byte, len(udp.Payload))
		copy(data, udp.Payload)

		frames = append(frames, types.RawFrame{
			Data:      data,
			Timestamp: packet.Metadata().Timestamp,
			SrcIP:     srcIP,
			DstIP:     dstIP,
			SrcPort:   uint16(udp.SrcPort),
			DstPort:   uint16(udp.DstPort),
		})

		log.WithFields(log.Fields{
			"packet": total,
			"src":    fmt.Sprintf("%s:%d", srcIP, udp.SrcPort),
			"dst":    fmt.Sprintf("%s:%d", dstIP, udp.DstPort),
			"size":   len(data),
		}).Debug("Extracted radio datagram")
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"udp_packets":     total,
		"matched_packets": matched,
		"port":            p.Port,
	}).Info("PCAP parsing complete")

	return frames, nil
}

// CountFrames returns the number of UDP datagrams per destination port.
func (p *Parser) CountFrames(filename string) (map[uint16]int, error) {
	counts := make(map[uint16]int)
	err := p.walk(filename, func(_ gopacket.Packet, udp *layers.UDP) {
		counts[uint16(udp.DstPort)]++
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (p *Parser) walk(filename string, fn func(gopacket.Packet, *layers.UDP)) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open pcap file %s: %w", filename, err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read pcap header of %s: %w", filename, err)
	}

	linkType := reader.LinkType()
	log.WithField("link_type", linkType.String()).Debug("PCAP link type detected")

	packetSource := gopacket.NewPacketSource(reader, linkType)
	packetSource.DecodeOptions.Lazy = true
	packetSource.DecodeOptions.NoCopy = true

	for packet := range packetSource.Packets() {
		// Extract UDP layer (works for both Ethernet and Linux cooked captures)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok {
			continue
		}
		fn(packet, udp)
	}
	return nil
}
