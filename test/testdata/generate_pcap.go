//go:build ignore

// This program generates a sample capture of the radio imitator's raw link
// for capture-replay: numbered downlink datagrams with a deliberate gap, and
// uplink datagrams going the other way.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"groundlink/internal/radio"
)

const (
	probePort    = 2223
	imitatorPort = 2222
)

func main() {
	filename := "test/testdata/sample.pcap"
	if len(os.Args) > 1 {
		filename = os.Args[1]
	}

	f, err := os.Create(filename)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		panic(err)
	}

	probeIP := net.ParseIP("192.168.1.10")
	groundIP := net.ParseIP("192.168.1.20")
	probeMAC, _ := net.ParseMAC("00:11:22:33:44:55")
	groundMAC, _ := net.ParseMAC("66:77:88:99:aa:bb")
	ts := time.Now()

	// Helper to write a raw link datagram as an Ethernet/IP/UDP frame
	writePacket := func(srcIP, dstIP net.IP, srcMAC, dstMAC net.HardwareAddr, srcPort, dstPort int, data []byte, timestamp time.Time) {
		eth := &layers.Ethernet{
			SrcMAC:       srcMAC,
			DstMAC:       dstMAC,
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    srcIP,
			DstIP:    dstIP,
		}
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(srcPort),
			DstPort: layers.UDPPort(dstPort),
		}
		udp.SetNetworkLayerForChecksum(ip)

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(data)); err != nil {
			panic(fmt.Sprintf("failed to serialize: %v", err))
		}

		ci := gopacket.CaptureInfo{
			Timestamp:     timestamp,
			CaptureLength: len(buf.Bytes()),
			Length:        len(buf.Bytes()),
		}
		if err := w.WritePacket(ci, buf.Bytes()); err != nil {
			panic(fmt.Sprintf("failed to write packet: %v", err))
		}
	}

	downlink := func(frameNo uint16) {
		payload := make([]byte, 64)
		for i := range payload {
			payload[i] = byte(frameNo) + byte(i)
		}
		writePacket(probeIP, groundIP, probeMAC, groundMAC, probePort, imitatorPort,
			radio.EncodeRawFrame(frameNo, payload), ts)
		ts = ts.Add(250 * time.Millisecond)
	}

	// === Downlink frames 0..9 ===
	for n := uint16(0); n < 10; n++ {
		downlink(n)
	}

	// === Uplink frame while the receive window is quiet ===
	ts = ts.Add(5 * time.Second)
	writePacket(groundIP, probeIP, groundMAC, probeMAC, imitatorPort, probePort,
		radio.EncodeRawFrame(0, []byte("uplink test frame")), ts)
	ts = ts.Add(time.Second)

	// === Downlink frames 13..19 (11 and 12 lost) ===
	for n := uint16(13); n < 20; n++ {
		downlink(n)
	}

	// === Downlink frames across the 16-bit wrap ===
	for _, n := range []uint16{65534, 65535, 0, 1} {
		downlink(n)
	}

	fmt.Printf("Generated %s with raw link datagrams:\n", filename)
	fmt.Println("  10x downlink frames 0-9")
	fmt.Println("  1x uplink frame")
	fmt.Println("  7x downlink frames 13-19 (2 lost)")
	fmt.Println("  4x downlink frames across the wrap")
	fmt.Printf("  Total: 22 packets\n")
}
