package pcap

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type datagram struct {
	srcPort, dstPort uint16
	payload          []byte
	ts               time.Time
}

func writeCapture(t *testing.T, datagrams []datagram) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "radio.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))

	mac, _ := net.ParseMAC("00:11:22:33:44:55")
	for _, d := range datagrams {
		eth := &layers.Ethernet{SrcMAC: mac, DstMAC: mac, EthernetType: layers.EthernetTypeIPv4}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(127, 0, 0, 1),
			DstIP:    net.IPv4(127, 0, 0, 1),
		}
		udp := &layers.UDP{SrcPort: layers.UDPPort(d.srcPort), DstPort: layers.UDPPort(d.dstPort)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(d.payload)))

		ci := gopacket.CaptureInfo{Timestamp: d.ts, CaptureLength: len(buf.Bytes()), Length: len(buf.Bytes())}
		require.NoError(t, w.WritePacket(ci, buf.Bytes()))
	}
	return path
}

func TestParser_ExtractsDatagramsForPort(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	path := writeCapture(t, []datagram{
		{2223, 2222, []byte{0x00, 0x00, 0xAA}, base},
		{2222, 2223, []byte{0x00, 0x00, 0x55}, base.Add(50 * time.Millisecond)},
		{2223, 2222, []byte{0x01, 0x00, 0xBB}, base.Add(100 * time.Millisecond)},
		{2223, 2222, nil, base.Add(150 * time.Millisecond)},
	})

	frames, err := NewParser(2222).Parse(path)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	assert.Equal(t, []byte{0x00, 0x00, 0xAA}, frames[0].Data)
	assert.Equal(t, []byte{0x01, 0x00, 0xBB}, frames[1].Data)
	assert.Equal(t, uint16(2223), frames[1].SrcPort)
	assert.Equal(t, uint16(2222), frames[1].DstPort)
	assert.True(t, frames[0].SrcIP.Equal(net.IPv4(127, 0, 0, 1)))
	assert.Equal(t, 100*time.Millisecond, frames[1].Timestamp.Sub(frames[0].Timestamp))
}

func TestParser_CountFrames(t *testing.T) {
	now := time.Now()
	path := writeCapture(t, []datagram{
		{1, 2222, []byte{1}, now},
		{1, 2222, []byte{2}, now},
		{1, 2223, []byte{3}, now},
	})

	counts, err := NewParser(2222).CountFrames(path)
	require.NoError(t, err)
	assert.Equal(t, map[uint16]int{2222: 2, 2223: 1}, counts)
}

func TestParser_MissingFile(t *testing.T) {
	_, err := NewParser(2222).Parse(filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, err)
}

func TestParser_NotAPcap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pcap")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a capture"), 0644))

	_, err := NewParser(2222).Parse(path)
	assert.Error(t, err)
}
