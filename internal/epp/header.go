// Package epp implements the CCSDS Encapsulation Packet Protocol header:
// a 1, 2, 4 or 8 byte header whose length depends on the optional fields
// present and on the magnitude of the packet length.
package epp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ProtocolID identifies the protocol carried in the encapsulation data field.
type ProtocolID uint8

const (
	ProtocolIdle     ProtocolID = 0x00 // idle data only
	ProtocolIPE      ProtocolID = 0x02 // Internet Protocol Extension
	ProtocolExtended ProtocolID = 0x06 // extended protocol id, see ProtocolIDExtension
	ProtocolPrivate  ProtocolID = 0x07 // mission-specific, privately defined data
)

func (p ProtocolID) String() string {
	switch p {
	case ProtocolIdle:
		return "IDLE"
	case ProtocolIPE:
		return "IPE"
	case ProtocolExtended:
		return "EXTENDED"
	case ProtocolPrivate:
		return "PRIVATE"
	default:
		return fmt.Sprintf("ProtocolID(%d)", uint8(p))
	}
}

const (
	// Version is the packet version number carried in the top 3 bits of byte 0.
	Version = 0x07

	MinHeaderSize = 1
	MaxHeaderSize = 8

	// MaxRealPacketSize is the largest packet the 32-bit length field can describe.
	MaxRealPacketSize uint64 = 0xFFFFFFFF + 1

	// header size is monotonic in packet size, so the iteration is monotonic too
	// and settles within three passes (longest chains are 1->4->8 and 8->4->2)
	maxSizePasses = 3
)

var (
	// ErrFormat is returned when a buffer does not hold a valid EPP header.
	ErrFormat = errors.New("epp: invalid header format")
	// ErrSize is returned when a payload cannot be described by any header.
	ErrSize = errors.New("epp: packet size out of range")
	// ErrValue is returned for a real packet size of zero or above MaxRealPacketSize.
	ErrValue = errors.New("epp: invalid real packet size")
)

// Header is an EPP header. PacketSize holds the real packet size minus one.
// Nil optional fields are absent; once present they force a 4 or 8 byte header.
type Header struct {
	ProtocolID          ProtocolID
	PacketSize          uint32
	UserDefinedField    *uint8
	ProtocolIDExtension *uint8
	CCSDSField          *uint16
}

// ProbeHeaderSize returns the header length encoded in the first header byte,
// or 0 when the byte does not carry the EPP version number.
func ProbeHeaderSize(first byte) int {
	if (first>>5)&0x07 != Version {
		return 0
	}

	switch first & 0x03 {
	case 0x00:
		return 1
	case 0x01:
		return 2
	case 0x02:
		return 4
	default:
		return 8
	}
}

// Size returns the encoded header length for the current field values.
func (h *Header) Size() int {
	if h.CCSDSField != nil || h.PacketSize > 0xFFFFFF {
		return 8
	}

	if h.ProtocolID == ProtocolExtended ||
		h.ProtocolIDExtension != nil ||
		h.UserDefinedField != nil ||
		h.PacketSize > 0xFF {
		return 4
	}

	if h.PacketSize > 0 {
		return 2
	}
	return 1
}

// RealPacketSize returns the total packet length (header and payload).
func (h *Header) RealPacketSize() uint64 {
	return uint64(h.PacketSize) + 1
}

// SetRealPacketSize stores the total packet length.
func (h *Header) SetRealPacketSize(value uint64) error {
	if value == 0 {
		return fmt.Errorf("%w: real packet size can not be zero", ErrValue)
	}
	if value > MaxRealPacketSize {
		return fmt.Errorf("%w: real packet size can not be bigger than %d (%d specified)",
			ErrValue, MaxRealPacketSize, value)
	}

	h.PacketSize = uint32(value - 1)
	return nil
}

// AccommodateToPayloadSize sets the packet size so that the header plus
// payloadSize bytes form the whole packet and returns the real packet size.
// Header size and packet size depend on each other, so the pair is iterated
// to a fixed point. On error the header is left unchanged.
func (h *Header) AccommodateToPayloadSize(payloadSize uint64) (uint64, error) {
	saved := h.PacketSize
	size := h.Size()
	for i := 0; i < maxSizePasses; i++ {
		total := payloadSize + uint64(size)
		if total > MaxRealPacketSize || total < payloadSize {
			h.PacketSize = saved
			return 0, fmt.Errorf("%w: payload of %d bytes does not fit into an EPP packet", ErrSize, payloadSize)
		}
		if err := h.SetRealPacketSize(total); err != nil {
			h.PacketSize = saved
			return 0, fmt.Errorf("%w: %v", ErrSize, err)
		}

		next := h.Size()
		if next == size {
			return h.RealPacketSize(), nil
		}
		size = next
	}

	h.PacketSize = saved
	return 0, fmt.Errorf("%w: header size did not converge for payload of %d bytes", ErrSize, payloadSize)
}

// Write encodes the header.
func (h *Header) Write() []byte {
	size := h.Size()
	buf := make([]byte, size)

	var lengthSelector byte
	switch size {
	case 1:
		lengthSelector = 0x00
	case 2:
		lengthSelector = 0x01
		buf[1] = byte(h.PacketSize)
	case 4:
		lengthSelector = 0x02
		buf[1] = h.extensionByte()
		binary.BigEndian.PutUint16(buf[2:4], uint16(h.PacketSize))
	case 8:
		lengthSelector = 0x03
		buf[1] = h.extensionByte()
		var ccsds uint16
		if h.CCSDSField != nil {
			ccsds = *h.CCSDSField
		}
		binary.BigEndian.PutUint16(buf[2:4], ccsds)
		binary.BigEndian.PutUint32(buf[4:8], h.PacketSize)
	}

	buf[0] = (Version&0x07)<<5 | (byte(h.ProtocolID)&0x07)<<2 | lengthSelector&0x03
	return buf
}

// Read decodes a header from the beginning of data. Bytes past the header are ignored.
// The wire format can not tell an absent optional field from a zero one: 4 and
// 8 byte headers always come back with UserDefinedField and
// ProtocolIDExtension set, 8 byte headers with CCSDSField set.
func Read(data []byte) (Header, error) {
	if len(data) == 0 {
		return Header{}, fmt.Errorf("%w: empty buffer", ErrFormat)
	}

	size := ProbeHeaderSize(data[0])
	if size == 0 {
		return Header{}, fmt.Errorf("%w: version number mismatch in byte 0x%02X", ErrFormat, data[0])
	}
	if size > len(data) {
		return Header{}, fmt.Errorf("%w: header size %d is greater than buffer size %d",
			ErrFormat, size, len(data))
	}

	h := Header{ProtocolID: ProtocolID((data[0] >> 2) & 0x07)}
	switch size {
	case 1:
		h.PacketSize = 0
	case 2:
		h.PacketSize = uint32(data[1])
	case 4:
		h.loadExtensionByte(data[1])
		h.PacketSize = uint32(binary.BigEndian.Uint16(data[2:4]))
	case 8:
		h.loadExtensionByte(data[1])
		ccsds := binary.BigEndian.Uint16(data[2:4])
		h.CCSDSField = &ccsds
		h.PacketSize = binary.BigEndian.Uint32(data[4:8])
	}

	return h, nil
}

// Wrap prepends a header for protocol to payload, sized to fit it.
func Wrap(protocol ProtocolID, payload []byte) ([]byte, error) {
	h := Header{ProtocolID: protocol}
	if _, err := h.AccommodateToPayloadSize(uint64(len(payload))); err != nil {
		return nil, err
	}

	hdr := h.Write()
	packet := make([]byte, 0, len(hdr)+len(payload))
	packet = append(packet, hdr...)
	return append(packet, payload...), nil
}

// Unwrap splits an encapsulated packet into its header and payload.
func Unwrap(packet []byte) (Header, []byte, error) {
	h, err := Read(packet)
	if err != nil {
		return Header{}, nil, err
	}

	total := h.RealPacketSize()
	if total > uint64(len(packet)) {
		return Header{}, nil, fmt.Errorf("%w: packet size %d is greater than buffer size %d",
			ErrFormat, total, len(packet))
	}
	hdrSize := ProbeHeaderSize(packet[0])
	if total < uint64(hdrSize) {
		return Header{}, nil, fmt.Errorf("%w: packet size %d is smaller than its %d byte header",
			ErrFormat, total, hdrSize)
	}
	return h, packet[hdrSize:total], nil
}

// byte 1: protocol id extension in the high nibble, user defined field in the low one
func (h *Header) extensionByte() byte {
	var ext, usr byte
	if h.ProtocolIDExtension != nil {
		ext = *h.ProtocolIDExtension
	}
	if h.UserDefinedField != nil {
		usr = *h.UserDefinedField
	}
	return (ext&0x0F)<<4 | usr&0x0F
}

func (h *Header) loadExtensionByte(b byte) {
	ext := (b >> 4) & 0x0F
	usr := b & 0x0F
	h.ProtocolIDExtension = &ext
	h.UserDefinedField = &usr
}
