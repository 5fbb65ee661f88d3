package message

import "encoding/binary"

var order = binary.LittleEndian

// Header is the fixed-size prefix of a message. Implementations are pointer
// types holding the decoded fields; Decode and Encode move them between the
// struct and the wire bytes.
type Header interface {
	// Size is the encoded size in bytes.
	Size() int
	// BodyLength is the declared length of the body (type byte + payload).
	BodyLength() int
	SetBodyLength(n int)
	// Valid reports whether the decoded header is self-consistent.
	Valid() bool
	// Decode reads the header from the start of p. p holds everything
	// received so far and is at least Size() bytes long.
	Decode(p []byte)
	// Encode writes the header into p[:Size()].
	Encode(p []byte)
	Checksum() uint16
	SetChecksum(sum uint16)
	Epoch() uint8
	SetEpoch(epoch uint8)
}

// StreamHeaderSize is the encoded size of a StreamHeader.
const StreamHeaderSize = 7

// StreamHeader prefixes every message on the stream channel. The length is
// carried twice; a frame is only valid if both copies agree.
type StreamHeader struct {
	Len1 uint16
	CRC  uint16
	Len2 uint16
	Ep   uint8
}

func (h *StreamHeader) Size() int { return StreamHeaderSize }

func (h *StreamHeader) BodyLength() int { return int(h.Len1) }

func (h *StreamHeader) SetBodyLength(n int) {
	h.Len1 = uint16(n)
	h.Len2 = uint16(n)
}

func (h *StreamHeader) Valid() bool { return h.Len1 == h.Len2 }

func (h *StreamHeader) Decode(p []byte) {
	h.Len1 = order.Uint16(p[0:])
	h.CRC = order.Uint16(p[2:])
	h.Len2 = order.Uint16(p[4:])
	h.Ep = p[6]
}

func (h *StreamHeader) Encode(p []byte) {
	order.PutUint16(p[0:], h.Len1)
	order.PutUint16(p[2:], h.CRC)
	order.PutUint16(p[4:], h.Len2)
	p[6] = h.Ep
}

func (h *StreamHeader) Checksum() uint16 { return h.CRC }

func (h *StreamHeader) SetChecksum(sum uint16) { h.CRC = sum }

func (h *StreamHeader) Epoch() uint8 { return h.Ep }

func (h *StreamHeader) SetEpoch(epoch uint8) { h.Ep = epoch }

// DatagramHeaderSize is the encoded size of a DatagramHeader.
const DatagramHeaderSize = 11

// DatagramHeader prefixes every datagram. It carries no length field: a
// datagram's body is whatever follows the header in the packet.
type DatagramHeader struct {
	SessionIndex uint32
	Seq          uint32
	CRC          uint16
	Ep           uint8

	bodyLength int
}

func (h *DatagramHeader) Size() int { return DatagramHeaderSize }

func (h *DatagramHeader) BodyLength() int { return h.bodyLength }

func (h *DatagramHeader) SetBodyLength(n int) { h.bodyLength = n }

func (h *DatagramHeader) Valid() bool { return h.bodyLength >= 1 }

func (h *DatagramHeader) Decode(p []byte) {
	h.SessionIndex = order.Uint32(p[0:])
	h.Seq = order.Uint32(p[4:])
	h.CRC = order.Uint16(p[8:])
	h.Ep = p[10]
	h.bodyLength = len(p) - DatagramHeaderSize
}

func (h *DatagramHeader) Encode(p []byte) {
	order.PutUint32(p[0:], h.SessionIndex)
	order.PutUint32(p[4:], h.Seq)
	order.PutUint16(p[8:], h.CRC)
	p[10] = h.Ep
}

func (h *DatagramHeader) Checksum() uint16 { return h.CRC }

func (h *DatagramHeader) SetChecksum(sum uint16) { h.CRC = sum }

func (h *DatagramHeader) Epoch() uint8 { return h.Ep }

func (h *DatagramHeader) SetEpoch(epoch uint8) { h.Ep = epoch }
