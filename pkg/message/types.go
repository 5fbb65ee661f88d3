package message

import (
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Type is the tag following the header.
type Type uint8

const (
	TypePingStream   Type = 1
	TypePongStream   Type = 2
	TypePingDatagram Type = 3
	TypePongDatagram Type = 4
	TypeEpoch        Type = 5
	TypeSessionID    Type = 6
	TypePayload      Type = 7
)

func (t Type) String() string {
	switch t {
	case TypePingStream:
		return "PING_TCP"
	case TypePongStream:
		return "PONG_TCP"
	case TypePingDatagram:
		return "PING_UDP"
	case TypePongDatagram:
		return "PONG_UDP"
	case TypeEpoch:
		return "EPOCH"
	case TypeSessionID:
		return "SESSIONID"
	case TypePayload:
		return "PAYLOAD"
	default:
		return fmt.Sprintf("TYPE(%d)", uint8(t))
	}
}

// Checksum computes the integrity value of a message body.
type Checksum func(body []byte) uint16

// ChecksumCRC32 is the CRC-32 (IEEE) of the body truncated to 16 bits.
func ChecksumCRC32(body []byte) uint16 {
	return uint16(crc32.ChecksumIEEE(body))
}

// ChecksumXXHash is the xxHash64 of the body truncated to 16 bits.
func ChecksumXXHash(body []byte) uint16 {
	return uint16(xxhash.Sum64(body))
}

// ErrUnknownChecksum is returned by ParseChecksum.
var ErrUnknownChecksum = errors.New("unknown checksum")

// ParseChecksum maps a name (crc32, xxhash) to its function.
func ParseChecksum(name string) (Checksum, error) {
	switch strings.ToLower(name) {
	case "", "crc32":
		return ChecksumCRC32, nil
	case "xxhash":
		return ChecksumXXHash, nil
	default:
		return nil, fmt.Errorf("%w: %q (want crc32|xxhash)", ErrUnknownChecksum, name)
	}
}

// CreateControl composes a message that only consists of its type tag.
func (m *Message[H]) CreateControl(t Type) {
	m.PrepareWrite()
	m.SetType(t)
}

// CreateSessionID composes a SESSIONID message.
func (m *Message[H]) CreateSessionID(id uint32) bool {
	m.CreateControl(TypeSessionID)
	return m.WriteUint32(id)
}

// SessionID reads the id of a SESSIONID message.
func (m *Message[H]) SessionID() (uint32, bool) {
	return m.Uint32At(m.hdr.Size() + 1)
}

// CreatePing composes a PING_TCP or PING_UDP message carrying the send time.
// The server echoes the body in the matching pong.
func (m *Message[H]) CreatePing(t Type, sent time.Time) bool {
	m.CreateControl(t)
	return m.WriteUint64(uint64(sent.UnixNano()))
}

// PingTime reads the send time of a ping or pong.
func (m *Message[H]) PingTime() (time.Time, bool) {
	ns, ok := m.Uint64At(m.hdr.Size() + 1)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(0, int64(ns)), true
}

// CreateEpoch composes an EPOCH message.
func (m *Message[H]) CreateEpoch(e uint8) bool {
	m.CreateControl(TypeEpoch)
	return m.WriteUint8(e)
}

// Epoch reads the epoch announced by an EPOCH message.
func (m *Message[H]) Epoch() (uint8, bool) {
	return m.Uint8At(m.hdr.Size() + 1)
}

// CreatePayload composes a PAYLOAD message.
func (m *Message[H]) CreatePayload(p *Payload) bool {
	m.CreateControl(TypePayload)
	return p.write(m)
}

// DecodePayload parses the body of a PAYLOAD message.
func (m *Message[H]) DecodePayload() (*Payload, error) {
	if t, ok := m.Type(); !ok || t != TypePayload {
		return nil, fmt.Errorf("decode payload: message type %s", t)
	}
	if !m.PrepareRead() {
		return nil, ErrMalformedPayload
	}
	return readPayload(m)
}
