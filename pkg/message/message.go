// Package message implements framed messages: a fixed-capacity buffer
// holding a header, a one byte type tag and a payload. The completeness
// predicates are the only contract the reassembly engine relies on.
package message

import (
	"dominicbreuker/sessnet/pkg/buffer"
)

// Message is a buffer framed by a header of type H.
//
// Layout: [header (H.Size() bytes)][type (1 byte)][payload]
type Message[H Header] struct {
	*buffer.Buffer
	hdr H
}

// New creates a message with the given total capacity around hdr.
func New[H Header](capacity int, hdr H) *Message[H] {
	return &Message[H]{Buffer: buffer.New(capacity), hdr: hdr}
}

// Stream is a message on the stream channel.
type Stream = Message[*StreamHeader]

// Datagram is a message on the datagram channel.
type Datagram = Message[*DatagramHeader]

// NewStream creates a stream message of the given capacity.
func NewStream(capacity int) *Stream {
	return New(capacity, &StreamHeader{})
}

// NewDatagram creates a datagram message of the given capacity.
func NewDatagram(capacity int) *Datagram {
	return New(capacity, &DatagramHeader{})
}

// Header returns the decoded header. Fields are only current after
// DecodeHeader (receive side) or before Finalize (send side).
func (m *Message[H]) Header() H {
	return m.hdr
}

// HeaderSize returns the encoded header size.
func (m *Message[H]) HeaderSize() int {
	return m.hdr.Size()
}

// HasCompleteHeader reports whether all header bytes have been written.
func (m *Message[H]) HasCompleteHeader() bool {
	return m.Length() >= m.hdr.Size()
}

// IsComplete reports whether exactly header plus declared body are present.
func (m *Message[H]) IsComplete() bool {
	return m.HasCompleteHeader() && m.Length() == m.hdr.Size()+m.hdr.BodyLength()
}

// IsOverComplete reports more bytes than header plus declared body.
func (m *Message[H]) IsOverComplete() bool {
	return m.HasCompleteHeader() && m.Length() > m.hdr.Size()+m.hdr.BodyLength()
}

// MissingHeaderLength returns how many header bytes are still expected.
func (m *Message[H]) MissingHeaderLength() int {
	if n := m.hdr.Size() - m.Length(); n > 0 {
		return n
	}
	return 0
}

// MissingBodyLength returns how many body bytes are still expected. It is
// only meaningful once the header is complete and decoded.
func (m *Message[H]) MissingBodyLength() int {
	if !m.HasCompleteHeader() {
		return 0
	}
	if n := m.hdr.Size() + m.hdr.BodyLength() - m.Length(); n > 0 {
		return n
	}
	return 0
}

// DecodeHeader parses the header from the received bytes. It fails if the
// header is incomplete.
func (m *Message[H]) DecodeHeader() bool {
	if !m.HasCompleteHeader() {
		return false
	}
	m.hdr.Decode(m.Bytes())
	return true
}

// ValidHeader decodes the header and checks its consistency.
func (m *Message[H]) ValidHeader() bool {
	return m.DecodeHeader() && m.hdr.Valid()
}

// PrepareWrite resets the message for composing: the write cursor is placed
// after the type byte.
func (m *Message[H]) PrepareWrite() {
	m.Reset()
	m.SetLength(m.hdr.Size() + 1)
}

// PrepareRead places the read cursor on the first payload byte.
func (m *Message[H]) PrepareRead() bool {
	return m.SetReadPos(m.hdr.Size() + 1)
}

// Type returns the type tag.
func (m *Message[H]) Type() (Type, bool) {
	v, ok := m.Uint8At(m.hdr.Size())
	return Type(v), ok
}

// SetType sets the type tag.
func (m *Message[H]) SetType(t Type) bool {
	return m.PutUint8At(m.hdr.Size(), uint8(t))
}

// Body returns type byte and payload.
func (m *Message[H]) Body() []byte {
	if !m.HasCompleteHeader() {
		return nil
	}
	return m.Bytes()[m.hdr.Size():]
}

// Payload returns the bytes after the type tag.
func (m *Message[H]) Payload() []byte {
	if m.Length() <= m.hdr.Size() {
		return nil
	}
	return m.Bytes()[m.hdr.Size()+1:]
}

// Finalize fills in length, checksum and epoch and encodes the header in
// front of the body. Other header fields must be set before.
func (m *Message[H]) Finalize(epoch uint8, sum Checksum) bool {
	if !m.HasCompleteHeader() {
		return false
	}
	m.hdr.SetBodyLength(m.Length() - m.hdr.Size())
	m.hdr.SetChecksum(sum(m.Body()))
	m.hdr.SetEpoch(epoch)
	m.hdr.Encode(m.Bytes())
	return true
}

// VerifyChecksum compares the decoded checksum against the body.
func (m *Message[H]) VerifyChecksum(sum Checksum) bool {
	return m.hdr.Checksum() == sum(m.Body())
}

// CopyFrom replaces the content of m with the content of other.
func (m *Message[H]) CopyFrom(other *Message[H]) bool {
	m.Reset()
	if !m.WriteBytes(other.Bytes()) {
		return false
	}
	return m.DecodeHeader()
}
