package message

import (
	"errors"

	"dominicbreuker/sessnet/pkg/buffer"
)

// ErrMalformedPayload is returned when a PAYLOAD body cannot be parsed.
var ErrMalformedPayload = errors.New("malformed payload")

// Model is a named entity carried in a Payload.
type Model struct {
	ID   uint32
	Name string
}

// Payload is the application message of the example protocol.
type Payload struct {
	V1     uint8
	V2     uint16
	V3     uint32
	Text   string
	Models []Model
}

type bufferIO interface {
	WriteUint8(uint8) bool
	WriteUint16(uint16) bool
	WriteUint32(uint32) bool
	WriteString(string) bool
	ReadUint8() (uint8, bool)
	ReadUint16() (uint16, bool)
	ReadUint32() (uint32, bool)
	ReadString() (string, bool)
}

var _ bufferIO = (*buffer.Buffer)(nil)

func (p *Payload) write(b bufferIO) bool {
	if len(p.Models) > 0xFFFF {
		return false
	}
	ok := b.WriteUint8(p.V1) &&
		b.WriteUint16(p.V2) &&
		b.WriteUint32(p.V3) &&
		b.WriteString(p.Text) &&
		b.WriteUint16(uint16(len(p.Models)))
	for i := 0; ok && i < len(p.Models); i++ {
		ok = b.WriteUint32(p.Models[i].ID) && b.WriteString(p.Models[i].Name)
	}
	return ok
}

func readPayload(b bufferIO) (*Payload, error) {
	var p Payload
	var n uint16
	var ok bool

	if p.V1, ok = b.ReadUint8(); !ok {
		return nil, ErrMalformedPayload
	}
	if p.V2, ok = b.ReadUint16(); !ok {
		return nil, ErrMalformedPayload
	}
	if p.V3, ok = b.ReadUint32(); !ok {
		return nil, ErrMalformedPayload
	}
	if p.Text, ok = b.ReadString(); !ok {
		return nil, ErrMalformedPayload
	}
	if n, ok = b.ReadUint16(); !ok {
		return nil, ErrMalformedPayload
	}

	p.Models = make([]Model, 0, min(int(n), 64))
	for i := 0; i < int(n); i++ {
		var m Model
		if m.ID, ok = b.ReadUint32(); !ok {
			return nil, ErrMalformedPayload
		}
		if m.Name, ok = b.ReadString(); !ok {
			return nil, ErrMalformedPayload
		}
		p.Models = append(p.Models, m)
	}
	return &p, nil
}
