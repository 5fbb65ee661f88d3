// Package buffer implements a fixed-capacity byte buffer with an independent
// write length and read cursor. All typed accessors are bounds checked and
// report failure instead of panicking. Multi-byte values are little-endian.
package buffer

import (
	"encoding/binary"
)

var order = binary.LittleEndian

// Buffer is a fixed-capacity byte buffer. The invariant
// 0 <= read <= length <= capacity holds at all times.
type Buffer struct {
	data   []byte
	length int
	read   int
}

// New creates a buffer with the given capacity.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Capacity returns the fixed size of the storage.
func (b *Buffer) Capacity() int { return len(b.data) }

// Length returns the number of written bytes.
func (b *Buffer) Length() int { return b.length }

// SetLength sets the write length. It fails if n is out of range. The read
// cursor is clamped to the new length.
func (b *Buffer) SetLength(n int) bool {
	if n < 0 || n > len(b.data) {
		return false
	}
	b.length = n
	if b.read > n {
		b.read = n
	}
	return true
}

// ReadPos returns the read cursor.
func (b *Buffer) ReadPos() int { return b.read }

// SetReadPos moves the read cursor. It fails if n exceeds the write length.
func (b *Buffer) SetReadPos(n int) bool {
	if n < 0 || n > b.length {
		return false
	}
	b.read = n
	return true
}

// Remaining returns the number of bytes that can still be written.
func (b *Buffer) Remaining() int { return len(b.data) - b.length }

// RemainingRead returns the number of written bytes not yet read.
func (b *Buffer) RemainingRead() int { return b.length - b.read }

// Reset clears both cursors.
func (b *Buffer) Reset() {
	b.length = 0
	b.read = 0
}

// PrepareRecv readies the buffer to be filled from the network.
func (b *Buffer) PrepareRecv() { b.Reset() }

// PrepareSend readies the buffer to be drained to the network.
func (b *Buffer) PrepareSend() { b.read = 0 }

// Bytes returns the written region. The slice aliases the storage.
func (b *Buffer) Bytes() []byte { return b.data[:b.length] }

// Unread returns the written but not yet read region.
func (b *Buffer) Unread() []byte { return b.data[b.read:b.length] }

// Free returns up to n bytes of the unwritten tail for direct filling, e.g.
// by a socket read. Commit the bytes with Advance.
func (b *Buffer) Free(n int) []byte {
	if n < 0 || n > b.Remaining() {
		n = b.Remaining()
	}
	return b.data[b.length : b.length+n]
}

// Advance grows the write length by n after a direct fill.
func (b *Buffer) Advance(n int) bool {
	return b.SetLength(b.length + n)
}

// Skip moves the read cursor forward by n.
func (b *Buffer) Skip(n int) bool {
	return b.SetReadPos(b.read + n)
}

func (b *Buffer) inWritten(idx, n int) bool {
	return idx >= 0 && n >= 0 && idx+n <= b.length
}

func (b *Buffer) inCapacity(idx, n int) bool {
	return idx >= 0 && n >= 0 && idx+n <= len(b.data)
}

// Indexed accessors. Reads are limited to the written region, writes to the
// capacity. Writing beyond the current length extends it.

// Uint8At reads a byte at idx.
func (b *Buffer) Uint8At(idx int) (uint8, bool) {
	if !b.inWritten(idx, 1) {
		return 0, false
	}
	return b.data[idx], true
}

// Uint16At reads a uint16 at idx.
func (b *Buffer) Uint16At(idx int) (uint16, bool) {
	if !b.inWritten(idx, 2) {
		return 0, false
	}
	return order.Uint16(b.data[idx:]), true
}

// Uint32At reads a uint32 at idx.
func (b *Buffer) Uint32At(idx int) (uint32, bool) {
	if !b.inWritten(idx, 4) {
		return 0, false
	}
	return order.Uint32(b.data[idx:]), true
}

// Uint64At reads a uint64 at idx.
func (b *Buffer) Uint64At(idx int) (uint64, bool) {
	if !b.inWritten(idx, 8) {
		return 0, false
	}
	return order.Uint64(b.data[idx:]), true
}

// BytesAt returns n written bytes starting at idx. The slice aliases the storage.
func (b *Buffer) BytesAt(idx, n int) ([]byte, bool) {
	if !b.inWritten(idx, n) {
		return nil, false
	}
	return b.data[idx : idx+n], true
}

func (b *Buffer) extend(end int) {
	if end > b.length {
		b.length = end
	}
}

// PutUint8At writes a byte at idx.
func (b *Buffer) PutUint8At(idx int, v uint8) bool {
	if !b.inCapacity(idx, 1) {
		return false
	}
	b.data[idx] = v
	b.extend(idx + 1)
	return true
}

// PutUint16At writes a uint16 at idx.
func (b *Buffer) PutUint16At(idx int, v uint16) bool {
	if !b.inCapacity(idx, 2) {
		return false
	}
	order.PutUint16(b.data[idx:], v)
	b.extend(idx + 2)
	return true
}

// PutUint32At writes a uint32 at idx.
func (b *Buffer) PutUint32At(idx int, v uint32) bool {
	if !b.inCapacity(idx, 4) {
		return false
	}
	order.PutUint32(b.data[idx:], v)
	b.extend(idx + 4)
	return true
}

// PutUint64At writes a uint64 at idx.
func (b *Buffer) PutUint64At(idx int, v uint64) bool {
	if !b.inCapacity(idx, 8) {
		return false
	}
	order.PutUint64(b.data[idx:], v)
	b.extend(idx + 8)
	return true
}

// PutBytesAt copies p to idx.
func (b *Buffer) PutBytesAt(idx int, p []byte) bool {
	if !b.inCapacity(idx, len(p)) {
		return false
	}
	copy(b.data[idx:], p)
	b.extend(idx + len(p))
	return true
}

// Cursor accessors. Writes append at the write length, reads consume from
// the read cursor.

// WriteUint8 appends a byte.
func (b *Buffer) WriteUint8(v uint8) bool { return b.PutUint8At(b.length, v) }

// WriteUint16 appends a uint16.
func (b *Buffer) WriteUint16(v uint16) bool { return b.PutUint16At(b.length, v) }

// WriteUint32 appends a uint32.
func (b *Buffer) WriteUint32(v uint32) bool { return b.PutUint32At(b.length, v) }

// WriteUint64 appends a uint64.
func (b *Buffer) WriteUint64(v uint64) bool { return b.PutUint64At(b.length, v) }

// WriteBytes appends p.
func (b *Buffer) WriteBytes(p []byte) bool { return b.PutBytesAt(b.length, p) }

// WriteString appends s prefixed by its uint16 length. Nothing is written
// if the string is too long or does not fit.
func (b *Buffer) WriteString(s string) bool {
	if len(s) > 0xFFFF || 2+len(s) > b.Remaining() {
		return false
	}
	b.WriteUint16(uint16(len(s)))
	return b.PutBytesAt(b.length, []byte(s))
}

// ReadUint8 consumes a byte.
func (b *Buffer) ReadUint8() (uint8, bool) {
	v, ok := b.Uint8At(b.read)
	if ok {
		b.read++
	}
	return v, ok
}

// ReadUint16 consumes a uint16.
func (b *Buffer) ReadUint16() (uint16, bool) {
	v, ok := b.Uint16At(b.read)
	if ok {
		b.read += 2
	}
	return v, ok
}

// ReadUint32 consumes a uint32.
func (b *Buffer) ReadUint32() (uint32, bool) {
	v, ok := b.Uint32At(b.read)
	if ok {
		b.read += 4
	}
	return v, ok
}

// ReadUint64 consumes a uint64.
func (b *Buffer) ReadUint64() (uint64, bool) {
	v, ok := b.Uint64At(b.read)
	if ok {
		b.read += 8
	}
	return v, ok
}

// ReadBytes consumes n bytes. The slice aliases the storage.
func (b *Buffer) ReadBytes(n int) ([]byte, bool) {
	p, ok := b.BytesAt(b.read, n)
	if ok {
		b.read += n
	}
	return p, ok
}

// ReadString consumes a uint16 length prefixed string. The cursor is left
// untouched on failure.
func (b *Buffer) ReadString() (string, bool) {
	n, ok := b.Uint16At(b.read)
	if !ok {
		return "", false
	}
	p, ok := b.BytesAt(b.read+2, int(n))
	if !ok {
		return "", false
	}
	b.read += 2 + int(n)
	return string(p), true
}
