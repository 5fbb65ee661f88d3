package buffer

import (
	"bytes"
	"testing"
)

func TestBuffer_RemainingCounters(t *testing.T) {
	t.Parallel()

	b := New(8192)
	if !b.WriteBytes(make([]byte, 100)) {
		t.Fatal("WriteBytes(100) failed")
	}
	if got := b.Remaining(); got != 8092 {
		t.Errorf("Remaining() = %d, want 8092", got)
	}
	if _, ok := b.ReadBytes(50); !ok {
		t.Fatal("ReadBytes(50) failed")
	}
	if got := b.RemainingRead(); got != 50 {
		t.Errorf("RemainingRead() = %d, want 50", got)
	}
}

func TestBuffer_TypedRoundTrip(t *testing.T) {
	t.Parallel()

	b := New(64)
	b.WriteUint8(0xAB)
	b.WriteUint16(0xBEEF)
	b.WriteUint32(0xDEADBEEF)
	b.WriteUint64(0x0102030405060708)
	b.WriteString("hello")

	if v, _ := b.ReadUint8(); v != 0xAB {
		t.Errorf("ReadUint8() = %#x", v)
	}
	if v, _ := b.ReadUint16(); v != 0xBEEF {
		t.Errorf("ReadUint16() = %#x", v)
	}
	if v, _ := b.ReadUint32(); v != 0xDEADBEEF {
		t.Errorf("ReadUint32() = %#x", v)
	}
	if v, _ := b.ReadUint64(); v != 0x0102030405060708 {
		t.Errorf("ReadUint64() = %#x", v)
	}
	if v, _ := b.ReadString(); v != "hello" {
		t.Errorf("ReadString() = %q", v)
	}
	if b.RemainingRead() != 0 {
		t.Errorf("RemainingRead() = %d, want 0", b.RemainingRead())
	}
}

func TestBuffer_LittleEndian(t *testing.T) {
	t.Parallel()

	b := New(4)
	b.WriteUint32(0x04030201)
	if !bytes.Equal(b.Bytes(), []byte{1, 2, 3, 4}) {
		t.Errorf("Bytes() = %v, want little-endian layout", b.Bytes())
	}
}

func TestBuffer_Bounds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fn   func(b *Buffer) bool
	}{
		{"write past capacity", func(b *Buffer) bool { return b.WriteBytes(make([]byte, 9)) }},
		{"uint64 past capacity", func(b *Buffer) bool { b.WriteUint8(1); return b.WriteUint64(1) }},
		{"read unwritten", func(b *Buffer) bool { _, ok := b.ReadUint16(); return ok }},
		{"read at negative index", func(b *Buffer) bool { _, ok := b.Uint8At(-1); return ok }},
		{"put at negative index", func(b *Buffer) bool { return b.PutUint8At(-1, 0) }},
		{"set length past capacity", func(b *Buffer) bool { return b.SetLength(9) }},
		{"read pos past length", func(b *Buffer) bool { b.WriteUint8(1); return b.SetReadPos(2) }},
		{"string too large", func(b *Buffer) bool { return b.WriteString("1234567") }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b := New(8)
			if tc.fn(b) {
				t.Errorf("%s succeeded, want failure", tc.name)
			}
			if b.ReadPos() > b.Length() || b.Length() > b.Capacity() {
				t.Errorf("invariant broken: read=%d length=%d cap=%d", b.ReadPos(), b.Length(), b.Capacity())
			}
		})
	}
}

func TestBuffer_ReadStringTruncated(t *testing.T) {
	t.Parallel()

	b := New(16)
	b.WriteUint16(10)
	b.WriteBytes([]byte("abc"))

	if _, ok := b.ReadString(); ok {
		t.Fatal("ReadString() on truncated data succeeded")
	}
	if b.ReadPos() != 0 {
		t.Errorf("ReadPos() = %d after failed read, want 0", b.ReadPos())
	}
}

func TestBuffer_IndexedAccessDoesNotMoveCursor(t *testing.T) {
	t.Parallel()

	b := New(16)
	b.PutUint16At(4, 0x1234)
	if b.Length() != 6 {
		t.Errorf("Length() = %d after PutUint16At(4), want 6", b.Length())
	}
	if v, ok := b.Uint16At(4); !ok || v != 0x1234 {
		t.Errorf("Uint16At(4) = %#x, %v", v, ok)
	}
	if b.ReadPos() != 0 {
		t.Errorf("ReadPos() = %d, want 0", b.ReadPos())
	}
}

func TestBuffer_DirectFill(t *testing.T) {
	t.Parallel()

	b := New(8)
	n := copy(b.Free(3), "xyzw")
	if n != 3 {
		t.Fatalf("Free(3) gave %d bytes", n)
	}
	b.Advance(n)
	if string(b.Bytes()) != "xyz" {
		t.Errorf("Bytes() = %q", b.Bytes())
	}
	if len(b.Free(100)) != 5 {
		t.Errorf("Free(100) length = %d, want remaining 5", len(b.Free(100)))
	}
}

func TestBuffer_PrepareRecvSend(t *testing.T) {
	t.Parallel()

	b := New(8)
	b.WriteUint32(7)
	b.ReadUint16()

	b.PrepareSend()
	if b.ReadPos() != 0 || b.Length() != 4 {
		t.Errorf("PrepareSend(): read=%d length=%d, want 0 4", b.ReadPos(), b.Length())
	}
	b.PrepareRecv()
	if b.ReadPos() != 0 || b.Length() != 0 {
		t.Errorf("PrepareRecv(): read=%d length=%d, want 0 0", b.ReadPos(), b.Length())
	}
}
