package message

import (
	"errors"
	"testing"
	"time"
)

// rawStream builds the bytes of a stream frame with the given header fields
// followed by n body bytes.
func rawStream(len1, len2 uint16, n int) []byte {
	h := &StreamHeader{Len1: len1, Len2: len2}
	p := make([]byte, StreamHeaderSize+n)
	h.Encode(p)
	return p
}

func TestStream_Completeness(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		bodyReceived int
		complete     bool
		over         bool
		missingBody  int
	}{
		{"partial body", 4, false, false, 6},
		{"exact body", 10, true, false, 0},
		{"one byte too many", 11, false, true, 0},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			m := NewStream(8192)
			m.WriteBytes(rawStream(10, 10, tc.bodyReceived))
			if !m.ValidHeader() {
				t.Fatal("ValidHeader() = false for matching lengths")
			}
			if got := m.IsComplete(); got != tc.complete {
				t.Errorf("IsComplete() = %v, want %v", got, tc.complete)
			}
			if got := m.IsOverComplete(); got != tc.over {
				t.Errorf("IsOverComplete() = %v, want %v", got, tc.over)
			}
			if got := m.MissingBodyLength(); got != tc.missingBody {
				t.Errorf("MissingBodyLength() = %d, want %d", got, tc.missingBody)
			}
		})
	}
}

func TestStream_LengthMismatchInvalid(t *testing.T) {
	t.Parallel()

	m := NewStream(8192)
	m.WriteBytes(rawStream(10, 11, 0))
	if m.ValidHeader() {
		t.Error("ValidHeader() = true for len1=10 len2=11")
	}
}

func TestStream_MissingHeaderLength(t *testing.T) {
	t.Parallel()

	m := NewStream(64)
	if got := m.MissingHeaderLength(); got != StreamHeaderSize {
		t.Errorf("MissingHeaderLength() on empty = %d, want %d", got, StreamHeaderSize)
	}
	m.WriteBytes([]byte{1, 2, 3})
	if got := m.MissingHeaderLength(); got != StreamHeaderSize-3 {
		t.Errorf("MissingHeaderLength() = %d, want %d", got, StreamHeaderSize-3)
	}
	if m.HasCompleteHeader() {
		t.Error("HasCompleteHeader() = true with 3 bytes")
	}
	if m.DecodeHeader() {
		t.Error("DecodeHeader() succeeded on partial header")
	}
}

func TestStream_FinalizeAndVerify(t *testing.T) {
	t.Parallel()

	m := NewStream(128)
	m.CreateSessionID(42)
	if !m.Finalize(7, ChecksumCRC32) {
		t.Fatal("Finalize() failed")
	}

	// receive side: copy the wire bytes into a fresh message
	in := NewStream(128)
	in.WriteBytes(m.Bytes())
	if !in.ValidHeader() {
		t.Fatal("ValidHeader() = false after Finalize")
	}
	if !in.IsComplete() {
		t.Fatal("IsComplete() = false for a finalized frame")
	}
	if in.Header().Epoch() != 7 {
		t.Errorf("epoch = %d, want 7", in.Header().Epoch())
	}
	if in.Header().BodyLength() != 5 {
		t.Errorf("body length = %d, want 5 (type + u32)", in.Header().BodyLength())
	}
	if !in.VerifyChecksum(ChecksumCRC32) {
		t.Error("VerifyChecksum() = false for untouched frame")
	}
	if id, ok := in.SessionID(); !ok || id != 42 {
		t.Errorf("SessionID() = %d, %v; want 42", id, ok)
	}

	in.Bytes()[StreamHeaderSize+1] ^= 0xFF
	if in.VerifyChecksum(ChecksumCRC32) {
		t.Error("VerifyChecksum() = true for corrupted body")
	}
}

func TestDatagram_HeaderRoundTrip(t *testing.T) {
	t.Parallel()

	m := NewDatagram(4096)
	m.CreateControl(TypePingDatagram)
	m.Header().SessionIndex = 3
	m.Header().Seq = 99
	m.Finalize(2, ChecksumXXHash)

	in := NewDatagram(4096)
	in.WriteBytes(m.Bytes())
	if !in.ValidHeader() {
		t.Fatal("ValidHeader() = false")
	}
	h := in.Header()
	if h.SessionIndex != 3 || h.Seq != 99 || h.Ep != 2 {
		t.Errorf("header = %+v, want index 3 seq 99 epoch 2", *h)
	}
	if !in.IsComplete() {
		t.Error("a datagram with a header is always complete")
	}
	if typ, _ := in.Type(); typ != TypePingDatagram {
		t.Errorf("Type() = %s, want PING_UDP", typ)
	}
	if !in.VerifyChecksum(ChecksumXXHash) {
		t.Error("VerifyChecksum() = false")
	}
}

func TestDatagram_HeaderOnlyInvalid(t *testing.T) {
	t.Parallel()

	m := NewDatagram(64)
	m.WriteBytes(make([]byte, DatagramHeaderSize))
	if m.ValidHeader() {
		t.Error("ValidHeader() = true for a datagram without type byte")
	}
}

func TestPayload_RoundTrip(t *testing.T) {
	t.Parallel()

	want := &Payload{
		V1:     1,
		V2:     2,
		V3:     3,
		Text:   "hello",
		Models: []Model{{ID: 1, Name: "model1"}, {ID: 2, Name: "model2"}},
	}

	m := NewStream(8192)
	if !m.CreatePayload(want) {
		t.Fatal("CreatePayload() failed")
	}
	got, err := m.DecodePayload()
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if got.V1 != want.V1 || got.V2 != want.V2 || got.V3 != want.V3 || got.Text != want.Text {
		t.Errorf("DecodePayload() = %+v, want %+v", got, want)
	}
	if len(got.Models) != 2 || got.Models[1] != want.Models[1] {
		t.Errorf("models = %+v, want %+v", got.Models, want.Models)
	}
}

func TestPayload_Malformed(t *testing.T) {
	t.Parallel()

	m := NewStream(64)
	m.CreateControl(TypePayload)
	m.WriteUint32(457457456)
	m.WriteUint32(377645746)

	if _, err := m.DecodePayload(); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("DecodePayload() error = %v, want ErrMalformedPayload", err)
	}
}

func TestPayload_TooLargeForBuffer(t *testing.T) {
	t.Parallel()

	m := NewStream(32)
	if m.CreatePayload(&Payload{Text: "this text does not fit into 32 bytes"}) {
		t.Error("CreatePayload() succeeded beyond capacity")
	}
}

func TestParseChecksum(t *testing.T) {
	t.Parallel()

	body := []byte("body")
	cases := []struct {
		name    string
		want    uint16
		wantErr bool
	}{
		{"", ChecksumCRC32(body), false},
		{"crc32", ChecksumCRC32(body), false},
		{"XXHASH", ChecksumXXHash(body), false},
		{"md5", 0, true},
	}

	for _, tc := range cases {
		sum, err := ParseChecksum(tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseChecksum(%q) error = %v, wantErr %v", tc.name, err, tc.wantErr)
			continue
		}
		if err == nil && sum(body) != tc.want {
			t.Errorf("ParseChecksum(%q) picked the wrong function", tc.name)
		}
	}
}

func TestType_String(t *testing.T) {
	t.Parallel()

	if TypePayload.String() != "PAYLOAD" {
		t.Errorf("TypePayload.String() = %q", TypePayload.String())
	}
	if Type(99).String() != "TYPE(99)" {
		t.Errorf("Type(99).String() = %q", Type(99).String())
	}
}

func TestControlMessages(t *testing.T) {
	t.Parallel()

	sent := time.Unix(1700000000, 123456789)

	ping := NewStream(64)
	if !ping.CreatePing(TypePingStream, sent) {
		t.Fatal("CreatePing() failed")
	}
	if typ, _ := ping.Type(); typ != TypePingStream {
		t.Errorf("Type() = %s, want %s", typ, TypePingStream)
	}
	if got, ok := ping.PingTime(); !ok || !got.Equal(sent) {
		t.Errorf("PingTime() = %v, %v, want %v", got, ok, sent)
	}

	epoch := NewStream(64)
	epoch.CreateEpoch(42)
	if got, ok := epoch.Epoch(); !ok || got != 42 {
		t.Errorf("Epoch() = %d, %v, want 42", got, ok)
	}

	id := NewDatagram(64)
	id.CreateSessionID(7)
	if got, ok := id.SessionID(); !ok || got != 7 {
		t.Errorf("SessionID() = %d, %v, want 7", got, ok)
	}

	short := NewStream(64)
	short.CreateControl(TypeEpoch)
	if _, ok := short.Epoch(); ok {
		t.Error("Epoch() of an empty EPOCH message succeeded")
	}
}
