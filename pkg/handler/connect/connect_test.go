package connect

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"dominicbreuker/sessnet/pkg/client"
	"dominicbreuker/sessnet/pkg/config"
	"dominicbreuker/sessnet/pkg/message"
)

type fakeSender struct {
	streams   []*message.Stream
	datagrams []*message.Datagram
	recycled  int
	connected bool
}

func (f *fakeSender) NewStream() (*message.Stream, bool) {
	m := message.NewStream(64)
	m.PrepareWrite()
	return m, true
}

func (f *fakeSender) SendStream(m *message.Stream) bool {
	if !f.connected {
		return false
	}
	f.streams = append(f.streams, m)
	return true
}

func (f *fakeSender) Recycle(*message.Stream) { f.recycled++ }

func (f *fakeSender) NewDatagram() (*message.Datagram, bool) {
	m := message.NewDatagram(64)
	m.PrepareWrite()
	return m, true
}

func (f *fakeSender) SendDatagram(m *message.Datagram) error {
	f.datagrams = append(f.datagrams, m)
	return nil
}

func (f *fakeSender) RTT() time.Duration { return 1500 * time.Microsecond }

func TestHandleLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		line          string
		wantErr       error
		wantStreams   int
		wantDatagrams int
		wantRecycled  int
		wantOut       string
		wantText      string
	}{
		{name: "stream payload", line: "hello world", wantStreams: 1, wantText: "hello world"},
		{name: "datagram payload", line: "/udp over udp", wantDatagrams: 1, wantText: "over udp"},
		{name: "rtt", line: "/rtt", wantOut: "rtt 1.5ms\n"},
		{name: "quit", line: "/quit", wantErr: io.EOF},
		{name: "too long", line: strings.Repeat("x", 100), wantRecycled: 1},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			s := &fakeSender{connected: true}
			h := New(nil, &out)
			h.Bind(s)

			err := h.HandleLine(tc.line)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("HandleLine() error = %v, want %v", err, tc.wantErr)
			}
			if len(s.streams) != tc.wantStreams || len(s.datagrams) != tc.wantDatagrams {
				t.Errorf("sent %d streams and %d datagrams, want %d and %d",
					len(s.streams), len(s.datagrams), tc.wantStreams, tc.wantDatagrams)
			}
			if s.recycled != tc.wantRecycled {
				t.Errorf("recycled %d, want %d", s.recycled, tc.wantRecycled)
			}
			if out.String() != tc.wantOut {
				t.Errorf("output = %q, want %q", out.String(), tc.wantOut)
			}

			var got string
			switch {
			case len(s.streams) == 1:
				p, err := s.streams[0].DecodePayload()
				if err != nil {
					t.Fatalf("DecodePayload() error = %v", err)
				}
				got = p.Text
			case len(s.datagrams) == 1:
				p, err := s.datagrams[0].DecodePayload()
				if err != nil {
					t.Fatalf("DecodePayload() error = %v", err)
				}
				got = p.Text
			}
			if got != tc.wantText {
				t.Errorf("payload text = %q, want %q", got, tc.wantText)
			}
		})
	}
}

func TestHandleLine_Unbound(t *testing.T) {
	t.Parallel()

	h := New(nil, io.Discard)
	if err := h.HandleLine("hello"); err == nil {
		t.Error("HandleLine() without a client succeeded")
	}
}

func TestHandleLine_Sequence(t *testing.T) {
	t.Parallel()

	s := &fakeSender{connected: true}
	h := New(nil, io.Discard)
	h.Bind(s)
	for _, line := range []string{"a", "b", "c"} {
		h.HandleLine(line)
	}
	for i, m := range s.streams {
		p, _ := m.DecodePayload()
		if p.V3 != uint32(i+1) {
			t.Errorf("payload %d has sequence %d", i, p.V3)
		}
	}
}

func TestOnMessage_Prints(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	h := New(nil, &out)
	c := client.New(&config.Shared{}, &config.Client{}, h.Callbacks())

	m := message.NewStream(64)
	m.CreatePayload(&message.Payload{V3: 7, Text: "echoed"})
	h.onMessage(c, m)

	if got := out.String(); !strings.HasPrefix(got, "< echoed (#7") {
		t.Errorf("output = %q", got)
	}

	bad := message.NewStream(64)
	bad.CreateControl(message.TypePayload)
	out.Reset()
	h.onMessage(c, bad)
	if out.Len() != 0 {
		t.Errorf("malformed payload printed %q", out.String())
	}
}
