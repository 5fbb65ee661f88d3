package server

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"dominicbreuker/sessnet/mocks"
	mocks_tcp "dominicbreuker/sessnet/mocks/tcp"
	"dominicbreuker/sessnet/pkg/config"
	"dominicbreuker/sessnet/pkg/link"
	"dominicbreuker/sessnet/pkg/message"
	"dominicbreuker/sessnet/pkg/session"
)

type events struct {
	accepted     chan uint32
	disconnected chan session.Reason
	messages     chan string
}

type fixture struct {
	srv    *Server
	tcpNet *mocks_tcp.MockTCPNetwork
	udpNet *mocks.MockUDPNetwork
	ev     *events
}

func newFixture(t *testing.T, srvCfg *config.Server) *fixture {
	t.Helper()

	f := &fixture{
		tcpNet: mocks_tcp.NewMockTCPNetwork(),
		udpNet: mocks.NewMockUDPNetwork(),
		ev: &events{
			accepted:     make(chan uint32, 8),
			disconnected: make(chan session.Reason, 8),
			messages:     make(chan string, 8),
		},
	}
	cfg := &config.Shared{
		Protocol: config.ProtoTCP,
		Host:     "127.0.0.1",
		Port:     7100,
		Workers:  2,
		Deps: &config.Dependencies{
			TCPDialer:      f.tcpNet.DialContext,
			TCPListener:    f.tcpNet.Listen,
			PacketListener: f.udpNet.ListenPacket,
		},
	}
	if srvCfg.PollTimeout == 0 {
		srvCfg.PollTimeout = 5 * time.Millisecond
	}

	f.srv = New(cfg, srvCfg, Callbacks{
		OnSessionAccepted: func(s *session.Session) { f.ev.accepted <- s.ID() },
		OnSessionDisconnected: func(s *session.Session, reason session.Reason) {
			f.ev.disconnected <- reason
		},
		OnSessionMessage: func(s *session.Session, m *message.Stream) {
			f.ev.messages <- string(m.Payload())
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := f.srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		cancel()
		f.srv.Close()
	})
	return f
}

func (f *fixture) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := f.tcpNet.DialContext(context.Background(), "tcp", "127.0.0.1:7100")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn net.Conn) *message.Stream {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	m := message.NewStream(config.DefaultStreamBufferSize)
	if _, err := io.ReadFull(conn, m.Free(message.StreamHeaderSize)); err != nil {
		t.Fatalf("read header: %v", err)
	}
	m.Advance(message.StreamHeaderSize)
	if !m.ValidHeader() {
		t.Fatal("received an invalid header")
	}
	n := m.MissingBodyLength()
	if _, err := io.ReadFull(conn, m.Free(n)); err != nil {
		t.Fatalf("read body: %v", err)
	}
	m.Advance(n)
	if !m.VerifyChecksum(message.ChecksumCRC32) {
		t.Fatal("received a frame with a bad checksum")
	}
	return m
}

// readType skips frames until one of type typ arrives.
func readType(t *testing.T, conn net.Conn, typ message.Type) *message.Stream {
	t.Helper()
	for i := 0; i < 16; i++ {
		m := readFrame(t, conn)
		if got, _ := m.Type(); got == typ {
			return m
		}
	}
	t.Fatalf("no %s frame received", typ)
	return nil
}

func writeFrame(t *testing.T, conn net.Conn, typ message.Type, payload string, epoch uint8) {
	t.Helper()
	m := message.NewStream(256)
	m.CreateControl(typ)
	m.WriteBytes([]byte(payload))
	m.Finalize(epoch, message.ChecksumCRC32)
	if _, err := conn.Write(m.Bytes()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func datagram(index, seq uint32, typ message.Type, payload string) []byte {
	m := message.NewDatagram(256)
	m.CreateControl(typ)
	m.WriteBytes([]byte(payload))
	m.Header().SessionIndex = index
	m.Header().Seq = seq
	m.Finalize(0, message.ChecksumCRC32)
	return m.Bytes()
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for the server")
	}
	var zero T
	return zero
}

func TestServer_Handshake(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &config.Server{MaxClients: 2})
	conn := f.dial(t)

	m := readType(t, conn, message.TypeSessionID)
	id, ok := m.SessionID()
	if !ok || id != 0 {
		t.Errorf("SessionID() = %d, %v; want 0", id, ok)
	}
	m = readType(t, conn, message.TypeEpoch)
	if e, _ := m.Uint8At(m.HeaderSize() + 1); e != f.srv.Epoch() {
		t.Errorf("EPOCH = %d, want %d", e, f.srv.Epoch())
	}
	if got := waitFor(t, f.ev.accepted); got != 0 {
		t.Errorf("OnSessionAccepted id = %d, want 0", got)
	}
	if n := len(f.srv.Sessions()); n != 1 {
		t.Errorf("Sessions() has %d entries, want 1", n)
	}
}

func TestServer_PingPong(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &config.Server{MaxClients: 2})
	conn := f.dial(t)
	readType(t, conn, message.TypeEpoch)

	writeFrame(t, conn, message.TypePingStream, "tcp-ping", 0)
	if got := string(readType(t, conn, message.TypePongStream).Payload()); got != "tcp-ping" {
		t.Errorf("PONG_TCP payload = %q, want %q", got, "tcp-ping")
	}

	// datagram pings are answered on the stream
	src := conn.LocalAddr().(*net.TCPAddr)
	from := &net.UDPAddr{IP: src.IP, Port: 5555}
	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7100}
	if _, err := f.udpNet.WriteTo(datagram(0, 1, message.TypePingDatagram, "udp-ping"), from, dst); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	if got := string(readType(t, conn, message.TypePongDatagram).Payload()); got != "udp-ping" {
		t.Errorf("PONG_UDP payload = %q, want %q", got, "udp-ping")
	}

	select {
	case msg := <-f.ev.messages:
		t.Errorf("keepalive reached the application: %q", msg)
	default:
	}
}

func TestServer_MessagesAndBroadcast(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &config.Server{MaxClients: 2})
	conn := f.dial(t)
	readType(t, conn, message.TypeEpoch)

	writeFrame(t, conn, message.TypePayload, "hello", 0)
	if got := waitFor(t, f.ev.messages); got != "hello" {
		t.Errorf("OnSessionMessage payload = %q, want %q", got, "hello")
	}

	n := f.srv.Broadcast(message.TypePayload, func(m *message.Stream) bool {
		return m.WriteBytes([]byte("to all"))
	})
	if n != 1 {
		t.Errorf("Broadcast() = %d, want 1", n)
	}
	if got := string(readType(t, conn, message.TypePayload).Payload()); got != "to all" {
		t.Errorf("broadcast payload = %q, want %q", got, "to all")
	}

	m, _ := f.srv.NewStream()
	m.SetType(message.TypePayload)
	m.WriteBytes([]byte("direct"))
	if !f.srv.Send(0, m) {
		t.Fatal("Send(0) failed")
	}
	if got := string(readType(t, conn, message.TypePayload).Payload()); got != "direct" {
		t.Errorf("direct payload = %q, want %q", got, "direct")
	}

	m, _ = f.srv.NewStream()
	if f.srv.Send(1, m) {
		t.Error("Send() to an unused session succeeded")
	}
}

func TestServer_Full(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &config.Server{MaxClients: 1})
	first := f.dial(t)
	readType(t, first, message.TypeSessionID)

	second := f.dial(t)
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := second.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("second client Read() error = %v, want EOF", err)
	}
}

func TestServer_Disconnect(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &config.Server{MaxClients: 1})
	conn := f.dial(t)
	readType(t, conn, message.TypeEpoch)
	waitFor(t, f.ev.accepted)

	if !f.srv.Disconnect(0) {
		t.Fatal("Disconnect(0) failed")
	}
	if r := waitFor(t, f.ev.disconnected); r != link.ReasonLocal {
		t.Errorf("OnSessionDisconnected reason = %s, want %s", r, link.ReasonLocal)
	}
	if f.srv.Disconnect(0) {
		t.Error("second Disconnect(0) succeeded")
	}

	// the slot is released after the callback
	deadline := time.Now().Add(2 * time.Second)
	for f.srv.sessions.InUse() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	again := f.dial(t)
	m := readType(t, again, message.TypeSessionID)
	if id, _ := m.SessionID(); id != 0 {
		t.Errorf("reused session id = %d, want 0", id)
	}
	if f.srv.streams.InUse() > 3 {
		t.Errorf("stream pool InUse() = %d, buffers of the old session leaked", f.srv.streams.InUse())
	}
}

func TestServer_IdleTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &config.Server{MaxClients: 1, ReceiveTimeout: 100 * time.Millisecond})
	conn := f.dial(t)
	readType(t, conn, message.TypeEpoch)

	if r := waitFor(t, f.ev.disconnected); r != link.ReasonIdle {
		t.Errorf("OnSessionDisconnected reason = %s, want %s", r, link.ReasonIdle)
	}
}

func TestServer_EpochBroadcast(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &config.Server{MaxClients: 1, EpochInterval: 50 * time.Millisecond})
	conn := f.dial(t)
	readType(t, conn, message.TypeEpoch)

	m := readType(t, conn, message.TypeEpoch)
	e, _ := m.Uint8At(m.HeaderSize() + 1)
	if e == 0 {
		t.Errorf("broadcast epoch = %d, want > 0", e)
	}
	if m.Header().Ep != e {
		t.Errorf("header epoch = %d, body epoch = %d", m.Header().Ep, e)
	}
}

func TestServer_DatagramDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &config.Server{MaxClients: 1})
	conn := f.dial(t)
	readType(t, conn, message.TypeEpoch)

	src := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5555}
	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7100}
	for _, d := range [][]byte{
		datagram(5, 1, message.TypePayload, "out of range"),
		{1, 2, 3},
	} {
		if _, err := f.udpNet.WriteTo(d, src, dst); err != nil {
			t.Fatalf("WriteTo() error = %v", err)
		}
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if n := f.srv.datagrams.InUse(); n > 1 {
			t.Fatalf("datagram pool InUse() = %d, dropped datagrams leaked", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_StartTwice(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &config.Server{MaxClients: 1})
	if err := f.srv.Start(context.Background()); err != ErrStarted {
		t.Errorf("second Start() error = %v, want ErrStarted", err)
	}
}
