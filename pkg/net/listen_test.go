package net

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"dominicbreuker/sessnet/mocks"
	"dominicbreuker/sessnet/pkg/config"
	"dominicbreuker/sessnet/pkg/log"
	"dominicbreuker/sessnet/pkg/transport"
)

func fakeAcceptor(used *string, name string, queue *int) func(ctx context.Context, addr string, q int, logger *log.Logger, deps *config.Dependencies) (transport.Acceptor, error) {
	return func(ctx context.Context, addr string, q int, logger *log.Logger, deps *config.Dependencies) (transport.Acceptor, error) {
		*used = name + " " + addr
		if queue != nil {
			*queue = q
		}
		return transport.NewChanAcceptor(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}, 1, nil), nil
	}
}

func TestListen_SelectsTransport(t *testing.T) {
	t.Parallel()

	var used string
	var queue int
	deps := &listenDependencies{
		listenTCP: func(ctx context.Context, addr string, _ *config.Dependencies) (transport.Acceptor, error) {
			return fakeAcceptor(&used, "tcp", nil)(ctx, addr, 0, nil, nil)
		},
		listenWS: fakeAcceptor(&used, "ws", &queue),
		listenKCP: func(ctx context.Context, addr string, _ *config.Dependencies) (transport.Acceptor, error) {
			return fakeAcceptor(&used, "kcp", nil)(ctx, addr, 0, nil, nil)
		},
		listenQUIC: func(ctx context.Context, addr, key string, q int, logger *log.Logger, deps *config.Dependencies) (transport.Acceptor, error) {
			return fakeAcceptor(&used, "quic", &queue)(ctx, addr, q, logger, deps)
		},
	}

	tests := []struct {
		proto     config.Protocol
		queue     int
		want      string
		wantQueue int
	}{
		{config.ProtoTCP, 0, "tcp 0.0.0.0:9000", 0},
		{config.ProtoWS, 4, "ws 0.0.0.0:9000", 4},
		{config.ProtoKCP, 0, "kcp 0.0.0.0:9000", 0},
		{config.ProtoQUIC, 0, "quic 0.0.0.0:9000", config.DefaultAcceptQueue},
	}

	for _, tc := range tests {
		used, queue = "", 0
		cfg := &config.Shared{Protocol: tc.proto, Host: "0.0.0.0", Port: 9000}
		acc, err := listen(context.Background(), cfg, tc.queue, deps)
		if err != nil {
			t.Fatalf("listen(%s) error = %v", tc.proto, err)
		}
		acc.Close()

		if used != tc.want {
			t.Errorf("listen(%s) used %q, want %q", tc.proto, used, tc.want)
		}
		if queue != tc.wantQueue {
			t.Errorf("listen(%s) queue = %d, want %d", tc.proto, queue, tc.wantQueue)
		}
	}
}

func TestListen_Fails(t *testing.T) {
	t.Parallel()

	inUse := errors.New("address already in use")
	deps := &listenDependencies{
		listenTCP: func(context.Context, string, *config.Dependencies) (transport.Acceptor, error) {
			return nil, inUse
		},
	}
	cfg := &config.Shared{Protocol: config.ProtoTCP, Host: "127.0.0.1", Port: 9000}

	if _, err := listen(context.Background(), cfg, 0, deps); !errors.Is(err, inUse) {
		t.Errorf("listen() error = %v, want %v", err, inUse)
	}
}

func TestDatagram_RoundTrip(t *testing.T) {
	t.Parallel()

	mockNet := mocks.NewMockUDPNetwork()
	cfg := &config.Shared{
		Protocol: config.ProtoTCP,
		Host:     "127.0.0.1",
		Port:     9100,
		Deps:     &config.Dependencies{PacketListener: mockNet.ListenPacket},
	}

	server, err := ListenDatagram(cfg)
	if err != nil {
		t.Fatalf("ListenDatagram() error = %v", err)
	}
	defer server.Close()
	if got := server.LocalAddr().String(); got != "127.0.0.1:9100" {
		t.Errorf("server bound to %s, want 127.0.0.1:9100", got)
	}

	client, raddr, err := DialDatagram(cfg)
	if err != nil {
		t.Fatalf("DialDatagram() error = %v", err)
	}
	defer client.Close()

	if _, err := client.WriteTo([]byte("dgram"), raddr); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}

	server.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	n, from, err := server.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}
	if string(buf[:n]) != "dgram" {
		t.Errorf("server read %q, want dgram", buf[:n])
	}
	if from.String() != client.LocalAddr().String() {
		t.Errorf("datagram from %s, want %s", from, client.LocalAddr())
	}
}

func TestDatagram_PortDerivedFromTransport(t *testing.T) {
	t.Parallel()

	mockNet := mocks.NewMockUDPNetwork()
	cfg := &config.Shared{
		Protocol: config.ProtoQUIC,
		Host:     "127.0.0.1",
		Port:     9200,
		Deps:     &config.Dependencies{PacketListener: mockNet.ListenPacket},
	}

	pc, err := ListenDatagram(cfg)
	if err != nil {
		t.Fatalf("ListenDatagram() error = %v", err)
	}
	defer pc.Close()

	if got := pc.LocalAddr().String(); got != "127.0.0.1:9201" {
		t.Errorf("datagram channel bound to %s, want 127.0.0.1:9201", got)
	}
}
