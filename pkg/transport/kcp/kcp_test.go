package kcp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"dominicbreuker/sessnet/mocks"
	"dominicbreuker/sessnet/pkg/config"
	"dominicbreuker/sessnet/pkg/transport"
)

func TestListenAndDial(t *testing.T) {
	t.Parallel()

	mockNet := mocks.NewMockUDPNetwork()
	deps := &config.Dependencies{PacketListener: mockNet.ListenPacket}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	acc, err := Listen(ctx, "127.0.0.1:9000", deps)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	client, err := Dial(ctx, "127.0.0.1:9000", time.Second, deps)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	// the listener learns about a session from its first segment
	msg := []byte("hello over kcp")
	if _, err := client.Write(msg); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var server interface {
		io.ReadCloser
		SetReadDeadline(time.Time) error
	}
	deadline := time.Now().Add(2 * time.Second)
	for server == nil {
		conn, err := acc.Accept(50 * time.Millisecond)
		switch {
		case err == nil:
			server = conn
		case errors.Is(err, transport.ErrWouldBlock) && time.Now().Before(deadline):
		default:
			t.Fatalf("Accept() error = %v", err)
		}
	}
	defer server.Close()

	got := make([]byte, len(msg))
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(server, got); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Errorf("server read %q, want %q", got, msg)
	}
}

func TestListen_ContextCancel(t *testing.T) {
	t.Parallel()

	mockNet := mocks.NewMockUDPNetwork()
	deps := &config.Dependencies{PacketListener: mockNet.ListenPacket}

	ctx, cancel := context.WithCancel(context.Background())
	acc, err := Listen(ctx, "127.0.0.1:9001", deps)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := acc.Accept(10 * time.Millisecond)
		if errors.Is(err, transport.ErrClosed) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Accept() after cancellation error = %v, want ErrClosed", err)
		}
	}
}

func TestDial_ClosesPacketConn(t *testing.T) {
	t.Parallel()

	mockNet := mocks.NewMockUDPNetwork()
	deps := &config.Dependencies{PacketListener: mockNet.ListenPacket}

	c, err := Dial(context.Background(), "127.0.0.1:9002", time.Second, deps)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	local := c.LocalAddr().String()
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// the local port is free again once the session is closed
	pc, err := mockNet.ListenPacket("udp", local)
	if err != nil {
		t.Fatalf("ListenPacket(%s) after Close() error = %v", local, err)
	}
	pc.Close()
}

func TestListen_InvalidAddress(t *testing.T) {
	t.Parallel()

	if _, err := Listen(context.Background(), "invalid:abc", nil); err == nil {
		t.Error("Listen() with an invalid address succeeded")
	}
}
