package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestMockNetworkFrames(t *testing.T) {
	mockNet := NewMockTCPNetwork()

	ln, err := mockNet.Listen(context.Background(), "tcp", "127.0.0.1:9001")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	l, err := mockNet.WaitForListener("127.0.0.1:9001", 500)
	if err != nil {
		t.Fatalf("WaitForListener() error = %v", err)
	}

	client, err := mockNet.DialContext(context.Background(), "tcp", "127.0.0.1:9001")
	if err != nil {
		t.Fatalf("DialContext() error = %v", err)
	}
	defer client.Close()

	server, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	defer server.Close()
	if _, err := l.WaitForNewConnection(500); err != nil {
		t.Fatalf("WaitForNewConnection() error = %v", err)
	}

	// a frame split over two writes arrives as one byte stream
	go func() {
		client.Write([]byte{0x00, 0x05, 'h'})
		client.Write([]byte("ello"))
	}()

	got := make([]byte, 7)
	server.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := io.ReadFull(server, got); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if string(got[2:]) != "hello" || got[1] != 5 {
		t.Errorf("read %q, want length prefix 5 and %q", got, "hello")
	}

	if server.RemoteAddr().String() != client.LocalAddr().String() {
		t.Errorf("server sees %s, client is %s", server.RemoteAddr(), client.LocalAddr())
	}
}

func TestMockListenerDeadline(t *testing.T) {
	mockNet := NewMockTCPNetwork()

	ln, err := mockNet.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	l := ln.(*MockTCPListener)
	if err := l.SetDeadline(time.Now().Add(20 * time.Millisecond)); err != nil {
		t.Fatalf("SetDeadline() error = %v", err)
	}
	_, err = ln.Accept()
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("Accept() error = %v, want a timeout", err)
	}

	if err := l.SetDeadline(time.Time{}); err != nil {
		t.Fatalf("SetDeadline() error = %v", err)
	}
	go func() {
		conn, err := mockNet.DialContext(context.Background(), "tcp", ln.Addr().String())
		if err == nil {
			conn.Close()
		}
	}()
	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	conn.Close()

	ln.Close()
	if _, err := ln.Accept(); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Accept() after Close error = %v, want net.ErrClosed", err)
	}
}
