package net

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"dominicbreuker/sessnet/pkg/config"
)

type dialFunc = func(ctx context.Context, addr string, timeout time.Duration, deps *config.Dependencies) (net.Conn, error)

// recordingDeps returns dial dependencies that record which transport was
// used and hand out one end of a pipe.
func recordingDeps(used *string, dialErr error) *dialDependencies {
	mk := func(name string) dialFunc {
		return func(ctx context.Context, addr string, timeout time.Duration, deps *config.Dependencies) (net.Conn, error) {
			*used = name + " " + addr
			if dialErr != nil {
				return nil, dialErr
			}
			c, _ := net.Pipe()
			return c, nil
		}
	}
	return &dialDependencies{
		dialTCP: mk("tcp"),
		dialWS:  mk("ws"),
		dialKCP: mk("kcp"),
		dialQUIC: func(ctx context.Context, addr, key string, timeout time.Duration, deps *config.Dependencies) (net.Conn, error) {
			return mk("quic")(ctx, addr, timeout, deps)
		},
	}
}

func TestDial_SelectsTransport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		proto config.Protocol
		want  string
	}{
		{config.ProtoTCP, "tcp 127.0.0.1:8080"},
		{config.ProtoWS, "ws 127.0.0.1:8080"},
		{config.ProtoKCP, "kcp 127.0.0.1:8080"},
		{config.ProtoQUIC, "quic 127.0.0.1:8080"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.proto.String(), func(t *testing.T) {
			t.Parallel()

			var used string
			cfg := &config.Shared{Protocol: tc.proto, Host: "127.0.0.1", Port: 8080}
			conn, err := dial(context.Background(), cfg, recordingDeps(&used, nil))
			if err != nil {
				t.Fatalf("dial() error = %v", err)
			}
			defer conn.Close()

			if used != tc.want {
				t.Errorf("dialed %q, want %q", used, tc.want)
			}
		})
	}
}

func TestDial_Errors(t *testing.T) {
	t.Parallel()

	var used string
	refused := errors.New("connection refused")

	cfg := &config.Shared{Protocol: config.ProtoTCP, Host: "127.0.0.1", Port: 8080}
	if _, err := dial(context.Background(), cfg, recordingDeps(&used, refused)); !errors.Is(err, refused) {
		t.Errorf("dial() error = %v, want %v", err, refused)
	}

	cfg = &config.Shared{Protocol: config.Protocol(42), Host: "127.0.0.1", Port: 8080}
	if _, err := dial(context.Background(), cfg, recordingDeps(&used, nil)); err == nil {
		t.Error("dial() with an unknown protocol succeeded")
	}
}

func TestDial_Trace(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	client, server := net.Pipe()
	defer server.Close()

	deps := &dialDependencies{
		dialTCP: func(context.Context, string, time.Duration, *config.Dependencies) (net.Conn, error) {
			return client, nil
		},
	}
	cfg := &config.Shared{Protocol: config.ProtoTCP, Host: "127.0.0.1", Port: 8080, TraceOut: &out}

	conn, err := dial(context.Background(), cfg, deps)
	if err != nil {
		t.Fatalf("dial() error = %v", err)
	}
	defer conn.Close()

	go server.Read(make([]byte, 16))
	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(out.String(), "> ") {
		t.Errorf("trace output %q lacks an outgoing dump", out.String())
	}
}
