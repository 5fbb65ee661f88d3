package shared

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"dominicbreuker/sessnet/pkg/config"

	"github.com/urfave/cli/v3"
)

func TestGetBaseDescription(t *testing.T) {
	t.Parallel()

	desc := GetBaseDescription()

	for _, proto := range []string{"tcp", "ws", "kcp", "quic"} {
		if !strings.Contains(desc, proto) {
			t.Errorf("description should mention %s", proto)
		}
	}
}

func TestGetArgsUsage(t *testing.T) {
	t.Parallel()

	if usage := GetArgsUsage(); !strings.Contains(usage, "transport") {
		t.Error("usage should mention transport")
	}
}

func flagNames(flags []cli.Flag) map[string]bool {
	names := make(map[string]bool)
	for _, flag := range flags {
		if n := flag.Names(); len(n) > 0 {
			names[n[0]] = true
		}
	}
	return names
}

func TestFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		flags []cli.Flag
		want  []string
	}{
		{"common", GetCommonFlags(), []string{ConfigFlag, KeyFlag, VerboseFlag, DebugFlag, TimeoutFlag, ChecksumFlag, WorkersFlag, UDPPortFlag, LogFileFlag, TraceFlag}},
		{"serve", GetServeFlags(), []string{MaxClientsFlag, ReceiveTimeoutFlag, EpochIntervalFlag, MetricsFlag}},
		{"connect", GetConnectFlags(), []string{PingFlag, ReconnectDelayFlag, NoReconnectFlag}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			names := flagNames(tc.flags)
			if len(names) != len(tc.want) {
				t.Errorf("got %d flags, want %d", len(names), len(tc.want))
			}
			for _, name := range tc.want {
				if !names[name] {
					t.Errorf("expected flag %q not found", name)
				}
			}
		})
	}
}

// runShared parses args with the common flags and returns the resulting
// shared config.
func runShared(t *testing.T, args ...string) (*config.Shared, error) {
	t.Helper()

	var cfg *config.Shared
	cmd := &cli.Command{
		Name:  "test",
		Flags: GetCommonFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			file, err := LoadFile(cmd)
			if err != nil {
				return err
			}
			var cleanup func()
			cfg, cleanup, err = NewShared(cmd, file, file.Server.UDPPort)
			if err != nil {
				return err
			}
			cleanup()
			return nil
		},
	}
	err := cmd.Run(context.Background(), append([]string{"test"}, args...))
	return cfg, err
}

func TestNewShared(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sessnet.yaml")
	yaml := "checksum: xxhash\nworkers: 3\ntimeout: 2s\nserver:\n  udp_port: 9999\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := runShared(t, "--config", path, "--workers", "5", "kcp://127.0.0.1:9000")
	if err != nil {
		t.Fatalf("NewShared() error = %v", err)
	}

	if cfg.Protocol != config.ProtoKCP || cfg.Host != "127.0.0.1" || cfg.Port != 9000 {
		t.Errorf("transport = %s://%s:%d", cfg.Protocol, cfg.Host, cfg.Port)
	}
	if cfg.Checksum != "xxhash" {
		t.Errorf("Checksum = %q, want the file value xxhash", cfg.Checksum)
	}
	if cfg.Workers != 5 {
		t.Errorf("Workers = %d, want the flag value 5", cfg.Workers)
	}
	if cfg.Timeout != 2*time.Second {
		t.Errorf("Timeout = %s, want the file value 2s", cfg.Timeout)
	}
	if cfg.DatagramPort != 9999 {
		t.Errorf("DatagramPort = %d, want 9999", cfg.DatagramPort)
	}
}

func TestNewShared_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"no transport", nil},
		{"two transports", []string{"tcp://a:1", "tcp://b:2"}},
		{"bad transport", []string{"udp://a:1"}},
		{"missing config file", []string{"--config", "/does/not/exist.yaml", "tcp://a:1"}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := runShared(t, tc.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestReportErrors(t *testing.T) {
	t.Parallel()

	if err := ReportErrors(nil, nil); err != nil {
		t.Errorf("ReportErrors(nil) = %v", err)
	}
	if err := ReportErrors(nil, []error{os.ErrInvalid}); err == nil {
		t.Error("ReportErrors() with errors returned nil")
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sig  os.Signal
		want int
	}{
		{"interrupt", syscall.SIGINT, 130},
		{"terminate", syscall.SIGTERM, 143},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := exitCode(tc.sig); got != tc.want {
				t.Errorf("exitCode(%v) = %d, want %d", tc.sig, got, tc.want)
			}
		})
	}
}
