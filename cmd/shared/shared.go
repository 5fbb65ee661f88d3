// Package shared provides common CLI flag definitions and utility functions
// used across sessnet's command-line interface.
package shared

import (
	"fmt"
	"os"
	"strings"
	"time"

	"dominicbreuker/sessnet/pkg/config"
	"dominicbreuker/sessnet/pkg/log"

	"github.com/urfave/cli/v3"
)

const categoryCommon = "common"

// ConfigFlag is the name of the flag to specify a config file.
const ConfigFlag = "config"

// KeyFlag is the name of the flag to specify the quic:// authentication key.
const KeyFlag = "key"

// VerboseFlag is the name of the flag to enable verbose logging.
const VerboseFlag = "verbose"

// DebugFlag is the name of the flag to enable protocol level logging.
const DebugFlag = "debug"

// TimeoutFlag is the name of the flag to specify the connect timeout in milliseconds.
const TimeoutFlag = "timeout"

// ChecksumFlag is the name of the flag to select the frame checksum.
const ChecksumFlag = "checksum"

// WorkersFlag is the name of the flag to size the worker pool.
const WorkersFlag = "workers"

// LogFileFlag is the name of the flag to specify a log file.
const LogFileFlag = "log-file"

// TraceFlag is the name of the flag to specify a traffic dump file.
const TraceFlag = "trace"

// UDPPortFlag is the name of the flag to specify the datagram port.
const UDPPortFlag = "udp-port"

// GetBaseDescription returns the base description text for transport
// specifications used in CLI commands.
func GetBaseDescription() string {
	return strings.Join([]string{
		"Specify transport like this: tcp://127.0.0.1:123 (supports tcp|ws|kcp|quic)",
		"Datagrams always use UDP, on the same port for tcp|ws and on the next port for kcp|quic.",
		"You can omit the host when serving to bind to all interfaces.",
	}, "\n")
}

// GetArgsUsage returns the arguments usage string for CLI commands.
func GetArgsUsage() string {
	return strings.Join([]string{
		"transport",
	}, " ")
}

// GetCommonFlags returns the CLI flags used by both serve and connect.
func GetCommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     ConfigFlag,
			Aliases:  []string{"c"},
			Usage:    "Config file (YAML), defaults to ./sessnet.yaml or ~/.sessnet/sessnet.yaml",
			Category: categoryCommon,
			Value:    "",
			Required: false,
		},
		&cli.StringFlag{
			Name:     KeyFlag,
			Aliases:  []string{"k"},
			Usage:    "Key to authenticate quic:// peers, leave empty to disable authentication",
			Category: categoryCommon,
			Value:    "",
			Required: false,
		},
		&cli.BoolFlag{
			Name:     VerboseFlag,
			Aliases:  []string{"v"},
			Usage:    "Verbose logging",
			Category: categoryCommon,
			Value:    false,
			Required: false,
		},
		&cli.BoolFlag{
			Name:     DebugFlag,
			Usage:    "Log protocol details (implies --verbose)",
			Category: categoryCommon,
			Value:    false,
			Required: false,
		},
		&cli.IntFlag{
			Name:     TimeoutFlag,
			Aliases:  []string{"t"},
			Usage:    "Connect timeout in milliseconds",
			Category: categoryCommon,
			Value:    int64(config.DefaultConnectTimeout / time.Millisecond),
			Required: false,
		},
		&cli.StringFlag{
			Name:     ChecksumFlag,
			Usage:    "Frame checksum: crc32|xxhash (must match the peer)",
			Category: categoryCommon,
			Value:    "crc32",
			Required: false,
		},
		&cli.IntFlag{
			Name:     WorkersFlag,
			Usage:    "Number of worker threads",
			Category: categoryCommon,
			Value:    config.DefaultWorkers,
			Required: false,
		},
		&cli.IntFlag{
			Name:     UDPPortFlag,
			Aliases:  []string{"u"},
			Usage:    "Datagram port, 0 derives it from the transport port",
			Category: categoryCommon,
			Value:    0,
			Required: false,
		},
		&cli.StringFlag{
			Name:     LogFileFlag,
			Aliases:  []string{"l"},
			Usage:    "Also write log messages to this file (rotated)",
			Category: categoryCommon,
			Value:    "",
			Required: false,
		},
		&cli.StringFlag{
			Name:     TraceFlag,
			Usage:    "Hex dump all stream traffic to this file",
			Category: categoryCommon,
			Value:    "",
			Required: false,
		},
	}
}

const categoryServe = "serve"

// MaxClientsFlag is the name of the flag to specify the session capacity.
const MaxClientsFlag = "max-clients"

// ReceiveTimeoutFlag is the name of the flag to specify the idle timeout.
const ReceiveTimeoutFlag = "receive-timeout"

// EpochIntervalFlag is the name of the flag to specify the epoch interval.
const EpochIntervalFlag = "epoch-interval"

// MetricsFlag is the name of the flag to specify the metrics address.
const MetricsFlag = "metrics"

// GetServeFlags returns the CLI flags specific to serve mode.
func GetServeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:     MaxClientsFlag,
			Aliases:  []string{"m"},
			Usage:    "Maximum number of concurrent sessions",
			Category: categoryServe,
			Value:    config.DefaultMaxClients,
			Required: false,
		},
		&cli.DurationFlag{
			Name:     ReceiveTimeoutFlag,
			Usage:    "Disconnect sessions that send nothing for this long",
			Category: categoryServe,
			Value:    config.DefaultReceiveTimeout,
			Required: false,
		},
		&cli.DurationFlag{
			Name:     EpochIntervalFlag,
			Usage:    "Interval of epoch broadcasts",
			Category: categoryServe,
			Value:    config.DefaultEpochInterval,
			Required: false,
		},
		&cli.StringFlag{
			Name:     MetricsFlag,
			Usage:    "Serve Prometheus metrics on this address, e.g. :9100",
			Category: categoryServe,
			Value:    "",
			Required: false,
		},
	}
}

const categoryConnect = "connect"

// PingFlag is the name of the flag to specify the keepalive interval.
const PingFlag = "ping"

// ReconnectDelayFlag is the name of the flag to specify the reconnect delay.
const ReconnectDelayFlag = "reconnect-delay"

// NoReconnectFlag is the name of the flag to disable reconnects.
const NoReconnectFlag = "no-reconnect"

// GetConnectFlags returns the CLI flags specific to connect mode.
func GetConnectFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:     PingFlag,
			Usage:    "Keepalive interval, also used to measure the round trip time",
			Category: categoryConnect,
			Value:    config.DefaultPingInterval,
			Required: false,
		},
		&cli.DurationFlag{
			Name:     ReconnectDelayFlag,
			Usage:    "Pause before reconnecting after the connection was lost",
			Category: categoryConnect,
			Value:    config.DefaultReconnectDelay,
			Required: false,
		},
		&cli.BoolFlag{
			Name:     NoReconnectFlag,
			Usage:    "Exit instead of reconnecting",
			Category: categoryConnect,
			Value:    false,
			Required: false,
		},
	}
}

// LoadFile reads the config file selected by --config. Flags that were set
// explicitly take precedence over its values, see the *Or helpers.
func LoadFile(cmd *cli.Command) (*config.File, error) {
	file, err := config.Load(cmd.String(ConfigFlag))
	if err != nil {
		return nil, fmt.Errorf("config.Load(): %w", err)
	}
	return file, nil
}

// StringOr returns the flag value if it was set, def otherwise.
func StringOr(cmd *cli.Command, name, def string) string {
	if cmd.IsSet(name) {
		return cmd.String(name)
	}
	return def
}

// IntOr returns the flag value if it was set, def otherwise.
func IntOr(cmd *cli.Command, name string, def int) int {
	if cmd.IsSet(name) {
		return int(cmd.Int(name))
	}
	return def
}

// BoolOr returns the flag value if it was set, def otherwise.
func BoolOr(cmd *cli.Command, name string, def bool) bool {
	if cmd.IsSet(name) {
		return cmd.Bool(name)
	}
	return def
}

// DurationOr returns the flag value if it was set, def otherwise.
func DurationOr(cmd *cli.Command, name string, def time.Duration) time.Duration {
	if cmd.IsSet(name) {
		return cmd.Duration(name)
	}
	return def
}

// NewShared builds the shared configuration from the transport argument,
// the flags and the config file. The returned cleanup flushes the logger
// and closes the trace file.
func NewShared(cmd *cli.Command, file *config.File, udpPort int) (*config.Shared, func(), error) {
	args := cmd.Args()
	if args.Len() != 1 {
		return nil, nil, fmt.Errorf("must provide exactly one argument, got %d (%s)", args.Len(), strings.Join(args.Slice(), ", "))
	}

	proto, host, port, err := ParseTransport(args.Get(0))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing transport: %s", err)
	}

	timeout := file.Timeout
	if cmd.IsSet(TimeoutFlag) {
		timeout = time.Duration(cmd.Int(TimeoutFlag)) * time.Millisecond
	}

	cfg := &config.Shared{
		Protocol:     proto,
		Host:         host,
		Port:         port,
		DatagramPort: IntOr(cmd, UDPPortFlag, udpPort),
		Checksum:     StringOr(cmd, ChecksumFlag, file.Checksum),
		Key:          StringOr(cmd, KeyFlag, file.Key),
		Verbose:      BoolOr(cmd, VerboseFlag, file.Verbose),
		Timeout:      timeout,
		Workers:      IntOr(cmd, WorkersFlag, file.Workers),
		Trace:        StringOr(cmd, TraceFlag, file.Trace),
	}

	lvl := log.LevelInfo
	if cfg.Verbose {
		lvl = log.LevelVerbose
	}
	if cmd.Bool(DebugFlag) {
		lvl = log.LevelDebug
	}
	if path := StringOr(cmd, LogFileFlag, file.LogFile); path != "" {
		cfg.Logger = log.NewFileLogger(os.Stderr, lvl, path)
	} else {
		cfg.Logger = log.NewLoggerLevel(os.Stderr, lvl)
	}

	var trace *os.File
	if cfg.Trace != "" {
		trace, err = log.OpenTraceFile(cfg.Trace)
		if err != nil {
			cfg.Logger.Close()
			return nil, nil, fmt.Errorf("open trace file: %w", err)
		}
		cfg.TraceOut = trace
	}

	cleanup := func() {
		cfg.Logger.Close()
		if trace != nil {
			trace.Close()
		}
	}
	return cfg, cleanup, nil
}

// ReportErrors logs validation errors. It returns an error if there are any.
func ReportErrors(logger *log.Logger, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	logger.ErrorMsg("Argument validation errors:")
	for _, err := range errs {
		logger.ErrorMsg(" - %s", err)
	}
	return fmt.Errorf("exiting")
}
