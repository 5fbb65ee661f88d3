package config

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"dominicbreuker/sessnet/pkg/log"
	"dominicbreuker/sessnet/pkg/message"
	"dominicbreuker/sessnet/pkg/metrics"
)

// Protocol selects the stream transport.
type Protocol int

const (
	ProtoTCP Protocol = iota + 1
	ProtoWS
	ProtoKCP
	ProtoQUIC
)

func (p Protocol) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoWS:
		return "ws"
	case ProtoKCP:
		return "kcp"
	case ProtoQUIC:
		return "quic"
	default:
		return ""
	}
}

// Shared contains the settings common to server and client.
type Shared struct {
	Protocol Protocol
	Host     string
	Port     int
	// DatagramPort is the UDP port of the datagram channel. Zero derives it
	// from Port, see DatagramAddr.
	DatagramPort int
	// Checksum names the frame checksum: crc32 or xxhash.
	Checksum string
	// Key authenticates quic:// peers. Empty disables verification.
	Key     string
	Verbose bool
	// Timeout bounds connection establishment.
	Timeout time.Duration
	Workers int
	// Trace, if set, is a file receiving a hex dump of all stream traffic.
	Trace string
	// TraceOut receives the dump once Trace has been opened.
	TraceOut io.Writer

	Logger  *log.Logger
	Metrics *metrics.Metrics
	Deps    *Dependencies
}

var KeySalt = "bn6ySqbg2BgmHaljx3mhg94DOybkBF3G" // overwrite with custom value during release build

// Validate checks the shared settings.
func (c *Shared) Validate() []error {
	var errors []error

	if c.Protocol.String() == "" {
		errors = append(errors, fmt.Errorf("unknown transport protocol %d", int(c.Protocol)))
	}

	if err := validatePort(c.Port); err != nil {
		errors = append(errors, fmt.Errorf("'--port': %s", err))
	}

	if c.DatagramPort != 0 {
		if err := validatePort(c.DatagramPort); err != nil {
			errors = append(errors, fmt.Errorf("'--udp-port': %s", err))
		}
	}

	if _, err := message.ParseChecksum(c.Checksum); err != nil {
		errors = append(errors, fmt.Errorf("'--checksum': %s", err))
	}

	if c.Key != "" && c.Protocol != ProtoQUIC {
		errors = append(errors, fmt.Errorf("'--key' is only supported with quic://"))
	}

	if c.Timeout < 0 {
		errors = append(errors, fmt.Errorf("'--timeout' must not be negative"))
	}

	if c.Workers < 0 {
		errors = append(errors, fmt.Errorf("'--workers' must not be negative"))
	}

	return errors
}

// GetKey returns the salted key, or an empty string without a key.
func (c *Shared) GetKey() string {
	if c.Key == "" {
		return ""
	}

	return KeySalt + c.Key
}

// Addr returns the stream address.
func (c *Shared) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// GetDatagramPort returns the UDP port of the datagram channel. It defaults
// to the stream port, or the next port for transports that occupy the UDP
// port themselves.
func (c *Shared) GetDatagramPort() int {
	if c.DatagramPort != 0 {
		return c.DatagramPort
	}
	switch c.Protocol {
	case ProtoKCP, ProtoQUIC:
		return c.Port + 1
	default:
		return c.Port
	}
}

// DatagramAddr returns the address of the datagram channel.
func (c *Shared) DatagramAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.GetDatagramPort()))
}

// GetChecksum returns the configured checksum function.
func (c *Shared) GetChecksum() message.Checksum {
	sum, err := message.ParseChecksum(c.Checksum)
	if err != nil {
		return message.ChecksumCRC32
	}
	return sum
}

// GetWorkers returns the worker pool size.
func (c *Shared) GetWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return DefaultWorkers
}

// GetTimeout returns the connection timeout.
func (c *Shared) GetTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultConnectTimeout
}
