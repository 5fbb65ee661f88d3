package shared

import (
	"fmt"
	"regexp"
	"strconv"

	"dominicbreuker/sessnet/pkg/config"
)

var transportRe = regexp.MustCompile(`^(tcp|ws|kcp|quic)://([^:]*):(\d+)$`)

// ParseTransport parses a transport string in the format "protocol://host:port"
// where protocol is one of tcp, ws, kcp, or quic. The host can be empty or "*" to
// bind to all interfaces. Returns the protocol, host, port, and any parsing error.
func ParseTransport(s string) (proto config.Protocol, host string, port int, err error) {
	matches := transportRe.FindStringSubmatch(s)

	if len(matches) != 4 {
		err = parsingError(s)
		return
	}

	switch matches[1] {
	case "tcp":
		proto = config.ProtoTCP
	case "ws":
		proto = config.ProtoWS
	case "kcp":
		proto = config.ProtoKCP
	case "quic":
		proto = config.ProtoQUIC
	default:
		err = parsingError(s)
		return
	}
	host = matches[2]
	if host == "*" { // also counts as all interfaces
		host = ""
	}

	port, err = strconv.Atoi(matches[3])
	if err != nil || port < 1 || port > 65535 {
		err = parsingError(s)
		return
	}

	return
}

func parsingError(s string) error {
	return fmt.Errorf("parsing %s: format should be 'protocol://host:port', where protocol = tcp|ws|kcp|quic", s)
}
