package link

// Reason tells why a link or session was closed.
type Reason int

const (
	// ReasonNone means the operation finished without closing anything.
	ReasonNone Reason = iota
	// ReasonDisconnected is a regular close by the peer.
	ReasonDisconnected
	// ReasonSocketError is a hard receive error.
	ReasonSocketError
	// ReasonOversized is a frame that does not fit into a buffer.
	ReasonOversized
	// ReasonInvalidHeader is a header whose duplicated length fields differ.
	ReasonInvalidHeader
	// ReasonCheckFailed is a frame rejected by the check hook, usually a
	// checksum or epoch mismatch.
	ReasonCheckFailed
	// ReasonInQueueFull is an inbound queue overflow.
	ReasonInQueueFull
	// ReasonOutQueueFull is an outbound queue overflow.
	ReasonOutQueueFull
	// ReasonProtocolError is a frame carrying more bytes than it declares.
	ReasonProtocolError
	// ReasonSendError is a hard send error.
	ReasonSendError
	// ReasonStuckSend is a send that stayed blocked too long.
	ReasonStuckSend
	// ReasonIdle is a peer that stayed silent too long.
	ReasonIdle
	// ReasonDatagramQueueFull is a datagram queue overflow.
	ReasonDatagramQueueFull
	// ReasonLocal is a close requested by the local application.
	ReasonLocal
	// ReasonConnectFailed is a connection attempt that failed or timed out.
	ReasonConnectFailed
	// ReasonServerFull is a connection refused for lack of a free session.
	ReasonServerFull
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonDisconnected:
		return "disconnected"
	case ReasonSocketError:
		return "socket_error"
	case ReasonOversized:
		return "oversized"
	case ReasonInvalidHeader:
		return "invalid_header"
	case ReasonCheckFailed:
		return "check_failed"
	case ReasonInQueueFull:
		return "in_queue_full"
	case ReasonOutQueueFull:
		return "out_queue_full"
	case ReasonProtocolError:
		return "protocol_error"
	case ReasonSendError:
		return "send_error"
	case ReasonStuckSend:
		return "stuck_send"
	case ReasonIdle:
		return "idle"
	case ReasonDatagramQueueFull:
		return "datagram_queue_full"
	case ReasonLocal:
		return "local"
	case ReasonConnectFailed:
		return "connect_failed"
	case ReasonServerFull:
		return "server_full"
	default:
		return "unknown"
	}
}
