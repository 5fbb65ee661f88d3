// Package connect is the client side application: it sends input lines as
// payloads and prints what the server echoes.
package connect

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dominicbreuker/sessnet/pkg/client"
	"dominicbreuker/sessnet/pkg/log"
	"dominicbreuker/sessnet/pkg/message"
)

// Commands recognized at the start of an input line.
const (
	CmdDatagram = "/udp"
	CmdRTT      = "/rtt"
	CmdQuit     = "/quit"
)

// ErrNoBuffer is returned when the client pool is exhausted.
var ErrNoBuffer = errors.New("no free buffer")

// Sender is the part of the client the handler writes to.
type Sender interface {
	NewStream() (*message.Stream, bool)
	SendStream(m *message.Stream) bool
	Recycle(m *message.Stream)
	NewDatagram() (*message.Datagram, bool)
	SendDatagram(m *message.Datagram) error
	RTT() time.Duration
}

// Handler turns lines into payloads.
type Handler struct {
	logger *log.Logger

	mu  sync.Mutex // serializes writes to out
	out io.Writer

	sender atomic.Pointer[Sender]
	seq    atomic.Uint32
}

// New creates a handler printing to out.
func New(logger *log.Logger, out io.Writer) *Handler {
	return &Handler{logger: logger, out: out}
}

// Bind sets the client lines are sent through.
func (h *Handler) Bind(s Sender) {
	h.sender.Store(&s)
}

// Callbacks returns the client callbacks of h.
func (h *Handler) Callbacks() client.Callbacks {
	return client.Callbacks{
		OnConnected: func(c *client.Client) {
			h.logger.VerboseMsg("Ready to send")
		},
		OnConnectionFailed: func(c *client.Client, err error) {
			h.logger.VerboseMsg("Connection attempt failed: %s", err)
		},
		OnDisconnected: func(c *client.Client, reason client.Reason) {
			h.logger.VerboseMsg("Disconnected (%s)", reason)
		},
		OnMessage: h.onMessage,
		OnEpochChanged: func(c *client.Client, epoch uint8) {
			h.logger.DebugMsg("Server epoch %d", epoch)
		},
	}
}

// HandleLine sends line as a stream payload. Lines starting with /udp are
// sent as a datagram, /rtt prints the round trip time and /quit returns
// io.EOF.
func (h *Handler) HandleLine(line string) error {
	sp := h.sender.Load()
	if sp == nil {
		return fmt.Errorf("handle line: no client bound")
	}
	s := *sp

	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case CmdQuit:
		return io.EOF
	case CmdRTT:
		h.printf("rtt %s\n", s.RTT())
		return nil
	case CmdDatagram:
		m, ok := s.NewDatagram()
		if !ok {
			return ErrNoBuffer
		}
		m.CreatePayload(h.payload(rest))
		if err := s.SendDatagram(m); err != nil {
			h.logger.WarnMsg("Datagram not sent: %s", err)
		}
		return nil
	}

	m, ok := s.NewStream()
	if !ok {
		return ErrNoBuffer
	}
	if !m.CreatePayload(h.payload(line)) {
		s.Recycle(m)
		h.logger.WarnMsg("Line too long for a frame")
		return nil
	}
	if !s.SendStream(m) {
		h.logger.WarnMsg("Not connected, line dropped")
	}
	return nil
}

func (h *Handler) payload(text string) *message.Payload {
	return &message.Payload{
		V1:   1,
		V2:   uint16(len(text)),
		V3:   h.seq.Add(1),
		Text: text,
	}
}

func (h *Handler) onMessage(c *client.Client, m *message.Stream) {
	p, err := m.DecodePayload()
	if err != nil {
		h.logger.WarnMsg("Dropping message: %s", err)
		return
	}
	h.printf("< %s (#%d, rtt %s)\n", p.Text, p.V3, c.RTT().Round(time.Microsecond))
}

func (h *Handler) printf(format string, a ...interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.out, format, a...)
}
