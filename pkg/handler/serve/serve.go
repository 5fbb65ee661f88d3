// Package serve is the server side application: it logs the session
// lifecycle and echoes every payload back to its sender.
package serve

import (
	"sync/atomic"

	"dominicbreuker/sessnet/pkg/log"
	"dominicbreuker/sessnet/pkg/message"
	"dominicbreuker/sessnet/pkg/server"
	"dominicbreuker/sessnet/pkg/session"
)

// StreamSource provides buffers for replies.
type StreamSource interface {
	NewStream() (*message.Stream, bool)
	Recycle(m *message.Stream)
}

// Handler echoes payloads.
type Handler struct {
	logger *log.Logger
	src    atomic.Pointer[StreamSource]

	payloads  atomic.Uint64
	datagrams atomic.Uint64
	malformed atomic.Uint64
}

// New creates a handler. Bind it to the server before starting it.
func New(logger *log.Logger) *Handler {
	return &Handler{logger: logger}
}

// Bind sets the source of reply buffers, usually the server.
func (h *Handler) Bind(src StreamSource) {
	h.src.Store(&src)
}

// Callbacks returns the server callbacks of h.
func (h *Handler) Callbacks() server.Callbacks {
	return server.Callbacks{
		OnSessionAccepted:     h.onAccepted,
		OnSessionDisconnected: h.onDisconnected,
		OnSessionMessage:      h.onMessage,
		OnSessionDatagram:     h.onDatagram,
	}
}

// Payloads returns the number of echoed payloads.
func (h *Handler) Payloads() uint64 { return h.payloads.Load() }

// Datagrams returns the number of decoded datagram payloads.
func (h *Handler) Datagrams() uint64 { return h.datagrams.Load() }

// Malformed returns the number of payloads that failed to decode.
func (h *Handler) Malformed() uint64 { return h.malformed.Load() }

func (h *Handler) onAccepted(s *session.Session) {
	h.logger.VerboseMsg("Session %d: ready", s.ID())
}

func (h *Handler) onDisconnected(s *session.Session, reason session.Reason) {
	h.logger.VerboseMsg("Session %d: done (%s), %d payloads echoed in total", s.ID(), reason, h.Payloads())
}

func (h *Handler) onMessage(s *session.Session, m *message.Stream) {
	p, err := m.DecodePayload()
	if err != nil {
		h.malformed.Add(1)
		h.logger.WarnMsg("Session %d: dropping message: %s", s.ID(), err)
		return
	}
	h.logger.VerboseMsg("Session %d: %q (%d models)", s.ID(), p.Text, len(p.Models))

	srcp := h.src.Load()
	if srcp == nil {
		return
	}
	src := *srcp
	reply, ok := src.NewStream()
	if !ok {
		h.logger.WarnMsg("Session %d: no free buffer for the echo", s.ID())
		return
	}
	if !reply.CreatePayload(p) {
		h.logger.WarnMsg("Session %d: echo does not fit a frame", s.ID())
		src.Recycle(reply)
		return
	}
	if s.Send(reply) {
		h.payloads.Add(1)
	}
}

func (h *Handler) onDatagram(s *session.Session, m *message.Datagram) {
	typ, _ := m.Type()
	if typ != message.TypePayload {
		h.logger.DebugMsg("Session %d: ignoring %s datagram", s.ID(), typ)
		return
	}
	p, err := m.DecodePayload()
	if err != nil {
		h.malformed.Add(1)
		h.logger.WarnMsg("Session %d: dropping datagram: %s", s.ID(), err)
		return
	}
	h.datagrams.Add(1)
	h.logger.VerboseMsg("Session %d: datagram %q", s.ID(), p.Text)
}
