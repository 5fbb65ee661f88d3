// Package link reassembles framed messages from a non-blocking stream socket
// and writes queued messages back to it. A Link owns no buffers of its own:
// every message comes from a shared pool and goes back to it exactly once,
// either after the application consumed it or when the link is closed.
package link

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"dominicbreuker/sessnet/pkg/log"
	"dominicbreuker/sessnet/pkg/message"
	"dominicbreuker/sessnet/pkg/metrics"
	"dominicbreuker/sessnet/pkg/pool"
	"dominicbreuker/sessnet/pkg/transport"
)

// Hooks customize how messages pass through a link. All hooks are optional
// and run on the goroutine calling Receive or Send.
type Hooks[H message.Header] struct {
	// Check validates a complete inbound message. Returning false closes
	// the link with ReasonCheckFailed.
	Check func(m *message.Message[H]) bool
	// Handle sees a checked message before it is queued. Returning false
	// means it was consumed and the buffer is recycled.
	Handle func(m *message.Message[H]) bool
	// Finalize encodes the header of an outbound message. Returning false
	// discards the message.
	Finalize func(m *message.Message[H]) bool
	// SendBlocked runs every time Send stops on a socket that does not
	// accept more data.
	SendBlocked func()
	// SendUnblocked runs when a blocked socket accepted data again, either
	// before it stalls once more or after the queue was written out.
	SendUnblocked func()
}

// Config describes a link.
type Config[H message.Header] struct {
	Pool     *pool.Pool[*message.Message[H]]
	InQueue  int
	OutQueue int
	Hooks    Hooks[H]
	// Channel labels the message metrics.
	Channel string
	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// Link frames messages over one socket. Receive and Send may run
// concurrently with each other, but each of them on one goroutine at a time.
type Link[H message.Header] struct {
	pool    *pool.Pool[*message.Message[H]]
	in      *pool.Queue[*message.Message[H]]
	out     *pool.Queue[*message.Message[H]]
	hooks   Hooks[H]
	channel string
	logger  *log.Logger
	metrics *metrics.Metrics

	recvMu sync.Mutex
	sendMu sync.Mutex // acquired after recvMu

	sock    transport.Socket // guarded by both mutexes, readable under either
	current atomic.Pointer[transport.Socket] // sock, readable from hooks
	cur     *message.Message[H]
	decoded bool
	sending *message.Message[H]
	blocked bool
}

// New creates a detached link. Attach a socket before use.
func New[H message.Header](cfg Config[H]) *Link[H] {
	return &Link[H]{
		pool:    cfg.Pool,
		in:      pool.NewQueue[*message.Message[H]](cfg.InQueue),
		out:     pool.NewQueue[*message.Message[H]](cfg.OutQueue),
		hooks:   cfg.Hooks,
		channel: cfg.Channel,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Attach starts serving sock. It fails if a socket is already attached.
func (l *Link[H]) Attach(sock transport.Socket) bool {
	l.recvMu.Lock()
	defer l.recvMu.Unlock()
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	if l.sock != nil {
		return false
	}
	l.sock = sock
	l.current.Store(&sock)
	l.blocked = false
	return true
}

// Socket returns the attached socket or nil. It takes no lock, so hooks
// running inside Receive or Send may call it.
func (l *Link[H]) Socket() transport.Socket {
	if p := l.current.Load(); p != nil {
		return *p
	}
	return nil
}

// RemoteAddr returns the peer address or nil when detached.
func (l *Link[H]) RemoteAddr() net.Addr {
	if s := l.Socket(); s != nil {
		return s.RemoteAddr()
	}
	return nil
}

// Receive reads everything currently available and queues every complete
// message. A reason other than ReasonNone means the link must be closed.
// It returns the number of bytes read.
func (l *Link[H]) Receive() (int, Reason) {
	l.recvMu.Lock()
	defer l.recvMu.Unlock()

	if l.sock == nil {
		return 0, ReasonNone
	}

	total := 0
	for {
		if l.cur == nil {
			m, ok := l.pool.Pop()
			if !ok {
				// data stays on the socket until a buffer is free
				l.logger.DebugMsg("link: no free %s buffer", l.channel)
				return total, ReasonNone
			}
			m.PrepareRecv()
			l.cur = m
			l.decoded = false
		}
		m := l.cur

		missing := m.MissingHeaderLength()
		if missing == 0 {
			missing = m.MissingBodyLength()
		}
		if missing > m.Remaining() {
			return total, ReasonOversized
		}

		n, err := l.sock.Recv(m.Free(missing))
		if n > 0 {
			m.Advance(n)
			total += n
		}
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrWouldBlock):
				return total, ReasonNone
			case errors.Is(err, io.EOF):
				return total, ReasonDisconnected
			default:
				l.logger.VerboseMsg("link: receive: %s", err)
				return total, ReasonSocketError
			}
		}
		if n == 0 {
			return total, ReasonNone
		}

		if !m.HasCompleteHeader() {
			continue
		}
		if !l.decoded {
			if !m.ValidHeader() {
				return total, ReasonInvalidHeader
			}
			l.decoded = true
		}
		if m.IsOverComplete() {
			return total, ReasonProtocolError
		}
		if !m.IsComplete() {
			continue
		}

		l.cur = nil
		m.SetReadPos(0)
		if r := l.deliver(m); r != ReasonNone {
			return total, r
		}
	}
}

func (l *Link[H]) deliver(m *message.Message[H]) Reason {
	if l.hooks.Check != nil && !l.hooks.Check(m) {
		l.Recycle(m)
		return ReasonCheckFailed
	}
	if l.hooks.Handle != nil && !l.hooks.Handle(m) {
		l.Recycle(m)
		return ReasonNone
	}
	if !l.in.Push(m) {
		l.Recycle(m)
		return ReasonInQueueFull
	}
	l.metrics.Message(l.channel, "in")
	return ReasonNone
}

// Pop takes the oldest received message. Hand it back with Recycle.
func (l *Link[H]) Pop() (*message.Message[H], bool) {
	return l.in.Pop()
}

// Drain passes every received message to fn and recycles it afterwards.
func (l *Link[H]) Drain(fn func(m *message.Message[H])) int {
	return l.in.Drain(func(m *message.Message[H]) {
		fn(m)
		l.Recycle(m)
	})
}

// Recycle returns m to the pool.
func (l *Link[H]) Recycle(m *message.Message[H]) {
	if err := l.pool.Push(m); err != nil {
		l.logger.ErrorMsg("link: recycle: %s", err)
	}
}

// Enqueue queues m for sending. On failure the caller keeps ownership.
func (l *Link[H]) Enqueue(m *message.Message[H]) bool {
	if l.Socket() == nil {
		return false
	}
	return l.out.Push(m)
}

// Send writes queued messages until the queue is empty or the socket stops
// accepting data. A reason other than ReasonNone means the link must be
// closed. It returns the number of bytes written.
func (l *Link[H]) Send() (int, Reason) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	if l.sock == nil {
		return 0, ReasonNone
	}

	total := 0
	for {
		if l.sending == nil {
			m, ok := l.out.Pop()
			if !ok {
				l.unblock()
				return total, ReasonNone
			}
			m.PrepareSend()
			if !m.HasCompleteHeader() {
				l.logger.WarnMsg("link: discarding %s message without header", l.channel)
				l.Recycle(m)
				continue
			}
			if l.hooks.Finalize != nil && !l.hooks.Finalize(m) {
				l.logger.WarnMsg("link: discarding %s message that failed to encode", l.channel)
				l.Recycle(m)
				continue
			}
			l.sending = m
		}
		m := l.sending

		if m.RemainingRead() == 0 {
			l.sending = nil
			l.Recycle(m)
			l.metrics.Message(l.channel, "out")
			continue
		}

		n, err := l.sock.Send(m.Unread())
		if n > 0 {
			m.Skip(n)
			total += n
		}
		if err != nil {
			if errors.Is(err, transport.ErrWouldBlock) {
				l.stall(total > 0)
				return total, ReasonNone
			}
			l.logger.VerboseMsg("link: send: %s", err)
			return total, ReasonSendError
		}
		if m.RemainingRead() > 0 {
			// the socket took less than offered
			l.stall(total > 0)
			return total, ReasonNone
		}
	}
}

// stall marks the link blocked and reports it. A stall after progress ends
// the previous blocked period first, so observers can restart their clocks.
func (l *Link[H]) stall(progress bool) {
	if l.blocked && progress {
		l.unblock()
	}
	l.blocked = true
	if l.hooks.SendBlocked != nil {
		l.hooks.SendBlocked()
	}
}

func (l *Link[H]) unblock() {
	if !l.blocked {
		return
	}
	l.blocked = false
	if l.hooks.SendUnblocked != nil {
		l.hooks.SendUnblocked()
	}
}

// Blocked reports whether the last Send stopped on a full socket.
func (l *Link[H]) Blocked() bool {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	return l.blocked
}

// Events returns the readiness events worth polling for: always read, and
// write while a send is blocked.
func (l *Link[H]) Events() transport.Events {
	if l.Blocked() {
		return transport.EventRead | transport.EventWrite
	}
	return transport.EventRead
}

// InLen returns the number of received messages not yet popped.
func (l *Link[H]) InLen() int {
	return l.in.Len()
}

// OutLen returns the number of messages waiting to be sent.
func (l *Link[H]) OutLen() int {
	return l.out.Len()
}

// Close closes the socket and returns every held buffer to the pool. It is
// safe to call more than once; buffers are only returned the first time.
func (l *Link[H]) Close() error {
	l.recvMu.Lock()
	defer l.recvMu.Unlock()
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	if l.sock == nil {
		return nil
	}
	err := l.sock.Close()
	l.sock = nil
	l.current.Store(nil)
	l.blocked = false

	if l.cur != nil {
		l.Recycle(l.cur)
		l.cur = nil
	}
	if l.sending != nil {
		l.Recycle(l.sending)
		l.sending = nil
	}
	l.in.Drain(l.Recycle)
	l.out.Drain(l.Recycle)
	return err
}
