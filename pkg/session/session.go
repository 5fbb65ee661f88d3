// Package session implements the server side state of one client: a stream
// link plus the datagrams routed to it from the shared datagram socket.
//
// Receiving happens on the owner's poll tasks, everything else (delivering
// messages, writing, the disconnect) runs as scheduler tasks owned by the
// session, so the application never runs on the receive path.
package session

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dominicbreuker/sessnet/pkg/link"
	"dominicbreuker/sessnet/pkg/log"
	"dominicbreuker/sessnet/pkg/message"
	"dominicbreuker/sessnet/pkg/metrics"
	"dominicbreuker/sessnet/pkg/pool"
	"dominicbreuker/sessnet/pkg/sched"
	"dominicbreuker/sessnet/pkg/transport"
)

// Reason tells why a session was closed.
type Reason = link.Reason

// State is the lifecycle state of a session.
type State uint32

const (
	// Pending sessions are allocated but not serving a connection yet.
	Pending State = iota
	// Active sessions exchange messages.
	Active
	// Closing sessions wait for their disconnect task.
	Closing
	// Closed sessions have returned all buffers.
	Closed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler receives the events of a session.
type Handler interface {
	// HandleStream runs on the receive path for every checked stream
	// message. Returning false consumes the message.
	HandleStream(s *Session, m *message.Stream) bool
	// HandleDatagram is the datagram counterpart of HandleStream.
	HandleDatagram(s *Session, m *message.Datagram) bool
	OnAccepted(s *Session)
	// OnMessage and OnDatagram deliver queued messages on a worker. The
	// buffer is recycled when they return. Neither runs after
	// OnDisconnected.
	OnMessage(s *Session, m *message.Stream)
	OnDatagram(s *Session, m *message.Datagram)
	// OnDisconnected runs after the session returned its buffers.
	OnDisconnected(s *Session, reason Reason)
}

// Config describes a session.
type Config struct {
	Scheduler    *sched.Scheduler
	StreamPool   *pool.Pool[*message.Stream]
	DatagramPool *pool.Pool[*message.Datagram]
	// StreamIn, StreamOut and DatagramIn size the per-session queues.
	StreamIn   int
	StreamOut  int
	DatagramIn int
	Checksum   message.Checksum
	// Epoch returns the current server epoch.
	Epoch            func() uint8
	StuckSendTimeout time.Duration
	Handler          Handler
	Logger           *log.Logger
	Metrics          *metrics.Metrics
}

// Session is the state of one connected client.
type Session struct {
	id        uint32
	cfg       Config
	link      *link.Link[*message.StreamHeader]
	datagrams *pool.Queue[*message.Datagram]

	state  atomic.Uint32
	reason atomic.Int32

	closeMu   sync.Mutex
	readMu    sync.Mutex
	sendMu    sync.Mutex
	deliverMu sync.Mutex // orders OnMessage/OnDatagram before OnDisconnected

	// guarded by readMu
	lastSeq uint32
	remote  net.Addr

	lastStream   atomic.Int64
	lastDatagram atomic.Int64

	taskAccepted     *sched.Task
	taskRead         *sched.Task
	taskWrite        *sched.Task
	taskDisconnected *sched.Task
	taskStuckSend    *sched.Task
}

// New creates a pending session. id is the index clients put into their
// datagram headers.
func New(id uint32, cfg Config) *Session {
	if cfg.Checksum == nil {
		cfg.Checksum = message.ChecksumCRC32
	}
	if cfg.Epoch == nil {
		cfg.Epoch = func() uint8 { return 0 }
	}

	s := &Session{
		id:        id,
		cfg:       cfg,
		datagrams: pool.NewQueue[*message.Datagram](cfg.DatagramIn),
	}
	s.link = link.New(link.Config[*message.StreamHeader]{
		Pool:     cfg.StreamPool,
		InQueue:  cfg.StreamIn,
		OutQueue: cfg.StreamOut,
		Hooks: link.Hooks[*message.StreamHeader]{
			Check:         s.checkStream,
			Handle:        s.handleStream,
			Finalize:      s.finalizeStream,
			SendBlocked:   s.sendBlocked,
			SendUnblocked: s.sendUnblocked,
		},
		Channel: "stream",
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})

	s.taskAccepted = sched.NewTask("session-accepted", s.runAccepted)
	s.taskRead = sched.NewTask("session-read", s.runRead)
	s.taskWrite = sched.NewTask("session-write", s.runWrite)
	s.taskDisconnected = sched.NewTask("session-disconnected", s.runDisconnected)
	s.taskStuckSend = sched.NewTask("session-stuck-send", func() { s.Close(link.ReasonStuckSend) })
	return s
}

// ID returns the session index.
func (s *Session) ID() uint32 {
	return s.id
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// IsActive reports whether the session exchanges messages.
func (s *Session) IsActive() bool {
	return s.State() == Active
}

// Reason returns why the session was closed, or ReasonNone.
func (s *Session) Reason() Reason {
	return Reason(s.reason.Load())
}

// RemoteAddr returns the address of the client. It stays valid after the
// session was closed.
func (s *Session) RemoteAddr() net.Addr {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	return s.remote
}

// Socket returns the stream socket or nil.
func (s *Session) Socket() transport.Socket {
	return s.link.Socket()
}

// Events returns the readiness events to poll the stream socket for.
func (s *Session) Events() transport.Events {
	return s.link.Events()
}

// LastReceive returns when the last stream bytes arrived.
func (s *Session) LastReceive() time.Time {
	return time.Unix(0, s.lastStream.Load())
}

// LastReceiveDatagram returns when the last datagram was accepted.
func (s *Session) LastReceiveDatagram() time.Time {
	return time.Unix(0, s.lastDatagram.Load())
}

// Idle reports whether no stream data arrived for longer than timeout.
func (s *Session) Idle(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastReceive()) > timeout
}

// Reset makes a closed session reusable.
func (s *Session) Reset() bool {
	if !s.state.CompareAndSwap(uint32(Closed), uint32(Pending)) {
		return false
	}
	s.reason.Store(int32(link.ReasonNone))
	return true
}

// Accept starts serving sock. The session must be pending.
func (s *Session) Accept(sock transport.Socket) bool {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.State() != Pending {
		return false
	}
	if !s.link.Attach(sock) {
		return false
	}
	s.remote = sock.RemoteAddr()
	s.lastSeq = 0
	s.lastStream.Store(time.Now().UnixNano())
	s.lastDatagram.Store(0)
	s.state.Store(uint32(Active))

	s.cfg.Scheduler.ScheduleNow(s.taskAccepted)
	return true
}

// Receive reads the stream socket and queues every complete message. Call
// it when the socket is readable.
func (s *Session) Receive() {
	s.readMu.Lock()
	if !s.IsActive() {
		s.readMu.Unlock()
		return
	}
	n, reason := s.link.Receive()
	if n > 0 {
		s.lastStream.Store(time.Now().UnixNano())
	}
	pending := s.link.InLen() > 0
	s.readMu.Unlock()

	if pending {
		s.cfg.Scheduler.ScheduleNow(s.taskRead)
	}
	if reason != link.ReasonNone {
		s.Close(reason)
	}
}

// Writable resumes a blocked send. Call it when the socket is writable. The
// stuck-send timer keeps running until the write actually makes progress.
func (s *Session) Writable() {
	if !s.IsActive() || !s.link.Blocked() {
		return
	}
	s.cfg.Scheduler.ScheduleNow(s.taskWrite)
}

// Send queues m on the stream channel and takes ownership of it. A full
// queue closes the session.
func (s *Session) Send(m *message.Stream) bool {
	if !s.IsActive() {
		s.link.Recycle(m)
		return false
	}
	if !s.link.Enqueue(m) {
		s.link.Recycle(m)
		if s.IsActive() {
			s.cfg.Logger.WarnMsg("session %d: outbound queue full", s.id)
			s.Close(link.ReasonOutQueueFull)
		}
		return false
	}
	s.cfg.Scheduler.ScheduleNow(s.taskWrite)
	return true
}

// RecvDatagram routes a datagram received on the shared socket into the
// session. On success the session owns m; otherwise the caller keeps it.
func (s *Session) RecvDatagram(m *message.Datagram, from net.Addr) bool {
	s.readMu.Lock()

	if !s.IsActive() {
		s.readMu.Unlock()
		s.cfg.Logger.DebugMsg("session %d: datagram for inactive session", s.id)
		s.cfg.Metrics.DatagramDropped("inactive")
		return false
	}
	if !sameIP(s.remote, from) {
		s.readMu.Unlock()
		s.cfg.Logger.WarnMsg("session %d: datagram from %s, session belongs to %s", s.id, from, s.remote)
		s.cfg.Metrics.DatagramDropped("foreign_ip")
		return false
	}
	if !s.checkDatagram(m) {
		s.readMu.Unlock()
		return false
	}
	if !s.cfg.Handler.HandleDatagram(s, m) {
		s.readMu.Unlock()
		return false
	}
	if !s.datagrams.Push(m) {
		s.readMu.Unlock()
		s.cfg.Logger.WarnMsg("session %d: datagram queue full", s.id)
		s.Close(link.ReasonDatagramQueueFull)
		return false
	}
	s.lastDatagram.Store(time.Now().UnixNano())
	s.readMu.Unlock()

	s.cfg.Metrics.Message("datagram", "in")
	s.cfg.Scheduler.ScheduleNow(s.taskRead)
	return true
}

// checkDatagram validates checksum, epoch and sequence. Called with readMu
// held.
func (s *Session) checkDatagram(m *message.Datagram) bool {
	hdr := m.Header()
	if !m.VerifyChecksum(s.cfg.Checksum) {
		s.cfg.Logger.DebugMsg("session %d: datagram checksum mismatch", s.id)
		s.cfg.Metrics.DatagramDropped("checksum")
		return false
	}
	if !s.epochOK(hdr.Epoch()) {
		s.cfg.Logger.DebugMsg("session %d: datagram from epoch %d", s.id, hdr.Epoch())
		s.cfg.Metrics.DatagramDropped("epoch")
		return false
	}
	if hdr.Seq <= s.lastSeq {
		s.cfg.Metrics.DatagramDropped("old")
		return false
	}
	if gap := hdr.Seq - s.lastSeq - 1; gap > 0 && s.lastSeq != 0 {
		s.cfg.Logger.DebugMsg("session %d: %d datagrams lost", s.id, gap)
	}
	s.lastSeq = hdr.Seq
	return true
}

// PopStream takes the oldest queued stream message. Return it with Recycle.
func (s *Session) PopStream() (*message.Stream, bool) {
	return s.link.Pop()
}

// PopDatagram takes the oldest queued datagram. Return it with
// RecycleDatagram.
func (s *Session) PopDatagram() (*message.Datagram, bool) {
	return s.datagrams.Pop()
}

// Recycle returns a stream message to the shared pool.
func (s *Session) Recycle(m *message.Stream) {
	s.link.Recycle(m)
}

// RecycleDatagram returns a datagram to the shared pool.
func (s *Session) RecycleDatagram(m *message.Datagram) {
	if err := s.cfg.DatagramPool.Push(m); err != nil {
		s.cfg.Logger.ErrorMsg("session %d: recycle datagram: %s", s.id, err)
	}
}

// Close starts closing an active session. The buffers are returned and the
// handler is notified from the disconnect task.
func (s *Session) Close(reason Reason) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if !s.state.CompareAndSwap(uint32(Active), uint32(Closing)) {
		return
	}
	s.reason.Store(int32(reason))
	s.cfg.Scheduler.Cancel(s.taskStuckSend)
	s.cfg.Logger.VerboseMsg("session %d: closing (%s)", s.id, reason)
	s.cfg.Scheduler.ScheduleNow(s.taskDisconnected)
}

// Clear closes the stream socket and returns every buffer the session holds.
func (s *Session) Clear() {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.link.Close(); err != nil {
		s.cfg.Logger.DebugMsg("session %d: close socket: %s", s.id, err)
	}
	s.datagrams.Drain(s.RecycleDatagram)
}

func (s *Session) runAccepted() {
	if s.IsActive() {
		s.cfg.Handler.OnAccepted(s)
	}
}

// runRead delivers queued messages while the session is active. Messages
// still queued once it is closing are recycled undelivered.
func (s *Session) runRead() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.link.Drain(func(m *message.Stream) {
		if s.IsActive() {
			s.cfg.Handler.OnMessage(s, m)
		}
	})
	s.datagrams.Drain(func(m *message.Datagram) {
		if s.IsActive() {
			s.cfg.Handler.OnDatagram(s, m)
		}
		s.RecycleDatagram(m)
	})
}

func (s *Session) runWrite() {
	s.sendMu.Lock()
	if !s.IsActive() {
		s.sendMu.Unlock()
		return
	}
	_, reason := s.link.Send()
	s.sendMu.Unlock()

	if reason != link.ReasonNone {
		s.Close(reason)
	}
}

func (s *Session) runDisconnected() {
	s.Clear()

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.state.Store(uint32(Closed))
	s.cfg.Handler.OnDisconnected(s, s.Reason())
}

func (s *Session) sendBlocked() {
	s.cfg.Scheduler.ScheduleIn(s.taskStuckSend, s.cfg.StuckSendTimeout)
}

func (s *Session) sendUnblocked() {
	s.cfg.Scheduler.Cancel(s.taskStuckSend)
}

func (s *Session) checkStream(m *message.Stream) bool {
	if !m.VerifyChecksum(s.cfg.Checksum) {
		s.cfg.Logger.WarnMsg("session %d: stream checksum mismatch", s.id)
		return false
	}
	return true
}

func (s *Session) handleStream(m *message.Stream) bool {
	if e := m.Header().Epoch(); !s.epochOK(e) {
		s.cfg.Logger.DebugMsg("session %d: dropping stream message from epoch %d", s.id, e)
		return false
	}
	return s.cfg.Handler.HandleStream(s, m)
}

func (s *Session) finalizeStream(m *message.Stream) bool {
	return m.Finalize(s.cfg.Epoch(), s.cfg.Checksum)
}

// epochOK accepts the current epoch and the one before, which messages sent
// while the change was in flight still carry.
func (s *Session) epochOK(e uint8) bool {
	cur := s.cfg.Epoch()
	return e == cur || e == cur-1
}

func sameIP(a, b net.Addr) bool {
	ipA, ipB := addrIP(a), addrIP(b)
	return ipA != nil && ipB != nil && ipA.Equal(ipB)
}

func addrIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.TCPAddr:
		return v.IP
	case *net.UDPAddr:
		return v.IP
	case nil:
		return nil
	}
	host, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
