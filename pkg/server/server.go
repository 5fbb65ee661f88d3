// Package server accepts clients into a fixed set of sessions and serves
// their stream and datagram channels from scheduler tasks.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dominicbreuker/sessnet/pkg/config"
	"dominicbreuker/sessnet/pkg/link"
	"dominicbreuker/sessnet/pkg/log"
	"dominicbreuker/sessnet/pkg/message"
	"dominicbreuker/sessnet/pkg/metrics"
	netpkg "dominicbreuker/sessnet/pkg/net"
	"dominicbreuker/sessnet/pkg/pool"
	"dominicbreuker/sessnet/pkg/sched"
	"dominicbreuker/sessnet/pkg/session"
	"dominicbreuker/sessnet/pkg/transport"
)

// ErrStarted is returned by Start on a running server.
var ErrStarted = errors.New("server already started")

// Callbacks are the application's view of the server. All of them are
// optional and run on scheduler workers.
type Callbacks struct {
	OnSessionAccepted     func(s *session.Session)
	OnSessionDisconnected func(s *session.Session, reason session.Reason)
	// OnSessionMessage receives stream messages. The buffer is recycled
	// when it returns.
	OnSessionMessage func(s *session.Session, m *message.Stream)
	// OnSessionDatagram receives datagrams. The buffer is recycled when it
	// returns.
	OnSessionDatagram func(s *session.Session, m *message.Datagram)
}

// Server owns the sessions, the buffer pools and the tasks polling the
// sockets.
type Server struct {
	cfg    *config.Shared
	srvCfg *config.Server
	cb     Callbacks

	logger  *log.Logger
	metrics *metrics.Metrics

	sched     *sched.Scheduler
	workers   *sched.Pool
	sessions  *pool.Arena[*session.Session]
	streams   *pool.Pool[*message.Stream]
	datagrams *pool.Pool[*message.Datagram]
	epoch     atomic.Uint32

	mu      sync.Mutex
	handles []pool.Handle // by session index, valid while the session is taken
	acc     transport.Acceptor
	udp     transport.PacketSocket
	started bool

	streamSig *transport.Signal
	pollSet   *transport.PollSet
	polled    []*session.Session // parallel to pollSet members

	taskAccept       *sched.Task
	taskPollStream   *sched.Task
	taskPollDatagram *sched.Task
	taskEpoch        *sched.Task
}

// New creates a server. Nothing is bound before Start.
func New(cfg *config.Shared, srvCfg *config.Server, cb Callbacks) *Server {
	maxClients := srvCfg.GetMaxClients()

	s := &Server{
		cfg:       cfg,
		srvCfg:    srvCfg,
		cb:        cb,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		sched:     sched.NewScheduler(sched.WithLogger(cfg.Logger)),
		handles:   make([]pool.Handle, maxClients),
		streamSig: transport.NewSignal(),
	}
	s.workers = sched.NewPool(s.sched, cfg.GetWorkers(), cfg.Metrics)
	s.pollSet = transport.NewPollSet(s.streamSig)

	s.streams = pool.New("server_stream", maxClients*config.DefaultServerStreamPoolFactor, func() *message.Stream {
		return message.NewStream(config.DefaultStreamBufferSize)
	}, cfg.Metrics)
	s.datagrams = pool.New("server_datagram", maxClients*config.DefaultServerDatagramPoolFactor, func() *message.Datagram {
		return message.NewDatagram(config.DefaultDatagramBufferSize)
	}, cfg.Metrics)

	h := &sessionHandler{s}
	s.sessions = pool.NewArena(maxClients, func(i int) *session.Session {
		return session.New(uint32(i), session.Config{
			Scheduler:        s.sched,
			StreamPool:       s.streams,
			DatagramPool:     s.datagrams,
			StreamIn:         config.DefaultSessionStreamIn,
			StreamOut:        config.DefaultSessionStreamOut,
			DatagramIn:       config.DefaultSessionDatagramIn,
			Checksum:         cfg.GetChecksum(),
			Epoch:            s.Epoch,
			StuckSendTimeout: srvCfg.GetStuckSendTimeout(),
			Handler:          h,
			Logger:           cfg.Logger,
			Metrics:          cfg.Metrics,
		})
	})

	s.taskAccept = sched.NewRepeatingTask("server-accept", s.pollAccept, 0)
	s.taskPollStream = sched.NewRepeatingTask("server-poll-stream", s.pollStream, 0)
	s.taskPollDatagram = sched.NewRepeatingTask("server-poll-datagram", s.pollDatagram, 0)
	s.taskEpoch = sched.NewRepeatingTask("server-epoch", s.nextEpoch, srvCfg.GetEpochInterval())
	return s
}

// Serve runs the server until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Close()

	<-ctx.Done()
	return nil
}

// Start binds the stream and datagram sockets and starts the workers.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrStarted
	}

	acc, err := netpkg.Listen(ctx, s.cfg, config.DefaultAcceptQueue)
	if err != nil {
		return fmt.Errorf("netpkg.Listen(): %w", err)
	}
	pc, err := netpkg.ListenDatagram(s.cfg)
	if err != nil {
		acc.Close()
		return fmt.Errorf("netpkg.ListenDatagram(): %w", err)
	}

	s.acc = acc
	s.udp = transport.WrapPacket(pc, config.DefaultDatagramBufferSize, nil)
	s.started = true

	for _, t := range []*sched.Task{s.taskAccept, s.taskPollStream, s.taskPollDatagram} {
		t.SetRepeat(true)
		s.sched.ScheduleNow(t)
	}
	s.taskEpoch.SetRepeat(true)
	s.sched.ScheduleIn(s.taskEpoch, s.srvCfg.GetEpochInterval())
	s.workers.Start()

	s.logger.VerboseMsg("Server started with %d sessions and %d workers", s.sessions.Cap(), s.workers.Size())
	return nil
}

// Close disconnects all sessions, stops the tasks and releases the sockets.
func (s *Server) Close() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	for _, t := range []*sched.Task{s.taskAccept, s.taskPollStream, s.taskPollDatagram, s.taskEpoch} {
		s.sched.Stop(t)
	}

	for _, sess := range s.Sessions() {
		sess.Close(link.ReasonLocal)
	}
	s.awaitSessions(time.Second)
	s.workers.Stop()

	// sessions whose disconnect task did not get to run
	for i := 0; i < s.sessions.Cap(); i++ {
		sess, _ := s.sessions.At(i)
		sess.Clear()
	}

	var errs []error
	if err := s.acc.Close(); err != nil && !errors.Is(err, transport.ErrClosed) && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("close acceptor: %w", err))
	}
	if err := s.udp.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close datagram socket: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Server) awaitSessions(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for s.sessions.InUse() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

// Addr returns the stream listener address. It is nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acc == nil {
		return nil
	}
	return s.acc.Addr()
}

// DatagramAddr returns the datagram socket address. It is nil before Start.
func (s *Server) DatagramAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udp == nil {
		return nil
	}
	return s.udp.LocalAddr()
}

// Epoch returns the current epoch.
func (s *Server) Epoch() uint8 {
	return uint8(s.epoch.Load())
}

// Scheduler returns the scheduler driving the server. Applications may
// schedule their own tasks on it.
func (s *Server) Scheduler() *sched.Scheduler {
	return s.sched
}

// Session returns the session with the given index if it is active.
func (s *Server) Session(id uint32) (*session.Session, bool) {
	sess, ok := s.sessions.At(int(id))
	if !ok || !sess.IsActive() {
		return nil, false
	}
	return sess, true
}

// Sessions returns all active sessions.
func (s *Server) Sessions() []*session.Session {
	var out []*session.Session
	for i := 0; i < s.sessions.Cap(); i++ {
		if sess, _ := s.sessions.At(i); sess.IsActive() {
			out = append(out, sess)
		}
	}
	return out
}

// NewStream takes a stream message from the shared pool, prepared for
// writing. Pass it to Send or Recycle.
func (s *Server) NewStream() (*message.Stream, bool) {
	m, ok := s.streams.Pop()
	if !ok {
		return nil, false
	}
	m.PrepareWrite()
	return m, true
}

// Recycle returns a message obtained from NewStream that was not sent.
func (s *Server) Recycle(m *message.Stream) {
	if err := s.streams.Push(m); err != nil {
		s.logger.ErrorMsg("server: recycle: %s", err)
	}
}

// Send queues m to session id and takes ownership of it.
func (s *Server) Send(id uint32, m *message.Stream) bool {
	sess, ok := s.Session(id)
	if !ok {
		s.Recycle(m)
		return false
	}
	return sess.Send(m)
}

// Broadcast composes a message of type t for every active session. fill,
// if not nil, writes the payload and may veto a message by returning false.
// It returns the number of sessions the message was queued for.
func (s *Server) Broadcast(t message.Type, fill func(m *message.Stream) bool) int {
	n := 0
	for _, sess := range s.Sessions() {
		m, ok := s.NewStream()
		if !ok {
			s.logger.WarnMsg("server: broadcast %s: no free stream buffer", t)
			return n
		}
		m.SetType(t)
		if fill != nil && !fill(m) {
			s.Recycle(m)
			continue
		}
		if sess.Send(m) {
			n++
		}
	}
	return n
}

// Disconnect closes session id.
func (s *Server) Disconnect(id uint32) bool {
	sess, ok := s.Session(id)
	if !ok {
		return false
	}
	sess.Close(link.ReasonLocal)
	return true
}

func (s *Server) pollAccept() {
	conn, err := s.acc.Accept(s.srvCfg.GetPollTimeout())
	switch {
	case errors.Is(err, transport.ErrWouldBlock):
		return
	case errors.Is(err, transport.ErrClosed):
		s.sched.Stop(s.taskAccept)
		return
	case err != nil:
		s.logger.ErrorMsg("Accept(): %s", err)
		return
	}

	h, sess, ok := s.sessions.Pop()
	if !ok {
		s.logger.WarnMsg("Rejecting %s: all slots full", conn.RemoteAddr())
		s.metrics.SessionRejected()
		conn.Close()
		return
	}
	s.mu.Lock()
	s.handles[h.Index] = h
	s.mu.Unlock()

	sess.Reset()
	if !sess.Accept(transport.Wrap(conn, s.streamSig)) {
		s.logger.ErrorMsg("session %d: accept failed in state %s", h.Index, sess.State())
		conn.Close()
		s.release(sess)
		return
	}
	s.streamSig.Notify()
	s.metrics.SessionAccepted()
	s.logger.InfoMsg("Session %d: new connection from %s", sess.ID(), conn.RemoteAddr())

	s.sendControl(sess, message.TypeSessionID, func(m *message.Stream) bool {
		return m.CreateSessionID(sess.ID())
	})
	s.sendControl(sess, message.TypeEpoch, func(m *message.Stream) bool {
		return m.CreateEpoch(s.Epoch())
	})
}

func (s *Server) release(sess *session.Session) {
	s.mu.Lock()
	h := s.handles[sess.ID()]
	s.mu.Unlock()
	if err := s.sessions.Push(h); err != nil {
		s.logger.ErrorMsg("session %d: release: %s", sess.ID(), err)
	}
}

func (s *Server) sendControl(sess *session.Session, t message.Type, fill func(m *message.Stream) bool) bool {
	m, ok := s.NewStream()
	if !ok {
		s.logger.WarnMsg("session %d: no free stream buffer for %s", sess.ID(), t)
		return false
	}
	m.SetType(t)
	if fill != nil && !fill(m) {
		s.Recycle(m)
		return false
	}
	return sess.Send(m)
}

func (s *Server) pollStream() {
	now := time.Now()
	timeout := s.srvCfg.GetReceiveTimeout()

	s.pollSet.Reset()
	s.polled = s.polled[:0]
	for i := 0; i < s.sessions.Cap(); i++ {
		sess, _ := s.sessions.At(i)
		if !sess.IsActive() {
			continue
		}
		if sess.Idle(now, timeout) {
			s.logger.InfoMsg("session %d: no data for %s", sess.ID(), timeout)
			sess.Close(link.ReasonIdle)
			continue
		}
		sock := sess.Socket()
		if sock == nil {
			continue
		}
		s.pollSet.Add(sock, sess.Events())
		s.polled = append(s.polled, sess)
	}

	n, err := s.pollSet.Wait(s.srvCfg.GetPollTimeout())
	if err != nil {
		s.logger.DebugMsg("server: poll: %s", err)
		return
	}
	if n == 0 {
		return
	}
	for i, sess := range s.polled {
		ready := s.pollSet.Ready(i)
		if ready&transport.EventWrite != 0 {
			sess.Writable()
		}
		if ready&transport.EventRead != 0 {
			sess.Receive()
		}
	}
}

func (s *Server) pollDatagram() {
	ok, err := s.udp.Poll(s.srvCfg.GetPollTimeout())
	if err != nil {
		if errors.Is(err, transport.ErrClosed) {
			s.sched.Stop(s.taskPollDatagram)
			return
		}
		s.logger.DebugMsg("server: datagram poll: %s", err)
		return
	}
	if !ok {
		return
	}

	var m *message.Datagram
	defer func() {
		if m != nil {
			s.recycleDatagram(m)
		}
	}()

	for i := 0; i < config.DefaultDatagramReadsPerRun; i++ {
		if m == nil {
			if m, ok = s.datagrams.Pop(); !ok {
				s.logger.DebugMsg("server: no free datagram buffer")
				return
			}
		}
		m.PrepareRecv()

		n, from, err := s.udp.RecvFrom(m.Free(-1))
		if err != nil {
			if !errors.Is(err, transport.ErrWouldBlock) {
				s.logger.DebugMsg("server: datagram read: %s", err)
			}
			return
		}
		m.Advance(n)

		if n < m.HeaderSize()+1 {
			s.logger.DebugMsg("server: datagram from %s shorter than a header", from)
			s.metrics.DatagramDropped("short")
			continue
		}
		m.DecodeHeader()
		idx := m.Header().SessionIndex
		sess, valid := s.sessions.At(int(idx))
		if !valid {
			s.logger.DebugMsg("server: datagram from %s for invalid session %d", from, idx)
			s.metrics.DatagramDropped("session_index")
			continue
		}
		if sess.RecvDatagram(m, from) {
			m = nil
		}
	}
}

func (s *Server) recycleDatagram(m *message.Datagram) {
	if err := s.datagrams.Push(m); err != nil {
		s.logger.ErrorMsg("server: recycle datagram: %s", err)
	}
}

func (s *Server) nextEpoch() {
	e := uint8(s.epoch.Add(1))
	n := s.Broadcast(message.TypeEpoch, func(m *message.Stream) bool {
		return m.CreateEpoch(e)
	})
	s.logger.DebugMsg("server: epoch %d sent to %d sessions", e, n)
}

// sessionHandler answers keepalives and forwards everything else to the
// callbacks.
type sessionHandler struct {
	s *Server
}

func (h *sessionHandler) HandleStream(sess *session.Session, m *message.Stream) bool {
	typ, _ := m.Type()
	if typ != message.TypePingStream {
		return true
	}
	h.reply(sess, m.Payload(), message.TypePongStream)
	return false
}

func (h *sessionHandler) HandleDatagram(sess *session.Session, m *message.Datagram) bool {
	typ, _ := m.Type()
	if typ != message.TypePingDatagram {
		return true
	}
	h.reply(sess, m.Payload(), message.TypePongDatagram)
	return false
}

// reply echoes the ping payload on the stream channel.
func (h *sessionHandler) reply(sess *session.Session, payload []byte, t message.Type) {
	h.s.sendControl(sess, t, func(m *message.Stream) bool {
		return m.WriteBytes(payload)
	})
}

func (h *sessionHandler) OnAccepted(sess *session.Session) {
	if h.s.cb.OnSessionAccepted != nil {
		h.s.cb.OnSessionAccepted(sess)
	}
}

func (h *sessionHandler) OnMessage(sess *session.Session, m *message.Stream) {
	if h.s.cb.OnSessionMessage != nil {
		h.s.cb.OnSessionMessage(sess, m)
	}
}

func (h *sessionHandler) OnDatagram(sess *session.Session, m *message.Datagram) {
	if h.s.cb.OnSessionDatagram != nil {
		h.s.cb.OnSessionDatagram(sess, m)
	}
}

func (h *sessionHandler) OnDisconnected(sess *session.Session, reason session.Reason) {
	h.s.metrics.SessionDisconnected(reason.String())
	h.s.logger.InfoMsg("Session %d: connection from %s lost (%s)", sess.ID(), sess.RemoteAddr(), reason)
	if h.s.cb.OnSessionDisconnected != nil {
		h.s.cb.OnSessionDisconnected(sess, reason)
	}
	h.s.release(sess)
}
