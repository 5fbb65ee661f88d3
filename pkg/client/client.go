// Package client connects to a server and keeps the session alive: it
// reassembles the stream channel, sends datagrams, measures the round trip
// time and reconnects after the connection is lost.
package client

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
	"dominicbreuker/sessnet/pkg/transport"
)

// State is the connection state of a client.
type State uint32

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Reason explains why a connection ended.
type Reason = link.Reason

// ErrNotConnected is returned for operations that need a connection.
var ErrNotConnected = errors.New("not connected")

// Callbacks are the application's view of the client. All of them are
// optional and run on scheduler workers.
type Callbacks struct {
	OnConnected        func(c *Client)
	OnConnectionFailed func(c *Client, err error)
	OnDisconnected     func(c *Client, reason Reason)
	// OnMessage receives stream messages. The buffer is recycled when it
	// returns.
	OnMessage func(c *Client, m *message.Stream)
	// OnEpochChanged runs when the server announces a new epoch, including
	// the first one after connecting.
	OnEpochChanged func(c *Client, epoch uint8)
	// OnSessionID runs when the server assigned the session index.
	OnSessionID func(c *Client, id uint32)
}

// Client is one connection to a server.
type Client struct {
	cfg    *config.Shared
	cliCfg *config.Client
	cb     Callbacks

	logger  *log.Logger
	metrics *metrics.Metrics

	sched     *sched.Scheduler
	workers   *sched.Pool
	streams   *pool.Pool[*message.Stream]
	datagrams *pool.Pool[*message.Datagram]
	link      *link.Link[*message.StreamHeader]
	sig       *transport.Signal

	state    atomic.Uint32
	reason   atomic.Int32
	explicit atomic.Bool // set by Disconnect, suppresses reconnects

	mu      sync.Mutex
	ctx     context.Context
	started bool
	udp     transport.PacketSocket
	udpAddr *net.UDPAddr

	sendMu     sync.Mutex // serializes Link.Send
	datagramMu sync.Mutex // serializes SendDatagram
	deliverMu  sync.Mutex // keeps OnMessage ahead of OnDisconnected

	sessionID  atomic.Uint32
	hasID      atomic.Bool
	epoch      atomic.Uint32
	epochKnown atomic.Bool
	seq        atomic.Uint32
	rtt        atomic.Int64
	lastPong   atomic.Int64 // unix nanos of the last PONG_UDP

	taskConnect      *sched.Task
	taskPoll         *sched.Task
	taskRead         *sched.Task
	taskWrite        *sched.Task
	taskPing         *sched.Task
	taskStuckSend    *sched.Task
	taskDisconnected *sched.Task
	taskReconnect    *sched.Task
}

// New creates a disconnected client.
func New(cfg *config.Shared, cliCfg *config.Client, cb Callbacks) *Client {
	c := &Client{
		cfg:     cfg,
		cliCfg:  cliCfg,
		cb:      cb,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		sched:   sched.NewScheduler(sched.WithLogger(cfg.Logger)),
		sig:     transport.NewSignal(),
		ctx:     context.Background(),
	}
	c.workers = sched.NewPool(c.sched, cfg.GetWorkers(), cfg.Metrics)

	c.streams = pool.New("client_stream", config.DefaultClientStreamPool, func() *message.Stream {
		return message.NewStream(config.DefaultStreamBufferSize)
	}, cfg.Metrics)
	c.datagrams = pool.New("client_datagram", config.DefaultClientDatagramPool, func() *message.Datagram {
		return message.NewDatagram(config.DefaultDatagramBufferSize)
	}, cfg.Metrics)

	c.link = link.New(link.Config[*message.StreamHeader]{
		Pool:     c.streams,
		InQueue:  config.DefaultClientStreamIn,
		OutQueue: config.DefaultClientStreamOut,
		Hooks: link.Hooks[*message.StreamHeader]{
			Check:    c.checkStream,
			Handle:   c.handleStream,
			Finalize: c.finalizeStream,
			SendBlocked: func() {
				c.sched.ScheduleIn(c.taskStuckSend, c.cliCfg.GetStuckSendTimeout())
			},
			SendUnblocked: func() { c.sched.Cancel(c.taskStuckSend) },
		},
		Channel: "stream",
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})

	c.taskConnect = sched.NewTask("client-connect", c.runConnect)
	c.taskPoll = sched.NewRepeatingTask("client-poll", c.runPoll, 0)
	c.taskRead = sched.NewTask("client-read", c.runRead)
	c.taskWrite = sched.NewTask("client-write", c.runWrite)
	c.taskPing = sched.NewRepeatingTask("client-ping", c.runPing, cliCfg.GetPingInterval())
	c.taskStuckSend = sched.NewTask("client-stuck-send", func() { c.close(link.ReasonStuckSend) })
	c.taskDisconnected = sched.NewTask("client-disconnected", c.runDisconnected)
	c.taskReconnect = sched.NewTask("client-reconnect", c.runReconnect)
	return c
}

// Run connects and serves the connection until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	c.Start(ctx)
	defer c.Close()

	if !c.Connect() {
		return fmt.Errorf("connect: client is %s", c.State())
	}
	<-ctx.Done()
	return nil
}

// Start starts the workers. ctx bounds all connection attempts.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.ctx = ctx
	c.workers.Start()
}

// Close disconnects, waits for the disconnect to finish and stops the
// workers.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	c.mu.Unlock()

	c.Disconnect()
	deadline := time.Now().Add(time.Second)
	for c.State() != Disconnected && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	for _, t := range []*sched.Task{c.taskConnect, c.taskPoll, c.taskPing, c.taskReconnect, c.taskStuckSend} {
		c.sched.Stop(t)
	}
	c.workers.Stop()

	// a disconnect task that did not get to run
	c.release()
	return nil
}

// Connect starts a connection attempt to cfg.Addr(). It fails if the client
// is not disconnected. The outcome is reported through OnConnected or
// OnConnectionFailed.
func (c *Client) Connect() bool {
	c.explicit.Store(false)
	return c.connect()
}

func (c *Client) connect() bool {
	if !c.state.CompareAndSwap(uint32(Disconnected), uint32(Connecting)) {
		return false
	}
	c.logger.InfoMsg("Connecting to %s", c.cfg.Addr())
	return c.sched.ScheduleNow(c.taskConnect)
}

// Disconnect closes the connection and suppresses reconnects until the
// next Connect.
func (c *Client) Disconnect() {
	c.explicit.Store(true)
	c.sched.Cancel(c.taskReconnect)
	c.close(link.ReasonLocal)
}

// State returns the connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// IsConnected reports whether the connection is established.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// Reason returns why the last connection ended.
func (c *Client) Reason() Reason {
	return Reason(c.reason.Load())
}

// SessionID returns the index the server assigned to this connection.
func (c *Client) SessionID() (uint32, bool) {
	return c.sessionID.Load(), c.hasID.Load()
}

// Epoch returns the last epoch announced by the server.
func (c *Client) Epoch() uint8 {
	return uint8(c.epoch.Load())
}

// RTT returns the last measured stream round trip time.
func (c *Client) RTT() time.Duration {
	return time.Duration(c.rtt.Load())
}

// LastDatagramPong returns when the server last answered a datagram ping.
// The zero time means the datagram channel has not been confirmed yet.
func (c *Client) LastDatagramPong() time.Time {
	n := c.lastPong.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Scheduler returns the scheduler driving the client.
func (c *Client) Scheduler() *sched.Scheduler {
	return c.sched
}

// NewStream takes a stream message from the pool, prepared for writing.
// Pass it to SendStream or Recycle.
func (c *Client) NewStream() (*message.Stream, bool) {
	m, ok := c.streams.Pop()
	if !ok {
		return nil, false
	}
	m.PrepareWrite()
	return m, true
}

// NewDatagram takes a datagram from the pool, prepared for writing. Pass it
// to SendDatagram or RecycleDatagram.
func (c *Client) NewDatagram() (*message.Datagram, bool) {
	m, ok := c.datagrams.Pop()
	if !ok {
		return nil, false
	}
	m.PrepareWrite()
	*m.Header() = message.DatagramHeader{}
	return m, true
}

// Recycle returns an unsent stream message.
func (c *Client) Recycle(m *message.Stream) {
	c.link.Recycle(m)
}

// RecycleDatagram returns an unsent datagram.
func (c *Client) RecycleDatagram(m *message.Datagram) {
	if err := c.datagrams.Push(m); err != nil {
		c.logger.ErrorMsg("client: recycle datagram: %s", err)
	}
}

// SendStream queues m on the stream channel and takes ownership of it. A
// full queue closes the connection.
func (c *Client) SendStream(m *message.Stream) bool {
	if !c.IsConnected() {
		c.link.Recycle(m)
		return false
	}
	if !c.link.Enqueue(m) {
		c.link.Recycle(m)
		if c.IsConnected() {
			c.logger.WarnMsg("client: outbound queue full")
			c.close(link.ReasonOutQueueFull)
		}
		return false
	}
	c.sched.ScheduleNow(c.taskWrite)
	return true
}

// SendDatagram stamps m with the session index, the next sequence number,
// the epoch and the checksum and sends it right away. It takes ownership
// of m. Datagrams are only accepted by the server once the session index is
// known.
func (c *Client) SendDatagram(m *message.Datagram) error {
	defer c.RecycleDatagram(m)

	if !c.IsConnected() {
		return ErrNotConnected
	}
	id, ok := c.SessionID()
	if !ok {
		return fmt.Errorf("send datagram: no session index yet")
	}

	c.datagramMu.Lock()
	defer c.datagramMu.Unlock()

	c.mu.Lock()
	udp, addr := c.udp, c.udpAddr
	c.mu.Unlock()
	if udp == nil {
		return ErrNotConnected
	}

	h := m.Header()
	h.SessionIndex = id
	h.Seq = c.seq.Add(1)
	if !m.Finalize(c.Epoch(), c.cfg.GetChecksum()) {
		return fmt.Errorf("send datagram: message without header")
	}
	if _, err := udp.SendTo(m.Bytes(), addr); err != nil {
		return fmt.Errorf("SendTo(%s): %w", addr, err)
	}
	c.metrics.Message("datagram", "out")
	return nil
}

func (c *Client) runConnect() {
	if c.explicit.Load() {
		c.state.Store(uint32(Disconnected))
		return
	}

	c.mu.Lock()
	parent := c.ctx
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, c.cfg.GetTimeout())
	defer cancel()

	conn, err := netpkg.Dial(ctx, c.cfg)
	if err != nil {
		c.connectFailed(fmt.Errorf("netpkg.Dial(): %w", err))
		return
	}
	pc, raddr, err := netpkg.DialDatagram(c.cfg)
	if err != nil {
		conn.Close()
		c.connectFailed(fmt.Errorf("netpkg.DialDatagram(): %w", err))
		return
	}

	sock := transport.Wrap(conn, c.sig)
	if !c.link.Attach(sock) {
		sock.Close()
		pc.Close()
		c.connectFailed(fmt.Errorf("stream link still attached"))
		return
	}

	c.mu.Lock()
	c.udp = transport.WrapPacket(pc, config.DefaultDatagramBufferSize, nil)
	c.udpAddr = raddr
	c.mu.Unlock()

	c.hasID.Store(false)
	c.seq.Store(0)
	c.rtt.Store(0)
	c.lastPong.Store(0)
	c.reason.Store(int32(link.ReasonNone))
	c.state.Store(uint32(Connected))

	c.logger.InfoMsg("Connected to %s", conn.RemoteAddr())

	c.taskPoll.SetRepeat(true)
	c.sched.ScheduleNow(c.taskPoll)
	c.taskPing.SetRepeat(true)
	c.sched.ScheduleIn(c.taskPing, c.cliCfg.GetPingInterval())

	if c.cb.OnConnected != nil {
		c.cb.OnConnected(c)
	}
	if c.explicit.Load() {
		c.close(link.ReasonLocal)
	}
}

func (c *Client) connectFailed(err error) {
	c.state.Store(uint32(Disconnected))
	c.reason.Store(int32(link.ReasonConnectFailed))
	c.logger.ErrorMsg("Connecting to %s: %s", c.cfg.Addr(), err)
	if c.cb.OnConnectionFailed != nil {
		c.cb.OnConnectionFailed(c, err)
	}
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	if c.cliCfg.NoReconnect || c.explicit.Load() {
		return
	}
	d := c.cliCfg.GetReconnectDelay()
	c.logger.VerboseMsg("Reconnecting in %s", d)
	c.sched.ScheduleIn(c.taskReconnect, d)
}

func (c *Client) runReconnect() {
	if c.explicit.Load() {
		return
	}
	c.metrics.Reconnect()
	c.connect()
}

func (c *Client) runPoll() {
	if !c.IsConnected() {
		return
	}
	sock := c.link.Socket()
	if sock == nil {
		return
	}

	ready, err := sock.Poll(c.link.Events(), c.cliCfg.GetPollTimeout())
	if err != nil {
		c.logger.VerboseMsg("client: poll: %s", err)
		c.close(link.ReasonSocketError)
		return
	}
	if ready&transport.EventWrite != 0 && c.link.Blocked() {
		c.sched.ScheduleNow(c.taskWrite)
	}
	if ready&transport.EventRead == 0 {
		return
	}

	_, reason := c.link.Receive()
	if c.link.InLen() > 0 {
		c.sched.ScheduleNow(c.taskRead)
	}
	if reason != link.ReasonNone {
		c.close(reason)
	}
}

func (c *Client) runRead() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.link.Drain(func(m *message.Stream) {
		if c.cb.OnMessage != nil && c.IsConnected() {
			c.cb.OnMessage(c, m)
		}
	})
}

func (c *Client) runWrite() {
	c.sendMu.Lock()
	if !c.IsConnected() {
		c.sendMu.Unlock()
		return
	}
	_, reason := c.link.Send()
	c.sendMu.Unlock()

	if reason != link.ReasonNone {
		c.close(reason)
	}
}

func (c *Client) runPing() {
	if !c.IsConnected() {
		return
	}
	now := time.Now()

	if m, ok := c.NewStream(); ok {
		m.CreatePing(message.TypePingStream, now)
		c.SendStream(m)
	} else {
		c.logger.DebugMsg("client: no free stream buffer for ping")
	}

	if !c.hasID.Load() {
		return
	}
	if m, ok := c.NewDatagram(); ok {
		m.CreatePing(message.TypePingDatagram, now)
		if err := c.SendDatagram(m); err != nil {
			c.logger.DebugMsg("client: datagram ping: %s", err)
		}
	}
}

// close starts closing a connected client.
func (c *Client) close(reason Reason) {
	if !c.state.CompareAndSwap(uint32(Connected), uint32(Disconnecting)) {
		return
	}
	c.reason.Store(int32(reason))
	c.sched.Stop(c.taskPing)
	c.sched.Cancel(c.taskStuckSend)
	c.logger.VerboseMsg("client: closing (%s)", reason)
	c.sched.ScheduleNow(c.taskDisconnected)
}

func (c *Client) runDisconnected() {
	c.sched.Stop(c.taskPoll)
	c.release()

	reason := c.Reason()
	c.deliverMu.Lock()
	c.state.Store(uint32(Disconnected))
	c.logger.InfoMsg("Connection to %s lost (%s)", c.cfg.Addr(), reason)
	if c.cb.OnDisconnected != nil {
		c.cb.OnDisconnected(c, reason)
	}
	c.deliverMu.Unlock()
	c.scheduleReconnect()
}

// release closes both sockets and returns all held buffers.
func (c *Client) release() {
	if err := c.link.Close(); err != nil {
		c.logger.DebugMsg("client: close stream: %s", err)
	}

	c.mu.Lock()
	udp := c.udp
	c.udp = nil
	c.mu.Unlock()
	if udp != nil {
		if err := udp.Close(); err != nil {
			c.logger.DebugMsg("client: close datagram socket: %s", err)
		}
	}
}

func (c *Client) checkStream(m *message.Stream) bool {
	if !m.VerifyChecksum(c.cfg.GetChecksum()) {
		c.logger.WarnMsg("client: stream checksum mismatch")
		return false
	}
	return true
}

// handleStream consumes the protocol messages and passes PAYLOAD on.
func (c *Client) handleStream(m *message.Stream) bool {
	c.observeEpoch(m.Header().Ep)

	typ, _ := m.Type()
	switch typ {
	case message.TypeSessionID:
		id, ok := m.SessionID()
		if !ok {
			c.logger.WarnMsg("client: short SESSIONID message")
			return false
		}
		c.sessionID.Store(id)
		c.hasID.Store(true)
		c.logger.VerboseMsg("client: session index %d", id)
		if c.cb.OnSessionID != nil {
			c.cb.OnSessionID(c, id)
		}
		return false
	case message.TypeEpoch:
		if e, ok := m.Epoch(); ok {
			c.observeEpoch(e)
		}
		return false
	case message.TypePongStream:
		if sent, ok := m.PingTime(); ok {
			d := time.Since(sent)
			c.rtt.Store(int64(d))
			c.metrics.RTT(d)
		}
		return false
	case message.TypePongDatagram:
		c.lastPong.Store(time.Now().UnixNano())
		return false
	case message.TypePingStream, message.TypePingDatagram:
		c.logger.DebugMsg("client: unexpected %s from server", typ)
		return false
	default:
		return true
	}
}

func (c *Client) observeEpoch(e uint8) {
	old := uint8(c.epoch.Swap(uint32(e)))
	known := c.epochKnown.Swap(true)
	if known && old == e {
		return
	}
	c.logger.VerboseMsg("client: epoch %d", e)
	if c.cb.OnEpochChanged != nil {
		c.cb.OnEpochChanged(c, e)
	}
}

func (c *Client) finalizeStream(m *message.Stream) bool {
	return m.Finalize(c.Epoch(), c.cfg.GetChecksum())
}
