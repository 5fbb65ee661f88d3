package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

type deadliner interface {
	SetDeadline(t time.Time) error
}

// listenerAcceptor accepts from a listener that supports accept deadlines.
type listenerAcceptor struct {
	ln      net.Listener
	dl      deadliner
	prepare func(net.Conn) error
}

// NewListenerAcceptor returns an Acceptor for ln. prepare, if not nil, runs
// on every accepted connection; a failing connection is closed and skipped.
// Listeners without SetDeadline are served by a goroutine feeding a
// ChanAcceptor.
func NewListenerAcceptor(ln net.Listener, prepare func(net.Conn) error) Acceptor {
	if dl, ok := ln.(deadliner); ok {
		return &listenerAcceptor{ln: ln, dl: dl, prepare: prepare}
	}

	acc := NewChanAcceptor(ln.Addr(), 16, ln.Close)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				acc.Fail(err)
				return
			}
			if prepare != nil {
				if err := prepare(conn); err != nil {
					conn.Close()
					continue
				}
			}
			if !acc.Offer(conn) {
				conn.Close()
			}
		}
	}()
	return acc
}

func (a *listenerAcceptor) Accept(timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		// a deadline in the past never accepts, even with a pending connection
		timeout = time.Millisecond
	}
	if err := a.dl.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, mapAcceptErr(err)
	}
	conn, err := a.ln.Accept()
	if err != nil {
		return nil, mapAcceptErr(err)
	}
	if a.prepare != nil {
		if err := a.prepare(conn); err != nil {
			conn.Close()
			return nil, ErrWouldBlock
		}
	}
	return conn, nil
}

func (a *listenerAcceptor) Addr() net.Addr {
	return a.ln.Addr()
}

func (a *listenerAcceptor) Close() error {
	return a.ln.Close()
}

func mapAcceptErr(err error) error {
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		return ErrWouldBlock
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return ErrClosed
	}
	return err
}

// ChanAcceptor is an Acceptor fed by a goroutine, such as an HTTP handler
// upgrading websockets or a quic accept loop. It holds at most capacity
// connections that were not yet accepted.
type ChanAcceptor struct {
	addr    net.Addr
	ch      chan net.Conn
	closeFn func() error

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

// NewChanAcceptor creates an acceptor reporting addr. closeFn, if not nil,
// runs once on Close to release the underlying listener.
func NewChanAcceptor(addr net.Addr, capacity int, closeFn func() error) *ChanAcceptor {
	return &ChanAcceptor{
		addr:    addr,
		ch:      make(chan net.Conn, capacity),
		closeFn: closeFn,
		done:    make(chan struct{}),
	}
}

// Offer queues conn. It returns false if the acceptor is closed or full; the
// caller keeps ownership of conn in that case.
func (a *ChanAcceptor) Offer(conn net.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.err != nil {
		return false
	}
	select {
	case a.ch <- conn:
		return true
	default:
		return false
	}
}

// Fail records a terminal error returned by Accept once the queue is empty.
func (a *ChanAcceptor) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil || a.closed {
		return
	}
	a.err = err
	close(a.done)
}

// Len returns the number of queued connections.
func (a *ChanAcceptor) Len() int {
	return len(a.ch)
}

// Cap returns the queue capacity.
func (a *ChanAcceptor) Cap() int {
	return cap(a.ch)
}

func (a *ChanAcceptor) Accept(timeout time.Duration) (net.Conn, error) {
	select {
	case conn := <-a.ch:
		return conn, nil
	default:
	}
	if err := a.failure(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, ErrWouldBlock
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case conn := <-a.ch:
		return conn, nil
	case <-a.done:
		return nil, a.failure()
	case <-t.C:
		return nil, ErrWouldBlock
	}
}

func (a *ChanAcceptor) failure() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.closed:
		return ErrClosed
	case a.err != nil:
		if errors.Is(a.err, net.ErrClosed) {
			return ErrClosed
		}
		return a.err
	}
	return nil
}

func (a *ChanAcceptor) Addr() net.Addr {
	return a.addr
}

// Close stops accepting and closes every queued connection.
func (a *ChanAcceptor) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	if a.err == nil {
		close(a.done)
	}
	a.mu.Unlock()

drain:
	for {
		select {
		case conn := <-a.ch:
			conn.Close()
		default:
			break drain
		}
	}

	if a.closeFn != nil {
		return a.closeFn()
	}
	return nil
}
