package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// pumpSocket turns a blocking net.Conn into a Socket. A reader goroutine
// fills a bounded inbound buffer and a writer goroutine drains a bounded
// outbound buffer; Recv and Send only touch those buffers.
type pumpSocket struct {
	conn  net.Conn
	limit int
	sig   *Signal

	mu     sync.Mutex
	cond   *sync.Cond
	in     []byte
	inHead int
	out    []byte
	inErr  error
	outErr error
	closed bool
}

func newPumpSocket(conn net.Conn, limit int, sig *Signal) *pumpSocket {
	if sig == nil {
		sig = NewSignal()
	}
	s := &pumpSocket{
		conn:  conn,
		limit: limit,
		sig:   sig,
		in:    make([]byte, 0, limit),
		out:   make([]byte, 0, limit),
	}
	s.cond = sync.NewCond(&s.mu)

	go s.readLoop()
	go s.writeLoop()
	return s
}

func (s *pumpSocket) readLoop() {
	buf := make([]byte, s.limit)
	for {
		s.mu.Lock()
		for !s.closed && len(s.in)-s.inHead == s.limit {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		if s.inHead > 0 {
			n := copy(s.in, s.in[s.inHead:])
			s.in = s.in[:n]
			s.inHead = 0
		}
		room := s.limit - len(s.in)
		s.mu.Unlock()

		n, err := s.conn.Read(buf[:room])

		s.mu.Lock()
		s.in = append(s.in, buf[:n]...)
		if err != nil {
			s.inErr = err
		}
		s.mu.Unlock()
		s.sig.Notify()

		if err != nil {
			return
		}
	}
}

func (s *pumpSocket) writeLoop() {
	buf := make([]byte, s.limit)
	for {
		s.mu.Lock()
		for !s.closed && len(s.out) == 0 {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		n := copy(buf, s.out)
		s.mu.Unlock()

		w, err := s.conn.Write(buf[:n])

		s.mu.Lock()
		// Send only appends, so the first w bytes are the ones just written
		k := copy(s.out, s.out[w:])
		s.out = s.out[:k]
		if err != nil {
			s.outErr = err
		}
		s.mu.Unlock()
		s.sig.Notify()

		if err != nil {
			return
		}
	}
}

func (s *pumpSocket) Recv(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if len(s.in) > s.inHead {
		n := copy(p, s.in[s.inHead:])
		s.inHead += n
		if s.inHead == len(s.in) {
			s.in = s.in[:0]
			s.inHead = 0
		}
		s.cond.Broadcast()
		return n, nil
	}
	if s.inErr != nil {
		if errors.Is(s.inErr, io.EOF) {
			return 0, io.EOF
		}
		return 0, s.inErr
	}
	return 0, ErrWouldBlock
}

func (s *pumpSocket) Send(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return 0, ErrClosed
	case s.outErr != nil:
		return 0, s.outErr
	}

	n := min(s.limit-len(s.out), len(p))
	if n == 0 {
		return 0, ErrWouldBlock
	}
	s.out = append(s.out, p[:n]...)
	s.cond.Broadcast()
	return n, nil
}

func (s *pumpSocket) Poll(events Events, timeout time.Duration) (Events, error) {
	deadline := time.Now().Add(timeout)
	for {
		if r := s.ready(events); r != 0 || timeout <= 0 {
			return r, nil
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, nil
		}
		s.sig.Wait(wait)
	}
}

func (s *pumpSocket) ready(events Events) Events {
	s.mu.Lock()
	defer s.mu.Unlock()

	var r Events
	if events&EventRead != 0 && (len(s.in) > s.inHead || s.inErr != nil || s.closed) {
		r |= EventRead
	}
	if events&EventWrite != 0 && (len(s.out) < s.limit || s.outErr != nil || s.closed) {
		r |= EventWrite
	}
	return r
}

func (s *pumpSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *pumpSocket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *pumpSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.sig.Notify()
	return s.conn.Close()
}
