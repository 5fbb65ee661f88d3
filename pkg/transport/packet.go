package transport

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPacketBacklog = 128

type packet struct {
	data []byte
	n    int
	addr net.Addr
}

// packetPump stages datagrams of a blocking net.PacketConn in a fixed ring.
// Datagrams arriving while the ring is full are dropped, as a kernel socket
// buffer would.
type packetPump struct {
	pc  net.PacketConn
	sig *Signal

	mu     sync.Mutex
	ring   []packet
	head   int
	count  int
	err    error
	closed bool

	dropped atomic.Uint64
}

func newPacketPump(pc net.PacketConn, maxSize, backlog int, sig *Signal) *packetPump {
	if sig == nil {
		sig = NewSignal()
	}
	p := &packetPump{
		pc:   pc,
		sig:  sig,
		ring: make([]packet, backlog),
	}
	for i := range p.ring {
		p.ring[i].data = make([]byte, maxSize)
	}
	go p.readLoop(maxSize)
	return p
}

func (p *packetPump) readLoop(maxSize int) {
	buf := make([]byte, maxSize)
	for {
		n, addr, err := p.pc.ReadFrom(buf)

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				p.mu.Unlock()
				continue
			}
			p.err = err
			p.mu.Unlock()
			p.sig.Notify()
			return
		}
		if p.count == len(p.ring) {
			p.mu.Unlock()
			p.dropped.Add(1)
			continue
		}
		slot := &p.ring[(p.head+p.count)%len(p.ring)]
		slot.n = copy(slot.data, buf[:n])
		slot.addr = addr
		p.count++
		p.mu.Unlock()
		p.sig.Notify()
	}
}

func (p *packetPump) RecvFrom(b []byte) (int, net.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, nil, ErrClosed
	}
	if p.count == 0 {
		if p.err != nil {
			return 0, nil, p.err
		}
		return 0, nil, ErrWouldBlock
	}
	slot := &p.ring[p.head]
	n := copy(b, slot.data[:slot.n])
	addr := slot.addr
	slot.addr = nil
	p.head = (p.head + 1) % len(p.ring)
	p.count--
	return n, addr, nil
}

func (p *packetPump) SendTo(b []byte, addr net.Addr) (int, error) {
	return p.pc.WriteTo(b, addr)
}

func (p *packetPump) Poll(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if p.readable() || timeout <= 0 {
			return p.readable(), nil
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return false, nil
		}
		p.sig.Wait(wait)
	}
}

func (p *packetPump) readable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count > 0 || p.err != nil || p.closed
}

// Dropped returns the number of datagrams lost to a full ring.
func (p *packetPump) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *packetPump) LocalAddr() net.Addr {
	return p.pc.LocalAddr()
}

func (p *packetPump) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.sig.Notify()
	return p.pc.Close()
}
