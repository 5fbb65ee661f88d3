package transport

import "time"

// PollSet waits for readiness on a group of sockets. It is rebuilt on every
// cycle with Reset and Add, then Wait fills in the ready events.
//
// When every member is an fd socket a single poll(2) covers the whole set.
// Otherwise the members are checked without waiting and the set sleeps on its
// Signal, which pump sockets raise on every state change. In a mixed set the
// readiness of fd members is only noticed at the end of the timeout.
type PollSet struct {
	sig    *Signal
	socks  []Socket
	events []Events
	ready  []Events

	fds []*fdSocket
}

// NewPollSet creates a set that waits on sig. sig must be the Signal passed
// to Wrap for the member sockets.
func NewPollSet(sig *Signal) *PollSet {
	if sig == nil {
		sig = NewSignal()
	}
	return &PollSet{sig: sig}
}

// Signal returns the signal the set waits on.
func (p *PollSet) Signal() *Signal {
	return p.sig
}

// Reset removes all members.
func (p *PollSet) Reset() {
	for i := range p.socks {
		p.socks[i] = nil
	}
	p.socks = p.socks[:0]
	p.events = p.events[:0]
	p.ready = p.ready[:0]
}

// Add registers s for events and returns its index.
func (p *PollSet) Add(s Socket, events Events) int {
	p.socks = append(p.socks, s)
	p.events = append(p.events, events)
	p.ready = append(p.ready, 0)
	return len(p.socks) - 1
}

// Len returns the number of members.
func (p *PollSet) Len() int {
	return len(p.socks)
}

// Ready returns the events found ready for member i by the last Wait.
func (p *PollSet) Ready(i int) Events {
	return p.ready[i]
}

// Wait blocks up to timeout until at least one member is ready and returns
// the number of ready members.
func (p *PollSet) Wait(timeout time.Duration) (int, error) {
	if len(p.socks) == 0 {
		p.sig.Wait(timeout)
		return 0, nil
	}
	if p.allFDs() {
		ready, err := pollFDs(p.fds, p.events, timeout)
		if err != nil {
			return 0, err
		}
		return p.store(ready), nil
	}

	deadline := time.Now().Add(timeout)
	for {
		if n := p.check(); n > 0 {
			return n, nil
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, nil
		}
		if !p.sig.Wait(wait) {
			return p.check(), nil
		}
	}
}

func (p *PollSet) allFDs() bool {
	p.fds = p.fds[:0]
	for _, s := range p.socks {
		fs, ok := asFDSocket(s)
		if !ok {
			return false
		}
		p.fds = append(p.fds, fs)
	}
	return true
}

func (p *PollSet) check() int {
	n := 0
	for i, s := range p.socks {
		r, err := s.Poll(p.events[i], 0)
		if err != nil {
			r = p.events[i] & EventRead
		}
		p.ready[i] = r
		if r != 0 {
			n++
		}
	}
	return n
}

func (p *PollSet) store(ready []Events) int {
	n := 0
	for i, r := range ready {
		p.ready[i] = r
		if r != 0 {
			n++
		}
	}
	return n
}
