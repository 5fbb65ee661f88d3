package sched

import (
	"context"
	"sync"
	"time"

	"dominicbreuker/sessnet/pkg/metrics"
)

// DefaultWorkers is the default size of a Pool.
const DefaultWorkers = 8

// Pool is a fixed set of worker goroutines sharing one Scheduler.
type Pool struct {
	sched   *Scheduler
	size    int
	metrics *metrics.Metrics

	mu      sync.Mutex
	loopers []*Looper
	mains   map[*Looper]struct{}
	wg      sync.WaitGroup
	started bool
}

// NewPool creates a pool of n workers on scheduler s. n < 1 uses DefaultWorkers.
// m may be nil.
func NewPool(s *Scheduler, n int, m *metrics.Metrics) *Pool {
	if n < 1 {
		n = DefaultWorkers
	}
	return &Pool{sched: s, size: n, metrics: m}
}

// Scheduler returns the shared scheduler.
func (p *Pool) Scheduler() *Scheduler {
	return p.sched
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Start spawns the workers and returns once each of them runs its loop.
// Starting a started pool is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	started := make(chan struct{}, p.size)
	p.loopers = make([]*Looper, p.size)
	for i := range p.loopers {
		l := NewLooper(i, p.sched, p.metrics)
		p.loopers[i] = l
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			l.Run(started)
		}()
	}
	for range p.loopers {
		<-started
	}
}

// Stop signals all workers, including a loop running in RunMain, to finish
// their current task and waits for the pool's own workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	loopers := p.loopers
	if !p.started {
		loopers = nil
	}
	p.started = false
	for l := range p.mains {
		loopers = append(loopers, l)
	}
	p.mu.Unlock()

	if len(loopers) == 0 {
		return
	}
	for _, l := range loopers {
		l.Stop()
	}
	p.sched.WakeAll()
	p.wg.Wait()
}

// Stats returns the counters of every worker.
func (p *Pool) Stats() []Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Stats, 0, len(p.loopers))
	for _, l := range p.loopers {
		out = append(out, l.Stats())
	}
	return out
}

// Schedule schedules t on the pool's scheduler.
func (p *Pool) Schedule(t *Task, deadline time.Time) bool {
	return p.sched.Schedule(t, deadline)
}

// ScheduleNow schedules t as an instant task.
func (p *Pool) ScheduleNow(t *Task) bool {
	return p.sched.ScheduleNow(t)
}

// ScheduleIn schedules t to run after d.
func (p *Pool) ScheduleIn(t *Task, d time.Duration) bool {
	return p.sched.ScheduleIn(t, d)
}

// Cancel cancels t.
func (p *Pool) Cancel(t *Task) bool {
	return p.sched.Cancel(t)
}

// RunMain runs a worker loop on the calling goroutine until ctx is done or
// the pool is stopped. It is meant for the application's primary goroutine.
func (p *Pool) RunMain(ctx context.Context) {
	l := NewLooper(-1, p.sched, p.metrics)

	p.mu.Lock()
	if p.mains == nil {
		p.mains = make(map[*Looper]struct{})
	}
	p.mains[l] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.mains, l)
		p.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, l.Stop)
	defer stop()
	l.Run(nil)
}
