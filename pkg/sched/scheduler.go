package sched

import (
	"container/heap"
	"runtime"
	"sync"
	"time"

	"dominicbreuker/sessnet/pkg/log"

	"github.com/eapache/queue"
)

const (
	// ExecuteTolerance is how early a timed task may be taken before its deadline.
	ExecuteTolerance = 10 * time.Microsecond
	// SleepThreshold separates blocking waits from short spins. A worker
	// whose next task is due sooner than this spins instead of sleeping.
	SleepThreshold = 2000 * time.Microsecond
	// DefaultSleep is the longest a worker sleeps when nothing is pending.
	DefaultSleep = 100 * time.Millisecond

	wakeTokens = 64
)

type fifoEntry struct {
	t   *Task
	gen uint64
}

// Scheduler owns the pending tasks. Timed tasks live in a min-heap ordered
// by deadline, instant tasks in a FIFO which is always served first.
// Lock order is Task.mu before Scheduler.mu.
type Scheduler struct {
	mu      sync.Mutex
	timed   timerHeap
	instant *queue.Queue // of fifoEntry
	pending int          // valid entries across both collections
	seq     uint64

	wake  chan struct{} // wakes one sleeping worker per token
	bcast chan struct{} // closed and replaced by WakeAll

	logger *log.Logger
	now    func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used to report panicking tasks.
func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// NewScheduler creates an empty scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		instant: queue.New(),
		wake:    make(chan struct{}, wakeTokens),
		bcast:   make(chan struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pending returns the number of tasks waiting in the scheduler.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// ScheduleNow schedules t as an instant task.
func (s *Scheduler) ScheduleNow(t *Task) bool {
	return s.Schedule(t, time.Time{})
}

// ScheduleIn schedules t to run after d.
func (s *Scheduler) ScheduleIn(t *Task, d time.Duration) bool {
	if d <= 0 {
		return s.Schedule(t, time.Time{})
	}
	return s.Schedule(t, s.now().Add(d))
}

// Schedule makes t pending with the given deadline. A zero deadline queues t
// as an instant task; any other deadline, even one already past, orders t
// among the timed tasks. If t is currently executing it is not queued;
// instead it runs once more right after the current run finishes. Scheduling
// a task that is already pending fails.
func (s *Scheduler) Schedule(t *Task, deadline time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s.mu.Lock()
	ok := false
	switch t.State() {
	case Idle:
		s.push(t, deadline)
		ok = true
	case Starting, Running:
		t.reschedule = true
		ok = true
	}
	s.mu.Unlock()

	if ok {
		s.Wake()
	}
	return ok
}

// Cancel removes a pending task. It only succeeds while t is Scheduled. For
// a task that is already executing the pending reschedule request, if any,
// is dropped but the current run completes.
func (s *Scheduler) Cancel(t *Task) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch t.State() {
	case Scheduled:
		s.remove(t)
		t.setState(Idle)
		return true
	case Starting, Running:
		t.reschedule = false
	}
	return false
}

// Stop disables repetition of t and cancels it.
func (s *Scheduler) Stop(t *Task) bool {
	t.SetRepeat(false)
	return s.Cancel(t)
}

// Wake wakes one sleeping worker.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// WakeAll wakes every sleeping worker.
func (s *Scheduler) WakeAll() {
	s.mu.Lock()
	close(s.bcast)
	s.bcast = make(chan struct{})
	s.mu.Unlock()
}

// Execute runs at most one due task on the calling worker. If nothing was
// due, it sleeps until the next deadline, a wake signal, or quit, and
// returns false.
func (s *Scheduler) Execute(w *Looper) bool {
	s.mu.Lock()
	now := s.now()
	t := s.next(now)
	if t == nil {
		s.sleep(w, now) // unlocks
		return false
	}
	s.mu.Unlock()

	s.run(t, w)
	return true
}

// push places t into the FIFO or the heap. Only the zero deadline goes to
// the FIFO, so repeating tasks compete with timers by deadline. Caller holds
// t.mu and s.mu.
func (s *Scheduler) push(t *Task, deadline time.Time) {
	if deadline.IsZero() {
		t.deadline = s.now()
		t.gen++
		t.inFIFO = true
		s.instant.Add(fifoEntry{t: t, gen: t.gen})
	} else {
		t.deadline = deadline
		s.seq++
		t.seq = s.seq
		heap.Push(&s.timed, t)
	}
	s.pending++
	t.setState(Scheduled)
}

// remove takes a Scheduled task out of its collection. FIFO entries are
// invalidated in place and skipped when reached. Caller holds s.mu.
func (s *Scheduler) remove(t *Task) {
	if t.inFIFO {
		t.inFIFO = false
		t.gen++
	} else if t.index >= 0 {
		heap.Remove(&s.timed, t.index)
	}
	s.pending--
}

// next pops the task to run now, marking it Starting. Caller holds s.mu.
func (s *Scheduler) next(now time.Time) *Task {
	for s.instant.Length() > 0 {
		e := s.instant.Remove().(fifoEntry)
		if e.gen != e.t.gen || !e.t.inFIFO {
			continue // cancelled or requeued since
		}
		e.t.inFIFO = false
		s.pending--
		e.t.setState(Starting)
		return e.t
	}

	front := s.timed.peek()
	if front == nil || front.deadline.After(now.Add(ExecuteTolerance)) {
		return nil
	}
	heap.Pop(&s.timed)
	s.pending--
	front.setState(Starting)
	return front
}

// sleep blocks the worker according to the three-tier policy. Caller holds
// s.mu; it is released before blocking.
func (s *Scheduler) sleep(w *Looper, now time.Time) {
	wait := DefaultSleep
	if front := s.timed.peek(); front != nil {
		wait = front.deadline.Sub(now)
	}
	bcast := s.bcast
	s.mu.Unlock()

	start := time.Now()
	defer func() {
		w.addSleep(time.Since(start))
	}()

	if wait <= 0 {
		return
	}

	if wait <= SleepThreshold {
		deadline := start.Add(wait)
		for time.Now().Before(deadline) {
			select {
			case <-s.wake:
				return
			case <-bcast:
				return
			case <-w.quit:
				return
			default:
				runtime.Gosched()
			}
		}
		return
	}

	w.timer.Reset(wait)
	defer w.timer.Stop()
	select {
	case <-s.wake:
	case <-bcast:
	case <-w.quit:
	case <-w.timer.C:
	}
}

// run executes t outside of all locks and requeues it if required.
func (s *Scheduler) run(t *Task, w *Looper) {
	t.setState(Running)

	start := time.Now()
	s.call(t)
	w.addExecute(time.Since(start))

	requeued := false
	t.mu.Lock()
	s.mu.Lock()
	switch {
	case t.reschedule:
		t.reschedule = false
		s.push(t, time.Time{})
		requeued = true
	case t.repeat:
		next := t.deadline.Add(t.interval)
		if now := s.now(); next.Before(now) {
			next = now
		}
		s.push(t, next)
		requeued = true
	default:
		t.setState(Idle)
	}
	s.mu.Unlock()
	t.mu.Unlock()

	if requeued {
		s.Wake()
	}
}

func (s *Scheduler) call(t *Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorMsg("task %s panicked: %v\n", t.name, r)
		}
	}()
	t.fn()
}
