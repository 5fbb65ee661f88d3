package sched

import (
	"sync"
	"sync/atomic"
	"time"

	"dominicbreuker/sessnet/pkg/metrics"
)

// Stats are the accumulated counters of a Looper.
type Stats struct {
	Executed    uint64
	ExecuteTime time.Duration
	SleepTime   time.Duration
}

// Looper repeatedly asks a Scheduler for due work until stopped.
type Looper struct {
	id    int
	sched *Scheduler

	running  atomic.Bool
	quit     chan struct{}
	quitOnce sync.Once
	timer    *time.Timer

	executed    atomic.Uint64
	executeTime atomic.Int64
	sleepTime   atomic.Int64

	metrics *metrics.Metrics
}

// NewLooper creates a looper for the given scheduler. m may be nil.
func NewLooper(id int, s *Scheduler, m *metrics.Metrics) *Looper {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	l := &Looper{
		id:      id,
		sched:   s,
		quit:    make(chan struct{}),
		timer:   timer,
		metrics: m,
	}
	l.running.Store(true)
	return l
}

// ID returns the looper's index within its pool.
func (l *Looper) ID() int {
	return l.id
}

// Run executes tasks on the calling goroutine until Stop is called. started,
// if not nil, is signalled once the loop has begun.
func (l *Looper) Run(started chan<- struct{}) {
	if started != nil {
		started <- struct{}{}
	}
	for l.running.Load() {
		l.sched.Execute(l)
	}
}

// Stop makes Run return after the current task.
func (l *Looper) Stop() {
	l.running.Store(false)
	l.quitOnce.Do(func() {
		close(l.quit)
	})
}

// Running reports whether the loop has not been stopped.
func (l *Looper) Running() bool {
	return l.running.Load()
}

// Stats returns a snapshot of the looper's counters.
func (l *Looper) Stats() Stats {
	return Stats{
		Executed:    l.executed.Load(),
		ExecuteTime: time.Duration(l.executeTime.Load()),
		SleepTime:   time.Duration(l.sleepTime.Load()),
	}
}

func (l *Looper) addExecute(d time.Duration) {
	l.executed.Add(1)
	l.executeTime.Add(int64(d))
	l.metrics.WorkerExecute(d)
}

func (l *Looper) addSleep(d time.Duration) {
	l.sleepTime.Add(int64(d))
	l.metrics.WorkerSleep(d)
}
