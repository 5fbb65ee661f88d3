// Package sched provides a deadline-ordered task scheduler shared by a pool
// of worker loops. Tasks are either instant (run as soon as a worker is free)
// or timed (run once their deadline is reached) and may repeat.
package sched

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is the execution state of a Task.
type State uint32

const (
	// Idle tasks are not pending and not executing.
	Idle State = iota
	// Scheduled tasks sit in exactly one of the scheduler's collections.
	Scheduled
	// Starting tasks have been taken by a worker but not yet entered.
	Starting
	// Running tasks are executing on a worker.
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Starting:
		return "starting"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Task is a unit of deferred work. A Task never runs on two workers at once.
type Task struct {
	mu sync.Mutex // guards everything below except state

	fn       func()
	name     string
	deadline time.Time
	interval time.Duration
	repeat   bool

	// reschedule is set when Schedule is called while the task is
	// Starting or Running. Multiple requests coalesce into one.
	reschedule bool

	state atomic.Uint32

	// bookkeeping owned by the scheduler, guarded by Scheduler.mu
	index  int    // position in the timed heap, -1 if not in it
	seq    uint64 // insertion order, breaks deadline ties
	gen    uint64 // bumped whenever a FIFO entry becomes stale
	inFIFO bool
}

// NewTask creates a one-shot task.
func NewTask(name string, fn func()) *Task {
	return &Task{fn: fn, name: name, index: -1}
}

// NewRepeatingTask creates a task that re-enters the scheduler after every
// run, interval after its previous deadline. An interval of zero makes it an
// instant task that is queued again right after it ran.
func NewRepeatingTask(name string, fn func(), interval time.Duration) *Task {
	return &Task{fn: fn, name: name, interval: interval, repeat: true, index: -1}
}

// Name returns the name given at creation.
func (t *Task) Name() string {
	return t.name
}

// State returns the current execution state.
func (t *Task) State() State {
	return State(t.state.Load())
}

// Deadline returns the deadline of the last scheduling.
func (t *Task) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// Interval returns the repeat interval.
func (t *Task) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// SetInterval changes the repeat interval, effective after the next run.
func (t *Task) SetInterval(d time.Duration) {
	t.mu.Lock()
	t.interval = d
	t.mu.Unlock()
}

// Repeat reports whether the task re-enters the scheduler after each run.
func (t *Task) Repeat() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.repeat
}

// SetRepeat enables or disables repetition. Disabling it while the task runs
// prevents the next repetition.
func (t *Task) SetRepeat(repeat bool) {
	t.mu.Lock()
	t.repeat = repeat
	t.mu.Unlock()
}

func (t *Task) setState(s State) {
	t.state.Store(uint32(s))
}

func (t *Task) casState(from, to State) bool {
	return t.state.CompareAndSwap(uint32(from), uint32(to))
}
