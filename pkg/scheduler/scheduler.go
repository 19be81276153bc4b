// Package scheduler runs functions after a delay. The maintainer uses it to
// schedule discovery passes; tests swap in a ManualScheduler to drive time.
package scheduler

import (
	"sync"
	"time"
)

// Handle refers to a scheduled task.
type Handle interface {
	// Cancel prevents the task from running. It reports whether the task was
	// still pending.
	Cancel() bool
}

// Scheduler runs fn once after delay.
type Scheduler interface {
	ScheduleAfter(delay time.Duration, fn func()) Handle
}

// TimerScheduler schedules tasks on runtime timers. The zero value is ready
// to use.
type TimerScheduler struct{}

// NewTimerScheduler returns a Scheduler backed by time.AfterFunc.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{}
}

func (TimerScheduler) ScheduleAfter(delay time.Duration, fn func()) Handle {
	if delay < 0 {
		delay = 0
	}
	return timerHandle{time.AfterFunc(delay, fn)}
}

type timerHandle struct {
	t *time.Timer
}

func (h timerHandle) Cancel() bool {
	return h.t.Stop()
}

// ManualScheduler queues tasks until the caller runs them. It records every
// requested delay in order.
type ManualScheduler struct {
	mu      sync.Mutex
	pending []*manualTask
	delays  []time.Duration
}

type manualTask struct {
	s     *ManualScheduler
	delay time.Duration
	fn    func()
}

// NewManualScheduler creates an empty ManualScheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (m *ManualScheduler) ScheduleAfter(delay time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	task := &manualTask{s: m, delay: delay, fn: fn}
	m.pending = append(m.pending, task)
	m.delays = append(m.delays, delay)
	return task
}

func (t *manualTask) Cancel() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for i, p := range t.s.pending {
		if p == t {
			t.s.pending = append(t.s.pending[:i], t.s.pending[i+1:]...)
			return true
		}
	}
	return false
}

// RunNext runs the oldest pending task on the calling goroutine. It reports
// false when nothing is pending.
func (m *ManualScheduler) RunNext() bool {
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		return false
	}
	task := m.pending[0]
	m.pending = m.pending[1:]
	m.mu.Unlock()

	task.fn()
	return true
}

// Pending returns the number of queued tasks.
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// NextDelay returns the delay of the oldest pending task.
func (m *ManualScheduler) NextDelay() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return 0, false
	}
	return m.pending[0].delay, true
}

// Delays returns every delay requested so far.
func (m *ManualScheduler) Delays() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.delays...)
}
