package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/soundprediction/go-timeline/pkg/events"
	"github.com/soundprediction/go-timeline/pkg/metrics"
	"github.com/soundprediction/go-timeline/pkg/scheduler"
	"github.com/soundprediction/go-timeline/pkg/utils"
)

// State is the lifecycle state of a Maintainer.
type State int

const (
	StateIdle State = iota
	StateScheduled
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Discoverer runs one discovery pass.
type Discoverer interface {
	Discover(ctx context.Context) (*WorkSession, error)
}

// RunResult describes the most recent discovery pass.
type RunResult struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	IntervalID string        `json:"interval_id,omitempty"`
	Days       int           `json:"days"`
	Outcome    string        `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	NextDelay  time.Duration `json:"next_delay"`
}

// MaintainerOptions configures a Maintainer.
type MaintainerOptions struct {
	// WorkDelay follows a pass that linked an interval.
	WorkDelay time.Duration
	// IdleDelay follows a pass that found no work or failed.
	IdleDelay time.Duration
	Scheduler scheduler.Scheduler
	Logger    *slog.Logger
}

// Maintainer drives discovery passes. It waits for the store availability
// signal, then runs passes forever: a short delay after a pass that found
// work, a long one otherwise.
type Maintainer struct {
	discoverer Discoverer
	sched      scheduler.Scheduler
	workDelay  time.Duration
	idleDelay  time.Duration
	logger     *slog.Logger

	mu        sync.Mutex
	state     State
	handle    scheduler.Handle
	available events.Subscription
	nextRun   time.Time
	last      *RunResult
	ctx       context.Context
	cancel    context.CancelFunc
	stopped   bool
}

// NewMaintainer creates an idle Maintainer.
func NewMaintainer(d Discoverer, opts MaintainerOptions) *Maintainer {
	if opts.WorkDelay <= 0 {
		opts.WorkDelay = utils.DefaultWorkDelay
	}
	if opts.IdleDelay <= 0 {
		opts.IdleDelay = utils.DefaultIdleDelay
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.NewTimerScheduler()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintainer{
		discoverer: d,
		sched:      opts.Scheduler,
		workDelay:  opts.WorkDelay,
		idleDelay:  opts.IdleDelay,
		logger:     logger,
		state:      StateIdle,
	}
}

// Start subscribes to the store availability signal. The first pass is
// scheduled after the work delay once the signal arrives. Passes run under
// ctx until Stop.
func (m *Maintainer) Start(ctx context.Context, bus events.Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.available != nil || m.stopped {
		return
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.available = bus.SubscribeOnce(events.TopicStoreAvailable, func(context.Context, events.Event) {
		m.logger.Info("Graph store found, starting discovery", "delay", m.workDelay)
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.state == StateIdle {
			m.scheduleLocked(m.workDelay)
		}
	})
}

// Stop cancels the pending pass and the availability subscription. A
// running pass sees its context canceled.
func (m *Maintainer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	if m.handle != nil {
		m.handle.Cancel()
		m.handle = nil
	}
	if m.available != nil {
		m.available.Cancel()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.state = StateIdle
}

// State returns the current lifecycle state.
func (m *Maintainer) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NextRun returns when the next pass is due. It is zero unless a pass is
// scheduled.
func (m *Maintainer) NextRun() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateScheduled {
		return time.Time{}
	}
	return m.nextRun
}

// LastRun returns the result of the most recent pass.
func (m *Maintainer) LastRun() (RunResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return RunResult{}, false
	}
	return *m.last, true
}

// RunOnce runs a single discovery pass on the calling goroutine without
// touching the schedule.
func (m *Maintainer) RunOnce(ctx context.Context) (*WorkSession, error) {
	started := time.Now()
	session, err := m.discoverer.Discover(ctx)

	result := &RunResult{
		StartedAt: started,
		Duration:  time.Since(started),
		Outcome:   outcome(err),
		NextDelay: m.delayAfter(err),
	}
	if session != nil {
		result.IntervalID = session.IntervalID
		result.Days = len(session.Days)
	}
	if err != nil {
		result.Error = err.Error()
	}

	m.mu.Lock()
	m.last = result
	m.mu.Unlock()
	return session, err
}

func (m *Maintainer) delayAfter(err error) time.Duration {
	if err == nil {
		return m.workDelay
	}
	return m.idleDelay
}

func (m *Maintainer) run() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.state = StateRunning
	m.handle = nil
	ctx := m.ctx
	m.mu.Unlock()

	session, err := m.RunOnce(ctx)
	delay := m.delayAfter(err)

	switch {
	case err == nil:
		m.logger.Debug("Discovery pass linked an interval", "interval", session.IntervalID, "delay", delay)
	case errors.Is(err, ErrNoWork):
		m.logger.Debug("No unlinked intervals", "delay", delay)
	case IsCanceled(err):
		m.logger.Debug("Discovery pass canceled")
	default:
		m.logger.Error("Discovery pass failed", "error", err, "delay", delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.scheduleLocked(delay)
}

func (m *Maintainer) scheduleLocked(delay time.Duration) {
	m.state = StateScheduled
	m.nextRun = time.Now().Add(delay)
	metrics.NextDelay.Set(delay.Seconds())
	m.handle = m.sched.ScheduleAfter(delay, m.run)
}
