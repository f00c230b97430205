// Package debounce coalesces bursts of change events into single backup runs.
//
// The Coordinator is a three-state machine:
//
//	Idle    --Notify-->             Waiting (arm timer for the quiet period)
//	Waiting --Notify-->             Waiting (re-arm timer for the quiet period)
//	Waiting --timer, quiet-->       Running (invoke the executor)
//	Waiting --timer, not quiet-->   Waiting (re-arm for the remainder)
//	Running --Notify-->             Running (remember the event)
//	Running --done, no events-->    Idle
//	Running --done, events-->       Waiting (arm timer for the quiet period)
//
// All transitions happen under one mutex, which is never held while the
// executor runs, so Notify never blocks.
package debounce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tangthinker/mirrorwatch/internal/backup"
	"github.com/tangthinker/mirrorwatch/internal/logger"
	"github.com/tangthinker/mirrorwatch/internal/metrics"
	"github.com/tangthinker/mirrorwatch/internal/source"
)

// DefaultQuietPeriod is used when no quiet period is configured.
const DefaultQuietPeriod = 5 * time.Second

// ErrClosed is returned by Close when called more than once.
var ErrClosed = errors.New("coordinator closed")

// State is the coordinator state.
type State int

const (
	Idle State = iota
	Waiting
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State         string        `json:"state"`
	QuietPeriod   time.Duration `json:"quiet_period"`
	LastEvent     time.Time     `json:"last_event,omitempty"`
	PendingEvents int           `json:"pending_events"`
	Runs          uint64        `json:"runs"`
}

// Coordinator owns the debounce state and the single in-flight backup.
type Coordinator struct {
	exec    backup.Executor
	quiet   time.Duration
	clock   Clock
	onRun   func(backup.Run)
	metrics *metrics.Metrics

	mu        sync.Mutex
	state     State
	lastEvent time.Time
	dirty     bool   // an event arrived while Running
	pending   int    // events folded into the next run
	timer     Timer  // non-nil only in Waiting
	gen       uint64 // invalidates timers that fire after being replaced
	runs      uint64
	closed    bool
	idle      chan struct{} // closed whenever state is Idle
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithQuietPeriod sets how long events must stop before a backup runs.
func WithQuietPeriod(d time.Duration) Option {
	return func(c *Coordinator) { c.quiet = d }
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithOnRun registers a hook called with every finished run, before the
// coordinator leaves Running.
func WithOnRun(fn func(backup.Run)) Option {
	return func(c *Coordinator) { c.onRun = fn }
}

// WithMetrics records state changes and coalescing.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New creates an idle coordinator.
func New(exec backup.Executor, opts ...Option) *Coordinator {
	c := &Coordinator{
		exec:  exec,
		quiet: DefaultQuietPeriod,
		clock: realClock{},
		idle:  make(chan struct{}),
	}
	close(c.idle)
	for _, opt := range opts {
		opt(c)
	}
	if c.quiet <= 0 {
		c.quiet = DefaultQuietPeriod
	}
	return c
}

// Notify records a change event. It only updates state and arms timers.
func (c *Coordinator) Notify(ev source.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		logger.Debug("Ignoring event after shutdown", "source", ev.Source)
		return
	}
	c.metrics.ObserveEvent(ev.Source)

	c.lastEvent = c.clock.Now()
	c.pending++

	switch c.state {
	case Idle:
		c.idle = make(chan struct{})
		c.setState(Waiting)
		c.arm(c.quiet)
	case Waiting:
		c.arm(c.quiet)
	case Running:
		c.dirty = true
	}
}

// arm replaces any pending timer. Caller must hold mu.
func (c *Coordinator) arm(d time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = c.clock.AfterFunc(d, func() { c.fire(gen) })
}

// setState must be called with mu held.
func (c *Coordinator) setState(s State) {
	c.state = s
	c.metrics.SetState(int(s))
	if s == Idle {
		close(c.idle)
	}
}

// fire runs on the timer goroutine and becomes the run loop when the quiet
// period has elapsed.
func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != Waiting {
		c.mu.Unlock()
		return
	}
	if elapsed := c.clock.Now().Sub(c.lastEvent); elapsed < c.quiet {
		c.arm(c.quiet - elapsed)
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.setState(Running)
	n := c.pending
	c.pending = 0
	c.mu.Unlock()

	c.metrics.ObserveCoalesced(n)
	run := c.execute()
	if c.onRun != nil {
		c.onRun(run)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
	if c.dirty {
		c.dirty = false
		c.setState(Waiting)
		c.arm(c.quiet)
		return
	}
	c.dirty = false
	c.setState(Idle)
}

// execute calls the executor. A panic is turned into a failed run so the
// state machine is always released.
func (c *Coordinator) execute() (run backup.Run) {
	started := c.clock.Now()
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Backup executor panicked", "panic", p)
			run = backup.NewFailedRun(backup.TriggerDebounce, started, c.clock.Now(),
				fmt.Errorf("panic: %v", p))
		}
	}()
	// Shutdown must not abort a backup, so the run gets its own context.
	return c.exec.Run(context.Background(), backup.TriggerDebounce)
}

// AwaitIdle blocks until no timer is pending and no backup is running.
func (c *Coordinator) AwaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits until the coordinator is idle. A
// pending quiet period still ends in a backup, and an in-flight backup is
// never interrupted. If ctx expires first its error is returned and the
// coordinator keeps draining in the background.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	state := c.state
	c.mu.Unlock()

	if state != Idle {
		logger.Info("Waiting for pending backup before shutdown", "state", state.String())
	}
	return c.AwaitIdle(ctx)
}

// Status returns a snapshot of the coordinator.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:         c.state.String(),
		QuietPeriod:   c.quiet,
		LastEvent:     c.lastEvent,
		PendingEvents: c.pending,
		Runs:          c.runs,
	}
}
