// Package supervisor runs the startup backup, feeds change events to the
// debounce coordinator and drains it on shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tangthinker/mirrorwatch/internal/backup"
	"github.com/tangthinker/mirrorwatch/internal/debounce"
	"github.com/tangthinker/mirrorwatch/internal/ipc"
	"github.com/tangthinker/mirrorwatch/internal/logger"
	"github.com/tangthinker/mirrorwatch/internal/metrics"
	"github.com/tangthinker/mirrorwatch/internal/source"
)

// ErrNotReady is returned by Trigger before the startup backup has finished
// or after shutdown has begun.
var ErrNotReady = errors.New("not accepting events")

// Options configures a Supervisor.
type Options struct {
	QuietPeriod time.Duration
	// Schedule is an optional cron expression that injects a change event
	// periodically, e.g. "@every 6h".
	Schedule string
	History  *backup.History
	Metrics  *metrics.Metrics
	Clock    debounce.Clock
}

// Supervisor owns the event loop for one backup target.
type Supervisor struct {
	src      source.Source
	exec     backup.Executor
	coord    *debounce.Coordinator
	history  *backup.History
	metrics  *metrics.Metrics
	schedule string
	ready    atomic.Bool
}

// New wires src and exec through a debounce coordinator.
func New(src source.Source, exec backup.Executor, opts Options) (*Supervisor, error) {
	if opts.Schedule != "" {
		if _, err := cron.ParseStandard(opts.Schedule); err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", opts.Schedule, err)
		}
	}

	history := opts.History
	if history == nil {
		var err error
		if history, err = backup.NewHistory("", 0); err != nil {
			return nil, err
		}
	}

	s := &Supervisor{
		src:      src,
		exec:     exec,
		history:  history,
		metrics:  opts.Metrics,
		schedule: opts.Schedule,
	}

	coordOpts := []debounce.Option{
		debounce.WithQuietPeriod(opts.QuietPeriod),
		debounce.WithOnRun(s.record),
		debounce.WithMetrics(opts.Metrics),
	}
	if opts.Clock != nil {
		coordOpts = append(coordOpts, debounce.WithClock(opts.Clock))
	}
	s.coord = debounce.New(exec, coordOpts...)
	return s, nil
}

// Run blocks until ctx is cancelled or the transport fails. It always
// performs one backup first and always waits for the coordinator to go idle
// before returning. A transport failure is returned; cancellation is not.
func (s *Supervisor) Run(ctx context.Context) error {
	logger.Info("Running startup backup")
	// The startup backup is not tied to ctx so that a signal cannot cut it short.
	s.record(s.exec.Run(context.Background(), backup.TriggerStartup))

	if ctx.Err() != nil {
		s.drain()
		return nil
	}

	sub, err := s.src.Subscribe(ctx)
	if err != nil {
		s.drain()
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribing to %s: %w", s.src.Name(), err)
	}

	sched := s.startSchedule()
	s.ready.Store(true)
	logger.Info("Listening for change events", "source", s.src.Name(), "quiet_period", s.coord.Status().QuietPeriod)

	err = s.consume(ctx, sub)

	s.ready.Store(false)
	if sched != nil {
		<-sched.Stop().Done()
	}
	s.drain()
	if cerr := sub.Close(); cerr != nil {
		logger.Warn("Failed to close subscription", "error", cerr)
	}
	return err
}

func (s *Supervisor) consume(ctx context.Context, sub source.Subscription) error {
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving events from %s: %w", s.src.Name(), err)
		}
		logger.Info("Received change event", "source", ev.Source, "payload", ev.Payload)
		s.coord.Notify(ev)
	}
}

func (s *Supervisor) startSchedule() *cron.Cron {
	if s.schedule == "" {
		return nil
	}
	c := cron.New()
	// already validated in New
	_, _ = c.AddFunc(s.schedule, func() {
		s.coord.Notify(source.Event{
			Source:     "cron",
			Payload:    s.schedule,
			ReceivedAt: time.Now(),
		})
	})
	c.Start()
	logger.Info("Safety-net schedule enabled", "schedule", s.schedule)
	return c
}

// drain waits for a pending or running backup. It never gives up: leaving
// the mirror half-written is worse than a slow exit.
func (s *Supervisor) drain() {
	if err := s.coord.Close(context.Background()); err != nil && !errors.Is(err, debounce.ErrClosed) {
		logger.Error("Failed to drain coordinator", "error", err)
	}
}

// record logs and stores a finished run.
func (s *Supervisor) record(run backup.Run) {
	s.metrics.ObserveRun(run.Trigger, run.Duration(), run.Success(), run.FinishedAt)

	if run.Success() {
		logger.Info("Backup completed",
			"id", run.ID,
			"trigger", run.Trigger,
			"duration", run.Duration(),
			"files", run.Files,
			"bytes", run.Bytes)
	} else {
		logger.Error("Backup failed",
			"id", run.ID,
			"trigger", run.Trigger,
			"duration", run.Duration(),
			"error", run.Err,
			"output", run.Output)
	}

	if err := s.history.Record(run); err != nil {
		logger.Warn("Failed to record backup history", "error", err)
	}
}

// Status implements daemon.Controller.
func (s *Supervisor) Status() ipc.Status {
	st := s.coord.Status()
	return ipc.Status{
		State:         st.State,
		QuietPeriod:   st.QuietPeriod,
		LastEvent:     st.LastEvent,
		PendingEvents: st.PendingEvents,
		Runs:          st.Runs,
		Source:        s.src.Name(),
		Ready:         s.ready.Load(),
	}
}

// Trigger implements daemon.Controller by injecting a manual event.
func (s *Supervisor) Trigger(payload string) error {
	if !s.ready.Load() {
		return ErrNotReady
	}
	s.coord.Notify(source.Event{
		Source:     "manual",
		Payload:    payload,
		ReceivedAt: time.Now(),
	})
	return nil
}

// History implements daemon.Controller.
func (s *Supervisor) History() []backup.Run {
	return s.history.List()
}
