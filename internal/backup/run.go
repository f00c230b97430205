// Package backup runs the mirror action and keeps a record of past runs.
package backup

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Triggers recorded on a Run.
const (
	TriggerStartup  = "startup"
	TriggerDebounce = "debounce"
)

// maxOutput bounds the captured command output kept on a Run.
const maxOutput = 64 << 10

// Run is the record of one backup execution.
type Run struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Output     string    `json:"output,omitempty"`
	Err        string    `json:"error,omitempty"`
	Files      int       `json:"files"`
	Bytes      int64     `json:"bytes"`
}

// Success reports whether the run completed without error.
func (r Run) Success() bool { return r.Err == "" }

// Duration returns the wall time of the run.
func (r Run) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Executor performs the backup action. Failures are reported on the Run,
// never retried. Run may block for as long as the action takes.
type Executor interface {
	Run(ctx context.Context, trigger string) Run
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, trigger string) Run

// Run calls f.
func (f ExecutorFunc) Run(ctx context.Context, trigger string) Run { return f(ctx, trigger) }

func newRun(trigger string) Run {
	return Run{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now(),
	}
}

// NewFailedRun records a run that ended without producing its own record,
// e.g. because the executor panicked.
func NewFailedRun(trigger string, startedAt, finishedAt time.Time, err error) Run {
	r := newRun(trigger)
	r.StartedAt = startedAt
	r.finish("", err)
	r.FinishedAt = finishedAt
	return r
}

func (r *Run) finish(output string, err error) {
	r.FinishedAt = time.Now()
	if len(output) > maxOutput {
		cut := len(output) - maxOutput
		for cut < len(output) && !utf8.RuneStart(output[cut]) {
			cut++
		}
		output = "...\n" + output[cut:]
	}
	r.Output = output
	if err != nil {
		r.Err = err.Error()
	}
}
