package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named, scheduled task.
type Job struct {
	name     string
	spec     string
	schedule cron.Schedule
	task     Task
	sched    *Scheduler

	running atomic.Bool

	mu           sync.Mutex
	entryID      cron.EntryID
	active       bool
	lastRun      time.Time
	lastDuration time.Duration
	lastErr      error
	runs         int
}

// Name returns the registered name.
func (j *Job) Name() string {
	return j.name
}

// Run invokes the task once. It returns ErrJobRunning without calling the
// task if a previous invocation has not finished. Panics in the task are
// recovered and returned as errors.
func (j *Job) Run(ctx context.Context) (err error) {
	if !j.running.CompareAndSwap(false, true) {
		j.sched.logger.Warn("job still running, skipping", "job", j.name)
		return fmt.Errorf("%w: %q", ErrJobRunning, j.name)
	}
	defer j.running.Store(false)

	logger := j.sched.logger.With("job", j.name)
	started := time.Now()
	logger.Info("job started", "local_time", started.In(j.sched.loc).Format("2006-01-02 15:04:05 MST"))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %q panicked: %v", j.name, r)
			logger.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
		}
		elapsed := time.Since(started)

		j.mu.Lock()
		j.lastRun = started
		j.lastDuration = elapsed
		j.lastErr = err
		j.runs++
		j.mu.Unlock()

		if err != nil {
			logger.Error("job failed", "duration", elapsed, "error", err)
			return
		}
		logger.Info("job completed", "duration", elapsed)
	}()

	return j.task(ctx)
}

// Start adds the job to the cron loop. Starting an active job is a no-op.
func (j *Job) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.active {
		return nil
	}
	j.entryID = j.sched.cron.Schedule(j.schedule, cron.FuncJob(func() {
		// Errors are logged by Run.
		_ = j.Run(j.sched.runCtx)
	}))
	j.active = true
	return nil
}

// Stop removes the job from the cron loop. A run in progress completes.
func (j *Job) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.active {
		return
	}
	j.sched.cron.Remove(j.entryID)
	j.active = false
}

// Next returns the next fire time after now.
func (j *Job) Next(now time.Time) time.Time {
	return j.schedule.Next(now.In(j.sched.loc))
}

func (j *Job) status(now time.Time) Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := Status{
		Name:         j.name,
		Schedule:     j.spec,
		Active:       j.active,
		Running:      j.running.Load(),
		Next:         j.schedule.Next(now),
		LastRun:      j.lastRun,
		LastDuration: j.lastDuration,
		Runs:         j.runs,
	}
	if j.lastErr != nil {
		st.LastError = j.lastErr.Error()
	}
	return st
}
