// Package scheduler fires named tasks at fixed local times of day (daily or
// monthly) in one operating timezone.
//
// Each registered job returns a *Job handle. Job.Run is the single entry
// point used by cron firings and by manual triggers, and it never runs the
// task twice at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrDuplicateJob is returned when a job name is registered twice.
	ErrDuplicateJob = errors.New("scheduler: duplicate job name")

	// ErrJobRunning is returned by Job.Run while a previous invocation of
	// the same job is still in progress.
	ErrJobRunning = errors.New("scheduler: job already running")
)

// Task is the work a job performs. A returned error is logged; it never
// stops the scheduler or later firings.
type Task func(ctx context.Context) error

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source used for next-fire reporting.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler owns a cron instance bound to one location.
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time

	runCtx    context.Context
	cancelRun context.CancelFunc

	mu       sync.Mutex
	jobs     map[string]*Job
	started  bool
	stopOnce sync.Once
}

// New creates a scheduler firing in loc. A nil loc means UTC and a nil
// logger means slog.Default().
func New(loc *time.Location, logger *slog.Logger, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		parser:    parser,
		loc:       loc,
		logger:    logger,
		now:       time.Now,
		runCtx:    runCtx,
		cancelRun: cancel,
		jobs:      make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{logger: logger}),
	)
	return s
}

// Location returns the operating location.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// RegisterDaily registers task to fire every day at hour:minute local time.
func (s *Scheduler) RegisterDaily(name string, hour, minute int, task Task) (*Job, error) {
	if err := validateClock(hour, minute); err != nil {
		return nil, fmt.Errorf("register %q: %w", name, err)
	}
	return s.register(name, fmt.Sprintf("%d %d * * *", minute, hour), task)
}

// RegisterMonthly registers task to fire on dayOfMonth at hour:minute local
// time. dayOfMonth is limited to 1..28 so every month has the day.
func (s *Scheduler) RegisterMonthly(name string, dayOfMonth, hour, minute int, task Task) (*Job, error) {
	if dayOfMonth < 1 || dayOfMonth > 28 {
		return nil, fmt.Errorf("register %q: day of month %d outside 1..28", name, dayOfMonth)
	}
	if err := validateClock(hour, minute); err != nil {
		return nil, fmt.Errorf("register %q: %w", name, err)
	}
	return s.register(name, fmt.Sprintf("%d %d %d * *", minute, hour, dayOfMonth), task)
}

func (s *Scheduler) register(name, spec string, task Task) (*Job, error) {
	if name == "" {
		return nil, errors.New("register: empty job name")
	}
	if task == nil {
		return nil, fmt.Errorf("register %q: nil task", name)
	}
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("register %q: invalid schedule %q: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateJob, name)
	}
	j := &Job{name: name, spec: spec, schedule: schedule, task: task, sched: s}
	s.jobs[name] = j
	s.logger.Info("scheduler: registered job", "job", name, "schedule", spec, "location", s.loc.String())
	return j, nil
}

// Job returns the job registered under name.
func (s *Scheduler) Job(name string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	return j, ok
}

// StartAll activates every registered job and starts the cron loop.
func (s *Scheduler) StartAll() error {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.started = true
	s.mu.Unlock()

	for _, j := range jobs {
		if err := j.Start(); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(jobs))
	return nil
}

// StopAll stops firing, cancels the context handed to running tasks and
// waits for them to return or for ctx to end. Safe to call multiple times.
func (s *Scheduler) StopAll(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("scheduler stopping")
		stopCtx := s.cron.Stop()
		s.cancelRun()
		select {
		case <-stopCtx.Done():
			s.logger.Info("scheduler stopped")
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

// Status describes a job for listings.
type Status struct {
	Name         string        `json:"name"`
	Schedule     string        `json:"schedule"`
	Active       bool          `json:"active"`
	Running      bool          `json:"running"`
	Next         time.Time     `json:"next"`
	LastRun      time.Time     `json:"last_run,omitzero"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	Runs         int           `json:"runs"`
}

// Jobs lists every job ordered by name.
func (s *Scheduler) Jobs() []Status {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	now := s.now().In(s.loc)
	out := make([]Status, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.status(now))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func validateClock(hour, minute int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("hour %d outside 0..23", hour)
	}
	if minute < 0 || minute > 59 {
		return fmt.Errorf("minute %d outside 0..59", minute)
	}
	return nil
}

// cronLogger routes robfig/cron's logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
