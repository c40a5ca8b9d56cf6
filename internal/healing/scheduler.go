package healing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"fleetguard/internal/telemetry"
)

// DefaultTaskTimeout bounds a single scheduled run.
const DefaultTaskTimeout = 30 * time.Minute

type TaskFunc func(ctx context.Context) error

// Scheduler runs named tasks on cron expressions or fixed intervals. A task
// whose previous run is still in flight is skipped, never run in parallel.
type Scheduler struct {
	cron    *cron.Cron
	log     *slog.Logger
	tasks   map[string]cron.EntryID
	mu      sync.RWMutex
	running bool
	timeout time.Duration
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	cl := cronLogger{log: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     logger,
		tasks:   make(map[string]cron.EntryID),
		timeout: DefaultTaskTimeout,
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.log.Info("scheduler started", "tasks", len(s.tasks))
}

// Stop stops triggering new runs and waits for in-flight ones until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timeout")
	}
	s.running = false
}

func (s *Scheduler) AddCronTask(name, schedule string, task TaskFunc) error {
	if schedule == "" {
		return errors.New("empty cron schedule")
	}
	return s.add(name, schedule, task)
}

func (s *Scheduler) AddIntervalTask(name string, interval time.Duration, task TaskFunc) error {
	if interval <= 0 {
		return errors.New("interval must be positive")
	}
	return s.add(name, "@every "+interval.String(), task)
}

// add replaces any task already registered under name.
func (s *Scheduler) add(name, schedule string, task TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.tasks[name]; ok {
		s.cron.Remove(id)
		delete(s.tasks, name)
	}
	id, err := s.cron.AddJob(schedule, cron.FuncJob(func() { s.runTask(name, task) }))
	if err != nil {
		return err
	}
	s.tasks[name] = id
	s.log.Info("scheduled task", "name", name, "schedule", schedule)
	return nil
}

func (s *Scheduler) RemoveTask(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tasks[name]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.tasks, name)
	s.log.Info("removed task", "name", name)
	return true
}

func (s *Scheduler) HasTask(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tasks[name]
	return ok
}

// Next reports when name runs next. It is false for unknown tasks and before
// the scheduler has been started.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tasks[name]
	if !ok {
		return time.Time{}, false
	}
	e := s.cron.Entry(id)
	if e.Next.IsZero() {
		return time.Time{}, false
	}
	return e.Next, true
}

type TaskInfo struct {
	Name    string    `json:"name"`
	NextRun time.Time `json:"next_run"`
	PrevRun time.Time `json:"prev_run,omitempty"`
}

func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for name, id := range s.tasks {
		e := s.cron.Entry(id)
		out = append(out, TaskInfo{Name: name, NextRun: e.Next, PrevRun: e.Prev})
	}
	return out
}

func (s *Scheduler) runTask(name string, task TaskFunc) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := task(ctx); err != nil {
		s.log.Error("scheduled task failed", "name", name, "err", err, "duration", time.Since(start))
		return
	}
	s.log.Debug("scheduled task completed", "name", name, "duration", time.Since(start))
}

// cronLogger routes cron's own logging into slog and counts skipped runs.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	if msg == "skip" {
		telemetry.ScheduledRunsSkipped.WithLabelValues("cron").Inc()
		l.log.Warn("scheduled run skipped, previous run still in flight")
		return
	}
	l.log.Debug("cron "+msg, kv...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron "+msg, append(kv, "err", err)...)
}
