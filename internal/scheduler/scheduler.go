// Package scheduler drives recurring work (flux polls, archival) on cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// FuncJob adapts a function to Job.
type FuncJob struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncJob names fn as a job.
func NewFuncJob(name string, fn func(ctx context.Context) error) *FuncJob {
	return &FuncJob{name: name, fn: fn}
}

func (j *FuncJob) Name() string { return j.name }
func (j *FuncJob) Run(ctx context.Context) error { return j.fn(ctx) }

// EntryInfo describes a registered job.
type EntryInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev"`
}

// Scheduler wraps a seconds-resolution cron. A job never overlaps itself;
// a run that is still in flight when its next activation fires is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.RWMutex
	ctx     context.Context
	entries map[cron.EntryID]EntryInfo
}

// New creates a stopped scheduler.
func New(logger *slog.Logger) *Scheduler {
	logger = logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		ctx:     context.Background(),
		entries: make(map[cron.EntryID]EntryInfo),
	}
}

// AddJob registers job on a cron spec ("0 */5 * * * *", "@hourly",
// "@every 30s").
func (s *Scheduler) AddJob(schedule string, job Job) error {
	id, err := s.cron.AddFunc(schedule, func() {
		s.runJob(s.runContext(), job)
	})
	if err != nil {
		return fmt.Errorf("scheduler: add job %s (%q): %w", job.Name(), schedule, err)
	}

	s.mu.Lock()
	s.entries[id] = EntryInfo{Name: job.Name(), Schedule: schedule}
	s.mu.Unlock()

	s.logger.Info("scheduler: job registered",
		slog.String("job", job.Name()),
		slog.String("schedule", schedule),
	)
	return nil
}

// Every registers job at a fixed interval.
func (s *Scheduler) Every(interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: job %s: interval must be positive", job.Name())
	}
	return s.AddJob("@every "+interval.String(), job)
}

// Run starts the cron and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler: started", slog.Int("jobs", len(s.cron.Entries())))

	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("scheduler: stopped")
	return nil
}

// RunNow executes job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	s.logger.Info("scheduler: running job immediately", slog.String("job", job.Name()))
	return job.Run(ctx)
}

// Entries lists registered jobs ordered by name.
func (s *Scheduler) Entries() []EntryInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EntryInfo, 0, len(s.entries))
	for id, info := range s.entries {
		e := s.cron.Entry(id)
		info.Next = e.Next
		info.Prev = e.Prev
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) runContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	start := time.Now()
	s.logger.Debug("scheduler: running job", slog.String("job", job.Name()))
	if err := job.Run(ctx); err != nil {
		s.logger.Error("scheduler: job failed",
			slog.String("job", job.Name()),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("scheduler: job completed",
		slog.String("job", job.Name()),
		slog.Duration("elapsed", time.Since(start)),
	)
}
