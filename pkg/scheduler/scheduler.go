package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/igorsilveira/tourwatch/pkg/telemetry"
)

type Job struct {
	Name     string
	Schedule string
	Func     func(ctx context.Context) error
}

// JobStatus is a point-in-time view of a registered job.
type JobStatus struct {
	Name    string    `json:"name"`
	Next    time.Time `json:"next"`
	LastRun time.Time `json:"last_run,omitempty"`
	LastErr string    `json:"last_error,omitempty"`
}

type Scheduler struct {
	jobs    []*entry
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type entry struct {
	job      Job
	interval time.Duration
	next     time.Time
	lastRun  time.Time
	lastErr  string
	busy     bool
}

func New() *Scheduler {
	return &Scheduler{
		stopCh: make(chan struct{}),
	}
}

func (s *Scheduler) Add(job Job) error {
	if job.Func == nil {
		return fmt.Errorf("scheduler: job %q has no func", job.Name)
	}
	interval, err := parseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", job.Schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.jobs {
		if e.job.Name == job.Name {
			return fmt.Errorf("scheduler: duplicate job %q", job.Name)
		}
	}
	s.jobs = append(s.jobs, &entry{
		job:      job,
		interval: interval,
		next:     time.Now().Add(interval),
	})
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	n := len(s.jobs)
	s.mu.Unlock()

	logger := telemetry.FromContext(ctx)
	logger.Info("scheduler started", slog.Int("jobs", n))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-s.stopCh:
			s.wg.Wait()
			return
		case now := <-ticker.C:
			s.tick(ctx, now, logger)
		}
	}
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		close(s.stopCh)
		s.running = false
	}
}

// RunNow runs the named job synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var target *entry
	for _, e := range s.jobs {
		if e.job.Name == name {
			target = e
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	s.mu.Unlock()

	return s.run(ctx, target, telemetry.FromContext(ctx))
}

func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, JobStatus{
			Name:    e.job.Name,
			Next:    e.next,
			LastRun: e.lastRun,
			LastErr: e.lastErr,
		})
	}
	return out
}

func (s *Scheduler) tick(ctx context.Context, now time.Time, logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.jobs {
		if now.Before(e.next) || e.busy {
			continue
		}

		e.next = now.Add(e.interval)
		s.wg.Add(1)
		go func(e *entry) {
			defer s.wg.Done()
			s.run(ctx, e, logger)
		}(e)
	}
}

func (s *Scheduler) run(ctx context.Context, e *entry, logger *slog.Logger) error {
	s.mu.Lock()
	if e.busy {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: job %q already running", e.job.Name)
	}
	e.busy = true
	s.mu.Unlock()

	logger.Debug("scheduler: running job", slog.String("job", e.job.Name))
	err := e.job.Func(ctx)

	s.mu.Lock()
	e.busy = false
	e.lastRun = time.Now()
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		telemetry.Metrics.JobRuns.WithLabelValues(e.job.Name, "error").Inc()
		logger.Error("scheduler: job failed",
			slog.String("job", e.job.Name),
			slog.String("err", err.Error()),
		)
		return err
	}
	telemetry.Metrics.JobRuns.WithLabelValues(e.job.Name, "ok").Inc()
	return nil
}

func parseSchedule(s string) (time.Duration, error) {
	var d time.Duration
	var err error
	switch s {
	case "@hourly":
		return time.Hour, nil
	case "@daily":
		return 24 * time.Hour, nil
	case "@weekly":
		return 7 * 24 * time.Hour, nil
	}

	if len(s) > 7 && s[:7] == "@every " {
		d, err = time.ParseDuration(s[7:])
	} else {
		d, err = time.ParseDuration(s)
	}
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %s", d)
	}
	return d, nil
}
