// Package scheduler runs the engine's background jobs on fixed intervals.
// Today that is the idle session reaper; the scheduler itself is generic.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neuroswitch/progression-engine/internal/infrastructure/metrics"
	"github.com/neuroswitch/progression-engine/pkg/logger"
)

// Job is one unit of background work. The context passed to Run is
// cancelled on Stop or when the run exceeds the job timeout.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Schedule returns the next run time after t.
type Schedule interface {
	Next(t time.Time) time.Time
	String() string
}

// Every is a Schedule that runs a job at a fixed interval. Non-positive
// values run once a minute.
type Every time.Duration

// Next returns t plus the interval.
func (e Every) Next(t time.Time) time.Time {
	return t.Add(e.interval())
}

func (e Every) String() string {
	return fmt.Sprintf("@every %s", e.interval())
}

func (e Every) interval() time.Duration {
	if e <= 0 {
		return time.Minute
	}
	return time.Duration(e)
}

var (
	ErrNilJob                  = errors.New("scheduler: job is nil")
	ErrNilSchedule             = errors.New("scheduler: schedule is nil")
	ErrJobAlreadyExists        = errors.New("scheduler: job already registered")
	ErrSchedulerAlreadyRunning = errors.New("scheduler: already running")
	ErrSchedulerNotRunning     = errors.New("scheduler: not running")
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the Scheduler.
type Config struct {
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	// JobTimeout bounds a single run (default: 1m).
	JobTimeout time.Duration
}

type entry struct {
	job      Job
	schedule Schedule
}

// Scheduler runs each registered job in its own goroutine. A job never
// overlaps with itself: the next run is planned after the current one ends.
type Scheduler struct {
	log        *logger.Logger
	metrics    *metrics.Metrics
	jobTimeout time.Duration

	mu      sync.Mutex
	jobs    []entry
	names   map[string]struct{}
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	return &Scheduler{
		log:        cfg.Logger.With(logger.Component("scheduler")),
		metrics:    cfg.Metrics,
		jobTimeout: cfg.JobTimeout,
		names:      make(map[string]struct{}),
	}
}

// Register adds a job. Jobs must be registered before Start.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	name := job.Name()
	if _, ok := s.names[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	s.names[name] = struct{}{}
	s.jobs = append(s.jobs, entry{job: job, schedule: schedule})

	s.log.Info("job registered",
		logger.String("job", name),
		logger.String("schedule", schedule.String()),
	)
	return nil
}

// Start launches the job loops. They stop with ctx or Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for _, e := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, e)
	}

	s.log.Info("scheduler started", logger.Int("jobs_count", len(s.jobs)))
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	defer s.wg.Done()

	timer := time.NewTimer(time.Until(e.schedule.Next(time.Now())))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.execute(ctx, e.job)
		timer.Reset(time.Until(e.schedule.Next(time.Now())))
	}
}

// execute runs a job under the job timeout and records the outcome.
func (s *Scheduler) execute(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.log.Error("job failed",
			logger.String("job", job.Name()),
			logger.Duration("duration", elapsed),
			logger.Err(err),
		)
	} else {
		s.log.Debug("job completed",
			logger.String("job", job.Name()),
			logger.Duration("duration", elapsed),
		)
	}
	s.metrics.JobRun(job.Name(), outcome, elapsed)
}
