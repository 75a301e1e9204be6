package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ibeckermayer/qckeepalive/internal/logger"
)

// ErrJobRunning is returned by RunNow while the job is already running.
var ErrJobRunning = errors.New("job is already running")

// Job represents a scheduled task
type Job func(ctx context.Context) error

// Scheduler manages periodic tasks. A job never overlaps with itself: a
// tick that arrives while a run is still going is skipped, and RunNow
// refuses with ErrJobRunning.
type Scheduler struct {
	cron       *cron.Cron
	timezone   *time.Location
	jobTimeout time.Duration

	mu      sync.Mutex
	baseCtx context.Context
	jobs    map[string]entry
}

type entry struct {
	id  cron.EntryID
	job Job

	// running is held for the whole run, whether started by a tick or RunNow.
	running *sync.Mutex
}

// parser accepts the standard five fields, an optional leading seconds
// field, and descriptors such as @hourly or @every 30m.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a new scheduler with the given timezone. Each job run gets
// jobTimeout, or no deadline when it is zero.
func New(timezone string, jobTimeout time.Duration) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithParser(parser),
		cron.WithLogger(cronLogger{}),
	)

	return &Scheduler{
		cron:       c,
		timezone:   loc,
		jobTimeout: jobTimeout,
		baseCtx:    context.Background(),
		jobs:       make(map[string]entry),
	}, nil
}

// ValidateSchedule reports whether schedule parses.
func ValidateSchedule(schedule string) error {
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

// AddJob adds a job with a cron schedule
// schedule format: "0 */6 * * *" (every six hours on the hour)
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already scheduled", name)
	}

	running := &sync.Mutex{}
	wrapped := cron.NewChain(cron.Recover(cronLogger{})).Then(cron.FuncJob(func() {
		if !running.TryLock() {
			logger.Info(s.context(), "[scheduler] skipping tick, job still running", zap.String("job", name))
			return
		}
		defer running.Unlock()

		_ = s.run(s.context(), name, job)
	}))

	entryID, err := s.cron.AddJob(schedule, wrapped)
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = entry{id: entryID, job: job, running: running}
	logger.Info(s.baseCtx, "[scheduler] added job",
		zap.String("job", name),
		zap.String("schedule", schedule),
		zap.String("timezone", s.timezone.String()),
	)

	return nil
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.jobs[name]; ok {
		s.cron.Remove(e.id)
		delete(s.jobs, name)
		logger.Info(s.baseCtx, "[scheduler] removed job", zap.String("job", name))
	}
}

// Start begins running scheduled jobs. Job contexts derive from ctx, so
// cancelling it aborts runs in flight.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	logger.Info(ctx, "[scheduler] starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	logger.Info(s.context(), "[scheduler] stopping scheduler")
	return s.cron.Stop()
}

// RunNow immediately executes a registered job in the caller's goroutine.
// Ticks that fire meanwhile are skipped.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}

	if !e.running.TryLock() {
		return fmt.Errorf("%s: %w", name, ErrJobRunning)
	}
	defer e.running.Unlock()

	return s.run(ctx, name, e.job)
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) error {
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}
	ctx = logger.WithFields(ctx, zap.String("job", name))

	logger.Info(ctx, "[scheduler] starting job")
	start := time.Now()

	err := job(ctx)
	if err != nil {
		logger.Error(ctx, "[scheduler] job failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
	} else {
		logger.Info(ctx, "[scheduler] job completed", zap.Duration("elapsed", time.Since(start)))
	}
	return err
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// ListJobs returns info about scheduled jobs
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		ce := s.cron.Entry(e.id)
		if !ce.Valid() {
			continue
		}
		infos = append(infos, JobInfo{
			Name:    name,
			NextRun: ce.Next,
			LastRun: ce.Prev,
		})
	}

	return infos
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}

// cronLogger routes cron's own messages through the context logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Get(context.Background()).Sugar().Debugw("[scheduler] cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Get(context.Background()).Sugar().Errorw("[scheduler] cron: "+msg, append(keysAndValues, "error", err)...)
}
