// Package housekeeping runs periodic maintenance of admission state:
// pruning old quota rows and admission events, and sweeping expired
// in-memory counters.
package housekeeping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
)

// Job is one maintenance task. It returns how many records it removed.
type Job func(ctx context.Context) (int64, error)

type entry struct {
	name string
	spec string
	job  Job
}

// Scheduler runs registered jobs on cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	logger  hclog.Logger
	timeout time.Duration

	mu      sync.Mutex
	entries []entry
	running bool
}

func NewScheduler(logger hclog.Logger) *Scheduler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Scheduler{
		cron:    cron.New(),
		logger:  logger.Named("housekeeping"),
		timeout: time.Minute,
	}
}

// Register adds a job under a standard cron expression or a descriptor
// such as "@every 1m". An empty spec disables the job.
func (s *Scheduler) Register(spec, name string, job Job) error {
	if spec == "" {
		s.logger.Info("job disabled, no schedule", "job", name)
		return nil
	}

	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}

	e := entry{name: name, spec: spec, job: job}
	if _, err := s.cron.AddFunc(spec, func() { s.run(context.Background(), e) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}

	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()

	s.logger.Debug("job registered", "job", name, "schedule", e.spec)
	return nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", "jobs", len(s.entries))
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunAll runs every registered job once, in registration order.
func (s *Scheduler) RunAll(ctx context.Context) {
	s.mu.Lock()
	entries := append([]entry(nil), s.entries...)
	s.mu.Unlock()

	for _, e := range entries {
		s.run(ctx, e)
	}
}

func (s *Scheduler) run(ctx context.Context, e entry) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	removed, err := e.job(ctx)
	if err != nil {
		s.logger.Error("job failed", "job", e.name, "error", err)
		return
	}

	if removed > 0 {
		s.logger.Info("job completed", "job", e.name, "removed", removed)
	} else {
		s.logger.Debug("job completed, nothing removed", "job", e.name)
	}
}
