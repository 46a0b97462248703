package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/clever-backtest/internal/backtest"
	"github.com/yourusername/clever-backtest/internal/config"
	"github.com/yourusername/clever-backtest/internal/models"
)

// Submitter queues backtests; backtest.Manager implements it
type Submitter interface {
	Submit(cfg backtest.RunConfig) (uuid.UUID, error)
}

// Scheduler submits recurring backtests on cron schedules
type Scheduler struct {
	cron      *cron.Cron
	submitter Submitter
	defaults  backtest.RunConfig
	logger    *logrus.Logger
	mu        sync.RWMutex
	isRunning bool
	jobs      map[string]cron.EntryID
	now       func() time.Time
}

// NewScheduler creates a scheduler. defaults supplies the cost model and
// capital of every scheduled run.
func NewScheduler(submitter Submitter, defaults backtest.RunConfig, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		submitter: submitter,
		defaults:  defaults,
		logger:    logger,
		jobs:      make(map[string]cron.EntryID),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ScheduleJob registers a recurring backtest
func (s *Scheduler) ScheduleJob(job config.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("cannot schedule job while scheduler is running")
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already scheduled", job.Name)
	}
	if job.LookbackDays <= 0 {
		return fmt.Errorf("job %q: lookback_days must be positive", job.Name)
	}

	entryID, err := s.cron.AddFunc(job.Cron, func() {
		if _, err := s.submit(job, s.now()); err != nil {
			s.logger.WithError(err).WithField("job", job.Name).Error("Scheduled backtest submission failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add job %q: %w", job.Name, err)
	}

	s.jobs[job.Name] = entryID
	s.logger.WithFields(logrus.Fields{
		"job":      job.Name,
		"cron":     job.Cron,
		"strategy": job.StrategyID,
	}).Info("Scheduled recurring backtest")
	return nil
}

// RunConfigFor builds the run a job submits when triggered at the given time
func (s *Scheduler) RunConfigFor(job config.ScheduledJob, at time.Time) backtest.RunConfig {
	cfg := s.defaults
	end := models.DateOnly(at)
	cfg.StrategyID = job.StrategyID
	cfg.Securities = append([]string(nil), job.Securities...)
	cfg.StartDate = end.AddDate(0, 0, -job.LookbackDays)
	cfg.EndDate = end
	cfg.Parameters = job.Parameters
	return cfg
}

func (s *Scheduler) submit(job config.ScheduledJob, at time.Time) (uuid.UUID, error) {
	id, err := s.submitter.Submit(s.RunConfigFor(job, at))
	if err != nil {
		return uuid.Nil, err
	}
	s.logger.WithFields(logrus.Fields{"job": job.Name, "run_id": id}).Info("Submitted scheduled backtest")
	return id, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if len(s.jobs) == 0 {
		return fmt.Errorf("no jobs scheduled")
	}

	s.cron.Start()
	s.isRunning = true
	s.logger.WithField("jobs", len(s.jobs)).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running submissions to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	<-s.cron.Stop().Done()
	s.isRunning = false
	s.logger.Info("Scheduler stopped")
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// NextRuns returns the next trigger time of every job while running
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next := make(map[string]time.Time, len(s.jobs))
	if !s.isRunning {
		return next
	}
	for name, id := range s.jobs {
		if entry := s.cron.Entry(id); entry.Valid() {
			next[name] = entry.Next
		}
	}
	return next
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("cannot remove job while scheduler is running")
	}
	id, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("job %q: %w", name, models.ErrNotFound)
	}
	s.cron.Remove(id)
	delete(s.jobs, name)
	return nil
}
