package daemon

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-co-op/gocron/v2"

	"github.com/antigravity-ops/agctl/internal/logfields"
)

// Scheduler wraps gocron for the daemon's periodic jobs. Today that is the
// maintenance pass only, but the wrapper keeps job handles so schedules can
// be swapped on config reload.
type Scheduler struct {
	scheduler gocron.Scheduler

	mu             sync.Mutex
	maintenanceJob gocron.Job
}

// NewScheduler creates a scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

// ScheduleMaintenance registers the maintenance task at the given cron
// expression.
func (s *Scheduler) ScheduleMaintenance(schedule string, task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.scheduler.NewJob(
		gocron.CronJob(schedule, false),
		gocron.NewTask(task),
		gocron.WithName("maintenance"),
	)
	if err != nil {
		return fmt.Errorf("schedule maintenance %q: %w", schedule, err)
	}
	s.maintenanceJob = job
	slog.Debug("Maintenance job scheduled", logfields.Schedule(schedule), "job_id", job.ID().String())
	return nil
}

// RescheduleMaintenance replaces the maintenance job with a new schedule.
func (s *Scheduler) RescheduleMaintenance(schedule string, task func()) error {
	s.mu.Lock()
	old := s.maintenanceJob
	s.mu.Unlock()

	if old != nil {
		if err := s.scheduler.RemoveJob(old.ID()); err != nil {
			return fmt.Errorf("remove maintenance job: %w", err)
		}
	}
	return s.ScheduleMaintenance(schedule, task)
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for running jobs to finish.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
