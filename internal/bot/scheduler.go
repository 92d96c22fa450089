package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// TaskFunc is one scheduled background task.
type TaskFunc func(ctx context.Context) error

// Task pairs a task function with its gocron job definition.
type Task struct {
	Definition gocron.JobDefinition
	Run        TaskFunc
}

// Scheduler runs the recurring background tasks: the archive drain,
// the game session sweep, and daily database maintenance.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	tasks     map[string]Task

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler for the given named tasks.
func NewScheduler(logger *slog.Logger, tasks map[string]Task) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		logger:    logger.With("component", "scheduler"),
		tasks:     tasks,
	}, nil
}

// Start registers all tasks and starts the scheduler's ticking.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	for name, task := range s.tasks {
		_, err := s.scheduler.NewJob(
			task.Definition,
			gocron.NewTask(s.wrap(name, task.Run), context.Background()),
			gocron.WithName(name),
			// A slow drain or sweep must not stack on itself.
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule task %s: %w", name, err)
		}
		s.logger.Debug("Scheduled task", "task_name", name)
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler started", "tasks", len(s.tasks))
	return nil
}

// wrap adds logging and duration accounting around a task run.
func (s *Scheduler) wrap(name string, run TaskFunc) func(ctx context.Context) {
	return func(ctx context.Context) {
		start := time.Now()
		if err := run(ctx); err != nil {
			s.logger.Error("Scheduled task failed",
				"task_name", name, "duration", time.Since(start), "error", err)
			return
		}
		s.logger.Debug("Scheduled task finished",
			"task_name", name, "duration", time.Since(start))
	}
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if err := s.scheduler.Shutdown(); err != nil {
		s.running = false
		return fmt.Errorf("scheduler shutdown failed: %w", err)
	}

	s.running = false
	s.logger.Info("Scheduler stopped")
	return nil
}
