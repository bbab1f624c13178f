// Package scheduler turns monitored searches into queued scrape tasks
// on fixed cron cadences.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/ternarybob/praedium/internal/queue"
)

// maxJitter spreads scheduled enqueues so every monitor on the same
// cadence does not hit the upstream at once.
const maxJitter = 60 * time.Second

// Enqueuer is the broker surface the scheduler needs
type Enqueuer interface {
	Enqueue(ctx context.Context, task models.Task, opts queue.EnqueueOptions) (string, error)
}

// Service drives monitor cadences with cron
type Service struct {
	monitors interfaces.MonitorStorage
	broker   Enqueuer
	cron     *cron.Cron
	logger   arbor.ILogger

	mu      sync.Mutex
	running bool
}

// NewService creates a monitor scheduler
func NewService(monitors interfaces.MonitorStorage, broker Enqueuer, logger arbor.ILogger) *Service {
	return &Service{
		monitors: monitors,
		broker:   broker,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start registers the cadence entries and starts the cron loop
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	entries := []struct {
		expr      string
		frequency models.Frequency
	}{
		{"0 * * * *", models.FrequencyHourly},
		{"0 2 * * *", models.FrequencyDaily},
		{"0 3 * * 0", models.FrequencyWeekly},
		{"0 4 1 * *", models.FrequencyMonthly},
	}

	for _, entry := range entries {
		frequency := entry.frequency
		_, err := s.cron.AddFunc(entry.expr, func() {
			s.runFrequency(frequency)
		})
		if err != nil {
			return fmt.Errorf("failed to register %s schedule: %w", frequency, err)
		}
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Msg("Monitor scheduler started")

	return nil
}

// Stop halts the cron loop and waits for in-flight runs
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false

	s.logger.Info().Msg("Monitor scheduler stopped")
}

// RunFrequency enqueues every active monitor on the given cadence.
// Exposed for the control surface's manual trigger.
func (s *Service) RunFrequency(frequency models.Frequency) {
	s.runFrequency(frequency)
}

func (s *Service) runFrequency(frequency models.Frequency) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("frequency", string(frequency)).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Scheduler run panicked")
		}
	}()

	ctx := context.Background()

	due, err := s.monitors.ListDue(ctx, frequency)
	if err != nil {
		s.logger.Error().Err(err).
			Str("frequency", string(frequency)).
			Msg("Failed to list due monitors")
		return
	}

	if len(due) == 0 {
		return
	}

	now := time.Now()
	enqueued := 0

	for _, monitor := range due {
		jitter := time.Duration(rand.Int63n(int64(maxJitter)))

		_, err := s.broker.Enqueue(ctx, models.Task{
			SearchTerm: monitor.SearchTerm,
			Scheduled:  true,
		}, queue.EnqueueOptions{Delay: jitter})
		if err != nil {
			s.logger.Error().Err(err).
				Str("search_term", monitor.SearchTerm).
				Msg("Failed to enqueue scheduled scrape")
			continue
		}

		if err := s.monitors.MarkRun(ctx, monitor.SearchTerm, now, frequency.Next(now)); err != nil {
			s.logger.Warn().Err(err).
				Str("search_term", monitor.SearchTerm).
				Msg("Failed to mark monitor run")
		}

		enqueued++
	}

	s.logger.Info().
		Str("frequency", string(frequency)).
		Int("monitors", len(due)).
		Int("enqueued", enqueued).
		Msg("Scheduled scrapes enqueued")
}
