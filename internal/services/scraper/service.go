// Package scraper is the core control surface consumed by the API
// layer: ad-hoc enqueues, job inspection, monitor management, and
// health reporting.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/ternarybob/praedium/internal/queue"
	"github.com/ternarybob/praedium/internal/services/analytics"
	"github.com/ternarybob/praedium/internal/services/token"
)

// DefaultCooldown is the minimum spacing between ad-hoc enqueues of the
// same term.
const DefaultCooldown = 5 * time.Second

// ErrRateLimited is returned when a term is enqueued again within the
// cooldown window.
var ErrRateLimited = errors.New("search term enqueued too recently")

// JobView is the external picture of one scrape task
type JobView struct {
	ID          string     `json:"id"`
	SearchTerm  string     `json:"search_term"`
	State       string     `json:"state"`
	Progress    int        `json:"progress"`
	Attempt     int        `json:"attempt"`
	ResultCount *int       `json:"result_count,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HealthReport aggregates subsystem health for the control surface
type HealthReport struct {
	Token models.TokenHealth         `json:"token"`
	Queue queue.Counts               `json:"queue"`
	Jobs  map[models.JobStatus]int64 `json:"jobs"`
}

// StatsReport bundles queue counts with per-term analytics
type StatsReport struct {
	Queue queue.Counts        `json:"queue"`
	Terms []*models.TermStats `json:"terms"`
}

// Service implements the control surface
type Service struct {
	broker    *queue.Broker
	storage   interfaces.StorageManager
	token     *token.Service
	analytics *analytics.Service
	cooldown  time.Duration
	logger    arbor.ILogger

	mu           sync.Mutex
	lastEnqueued map[string]time.Time
}

// NewService creates the control surface service
func NewService(broker *queue.Broker, storage interfaces.StorageManager, tokenSvc *token.Service, analyticsSvc *analytics.Service, cooldown time.Duration, logger arbor.ILogger) *Service {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Service{
		broker:       broker,
		storage:      storage,
		token:        tokenSvc,
		analytics:    analyticsSvc,
		cooldown:     cooldown,
		logger:       logger,
		lastEnqueued: make(map[string]time.Time),
	}
}

// EnqueueScrape queues an ad-hoc scrape for a term. Repeat requests for
// the same term within the cooldown return ErrRateLimited.
func (s *Service) EnqueueScrape(ctx context.Context, term string) (string, error) {
	if term == "" {
		return "", fmt.Errorf("search term is required")
	}

	now := time.Now()

	s.mu.Lock()
	if last, ok := s.lastEnqueued[term]; ok && now.Sub(last) < s.cooldown {
		s.mu.Unlock()
		return "", ErrRateLimited
	}
	s.lastEnqueued[term] = now
	// Drop stale entries so the map does not grow with term cardinality
	for t, at := range s.lastEnqueued {
		if now.Sub(at) > s.cooldown {
			delete(s.lastEnqueued, t)
		}
	}
	s.mu.Unlock()

	id, err := s.broker.Enqueue(ctx, models.Task{SearchTerm: term}, queue.EnqueueOptions{})
	if err != nil {
		return "", err
	}

	s.logger.Info().
		Str("search_term", term).
		Str("task_id", id).
		Msg("Ad-hoc scrape enqueued")

	return id, nil
}

// GetJob returns the external view of a task, joining the broker record
// with its scrape job row when one exists.
func (s *Service) GetJob(ctx context.Context, id string) (*JobView, error) {
	rec, err := s.broker.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	view := &JobView{
		ID:         rec.ID,
		SearchTerm: rec.Task.SearchTerm,
		State:      string(rec.EffectiveState(now)),
		Progress:   rec.Progress,
		Attempt:    rec.Attempt,
		Error:      rec.LastError,
		CreatedAt:  rec.EnqueuedAt,
	}
	if !rec.FinishedAt.IsZero() {
		t := rec.FinishedAt
		view.CompletedAt = &t
	}

	job, err := s.storage.JobStorage().GetJobByQueueID(ctx, id)
	if err == nil && job != nil {
		if job.ResultCount != nil {
			view.ResultCount = job.ResultCount
		}
		if view.Error == "" {
			view.Error = job.Error
		}
	}

	return view, nil
}

// AddMonitor upserts a monitored search
func (s *Service) AddMonitor(ctx context.Context, term string, frequency models.Frequency) (*models.MonitoredSearch, error) {
	if term == "" {
		return nil, fmt.Errorf("search term is required")
	}
	if err := models.ValidateFrequency(frequency); err != nil {
		return nil, err
	}

	monitor := &models.MonitoredSearch{
		SearchTerm: term,
		Active:     true,
		Frequency:  frequency,
	}
	if err := s.storage.MonitorStorage().Upsert(ctx, monitor); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("search_term", term).
		Str("frequency", string(frequency)).
		Msg("Monitor upserted")

	return monitor, nil
}

// ListMonitors returns every monitored search
func (s *Service) ListMonitors(ctx context.Context) ([]*models.MonitoredSearch, error) {
	return s.storage.MonitorStorage().List(ctx)
}

// Health reports token, queue, and job-table state
func (s *Service) Health(ctx context.Context) (*HealthReport, error) {
	counts, err := s.broker.Stats(ctx)
	if err != nil {
		return nil, err
	}

	jobs, err := s.storage.JobStorage().CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	return &HealthReport{
		Token: s.token.Health(),
		Queue: *counts,
		Jobs:  jobs,
	}, nil
}

// Stats reports queue counts and per-term analytics
func (s *Service) Stats(ctx context.Context) (*StatsReport, error) {
	counts, err := s.broker.Stats(ctx)
	if err != nil {
		return nil, err
	}

	terms, err := s.analytics.List(ctx)
	if err != nil {
		return nil, err
	}

	return &StatsReport{
		Queue: *counts,
		Terms: terms,
	}, nil
}
