// Package persist is the write gateway between workers and storage:
// batch upserts with cache invalidation, plus the three scrape job row
// mutations the core is allowed to make.
package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
)

// Service is the persistence gateway
type Service struct {
	storage interfaces.StorageManager
	cache   interfaces.CacheService
	logger  arbor.ILogger
}

// NewService creates a persistence gateway
func NewService(storage interfaces.StorageManager, cache interfaces.CacheService, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		cache:   cache,
		logger:  logger,
	}
}

// Upsert writes records for a term and invalidates the property caches.
// Returns the number of records accepted.
func (s *Service) Upsert(ctx context.Context, records []*models.PropertyRecord, term string) (int, error) {
	count, err := s.storage.PropertyStorage().UpsertBatch(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert properties for %q: %w", term, err)
	}

	if err := s.cache.InvalidateProperties(ctx); err != nil {
		// The rows landed; stale cache entries expire on their own TTL
		s.logger.Warn().Err(err).Str("search_term", term).Msg("Cache invalidation failed after upsert")
	}

	s.logger.Info().
		Str("search_term", term).
		Int("records", count).
		Msg("Properties persisted")

	return count, nil
}

// BeginJob records the start of a scrape and returns the job row id.
// A broker re-delivery reuses the non-terminal row from the previous
// attempt instead of leaving it orphaned.
func (s *Service) BeginJob(ctx context.Context, term, queueID string) (string, error) {
	if existing, err := s.storage.JobStorage().GetJobByQueueID(ctx, queueID); err == nil && existing != nil && !existing.Status.IsTerminal() {
		return existing.ID, nil
	}

	job := &models.ScrapeJob{
		ID:         common.NewJobID(),
		QueueID:    queueID,
		SearchTerm: term,
		Status:     models.JobStatusProcessing,
		StartedAt:  time.Now(),
	}
	if err := s.storage.JobStorage().CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job row for %q: %w", term, err)
	}
	return job.ID, nil
}

// CompleteJob marks a job row completed with its result count
func (s *Service) CompleteJob(ctx context.Context, jobID string, resultCount int) error {
	return s.storage.JobStorage().CompleteJob(ctx, jobID, resultCount)
}

// FailJob marks a job row failed with the error text
func (s *Service) FailJob(ctx context.Context, jobID, errMsg string) error {
	return s.storage.JobStorage().FailJob(ctx, jobID, errMsg)
}
