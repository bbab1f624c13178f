// Package analytics keeps append-only per-term scrape counters. It sits
// off the hot path: workers record outcomes after the fact and the
// control surface reads them.
package analytics

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
)

// Service records and reports per-term scrape statistics
type Service struct {
	stats  interfaces.StatsStorage
	logger arbor.ILogger
}

// NewService creates an analytics service
func NewService(stats interfaces.StatsStorage, logger arbor.ILogger) *Service {
	return &Service{
		stats:  stats,
		logger: logger,
	}
}

// RecordSuccess counts a successful scrape and its record yield
func (s *Service) RecordSuccess(ctx context.Context, term string, records int) {
	if err := s.stats.Record(ctx, term, records, true, ""); err != nil {
		s.logger.Warn().Err(err).Str("search_term", term).Msg("Failed to record scrape success")
	}
}

// RecordFailure counts a failed scrape with its error text
func (s *Service) RecordFailure(ctx context.Context, term, errMsg string) {
	if err := s.stats.Record(ctx, term, 0, false, errMsg); err != nil {
		s.logger.Warn().Err(err).Str("search_term", term).Msg("Failed to record scrape failure")
	}
}

// Get returns the counters for one term
func (s *Service) Get(ctx context.Context, term string) (*models.TermStats, error) {
	return s.stats.Get(ctx, term)
}

// List returns counters for every term
func (s *Service) List(ctx context.Context) ([]*models.TermStats, error) {
	return s.stats.List(ctx)
}
