package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
)

// StatsStorage implements SQLite storage for per-term scrape counters
type StatsStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewStatsStorage creates a new stats storage instance
func NewStatsStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.StatsStorage {
	return &StatsStorage{
		db:     db,
		logger: logger,
	}
}

// Record folds one scrape outcome into the term's counters.
// Counters are append-only; last_error is cleared on success.
func (s *StatsStorage) Record(ctx context.Context, term string, records int, success bool, errMsg string) error {
	if term == "" {
		return fmt.Errorf("search term is required")
	}

	successInc := 0
	failureInc := 0
	if success {
		successInc = 1
		errMsg = ""
	} else {
		failureInc = 1
	}

	query := `
		INSERT INTO term_stats (search_term, success_count, failure_count, total_records, last_error, last_run)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(search_term) DO UPDATE SET
			success_count = success_count + excluded.success_count,
			failure_count = failure_count + excluded.failure_count,
			total_records = total_records + excluded.total_records,
			last_error = excluded.last_error,
			last_run = excluded.last_run`

	_, err := s.db.db.ExecContext(ctx, query,
		term, successInc, failureInc, records, nullString(errMsg), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record term stats: %w", err)
	}

	return nil
}

// Get returns the counters for a term, or nil when absent
func (s *StatsStorage) Get(ctx context.Context, term string) (*models.TermStats, error) {
	stats, err := s.query(ctx, `WHERE search_term = ?`, term)
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return nil, nil
	}
	return stats[0], nil
}

// List returns all term counters
func (s *StatsStorage) List(ctx context.Context) ([]*models.TermStats, error) {
	return s.query(ctx, `ORDER BY search_term`)
}

func (s *StatsStorage) query(ctx context.Context, where string, args ...interface{}) ([]*models.TermStats, error) {
	query := `
		SELECT search_term, success_count, failure_count, total_records, last_error, last_run
		FROM term_stats ` + where

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query term stats: %w", err)
	}
	defer rows.Close()

	var result []*models.TermStats
	for rows.Next() {
		var st models.TermStats
		var lastError sql.NullString
		var lastRun sql.NullInt64

		if err := rows.Scan(&st.SearchTerm, &st.SuccessCount, &st.FailureCount, &st.TotalRecords, &lastError, &lastRun); err != nil {
			return nil, err
		}

		st.LastError = lastError.String
		if lastRun.Valid {
			t := time.Unix(lastRun.Int64, 0)
			st.LastRun = &t
		}

		result = append(result, &st)
	}

	return result, rows.Err()
}
