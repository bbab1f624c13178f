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

// JobStorage implements SQLite storage for scrape job rows
type JobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewJobStorage creates a new job storage instance
func NewJobStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// CreateJob inserts a new job row
func (s *JobStorage) CreateJob(ctx context.Context, job *models.ScrapeJob) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now()
	}

	query := `
		INSERT INTO scrape_jobs (id, queue_id, search_term, status, result_count, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.db.ExecContext(ctx, query,
		job.ID,
		nullString(job.QueueID),
		job.SearchTerm,
		string(job.Status),
		nullInt(job.ResultCount),
		nullString(job.Error),
		job.StartedAt.Unix(),
		nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create job row: %w", err)
	}

	return nil
}

// CompleteJob transitions a processing row to completed. The transition
// guard makes the update a no-op for rows not owned by the caller.
func (s *JobStorage) CompleteJob(ctx context.Context, id string, resultCount int) error {
	query := `
		UPDATE scrape_jobs
		SET status = 'completed', result_count = ?, error = NULL, completed_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')`

	res, err := s.db.db.ExecContext(ctx, query, resultCount, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to complete job row: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("job %s not found or already terminal", id)
	}

	return nil
}

// FailJob transitions a non-terminal row to failed with an error message
func (s *JobStorage) FailJob(ctx context.Context, id string, errMsg string) error {
	query := `
		UPDATE scrape_jobs
		SET status = 'failed', error = ?, completed_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')`

	res, err := s.db.db.ExecContext(ctx, query, errMsg, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to fail job row: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("job %s not found or already terminal", id)
	}

	return nil
}

// GetJob returns a row by id, or nil when absent
func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.ScrapeJob, error) {
	return s.queryOne(ctx, `WHERE id = ?`, id)
}

// GetJobByQueueID returns the most recent row created for a broker task
func (s *JobStorage) GetJobByQueueID(ctx context.Context, queueID string) (*models.ScrapeJob, error) {
	return s.queryOne(ctx, `WHERE queue_id = ? ORDER BY started_at DESC LIMIT 1`, queueID)
}

func (s *JobStorage) queryOne(ctx context.Context, where string, args ...interface{}) (*models.ScrapeJob, error) {
	query := `
		SELECT id, queue_id, search_term, status, result_count, error, started_at, completed_at
		FROM scrape_jobs ` + where

	row := s.db.db.QueryRowContext(ctx, query, args...)

	var job models.ScrapeJob
	var queueID, errMsg sql.NullString
	var resultCount, completedAt sql.NullInt64
	var startedAt int64
	var status string

	err := row.Scan(&job.ID, &queueID, &job.SearchTerm, &status, &resultCount, &errMsg, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job row: %w", err)
	}

	job.QueueID = queueID.String
	job.Status = models.JobStatus(status)
	job.Error = errMsg.String
	job.StartedAt = time.Unix(startedAt, 0)
	if resultCount.Valid {
		n := int(resultCount.Int64)
		job.ResultCount = &n
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		job.CompletedAt = &t
	}

	return &job, nil
}

// CompletedTermsSince returns terms with a completed job newer than since
func (s *JobStorage) CompletedTermsSince(ctx context.Context, since time.Time) (map[string]bool, error) {
	query := `
		SELECT DISTINCT search_term FROM scrape_jobs
		WHERE status = 'completed' AND completed_at >= ?`

	rows, err := s.db.db.QueryContext(ctx, query, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query completed terms: %w", err)
	}
	defer rows.Close()

	terms := make(map[string]bool)
	for rows.Next() {
		var term string
		if err := rows.Scan(&term); err != nil {
			return nil, err
		}
		terms[term] = true
	}

	return terms, rows.Err()
}

// FailOrphanedJobs marks rows left pending/processing by a previous run as
// failed. Called once on startup before workers begin pulling.
func (s *JobStorage) FailOrphanedJobs(ctx context.Context, reason string) (int, error) {
	query := `
		UPDATE scrape_jobs
		SET status = 'failed', error = ?, completed_at = ?
		WHERE status IN ('pending', 'processing')`

	res, err := s.db.db.ExecContext(ctx, query, reason, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up orphaned jobs: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if affected > 0 {
		s.logger.Info().Int64("count", affected).Msg("Orphaned jobs marked failed")
	}

	return int(affected), nil
}

// CountByStatus returns row counts grouped by status
func (s *JobStorage) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM scrape_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[models.JobStatus(status)] = count
	}

	return counts, rows.Err()
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
