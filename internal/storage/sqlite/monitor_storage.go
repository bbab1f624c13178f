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

// MonitorStorage implements SQLite storage for monitored searches
type MonitorStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewMonitorStorage creates a new monitor storage instance
func NewMonitorStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.MonitorStorage {
	return &MonitorStorage{
		db:     db,
		logger: logger,
	}
}

// Upsert creates or updates the single row for a search term
func (s *MonitorStorage) Upsert(ctx context.Context, monitor *models.MonitoredSearch) error {
	if monitor.SearchTerm == "" {
		return fmt.Errorf("search term is required")
	}
	if err := models.ValidateFrequency(monitor.Frequency); err != nil {
		return err
	}

	now := time.Now().Unix()
	active := 0
	if monitor.Active {
		active = 1
	}

	query := `
		INSERT INTO monitored_searches (search_term, active, frequency, last_run, next_run, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(search_term) DO UPDATE SET
			active = excluded.active,
			frequency = excluded.frequency,
			updated_at = excluded.updated_at`

	_, err := s.db.db.ExecContext(ctx, query,
		monitor.SearchTerm,
		active,
		string(monitor.Frequency),
		nullTime(monitor.LastRun),
		nullTime(monitor.NextRun),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert monitor: %w", err)
	}

	s.logger.Debug().
		Str("search_term", monitor.SearchTerm).
		Str("frequency", string(monitor.Frequency)).
		Msg("Monitored search upserted")

	return nil
}

// Get returns the monitor for a term, or nil when absent
func (s *MonitorStorage) Get(ctx context.Context, term string) (*models.MonitoredSearch, error) {
	monitors, err := s.query(ctx, `WHERE search_term = ?`, term)
	if err != nil {
		return nil, err
	}
	if len(monitors) == 0 {
		return nil, nil
	}
	return monitors[0], nil
}

// List returns all monitors
func (s *MonitorStorage) List(ctx context.Context) ([]*models.MonitoredSearch, error) {
	return s.query(ctx, `ORDER BY search_term`)
}

// ListDue returns active monitors with the given frequency
func (s *MonitorStorage) ListDue(ctx context.Context, frequency models.Frequency) ([]*models.MonitoredSearch, error) {
	return s.query(ctx, `WHERE active = 1 AND frequency = ? ORDER BY search_term`, string(frequency))
}

// MarkRun updates last_run/next_run after a scheduled enqueue
func (s *MonitorStorage) MarkRun(ctx context.Context, term string, lastRun, nextRun time.Time) error {
	query := `
		UPDATE monitored_searches
		SET last_run = ?, next_run = ?, updated_at = ?
		WHERE search_term = ?`

	res, err := s.db.db.ExecContext(ctx, query, lastRun.Unix(), nextRun.Unix(), time.Now().Unix(), term)
	if err != nil {
		return fmt.Errorf("failed to mark monitor run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("monitor %q not found", term)
	}

	return nil
}

// SetActive toggles a monitor without deleting it
func (s *MonitorStorage) SetActive(ctx context.Context, term string, active bool) error {
	value := 0
	if active {
		value = 1
	}

	res, err := s.db.db.ExecContext(ctx,
		`UPDATE monitored_searches SET active = ?, updated_at = ? WHERE search_term = ?`,
		value, time.Now().Unix(), term)
	if err != nil {
		return fmt.Errorf("failed to set monitor active: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("monitor %q not found", term)
	}

	return nil
}

func (s *MonitorStorage) query(ctx context.Context, where string, args ...interface{}) ([]*models.MonitoredSearch, error) {
	query := `
		SELECT search_term, active, frequency, last_run, next_run, created_at, updated_at
		FROM monitored_searches ` + where

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query monitors: %w", err)
	}
	defer rows.Close()

	var monitors []*models.MonitoredSearch
	for rows.Next() {
		var m models.MonitoredSearch
		var active int
		var frequency string
		var lastRun, nextRun sql.NullInt64
		var createdAt, updatedAt int64

		if err := rows.Scan(&m.SearchTerm, &active, &frequency, &lastRun, &nextRun, &createdAt, &updatedAt); err != nil {
			return nil, err
		}

		m.Active = active == 1
		m.Frequency = models.Frequency(frequency)
		if lastRun.Valid {
			t := time.Unix(lastRun.Int64, 0)
			m.LastRun = &t
		}
		if nextRun.Valid {
			t := time.Unix(nextRun.Int64, 0)
			m.NextRun = &t
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		m.UpdatedAt = time.Unix(updatedAt, 0)

		monitors = append(monitors, &m)
	}

	return monitors, rows.Err()
}
