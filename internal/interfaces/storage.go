package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/praedium/internal/models"
)

// PropertyStorage persists harvested property records keyed by property_id
type PropertyStorage interface {
	// UpsertBatch writes records in chunked insert-on-conflict transactions
	// and returns the number of records accepted.
	UpsertBatch(ctx context.Context, records []*models.PropertyRecord) (int, error)

	// GetByID returns a record by natural id, or nil when absent
	GetByID(ctx context.Context, propertyID string) (*models.PropertyRecord, error)

	// Count returns the total number of persisted records
	Count(ctx context.Context) (int64, error)
}

// JobStorage persists scrape job rows
type JobStorage interface {
	// CreateJob inserts a new job row (status pending or processing)
	CreateJob(ctx context.Context, job *models.ScrapeJob) error

	// CompleteJob marks a row completed with its result count
	CompleteJob(ctx context.Context, id string, resultCount int) error

	// FailJob marks a row failed with an error message
	FailJob(ctx context.Context, id string, errMsg string) error

	// GetJob returns a row by id, or nil when absent
	GetJob(ctx context.Context, id string) (*models.ScrapeJob, error)

	// GetJobByQueueID returns the most recent row created for a broker task
	GetJobByQueueID(ctx context.Context, queueID string) (*models.ScrapeJob, error)

	// CompletedTermsSince returns terms with a completed job newer than since
	CompletedTermsSince(ctx context.Context, since time.Time) (map[string]bool, error)

	// FailOrphanedJobs marks rows left processing by a previous run as failed.
	// Returns the number of rows updated.
	FailOrphanedJobs(ctx context.Context, reason string) (int, error)

	// CountByStatus returns row counts grouped by status
	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
}

// MonitorStorage persists monitored searches (one row per term)
type MonitorStorage interface {
	Upsert(ctx context.Context, monitor *models.MonitoredSearch) error
	Get(ctx context.Context, term string) (*models.MonitoredSearch, error)
	List(ctx context.Context) ([]*models.MonitoredSearch, error)

	// ListDue returns active monitors with the given frequency
	ListDue(ctx context.Context, frequency models.Frequency) ([]*models.MonitoredSearch, error)

	// MarkRun updates last_run/next_run after a scheduled enqueue
	MarkRun(ctx context.Context, term string, lastRun, nextRun time.Time) error

	SetActive(ctx context.Context, term string, active bool) error
}

// StatsStorage persists per-term scrape counters
type StatsStorage interface {
	// Record folds one scrape outcome into the term's counters
	Record(ctx context.Context, term string, records int, success bool, errMsg string) error

	Get(ctx context.Context, term string) (*models.TermStats, error)
	List(ctx context.Context) ([]*models.TermStats, error)
}

// StorageManager bundles the relational storages behind one connection
type StorageManager interface {
	PropertyStorage() PropertyStorage
	JobStorage() JobStorage
	MonitorStorage() MonitorStorage
	StatsStorage() StatsStorage
	Close() error
}
