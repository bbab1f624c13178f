package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/models"
)

func newJob(term, queueID string) *models.ScrapeJob {
	return &models.ScrapeJob{
		ID:         common.NewJobID(),
		QueueID:    queueID,
		SearchTerm: term,
		Status:     models.JobStatusProcessing,
		StartedAt:  time.Now(),
	}
}

func TestJobStorage_CreateAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := newJob("Smith", "task_abc")
	require.NoError(t, storage.CreateJob(ctx, job))

	got, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Smith", got.SearchTerm)
	assert.Equal(t, "task_abc", got.QueueID)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
	assert.Nil(t, got.ResultCount)
	assert.Nil(t, got.CompletedAt)
}

func TestJobStorage_CompleteJob(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := newJob("Smith", "task_1")
	require.NoError(t, storage.CreateJob(ctx, job))

	require.NoError(t, storage.CompleteJob(ctx, job.ID, 200))

	got, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.ResultCount)
	assert.Equal(t, 200, *got.ResultCount)
	require.NotNil(t, got.CompletedAt)

	// Terminal rows cannot transition again
	assert.Error(t, storage.CompleteJob(ctx, job.ID, 5))
	assert.Error(t, storage.FailJob(ctx, job.ID, "too late"))
}

func TestJobStorage_FailJob(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := newJob("Corp", "task_2")
	require.NoError(t, storage.CreateJob(ctx, job))

	require.NoError(t, storage.FailJob(ctx, job.ID, "upstream returned status 403"))

	got, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "upstream returned status 403", got.Error)
	require.NotNil(t, got.CompletedAt)
}

func TestJobStorage_GetJobByQueueIDReturnsLatest(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	first := newJob("Smith", "task_shared")
	first.StartedAt = time.Now().Add(-time.Hour)
	require.NoError(t, storage.CreateJob(ctx, first))
	require.NoError(t, storage.FailJob(ctx, first.ID, "token expired"))

	second := newJob("Smith", "task_shared")
	require.NoError(t, storage.CreateJob(ctx, second))

	got, err := storage.GetJobByQueueID(ctx, "task_shared")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)
}

func TestJobStorage_CompletedTermsSince(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	recent := newJob("Manor", "task_recent")
	require.NoError(t, storage.CreateJob(ctx, recent))
	require.NoError(t, storage.CompleteJob(ctx, recent.ID, 10))

	pending := newJob("Park", "task_pending")
	require.NoError(t, storage.CreateJob(ctx, pending))

	failed := newJob("Estate", "task_failed")
	require.NoError(t, storage.CreateJob(ctx, failed))
	require.NoError(t, storage.FailJob(ctx, failed.ID, "boom"))

	terms, err := storage.CompletedTermsSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	assert.True(t, terms["Manor"])
	assert.False(t, terms["Park"])
	assert.False(t, terms["Estate"])

	// A cutoff in the future excludes everything
	terms, err = storage.CompletedTermsSince(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, terms)
}

func TestJobStorage_FailOrphanedJobs(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	stuck := newJob("Smith", "task_a")
	require.NoError(t, storage.CreateJob(ctx, stuck))

	done := newJob("Corp", "task_b")
	require.NoError(t, storage.CreateJob(ctx, done))
	require.NoError(t, storage.CompleteJob(ctx, done.ID, 1))

	count, err := storage.FailOrphanedJobs(ctx, "abandoned by restart")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := storage.GetJob(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "abandoned by restart", got.Error)

	// The completed row is untouched
	got, err = storage.GetJob(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

func TestJobStorage_CountByStatus(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	a := newJob("A", "t1")
	require.NoError(t, storage.CreateJob(ctx, a))

	b := newJob("B", "t2")
	require.NoError(t, storage.CreateJob(ctx, b))
	require.NoError(t, storage.CompleteJob(ctx, b.ID, 3))

	counts, err := storage.CountByStatus(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), counts[models.JobStatusProcessing])
	assert.Equal(t, int64(1), counts[models.JobStatusCompleted])
}
