package persist

import (
	"context"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/cache"
	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/ternarybob/praedium/internal/storage/sqlite"
)

func newTestGateway(t *testing.T) (*Service, interfaces.StorageManager, *cache.Service) {
	t.Helper()

	logger := arbor.NewLogger()

	storage, err := sqlite.NewManager(logger, &common.SQLiteConfig{
		Path:          t.TempDir() + "/test.db",
		CacheSizeMB:   10,
		BusyTimeoutMS: 5000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cacheSvc := cache.NewService(db, logger)

	return NewService(storage, cacheSvc, logger), storage, cacheSvc
}

func TestUpsert_PersistsAndInvalidatesCache(t *testing.T) {
	gateway, storage, cacheSvc := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, cacheSvc.Set(ctx, interfaces.CacheKeyPropertyListPrefix+"page1", []byte("stale"), 0))
	require.NoError(t, cacheSvc.Set(ctx, interfaces.CacheKeyPropertyStats, []byte("stale"), 0))

	count, err := gateway.Upsert(ctx, []*models.PropertyRecord{
		{PropertyID: "101", Name: "OWNER", SearchTerm: "Smith", ScrapedAt: time.Now()},
	}, "Smith")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	total, err := storage.PropertyStorage().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, found, _ := cacheSvc.Get(ctx, interfaces.CacheKeyPropertyListPrefix+"page1")
	assert.False(t, found)
	_, found, _ = cacheSvc.Get(ctx, interfaces.CacheKeyPropertyStats)
	assert.False(t, found)
}

func TestBeginJob_CreatesProcessingRow(t *testing.T) {
	gateway, storage, _ := newTestGateway(t)
	ctx := context.Background()

	jobID, err := gateway.BeginJob(ctx, "Smith", "task_1")
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job, err := storage.JobStorage().GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, job.Status)
	assert.Equal(t, "task_1", job.QueueID)
}

func TestBeginJob_ReusesNonTerminalRow(t *testing.T) {
	gateway, _, _ := newTestGateway(t)
	ctx := context.Background()

	first, err := gateway.BeginJob(ctx, "Smith", "task_1")
	require.NoError(t, err)

	// A broker re-delivery of the same task reuses the open row
	second, err := gateway.BeginJob(ctx, "Smith", "task_1")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// After the row closes, a fresh delivery gets a fresh row
	require.NoError(t, gateway.CompleteJob(ctx, first, 5))
	third, err := gateway.BeginJob(ctx, "Smith", "task_1")
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestCompleteAndFailJob(t *testing.T) {
	gateway, storage, _ := newTestGateway(t)
	ctx := context.Background()

	jobID, err := gateway.BeginJob(ctx, "Smith", "task_1")
	require.NoError(t, err)
	require.NoError(t, gateway.CompleteJob(ctx, jobID, 42))

	job, err := storage.JobStorage().GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	require.NotNil(t, job.ResultCount)
	assert.Equal(t, 42, *job.ResultCount)

	other, err := gateway.BeginJob(ctx, "Corp", "task_2")
	require.NoError(t, err)
	require.NoError(t, gateway.FailJob(ctx, other, "unrecoverable fetch failure"))

	job, err = storage.JobStorage().GetJob(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "unrecoverable fetch failure", job.Error)
}
