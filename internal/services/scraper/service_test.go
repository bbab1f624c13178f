package scraper

import (
	"context"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/ternarybob/praedium/internal/queue"
	"github.com/ternarybob/praedium/internal/services/analytics"
	"github.com/ternarybob/praedium/internal/services/token"
	"github.com/ternarybob/praedium/internal/storage/sqlite"
)

func newTestService(t *testing.T, cooldown time.Duration) (*Service, *queue.Broker, interfaces.StorageManager) {
	t.Helper()

	logger := arbor.NewLogger()

	storage, err := sqlite.NewManager(logger, &common.SQLiteConfig{
		Path:          t.TempDir() + "/test.db",
		CacheSizeMB:   10,
		BusyTimeoutMS: 5000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	badgerOpts := badger.DefaultOptions("").WithInMemory(true)
	badgerOpts.Logger = nil
	db, err := badger.Open(badgerOpts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	broker, err := queue.NewBroker(db, logger, queue.Options{Name: "scrape"})
	require.NoError(t, err)

	tokenSvc := token.NewService("http://localhost:1/token", logger)
	analyticsSvc := analytics.NewService(storage.StatsStorage(), logger)

	return NewService(broker, storage, tokenSvc, analyticsSvc, cooldown, logger), broker, storage
}

func TestEnqueueScrape_CooldownBlocksRepeats(t *testing.T) {
	svc, _, _ := newTestService(t, 5*time.Second)
	ctx := context.Background()

	id, err := svc.EnqueueScrape(ctx, "Smith")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = svc.EnqueueScrape(ctx, "Smith")
	assert.ErrorIs(t, err, ErrRateLimited)

	// A different term is unaffected
	_, err = svc.EnqueueScrape(ctx, "Corp")
	assert.NoError(t, err)
}

func TestEnqueueScrape_CooldownExpires(t *testing.T) {
	svc, _, _ := newTestService(t, 30*time.Millisecond)
	ctx := context.Background()

	_, err := svc.EnqueueScrape(ctx, "Smith")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = svc.EnqueueScrape(ctx, "Smith")
	assert.NoError(t, err)
}

func TestEnqueueScrape_RequiresTerm(t *testing.T) {
	svc, _, _ := newTestService(t, time.Second)

	_, err := svc.EnqueueScrape(context.Background(), "")
	assert.Error(t, err)
}

func TestGetJob_JoinsBrokerAndJobRow(t *testing.T) {
	svc, broker, storage := newTestService(t, time.Second)
	ctx := context.Background()

	id, err := svc.EnqueueScrape(ctx, "Smith")
	require.NoError(t, err)

	view, err := svc.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Smith", view.SearchTerm)
	assert.Equal(t, string(queue.StateWaiting), view.State)
	assert.Nil(t, view.ResultCount)

	// Simulate the worker completing the task
	rec, err := broker.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, id, rec.ID)

	job := &models.ScrapeJob{
		ID:         common.NewJobID(),
		QueueID:    id,
		SearchTerm: "Smith",
		Status:     models.JobStatusProcessing,
		StartedAt:  time.Now(),
	}
	require.NoError(t, storage.JobStorage().CreateJob(ctx, job))
	require.NoError(t, storage.JobStorage().CompleteJob(ctx, job.ID, 17))
	require.NoError(t, broker.Ack(ctx, id, 17))

	view, err = svc.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(queue.StateCompleted), view.State)
	require.NotNil(t, view.ResultCount)
	assert.Equal(t, 17, *view.ResultCount)
	require.NotNil(t, view.CompletedAt)
}

func TestGetJob_UnknownID(t *testing.T) {
	svc, _, _ := newTestService(t, time.Second)

	_, err := svc.GetJob(context.Background(), "task_missing")
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

func TestAddMonitorAndList(t *testing.T) {
	svc, _, _ := newTestService(t, time.Second)
	ctx := context.Background()

	monitor, err := svc.AddMonitor(ctx, "Family", models.FrequencyDaily)
	require.NoError(t, err)
	assert.True(t, monitor.Active)

	_, err = svc.AddMonitor(ctx, "Family", models.Frequency("sometimes"))
	assert.Error(t, err)

	monitors, err := svc.ListMonitors(ctx)
	require.NoError(t, err)
	require.Len(t, monitors, 1)
	assert.Equal(t, "Family", monitors[0].SearchTerm)
}

func TestHealthAndStats(t *testing.T) {
	svc, _, storage := newTestService(t, time.Second)
	ctx := context.Background()

	_, err := svc.EnqueueScrape(ctx, "Smith")
	require.NoError(t, err)

	require.NoError(t, storage.StatsStorage().Record(ctx, "Smith", 12, true, ""))

	health, err := svc.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, health.Queue.Waiting)
	assert.False(t, health.Token.HasToken)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Queue.Waiting)
	require.Len(t, stats.Terms, 1)
	assert.Equal(t, int64(12), stats.Terms[0].TotalRecords)
}
