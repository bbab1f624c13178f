package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/models"
)

func TestMonitorStorage_UpsertAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewMonitorStorage(db, arbor.NewLogger())
	ctx := context.Background()

	err := storage.Upsert(ctx, &models.MonitoredSearch{
		SearchTerm: "Family",
		Active:     true,
		Frequency:  models.FrequencyDaily,
	})
	require.NoError(t, err)

	got, err := storage.Get(ctx, "Family")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Active)
	assert.Equal(t, models.FrequencyDaily, got.Frequency)
	assert.Nil(t, got.LastRun)

	// Upsert changes frequency without creating a second row
	err = storage.Upsert(ctx, &models.MonitoredSearch{
		SearchTerm: "Family",
		Active:     true,
		Frequency:  models.FrequencyWeekly,
	})
	require.NoError(t, err)

	all, err := storage.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.FrequencyWeekly, all[0].Frequency)
}

func TestMonitorStorage_UpsertRejectsBadFrequency(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewMonitorStorage(db, arbor.NewLogger())

	err := storage.Upsert(context.Background(), &models.MonitoredSearch{
		SearchTerm: "X",
		Frequency:  models.Frequency("fortnightly"),
	})
	assert.Error(t, err)
}

func TestMonitorStorage_ListDue(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewMonitorStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.Upsert(ctx, &models.MonitoredSearch{
		SearchTerm: "DailyActive", Active: true, Frequency: models.FrequencyDaily,
	}))
	require.NoError(t, storage.Upsert(ctx, &models.MonitoredSearch{
		SearchTerm: "DailyInactive", Active: false, Frequency: models.FrequencyDaily,
	}))
	require.NoError(t, storage.Upsert(ctx, &models.MonitoredSearch{
		SearchTerm: "Hourly", Active: true, Frequency: models.FrequencyHourly,
	}))

	due, err := storage.ListDue(ctx, models.FrequencyDaily)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "DailyActive", due[0].SearchTerm)
}

func TestMonitorStorage_MarkRun(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewMonitorStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.Upsert(ctx, &models.MonitoredSearch{
		SearchTerm: "Family", Active: true, Frequency: models.FrequencyDaily,
	}))

	now := time.Now().Truncate(time.Second)
	next := now.Add(24 * time.Hour)
	require.NoError(t, storage.MarkRun(ctx, "Family", now, next))

	got, err := storage.Get(ctx, "Family")
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	require.NotNil(t, got.NextRun)
	assert.Equal(t, now.Unix(), got.LastRun.Unix())
	assert.Equal(t, next.Unix(), got.NextRun.Unix())
}

func TestMonitorStorage_SetActive(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewMonitorStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.Upsert(ctx, &models.MonitoredSearch{
		SearchTerm: "Family", Active: true, Frequency: models.FrequencyDaily,
	}))

	require.NoError(t, storage.SetActive(ctx, "Family", false))

	got, err := storage.Get(ctx, "Family")
	require.NoError(t, err)
	assert.False(t, got.Active)

	due, err := storage.ListDue(ctx, models.FrequencyDaily)
	require.NoError(t, err)
	assert.Empty(t, due)
}
