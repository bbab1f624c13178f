package sqlite

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
)

// Manager implements the StorageManager interface for SQLite
type Manager struct {
	db       *SQLiteDB
	property interfaces.PropertyStorage
	job      interfaces.JobStorage
	monitor  interfaces.MonitorStorage
	stats    interfaces.StatsStorage
	logger   arbor.ILogger
}

// NewManager creates a new SQLite storage manager
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig) (interfaces.StorageManager, error) {
	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		property: NewPropertyStorage(db, logger),
		job:      NewJobStorage(db, logger),
		monitor:  NewMonitorStorage(db, logger),
		stats:    NewStatsStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Msg("SQLite storage manager initialized")

	return manager, nil
}

// PropertyStorage returns the property storage interface
func (m *Manager) PropertyStorage() interfaces.PropertyStorage {
	return m.property
}

// JobStorage returns the job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// MonitorStorage returns the monitor storage interface
func (m *Manager) MonitorStorage() interfaces.MonitorStorage {
	return m.monitor
}

// StatsStorage returns the stats storage interface
func (m *Manager) StatsStorage() interfaces.StatsStorage {
	return m.stats
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
