package badgerdb

import (
	"fmt"
	"os"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/common"
)

// DB wraps the embedded Badger store shared by the queue broker and the
// read-side cache.
type DB struct {
	db     *badger.DB
	logger arbor.ILogger
}

// Open opens (and optionally resets) the Badger database directory
func Open(logger arbor.ILogger, config *common.BadgerConfig) (*DB, error) {
	if config.ResetOnStartup {
		if err := os.RemoveAll(config.Path); err != nil {
			return nil, fmt.Errorf("failed to reset badger directory: %w", err)
		}
		logger.Info().Str("path", config.Path).Msg("Badger database reset on startup")
	}

	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create badger directory: %w", err)
	}

	opts := badger.DefaultOptions(config.Path)
	opts.Logger = nil // Badger's own logging is noisy; arbor covers the interesting paths

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Info().Str("path", config.Path).Msg("Badger database initialized")

	return &DB{db: db, logger: logger}, nil
}

// Badger returns the underlying handle
func (d *DB) Badger() *badger.DB {
	return d.db
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}
