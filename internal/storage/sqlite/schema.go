package sqlite

// schemaStatements is the idempotent schema. Timestamps are stored as Unix
// seconds; nullable columns use NULL rather than zero values.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS properties (
		property_id     TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		prop_type       TEXT NOT NULL DEFAULT '',
		city            TEXT,
		address         TEXT NOT NULL DEFAULT '',
		assessed_value  REAL,
		appraised_value REAL NOT NULL DEFAULT 0 CHECK (appraised_value >= 0),
		geo_id          TEXT,
		description     TEXT,
		search_term     TEXT,
		scraped_at      INTEGER NOT NULL,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL,
		CHECK (property_id <> ''),
		CHECK (assessed_value IS NULL OR assessed_value >= 0)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_properties_search_term ON properties(search_term)`,

	`CREATE TABLE IF NOT EXISTS scrape_jobs (
		id           TEXT PRIMARY KEY,
		queue_id     TEXT,
		search_term  TEXT NOT NULL,
		status       TEXT NOT NULL CHECK (status IN ('pending','processing','completed','failed')),
		result_count INTEGER,
		error        TEXT,
		started_at   INTEGER NOT NULL,
		completed_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_term_status ON scrape_jobs(search_term, status)`,
	`CREATE INDEX IF NOT EXISTS idx_scrape_jobs_queue_id ON scrape_jobs(queue_id)`,

	`CREATE TABLE IF NOT EXISTS monitored_searches (
		search_term TEXT PRIMARY KEY,
		active      INTEGER NOT NULL DEFAULT 1,
		frequency   TEXT NOT NULL CHECK (frequency IN ('hourly','daily','weekly','monthly')),
		last_run    INTEGER,
		next_run    INTEGER,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS term_stats (
		search_term   TEXT PRIMARY KEY,
		success_count INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0,
		total_records INTEGER NOT NULL DEFAULT 0,
		last_error    TEXT,
		last_run      INTEGER
	)`,
}
