package models

import (
	"time"
)

// TermStats holds append-only per-term scrape counters
type TermStats struct {
	SearchTerm   string     `json:"search_term"`
	SuccessCount int64      `json:"success_count"`
	FailureCount int64      `json:"failure_count"`
	TotalRecords int64      `json:"total_records"`
	LastError    string     `json:"last_error,omitempty"`
	LastRun      *time.Time `json:"last_run,omitempty"`
}
