package models

import (
	"time"
)

// JobStatus represents the lifecycle state of a scrape job row.
// Transitions only pending -> processing -> {completed, failed}.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal returns true for completed or failed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ScrapeJob is the durable record of one search execution.
type ScrapeJob struct {
	ID          string     `json:"id"`
	QueueID     string     `json:"queue_id,omitempty"` // Broker task that produced this row
	SearchTerm  string     `json:"search_term"`
	Status      JobStatus  `json:"status"`
	ResultCount *int       `json:"result_count,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
