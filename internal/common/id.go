package common

import (
	"github.com/google/uuid"
)

// NewTaskID generates a unique queue task ID with the "task_" prefix
// Format: task_<uuid>
func NewTaskID() string {
	return "task_" + uuid.New().String()
}

// NewJobID generates a unique scrape job row ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}
