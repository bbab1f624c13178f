package queue

import (
	"errors"
	"time"

	"github.com/ternarybob/praedium/internal/models"
)

// ErrNoTask is returned when no task is ready for delivery
var ErrNoTask = errors.New("no tasks ready")

// ErrNotFound is returned when a task id is unknown
var ErrNotFound = errors.New("task not found")

// State is the broker-side lifecycle of a task
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// IsTerminal returns true for completed or failed
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// TaskRecord is the broker's durable view of one task
type TaskRecord struct {
	ID          string      `json:"id"`
	Task        models.Task `json:"task"`
	State       State       `json:"state"`
	Priority    int         `json:"priority"` // Lower wins
	Attempt     int         `json:"attempt"`  // Completed delivery attempts
	MaxAttempts int         `json:"max_attempts"`
	Progress    int         `json:"progress"` // 0..100, observational
	EnqueuedAt  time.Time   `json:"enqueued_at"`
	VisibleAt   time.Time   `json:"visible_at"`            // When the task becomes claimable
	LeaseUntil  time.Time   `json:"lease_until,omitempty"` // Active lease expiry (stall recovery)
	FinishedAt  time.Time   `json:"finished_at,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
	ResultCount int         `json:"result_count,omitempty"`
}

// EffectiveState resolves lease expiry and delay against now: an active
// task whose lease lapsed is waiting again, and a delayed task whose
// delay elapsed is waiting.
func (r *TaskRecord) EffectiveState(now time.Time) State {
	switch r.State {
	case StateActive:
		if !r.LeaseUntil.After(now) {
			return StateWaiting
		}
		return StateActive
	case StateWaiting, StateDelayed:
		if r.VisibleAt.After(now) {
			return StateDelayed
		}
		return StateWaiting
	default:
		return r.State
	}
}

// EnqueueOptions tune a single enqueue
type EnqueueOptions struct {
	Delay       time.Duration // Initial visibility delay
	Priority    int           // Lower wins; default 0
	MaxAttempts int           // Defaults to the broker's configured budget
}

// Counts is the broker inspection snapshot
type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
