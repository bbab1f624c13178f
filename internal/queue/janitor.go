package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/interfaces"
)

// Janitor runs the periodic queue hygiene sweep: per-term deduplication
// of pending tasks, removal of tasks whose term was already harvested
// recently, and pruning of old terminal records.
type Janitor struct {
	broker      *Broker
	jobs        interfaces.JobStorage
	interval    time.Duration
	gracePeriod time.Duration
	logger      arbor.ILogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewJanitor creates a queue janitor
func NewJanitor(broker *Broker, jobs interfaces.JobStorage, interval, gracePeriod time.Duration, logger arbor.ILogger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if gracePeriod <= 0 {
		gracePeriod = 24 * time.Hour
	}
	return &Janitor{
		broker:      broker,
		jobs:        jobs,
		interval:    interval,
		gracePeriod: gracePeriod,
		logger:      logger,
	}
}

// Start begins the periodic sweep loop
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.done = make(chan struct{})
	j.running = true

	go j.run(ctx)

	j.logger.Info().
		Str("interval", j.interval.String()).
		Msg("Queue janitor started")
}

// Stop halts the sweep loop and waits for the current sweep to finish
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.cancel()
	done := j.done
	j.running = false
	j.mu.Unlock()

	<-done
	j.logger.Info().Msg("Queue janitor stopped")
}

func (j *Janitor) run(ctx context.Context) {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
				j.logger.Warn().Err(err).Msg("Queue sweep failed")
			}
		}
	}
}

// Sweep performs one hygiene pass
func (j *Janitor) Sweep(ctx context.Context) error {
	pending, err := j.broker.ListPending(ctx)
	if err != nil {
		return err
	}

	now := time.Now()

	// Terms harvested within the grace period no longer need their
	// pending duplicates; older completions are stale enough to redo.
	completed, err := j.jobs.CompletedTermsSince(ctx, now.Add(-j.gracePeriod))
	if err != nil {
		return err
	}

	removedDup := j.dedupe(ctx, pending)
	removedDone := j.dropCompleted(ctx, pending, completed)

	pruned, err := j.broker.CleanupTerminal(ctx, now.Add(-j.gracePeriod))
	if err != nil {
		return err
	}

	if removedDup+removedDone+pruned > 0 {
		j.logger.Info().
			Int("duplicates_removed", removedDup).
			Int("completed_removed", removedDone).
			Int("terminal_pruned", pruned).
			Msg("Queue sweep finished")
	}

	return nil
}

// dedupe keeps one pending ad-hoc task per search term. Lowest priority
// wins, ties broken by earliest enqueue. Scheduled tasks are never dedup
// candidates: a cron injection must survive an ad-hoc enqueue for the
// same term.
func (j *Janitor) dedupe(ctx context.Context, pending []*TaskRecord) int {
	byTerm := make(map[string][]*TaskRecord)
	for _, rec := range pending {
		if rec.Task.Scheduled {
			continue
		}
		byTerm[rec.Task.SearchTerm] = append(byTerm[rec.Task.SearchTerm], rec)
	}

	removed := 0
	for term, recs := range byTerm {
		if len(recs) < 2 {
			continue
		}

		sort.Slice(recs, func(a, b int) bool {
			if recs[a].Priority != recs[b].Priority {
				return recs[a].Priority < recs[b].Priority
			}
			return recs[a].EnqueuedAt.Before(recs[b].EnqueuedAt)
		})

		for _, rec := range recs[1:] {
			if err := j.broker.Remove(ctx, rec.ID); err != nil && err != ErrNotFound {
				j.logger.Warn().Err(err).Str("task_id", rec.ID).Msg("Failed to remove duplicate task")
				continue
			}
			removed++
		}

		if removed > 0 {
			j.logger.Debug().
				Str("search_term", term).
				Int("duplicates", len(recs)-1).
				Msg("Deduplicated pending tasks")
		}
	}

	return removed
}

// dropCompleted removes ad-hoc pending tasks whose term already finished
// recently. Scheduled tasks stay: the cron cadence is the point.
func (j *Janitor) dropCompleted(ctx context.Context, pending []*TaskRecord, completed map[string]bool) int {
	removed := 0
	for _, rec := range pending {
		if rec.Task.Scheduled {
			continue
		}
		if !completed[rec.Task.SearchTerm] {
			continue
		}
		if err := j.broker.Remove(ctx, rec.ID); err != nil {
			if err != ErrNotFound {
				j.logger.Warn().Err(err).Str("task_id", rec.ID).Msg("Failed to remove completed-term task")
			}
			continue
		}
		removed++
	}
	return removed
}
