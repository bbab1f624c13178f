package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/models"
)

// Broker implements at-least-once task delivery over BadgerDB.
//
// Key layout:
//
//	q:{name}:task:{id}                              -> TaskRecord JSON
//	q:{name}:ready:{priority:05d}:{nanos:020d}:{id} -> nil (claim index)
//	q:{name}:done:{nanos:020d}:{id}                 -> nil (completed retention)
//	q:{name}:dead:{nanos:020d}:{id}                 -> nil (failed retention)
//
// The ready index timestamp is VisibleAt for waiting/delayed tasks and
// LeaseUntil for active ones, so an expired lease makes the task claimable
// again without a separate recovery sweep.
type Broker struct {
	db            *badger.DB
	name          string
	visibility    time.Duration
	maxAttempts   int
	backoff       *common.Backoff
	keepCompleted int
	keepFailed    int
	pollInterval  time.Duration
	logger        arbor.ILogger
}

// Options configure a Broker
type Options struct {
	Name              string
	VisibilityTimeout time.Duration // Active-task lease; default 5m
	MaxAttempts       int           // Default 3
	BackoffBase       time.Duration // Exponential re-delay base; default 2s
	KeepCompleted     int           // Terminal retention; default 100
	KeepFailed        int           // Default 50
	PollInterval      time.Duration // Dequeue poll cadence; default 1s
}

// NewBroker creates a badger-backed task broker
func NewBroker(db *badger.DB, logger arbor.ILogger, opts Options) (*Broker, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if opts.Name == "" {
		return nil, errors.New("queue name is required")
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 5 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	if opts.KeepCompleted <= 0 {
		opts.KeepCompleted = 100
	}
	if opts.KeepFailed <= 0 {
		opts.KeepFailed = 50
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	return &Broker{
		db:            db,
		name:          opts.Name,
		visibility:    opts.VisibilityTimeout,
		maxAttempts:   opts.MaxAttempts,
		backoff:       common.NewBackoff(opts.BackoffBase, 5*time.Minute),
		keepCompleted: opts.KeepCompleted,
		keepFailed:    opts.KeepFailed,
		pollInterval:  opts.PollInterval,
		logger:        logger,
	}, nil
}

// Enqueue adds a task and returns its broker id
func (b *Broker) Enqueue(ctx context.Context, task models.Task, opts EnqueueOptions) (string, error) {
	id := common.NewTaskID()
	now := time.Now()

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = b.maxAttempts
	}

	rec := TaskRecord{
		ID:          id,
		Task:        task,
		State:       StateWaiting,
		Priority:    opts.Priority,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  now,
		VisibleAt:   now,
	}
	if opts.Delay > 0 {
		rec.State = StateDelayed
		rec.VisibleAt = now.Add(opts.Delay)
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		if err := b.putRecord(txn, &rec); err != nil {
			return err
		}
		return txn.Set(b.readyKey(rec.Priority, rec.VisibleAt, id), nil)
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	b.logger.Debug().
		Str("task_id", id).
		Str("search_term", task.SearchTerm).
		Str("delay", opts.Delay.String()).
		Msg("Task enqueued")

	return id, nil
}

// Dequeue blocks until a task is claimable or ctx is cancelled
func (b *Broker) Dequeue(ctx context.Context) (*TaskRecord, error) {
	for {
		rec, err := b.tryClaim()
		if err == nil {
			return rec, nil
		}
		if err != ErrNoTask {
			return nil, err
		}

		if err := common.Sleep(ctx, b.pollInterval); err != nil {
			return nil, err
		}
	}
}

// tryClaim scans the ready index for the best claimable task
func (b *Broker) tryClaim() (*TaskRecord, error) {
	var claimed TaskRecord

	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("q:%s:ready:", b.name))
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := b.parseIndexKey(key, "ready")
			if err != nil {
				continue // Skip malformed keys
			}

			// Keys sort priority-first, so a future timestamp only rules
			// out the rest of this priority group, not the whole index.
			if ts.After(now) {
				continue
			}

			var rec TaskRecord
			if err := b.getRecord(txn, id, &rec); err != nil {
				if err == ErrNotFound {
					// Index without record: clean up and move on
					if delErr := txn.Delete(key); delErr != nil {
						return delErr
					}
					continue
				}
				return err
			}

			// Claim: consume an attempt, lease, reindex at lease expiry
			rec.Attempt++
			rec.Task.Attempt = rec.Attempt
			rec.State = StateActive
			rec.LeaseUntil = now.Add(b.visibility)

			if err := b.putRecord(txn, &rec); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(b.readyKey(rec.Priority, rec.LeaseUntil, id), nil); err != nil {
				return err
			}

			claimed = rec
			return nil
		}

		return ErrNoTask
	})
	if err != nil {
		return nil, err
	}

	return &claimed, nil
}

// Ack marks a task completed and trims completed retention
func (b *Broker) Ack(ctx context.Context, id string, resultCount int) error {
	return b.finish(id, StateCompleted, "", resultCount)
}

// Fail records a failed attempt. With attempts remaining the task is
// re-delayed by base*2^(attempt-1); otherwise it is terminally failed.
// consumeAttempt=false returns the attempt to the budget (token-expiry
// retries are free).
func (b *Broker) Fail(ctx context.Context, id string, errMsg string, consumeAttempt bool) error {
	now := time.Now()

	return b.db.Update(func(txn *badger.Txn) error {
		var rec TaskRecord
		if err := b.getRecord(txn, id, &rec); err != nil {
			return err
		}
		if rec.State != StateActive {
			return fmt.Errorf("task %s is not active (state %s)", id, rec.State)
		}

		oldIndex := b.readyKey(rec.Priority, rec.LeaseUntil, id)

		if !consumeAttempt && rec.Attempt > 0 {
			rec.Attempt--
		}
		rec.LastError = errMsg

		if rec.Attempt >= rec.MaxAttempts {
			rec.State = StateFailed
			rec.FinishedAt = now
			rec.LeaseUntil = time.Time{}

			if err := b.putRecord(txn, &rec); err != nil {
				return err
			}
			if err := txn.Delete(oldIndex); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
			if err := txn.Set(b.terminalKey("dead", now, id), nil); err != nil {
				return err
			}
			return b.trimTerminal(txn, "dead", b.keepFailed)
		}

		delay := b.backoff.Duration(rec.Attempt - 1)
		if rec.Attempt <= 0 {
			delay = 0
		}
		rec.State = StateDelayed
		rec.VisibleAt = now.Add(delay)
		rec.LeaseUntil = time.Time{}

		if err := b.putRecord(txn, &rec); err != nil {
			return err
		}
		if err := txn.Delete(oldIndex); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(b.readyKey(rec.Priority, rec.VisibleAt, id), nil)
	})
}

// FailPermanent fails a task terminally regardless of remaining
// attempts. Used for errors no retry can fix.
func (b *Broker) FailPermanent(ctx context.Context, id string, errMsg string) error {
	return b.finish(id, StateFailed, errMsg, 0)
}

func (b *Broker) finish(id string, state State, errMsg string, resultCount int) error {
	now := time.Now()

	return b.db.Update(func(txn *badger.Txn) error {
		var rec TaskRecord
		if err := b.getRecord(txn, id, &rec); err != nil {
			return err
		}

		oldIndex := b.readyKey(rec.Priority, rec.LeaseUntil, id)
		if rec.State != StateActive {
			oldIndex = b.readyKey(rec.Priority, rec.VisibleAt, id)
		}

		rec.State = state
		rec.FinishedAt = now
		rec.LeaseUntil = time.Time{}
		rec.LastError = errMsg
		rec.ResultCount = resultCount
		if state == StateCompleted {
			rec.Progress = 100
		}

		if err := b.putRecord(txn, &rec); err != nil {
			return err
		}
		if err := txn.Delete(oldIndex); err != nil && err != badger.ErrKeyNotFound {
			return err
		}

		kind := "done"
		keep := b.keepCompleted
		if state == StateFailed {
			kind = "dead"
			keep = b.keepFailed
		}
		if err := txn.Set(b.terminalKey(kind, now, id), nil); err != nil {
			return err
		}
		return b.trimTerminal(txn, kind, keep)
	})
}

// Progress records an observational completion percentage
func (b *Broker) Progress(ctx context.Context, id string, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	return b.db.Update(func(txn *badger.Txn) error {
		var rec TaskRecord
		if err := b.getRecord(txn, id, &rec); err != nil {
			return err
		}
		rec.Progress = pct
		return b.putRecord(txn, &rec)
	})
}

// Get returns a task record by id
func (b *Broker) Get(ctx context.Context, id string) (*TaskRecord, error) {
	var rec TaskRecord
	err := b.db.View(func(txn *badger.Txn) error {
		return b.getRecord(txn, id, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Remove deletes a task and its index entries regardless of state
func (b *Broker) Remove(ctx context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		var rec TaskRecord
		if err := b.getRecord(txn, id, &rec); err != nil {
			return err
		}

		candidates := [][]byte{
			b.readyKey(rec.Priority, rec.VisibleAt, id),
			b.readyKey(rec.Priority, rec.LeaseUntil, id),
			b.terminalKey("done", rec.FinishedAt, id),
			b.terminalKey("dead", rec.FinishedAt, id),
		}
		for _, key := range candidates {
			if err := txn.Delete(key); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}

		return txn.Delete(b.taskKey(id))
	})
}

// ListPending returns all waiting and delayed tasks (including stalled
// actives whose lease has lapsed), ordered by enqueue time.
func (b *Broker) ListPending(ctx context.Context) ([]*TaskRecord, error) {
	var pending []*TaskRecord
	now := time.Now()

	err := b.scanRecords(func(rec *TaskRecord) {
		switch rec.EffectiveState(now) {
		case StateWaiting, StateDelayed:
			pending = append(pending, rec)
		}
	})
	if err != nil {
		return nil, err
	}

	return pending, nil
}

// Stats returns state counts for inspection
func (b *Broker) Stats(ctx context.Context) (*Counts, error) {
	var counts Counts
	now := time.Now()

	err := b.scanRecords(func(rec *TaskRecord) {
		switch rec.EffectiveState(now) {
		case StateWaiting:
			counts.Waiting++
		case StateActive:
			counts.Active++
		case StateDelayed:
			counts.Delayed++
		case StateCompleted:
			counts.Completed++
		case StateFailed:
			counts.Failed++
		}
	})
	if err != nil {
		return nil, err
	}

	return &counts, nil
}

// CleanupTerminal removes completed/failed records older than cutoff.
// Returns the number of records removed.
func (b *Broker) CleanupTerminal(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0

	for _, kind := range []string{"done", "dead"} {
		var ids []string

		err := b.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			prefix := []byte(fmt.Sprintf("q:%s:%s:", b.name, kind))
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				ts, id, err := b.parseIndexKey(it.Item().Key(), kind)
				if err != nil {
					continue
				}
				if ts.After(cutoff) {
					// Terminal indexes sort by finish time; the rest are newer
					break
				}
				ids = append(ids, id)
			}
			return nil
		})
		if err != nil {
			return removed, err
		}

		for _, id := range ids {
			if err := b.Remove(ctx, id); err != nil && err != ErrNotFound {
				return removed, err
			}
			removed++
		}
	}

	return removed, nil
}

func (b *Broker) scanRecords(visit func(*TaskRecord)) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(fmt.Sprintf("q:%s:task:", b.name))
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec TaskRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			visit(&rec)
		}
		return nil
	})
}

// trimTerminal deletes the oldest terminal records beyond keep
func (b *Broker) trimTerminal(txn *badger.Txn, kind string, keep int) error {
	prefix := []byte(fmt.Sprintf("q:%s:%s:", b.name, kind))

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		_, id, err := b.parseIndexKey(key, kind)
		if err != nil {
			continue
		}
		keys = append(keys, key)
		ids = append(ids, id)
	}

	excess := len(keys) - keep
	for i := 0; i < excess; i++ {
		if err := txn.Delete(keys[i]); err != nil {
			return err
		}
		if err := txn.Delete(b.taskKey(ids[i])); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
	}

	return nil
}

// Key helpers

func (b *Broker) taskKey(id string) []byte {
	return []byte(fmt.Sprintf("q:%s:task:%s", b.name, id))
}

func (b *Broker) readyKey(priority int, ts time.Time, id string) []byte {
	// Zero padding makes string ordering match numeric ordering
	return []byte(fmt.Sprintf("q:%s:ready:%05d:%020d:%s", b.name, priority, ts.UnixNano(), id))
}

func (b *Broker) terminalKey(kind string, ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("q:%s:%s:%020d:%s", b.name, kind, ts.UnixNano(), id))
}

// parseIndexKey extracts the timestamp and task id from a ready or
// terminal index key.
func (b *Broker) parseIndexKey(key []byte, kind string) (time.Time, string, error) {
	prefix := fmt.Sprintf("q:%s:%s:", b.name, kind)
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid index key")
	}

	suffix := string(key[len(prefix):])
	if kind == "ready" {
		// Strip the priority segment
		idx := strings.Index(suffix, ":")
		if idx < 0 {
			return time.Time{}, "", fmt.Errorf("invalid ready key")
		}
		suffix = suffix[idx+1:]
	}

	if len(suffix) < 22 { // 20-digit timestamp + colon + id
		return time.Time{}, "", fmt.Errorf("invalid index suffix")
	}

	ts, err := strconv.ParseInt(suffix[:20], 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), suffix[21:], nil
}

func (b *Broker) getRecord(txn *badger.Txn, id string, rec *TaskRecord) error {
	item, err := txn.Get(b.taskKey(id))
	if err == badger.ErrKeyNotFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, rec)
	})
}

func (b *Broker) putRecord(txn *badger.Txn, rec *TaskRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal task record: %w", err)
	}
	return txn.Set(b.taskKey(rec.ID), data)
}
