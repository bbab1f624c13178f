// Package worker runs the bounded pool that turns queued scrape tasks
// into persisted property records.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/ternarybob/praedium/internal/queue"
	"github.com/ternarybob/praedium/internal/upstream"
)

// DefaultConcurrency is the default worker count
const DefaultConcurrency = 2

// Broker is the queue surface a worker consumes
type Broker interface {
	Dequeue(ctx context.Context) (*queue.TaskRecord, error)
	Ack(ctx context.Context, id string, resultCount int) error
	Fail(ctx context.Context, id string, errMsg string, consumeAttempt bool) error
	FailPermanent(ctx context.Context, id string, errMsg string) error
	Progress(ctx context.Context, id string, pct int) error
}

// Fetcher pulls all records for a term from the upstream
type Fetcher interface {
	FetchAll(ctx context.Context, token, term string, year int, onPage upstream.PageFunc) (*upstream.Result, error)
}

// TokenSource provides and refreshes the upstream bearer
type TokenSource interface {
	Current() (string, bool)
	Refresh(ctx context.Context) error
}

// Gateway is the persistence surface a worker writes through
type Gateway interface {
	Upsert(ctx context.Context, records []*models.PropertyRecord, term string) (int, error)
	BeginJob(ctx context.Context, term, queueID string) (string, error)
	CompleteJob(ctx context.Context, jobID string, resultCount int) error
	FailJob(ctx context.Context, jobID, errMsg string) error
}

// Recorder captures per-term scrape outcomes
type Recorder interface {
	RecordSuccess(ctx context.Context, term string, records int)
	RecordFailure(ctx context.Context, term, errMsg string)
}

// Pool runs W concurrent workers against the broker
type Pool struct {
	broker      Broker
	fetcher     Fetcher
	tokens      TokenSource
	gateway     Gateway
	recorder    Recorder
	concurrency int
	year        int
	grace       time.Duration
	logger      arbor.ILogger

	mu         sync.Mutex
	cancel     context.CancelFunc
	procCancel context.CancelFunc
	wg         sync.WaitGroup
	running    bool
}

// Config tunes the pool
type Config struct {
	Concurrency   int           // Default 2
	Year          int           // Tax year passed to the upstream query
	ShutdownGrace time.Duration // In-flight task deadline on Stop; default 10s
}

// NewPool creates a worker pool
func NewPool(broker Broker, fetcher Fetcher, tokens TokenSource, gateway Gateway, recorder Recorder, cfg Config, logger arbor.ILogger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Year <= 0 {
		cfg.Year = time.Now().Year()
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}

	return &Pool{
		broker:      broker,
		fetcher:     fetcher,
		tokens:      tokens,
		gateway:     gateway,
		recorder:    recorder,
		concurrency: cfg.Concurrency,
		year:        cfg.Year,
		grace:       cfg.ShutdownGrace,
		logger:      logger,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	pullCtx, cancel := context.WithCancel(context.Background())
	procCtx, procCancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.procCancel = procCancel
	p.running = true

	// In-flight tasks outlive the pull context by the shutdown grace
	go func() {
		<-pullCtx.Done()
		timer := time.NewTimer(p.grace)
		defer timer.Stop()
		select {
		case <-procCtx.Done():
		case <-timer.C:
			procCancel()
		}
	}()

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.runWorker(pullCtx, procCtx, i)
	}

	p.logger.Info().
		Int("concurrency", p.concurrency).
		Int("year", p.year).
		Msg("Worker pool started")
}

// Stop halts pulling and drains in-flight tasks. A task still running
// after the grace period is abandoned; the broker's lease expiry will
// re-deliver it.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.procCancel()

	p.logger.Info().Msg("Worker pool stopped")
}

func (p *Pool) runWorker(pullCtx, procCtx context.Context, id int) {
	defer p.wg.Done()

	for {
		rec, err := p.broker.Dequeue(pullCtx)
		if err != nil {
			if pullCtx.Err() != nil {
				return
			}
			p.logger.Warn().Err(err).Int("worker", id).Msg("Dequeue failed")
			continue
		}

		p.process(procCtx, rec, p.logger)
	}
}

// process runs one delivery attempt of one task
func (p *Pool) process(ctx context.Context, rec *queue.TaskRecord, log arbor.ILogger) {
	term := rec.Task.SearchTerm

	log.Info().
		Str("task_id", rec.ID).
		Str("search_term", term).
		Int("attempt", rec.Attempt).
		Msg("Processing scrape task")

	jobID, err := p.gateway.BeginJob(ctx, term, rec.ID)
	if err != nil {
		log.Error().Err(err).Str("search_term", term).Msg("Failed to open job row")
		p.failBroker(ctx, rec.ID, err.Error(), true, log)
		return
	}

	p.progress(ctx, rec.ID, 10, log)

	tok, ok := p.tokens.Current()
	if !ok {
		// No token yet: prime one and put the task back for free
		if err := p.tokens.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("Token refresh failed")
		}
		p.failBroker(ctx, rec.ID, "no upstream token available", false, log)
		return
	}

	result, err := p.fetcher.FetchAll(ctx, tok, term, p.year, func(page, accumulated, total int) {
		p.progress(ctx, rec.ID, paginationProgress(accumulated, total), log)
	})
	if err != nil {
		p.handleFetchError(ctx, rec, jobID, err, log)
		return
	}

	count, err := p.gateway.Upsert(ctx, result.Records, term)
	if err != nil {
		p.failJob(ctx, rec, jobID, err.Error(), true, log)
		return
	}

	p.progress(ctx, rec.ID, 100, log)

	if err := p.gateway.CompleteJob(ctx, jobID, count); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to complete job row")
	}
	p.recorder.RecordSuccess(ctx, term, count)

	if err := p.broker.Ack(ctx, rec.ID, count); err != nil {
		log.Warn().Err(err).Str("task_id", rec.ID).Msg("Failed to ack task")
	}

	log.Info().
		Str("search_term", term).
		Int("records", count).
		Msg("Scrape task completed")
}

func (p *Pool) handleFetchError(ctx context.Context, rec *queue.TaskRecord, jobID string, err error, log arbor.ILogger) {
	term := rec.Task.SearchTerm

	if ctx.Err() != nil {
		// Shutdown mid-fetch: leave the task leased; stall recovery
		// re-delivers it after the lease lapses.
		log.Info().Str("search_term", term).Msg("Task abandoned during shutdown")
		return
	}

	switch {
	case errors.Is(err, upstream.ErrTokenExpired):
		// Free retry: the attempt was spent on a dead token, not on the
		// upstream actually failing us.
		log.Info().Str("search_term", term).Msg("Token expired mid-fetch, refreshing")
		if refreshErr := p.tokens.Refresh(ctx); refreshErr != nil {
			log.Warn().Err(refreshErr).Msg("Token refresh failed")
		}
		p.failBroker(ctx, rec.ID, err.Error(), false, log)

	case isTransientStatus(err):
		if rec.Attempt >= rec.MaxAttempts {
			// Last attempt: the broker goes terminal on this Fail, so
			// the job row gets its user-visible failure now rather
			// than at the next restart's orphan sweep.
			p.failJob(ctx, rec, jobID, err.Error(), true, log)
			return
		}
		log.Warn().Err(err).Str("search_term", term).Msg("Transient upstream failure, task will retry")
		p.failBroker(ctx, rec.ID, err.Error(), true, log)

	case isUnrecoverable(err):
		// Truncation at every page size is load-dependent, so the
		// attempt budget still applies; later deliveries may find the
		// upstream settled.
		p.failJob(ctx, rec, jobID, err.Error(), true, log)

	case !upstream.IsRetryable(err):
		log.Error().Err(err).Str("search_term", term).Msg("Non-retryable scrape failure")
		if jobErr := p.gateway.FailJob(ctx, jobID, err.Error()); jobErr != nil {
			log.Warn().Err(jobErr).Str("job_id", jobID).Msg("Failed to fail job row")
		}
		p.recorder.RecordFailure(ctx, term, err.Error())
		if brokerErr := p.broker.FailPermanent(ctx, rec.ID, err.Error()); brokerErr != nil {
			log.Warn().Err(brokerErr).Str("task_id", rec.ID).Msg("Failed to fail task")
		}

	default:
		p.failJob(ctx, rec, jobID, err.Error(), true, log)
	}
}

// failJob records the failure on the job row and analytics, then fails
// the broker task.
func (p *Pool) failJob(ctx context.Context, rec *queue.TaskRecord, jobID, errMsg string, consumeAttempt bool, log arbor.ILogger) {
	log.Error().
		Str("search_term", rec.Task.SearchTerm).
		Str("error", errMsg).
		Msg("Scrape task failed")

	if err := p.gateway.FailJob(ctx, jobID, errMsg); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to fail job row")
	}
	p.recorder.RecordFailure(ctx, rec.Task.SearchTerm, errMsg)
	p.failBroker(ctx, rec.ID, errMsg, consumeAttempt, log)
}

func (p *Pool) failBroker(ctx context.Context, id, errMsg string, consumeAttempt bool, log arbor.ILogger) {
	if err := p.broker.Fail(ctx, id, errMsg, consumeAttempt); err != nil {
		log.Warn().Err(err).Str("task_id", id).Msg("Failed to fail task")
	}
}

func (p *Pool) progress(ctx context.Context, id string, pct int, log arbor.ILogger) {
	if err := p.broker.Progress(ctx, id, pct); err != nil {
		log.Debug().Err(err).Str("task_id", id).Msg("Failed to record progress")
	}
}

// paginationProgress maps fetch progress into the 30..90 band
func paginationProgress(accumulated, total int) int {
	if total <= 0 {
		return 30
	}
	pct := 30 + (60*accumulated)/total
	if pct > 90 {
		pct = 90
	}
	return pct
}

// isTransientStatus reports 5xx and rate-limit statuses worth a broker
// level re-delay.
func isTransientStatus(err error) bool {
	var status *upstream.StatusError
	if !errors.As(err, &status) {
		return false
	}
	return status.Status >= 500 || status.Status == 409 || status.Status == 429
}

func isUnrecoverable(err error) bool {
	var unrec *upstream.UnrecoverableError
	return errors.As(err, &unrec)
}
