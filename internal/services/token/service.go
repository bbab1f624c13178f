// Package token maintains the upstream bearer token. The upstream
// issues tokens that last roughly five minutes, so the supervisor
// refreshes on a four-minute cadence and on demand after a 401.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/models"
)

const (
	// DefaultRefreshInterval keeps the token fresh ahead of its ~5m expiry.
	DefaultRefreshInterval = 4 * time.Minute

	// refreshTimeout bounds one token endpoint round-trip.
	refreshTimeout = 10 * time.Second
)

// Service supervises the bearer token lifecycle
type Service struct {
	endpointURL string
	interval    time.Duration
	httpClient  *http.Client
	logger      arbor.ILogger

	current atomic.Pointer[models.TokenSnapshot]

	refreshCount atomic.Int64
	failureCount atomic.Int64

	mu         sync.Mutex
	inflight   chan struct{} // Closed when the in-progress refresh finishes
	inflightMu sync.Mutex
	lastErr    error

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// Option configures the Service
type Option func(*Service)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(s *Service) {
		s.httpClient = httpClient
	}
}

// WithRefreshInterval overrides the auto-refresh cadence
func WithRefreshInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// NewService creates a token supervisor
func NewService(endpointURL string, logger arbor.ILogger, opts ...Option) *Service {
	s := &Service{
		endpointURL: endpointURL,
		interval:    DefaultRefreshInterval,
		httpClient:  &http.Client{Timeout: refreshTimeout},
		logger:      logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Current returns the current token value, or ok=false before the
// first successful refresh.
func (s *Service) Current() (string, bool) {
	snap := s.current.Load()
	if snap == nil || snap.Value == "" {
		return "", false
	}
	return snap.Value, true
}

// Refresh fetches a new token. Concurrent callers coalesce onto one
// upstream request and all observe its outcome.
func (s *Service) Refresh(ctx context.Context) error {
	s.inflightMu.Lock()
	if s.inflight != nil {
		done := s.inflight
		s.inflightMu.Unlock()
		select {
		case <-done:
			return s.lastRefreshError()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	s.inflight = done
	s.inflightMu.Unlock()

	err := s.doRefresh(ctx)

	s.inflightMu.Lock()
	s.lastErr = err
	s.inflight = nil
	close(done)
	s.inflightMu.Unlock()

	return err
}

func (s *Service) lastRefreshError() error {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	return s.lastErr
}

// doRefresh performs one token endpoint round-trip. On failure the
// previous token stays in place.
func (s *Service) doRefresh(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.endpointURL, nil)
	if err != nil {
		s.failureCount.Add(1)
		return fmt.Errorf("failed to create token request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.failureCount.Add(1)
		s.logger.Warn().Err(err).Msg("Token refresh request failed")
		return fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.failureCount.Add(1)
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		s.logger.Warn().Int("status", resp.StatusCode).Msg("Token endpoint returned error status")
		return fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		s.failureCount.Add(1)
		return fmt.Errorf("failed to decode token response: %w", err)
	}

	if payload.Token == "" {
		s.failureCount.Add(1)
		return fmt.Errorf("token endpoint returned an empty token")
	}

	s.current.Store(&models.TokenSnapshot{
		Value:       payload.Token,
		LastRefresh: time.Now(),
	})
	s.refreshCount.Add(1)

	s.logger.Debug().Msg("Token refreshed")

	return nil
}

// StartAutoRefresh begins periodic refresh. Calling it again restarts
// the loop with the current interval.
func (s *Service) StartAutoRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.stopLocked()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(ctx)

	s.logger.Info().
		Str("interval", s.interval.String()).
		Msg("Token auto-refresh started")
}

// Stop halts the refresh loop
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.stopLocked()
	s.logger.Info().Msg("Token auto-refresh stopped")
}

func (s *Service) stopLocked() {
	s.cancel()
	<-s.done
	s.running = false
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	// Prime immediately so workers do not start tokenless
	if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Msg("Initial token refresh failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("Scheduled token refresh failed")
			}
		}
	}
}

// Health reports supervisor state for the control surface
func (s *Service) Health() models.TokenHealth {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	s.inflightMu.Lock()
	refreshing := s.inflight != nil
	s.inflightMu.Unlock()

	health := models.TokenHealth{
		RefreshCount: s.refreshCount.Load(),
		FailureCount: s.failureCount.Load(),
		IsRefreshing: refreshing,
		IsRunning:    running,
	}

	if snap := s.current.Load(); snap != nil && snap.Value != "" {
		health.HasToken = true
		t := snap.LastRefresh
		health.LastRefresh = &t
	}

	total := health.RefreshCount + health.FailureCount
	if total > 0 {
		health.FailureRate = float64(health.FailureCount) / float64(total)
	}

	return health
}
