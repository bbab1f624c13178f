package upstream

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/models"
)

// pageSizes is the adaptive ladder: start big, downshift whenever the
// upstream truncates the body at the current size.
var pageSizes = []int{1000, 500, 100, 50}

const (
	// maxPages caps pagination per term regardless of the reported total.
	maxPages = 100

	// samePageRetries caps 409/504 retries of a single page.
	samePageRetries = 3

	// rateLimitWait is the pause before retrying a 409.
	rateLimitWait = 2 * time.Second

	// gatewayTimeoutWait is the pause before retrying a 504.
	gatewayTimeoutWait = 5 * time.Second
)

// Result is a complete fetch for one term.
type Result struct {
	Total    int                      // Upstream-reported property count
	Records  []*models.PropertyRecord // Deduplicated within this fetch
	PageSize int                      // The page size that succeeded
}

// PageFunc observes pagination progress after each page.
type PageFunc func(page, accumulated, total int)

// FetchAll returns every record for a term, or a classified error.
// There are no partial returns: the caller gets the full known result
// set at whichever page size worked, or nothing.
//
// ErrTokenExpired surfaces immediately so the caller can refresh the
// bearer and retry the whole task. Truncation and parse failures at one
// page size downshift to the next; if every size fails that way the
// fetch is UnrecoverableError.
func (c *Client) FetchAll(ctx context.Context, token, term string, year int, onPage PageFunc) (*Result, error) {
	var lastErr error

	for _, size := range pageSizes {
		result, err := c.fetchAtSize(ctx, token, term, year, size, onPage)
		if err == nil {
			return result, nil
		}

		if isDownshift(err) {
			if c.logger != nil {
				c.logger.Warn().
					Str("search_term", term).
					Int("page_size", size).
					Err(err).
					Msg("Downshifting page size")
			}
			lastErr = err
			continue
		}

		return nil, err
	}

	return nil, &UnrecoverableError{Err: lastErr}
}

// fetchAtSize runs the pagination loop at one fixed page size.
func (c *Client) fetchAtSize(ctx context.Context, token, term string, year, size int, onPage PageFunc) (*Result, error) {
	seen := make(map[string]bool)
	var records []*models.PropertyRecord
	total := 0
	accumulated := 0
	now := time.Now().UTC()

	for page := 1; page <= maxPages; page++ {
		// The limiter enforces the one-second gap between pages,
		// including the gap between a page and its 409/504 retry.
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.fetchPageWithRetry(ctx, token, term, year, page, size)
		if err != nil {
			return nil, err
		}

		if page == 1 {
			total = int(resp.TotalProperty.PropertyCount)
		}

		for i := range resp.Results {
			rec := resp.Results[i].toRecord(term, now)
			if rec == nil || seen[rec.PropertyID] {
				continue
			}
			seen[rec.PropertyID] = true
			records = append(records, rec)
		}
		accumulated += len(resp.Results)

		if onPage != nil {
			onPage(page, accumulated, total)
		}

		if accumulated >= total || len(resp.Results) < size {
			break
		}
	}

	if c.logger != nil {
		c.logger.Info().
			Str("search_term", term).
			Int("total", total).
			Int("records", len(records)).
			Int("page_size", size).
			Msg("Fetch complete")
	}

	return &Result{Total: total, Records: records, PageSize: size}, nil
}

// fetchPageWithRetry retries one page through transient 409/504
// responses, up to samePageRetries, without advancing.
func (c *Client) fetchPageWithRetry(ctx context.Context, token, term string, year, page, size int) (*searchResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= samePageRetries; attempt++ {
		resp, err := c.fetchPage(ctx, token, term, year, page, size)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var status *StatusError
		if !errors.As(err, &status) {
			return nil, err
		}

		var wait time.Duration
		switch status.Status {
		case http.StatusConflict:
			wait = rateLimitWait
		case http.StatusGatewayTimeout:
			wait = gatewayTimeoutWait
		default:
			return nil, err
		}

		if attempt == samePageRetries {
			break
		}

		if c.logger != nil {
			c.logger.Warn().
				Str("search_term", term).
				Int("page", page).
				Int("status", status.Status).
				Str("wait", wait.String()).
				Msg("Transient upstream error, retrying page")
		}

		if err := common.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// isDownshift reports whether an error should trigger the next smaller
// page size rather than aborting the fetch.
func isDownshift(err error) bool {
	var trunc *TruncatedError
	var parse *ParseError
	return errors.As(err, &trunc) || errors.As(err, &parse)
}
