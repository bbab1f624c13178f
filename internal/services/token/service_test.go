package token

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestService_RefreshStoresToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token":"bearer-xyz"}`)
	}))
	defer server.Close()

	svc := NewService(server.URL, arbor.NewLogger())

	_, ok := svc.Current()
	assert.False(t, ok, "no token before first refresh")

	require.NoError(t, svc.Refresh(context.Background()))

	tok, ok := svc.Current()
	assert.True(t, ok)
	assert.Equal(t, "bearer-xyz", tok)

	health := svc.Health()
	assert.True(t, health.HasToken)
	assert.Equal(t, int64(1), health.RefreshCount)
	assert.Equal(t, int64(0), health.FailureCount)
	require.NotNil(t, health.LastRefresh)
}

func TestService_FailureKeepsPreviousToken(t *testing.T) {
	var fail atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"token":"good-token"}`)
	}))
	defer server.Close()

	svc := NewService(server.URL, arbor.NewLogger())
	require.NoError(t, svc.Refresh(context.Background()))

	fail.Store(true)
	err := svc.Refresh(context.Background())
	require.Error(t, err)

	// Workers keep using the stale-but-present token
	tok, ok := svc.Current()
	assert.True(t, ok)
	assert.Equal(t, "good-token", tok)

	health := svc.Health()
	assert.Equal(t, int64(1), health.RefreshCount)
	assert.Equal(t, int64(1), health.FailureCount)
	assert.Equal(t, 0.5, health.FailureRate)
}

func TestService_EmptyTokenIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token":""}`)
	}))
	defer server.Close()

	svc := NewService(server.URL, arbor.NewLogger())
	err := svc.Refresh(context.Background())
	require.Error(t, err)

	_, ok := svc.Current()
	assert.False(t, ok)
}

func TestService_ConcurrentRefreshesCoalesce(t *testing.T) {
	var calls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		fmt.Fprint(w, `{"token":"shared"}`)
	}))
	defer server.Close()

	svc := NewService(server.URL, arbor.NewLogger())

	var wg sync.WaitGroup
	errs := make([]error, 5)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = svc.Refresh(context.Background())
	}()

	// Let the first call claim the inflight slot
	time.Sleep(20 * time.Millisecond)

	for i := 1; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Refresh(context.Background())
		}(i)
	}

	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}
	assert.Equal(t, int64(1), calls.Load(), "followers should join the in-flight refresh")
}

func TestService_AutoRefreshPrimesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token":"primed"}`)
	}))
	defer server.Close()

	svc := NewService(server.URL, arbor.NewLogger(), WithRefreshInterval(time.Hour))
	svc.StartAutoRefresh()
	defer svc.Stop()

	require.Eventually(t, func() bool {
		_, ok := svc.Current()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	health := svc.Health()
	assert.True(t, health.IsRunning)
}

func TestService_StopIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"token":"x"}`)
	}))
	defer server.Close()

	svc := NewService(server.URL, arbor.NewLogger(), WithRefreshInterval(time.Hour))
	svc.StartAutoRefresh()
	svc.Stop()
	svc.Stop()

	assert.False(t, svc.Health().IsRunning)
}
