package cmab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimizely-experiments/decision-core/internal/cache"
)

func TestClient_cacheHitSkipsNetwork(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"predictions":[{"variation_id":"var1"}]}`))
	}))
	defer srv.Close()

	predictionCache := cache.New(10, 0)
	c := NewClient(WithHTTPClient(srv.Client()), WithCache(predictionCache), withEndpointTemplate(srv.URL+"/predict/%s"))

	predictionCache.Save(predictionCacheKey("rule1", "user1", "uuid1"), "cached-variation")

	variation, err := c.FetchDecision(context.Background(), "rule1", "user1", nil, "uuid1")
	require.NoError(t, err)
	assert.Equal(t, "cached-variation", variation)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestClient_fetchOnce_validatesResponseSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"predictions":[]}`))
	}))
	defer srv.Close()

	c := NewClient(WithHTTPClient(srv.Client()), withEndpointTemplate(srv.URL+"/predict/%s"))
	_, err := c.fetchOnce(context.Background(), "rule1", "user1", nil, "uuid1")
	assert.Error(t, err)
}

func TestClient_fetchOnce_httpErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(WithHTTPClient(srv.Client()), withEndpointTemplate(srv.URL+"/predict/%s"))
	_, err := c.fetchOnce(context.Background(), "rule1", "user1", nil, "uuid1")
	assert.Error(t, err)
}

func TestClient_fetchOnce_success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"predictions":[{"variation_id":"var42"}]}`))
	}))
	defer srv.Close()

	c := NewClient(WithHTTPClient(srv.Client()), withEndpointTemplate(srv.URL+"/predict/%s"))
	variation, err := c.fetchOnce(context.Background(), "rule1", "user1", map[string]interface{}{"age": 30}, "uuid1")
	require.NoError(t, err)
	assert.Equal(t, "var42", variation)
}

func TestClient_fetchWithRetry_succeedsAfterTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"predictions":[{"variation_id":"var1"}]}`))
	}))
	defer srv.Close()

	retryConfig := &RetryConfig{MaxRetries: 5, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond, BackoffMultiplier: 2}
	c := NewClient(WithHTTPClient(srv.Client()), WithRetryConfig(retryConfig), withEndpointTemplate(srv.URL+"/predict/%s"))

	variation, err := c.FetchDecision(context.Background(), "rule1", "user1", nil, "uuid1")
	require.NoError(t, err)
	assert.Equal(t, "var1", variation)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_fetchWithRetry_exhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	retryConfig := &RetryConfig{MaxRetries: 2, InitialBackoff: 2 * time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiplier: 2}
	c := NewClient(WithHTTPClient(srv.Client()), WithRetryConfig(retryConfig), withEndpointTemplate(srv.URL+"/predict/%s"))

	_, err := c.FetchDecision(context.Background(), "rule1", "user1", nil, "uuid1")
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
