package configmanager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimizely-experiments/decision-core/internal/notification"
)

func datafileWithRevision(revision string) string {
	return `{
		"version": "4",
		"projectId": "1",
		"accountId": "1",
		"revision": "` + revision + `",
		"featureFlags": [{"id": "flag1", "key": "my_flag", "rolloutId": "", "experimentIds": [], "variables": []}]
	}`
}

func TestNewStatic_parsesOnceAndServesImmediately(t *testing.T) {
	m, err := NewStatic([]byte(datafileWithRevision("1")))
	require.NoError(t, err)

	config := m.GetConfig(context.Background())
	require.NotNil(t, config)
	assert.Equal(t, "1", config.Revision)
}

func TestNewStatic_invalidDatafileIsAConstructionError(t *testing.T) {
	_, err := NewStatic([]byte(`not json`))
	assert.Error(t, err)
}

func TestNewAuthenticatedPolling_emptyTokenIsConstructionError(t *testing.T) {
	_, err := NewAuthenticatedPolling("sdk-key", "")
	assert.Error(t, err)
}

func TestGetConfig_returnsNilWhenBlockingTimeoutElapsesBeforeAFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewPolling("sdk-key", WithURLTemplate(srv.URL+"/%s"), WithBlockingTimeout(10*time.Millisecond), WithRetryAttempts(1))
	m.Start(context.Background())
	defer m.Stop()

	config := m.GetConfig(context.Background())
	assert.Nil(t, config, "no successful fetch has landed yet, GetConfig should give up and return nil")
}

func TestPolling_swapsConfigOnRevisionChangeAndEmitsConfigUpdate(t *testing.T) {
	var revision int32 = 1
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", "Wed, 01 Jan 2025 00:00:00 GMT")
		w.Write([]byte(datafileWithRevision(strconv.Itoa(int(atomic.LoadInt32(&revision))))))
	}))
	defer srv.Close()

	hub := notification.NewHub(nil)
	var updates int32
	hub.Add(notification.TypeConfigUpdate, func(payload interface{}) {
		atomic.AddInt32(&updates, 1)
	})

	m := NewPolling("sdk-key",
		WithURLTemplate(srv.URL+"/%s"),
		WithPollingInterval(MinPollingInterval), // the smallest value the clamp lets through
		WithHub(hub),
	)
	// polling interval is clamped to a minute in production; drive the
	// loop directly in the test instead of waiting on a real tick.
	m.pollingInterval = 10 * time.Millisecond

	m.Start(context.Background())
	defer m.Stop()

	config := m.GetConfig(context.Background())
	require.NotNil(t, config)
	assert.Equal(t, "1", config.Revision)
	assert.Equal(t, int32(1), atomic.LoadInt32(&updates))

	atomic.StoreInt32(&revision, 2)
	require.Eventually(t, func() bool {
		c := m.GetConfig(context.Background())
		return c != nil && c.Revision == "2"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&updates))
}

func TestPolling_notModifiedResponseIsANoOp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.Header().Set("Last-Modified", "Wed, 01 Jan 2025 00:00:00 GMT")
			w.Write([]byte(datafileWithRevision("1")))
			return
		}
		assert.NotEmpty(t, r.Header.Get("If-Modified-Since"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	m := NewPolling("sdk-key", WithURLTemplate(srv.URL+"/%s"))
	m.pollingInterval = 10 * time.Millisecond
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool {
		return m.GetConfig(context.Background()) != nil
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	config := m.GetConfig(context.Background())
	require.NotNil(t, config)
	assert.Equal(t, "1", config.Revision, "a 304 must not replace the config")
}

func TestAuthenticatedPolling_setsBearerHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(datafileWithRevision("1")))
	}))
	defer srv.Close()

	m, err := NewAuthenticatedPolling("sdk-key", "secret-token", WithURLTemplate(srv.URL+"/%s"))
	require.NoError(t, err)
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool {
		return m.GetConfig(context.Background()) != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Bearer secret-token", gotAuth)
}

func TestStop_isANoOpForAStaticManager(t *testing.T) {
	m, err := NewStatic([]byte(datafileWithRevision("1")))
	require.NoError(t, err)
	assert.NotPanics(t, func() { m.Stop() })
}
