package odp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimizely-experiments/decision-core/internal/cache"
)

type fakeFetcher struct {
	calls   int
	segs    []string
	err     error
	lastKey string
}

func (f *fakeFetcher) FetchSegments(_ context.Context, _, _, userKey, _ string, _ []string) ([]string, error) {
	f.calls++
	f.lastKey = userKey
	return f.segs, f.err
}

func TestSegmentManager_requiresCredentials(t *testing.T) {
	cfg := NewConfig("", "", []string{"seg1"})
	m := NewSegmentManager(cfg, cache.New(10, 0), &fakeFetcher{}, nil)
	_, err := m.FetchQualifiedSegments(context.Background(), "fs_user_id", "u1")
	assert.Error(t, err)
}

func TestSegmentManager_emptySegmentsToCheckSkipsNetwork(t *testing.T) {
	cfg := NewConfig("key", "host", nil)
	fetcher := &fakeFetcher{segs: []string{"should-not-be-returned"}}
	m := NewSegmentManager(cfg, cache.New(10, 0), fetcher, nil)

	segs, err := m.FetchQualifiedSegments(context.Background(), "fs_user_id", "u1")
	require.NoError(t, err)
	assert.Empty(t, segs)
	assert.Equal(t, 0, fetcher.calls)
}

func TestSegmentManager_cachesResults(t *testing.T) {
	cfg := NewConfig("key", "host", []string{"seg1"})
	fetcher := &fakeFetcher{segs: []string{"seg1"}}
	m := NewSegmentManager(cfg, cache.New(10, 0), fetcher, nil)

	segs1, err := m.FetchQualifiedSegments(context.Background(), "fs_user_id", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"seg1"}, segs1)

	segs2, err := m.FetchQualifiedSegments(context.Background(), "fs_user_id", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"seg1"}, segs2)
	assert.Equal(t, 1, fetcher.calls, "second call should be served from cache")
}

func TestSegmentManager_ignoreCacheBypassesCache(t *testing.T) {
	cfg := NewConfig("key", "host", []string{"seg1"})
	fetcher := &fakeFetcher{segs: []string{"seg1"}}
	m := NewSegmentManager(cfg, cache.New(10, 0), fetcher, nil)

	_, err := m.FetchQualifiedSegments(context.Background(), "fs_user_id", "u1", IgnoreCache)
	require.NoError(t, err)
	_, err = m.FetchQualifiedSegments(context.Background(), "fs_user_id", "u1", IgnoreCache)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
}

func TestSegmentManager_resetCacheClearsBeforeFetch(t *testing.T) {
	cfg := NewConfig("key", "host", []string{"seg1"})
	fetcher := &fakeFetcher{segs: []string{"seg1"}}
	m := NewSegmentManager(cfg, cache.New(10, 0), fetcher, nil)

	_, err := m.FetchQualifiedSegments(context.Background(), "fs_user_id", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)

	_, err = m.FetchQualifiedSegments(context.Background(), "fs_user_id", "u1", ResetCache)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls, "reset should force a fresh network call")
}

func TestSegmentManager_invalidIdentifierReturnsEmptyNotError(t *testing.T) {
	cfg := NewConfig("key", "host", []string{"seg1"})
	fetcher := &fakeFetcher{err: ErrInvalidIdentifier}
	m := NewSegmentManager(cfg, cache.New(10, 0), fetcher, nil)

	segs, err := m.FetchQualifiedSegments(context.Background(), "fs_user_id", "u1")
	require.NoError(t, err)
	assert.Empty(t, segs)
}
