package odp

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/optimizely-experiments/decision-core/internal/cache"
)

// SegmentOption toggles cache behavior of FetchQualifiedSegments, per
// spec §4.8.
type SegmentOption int

const (
	// IgnoreCache skips both the cache lookup and the cache write.
	IgnoreCache SegmentOption = iota
	// ResetCache clears the segment cache before fetching.
	ResetCache
)

func hasOption(options []SegmentOption, want SegmentOption) bool {
	for _, o := range options {
		if o == want {
			return true
		}
	}
	return false
}

// segmentFetcher is the subset of SegmentAPIClient the manager needs;
// narrowed to ease testing.
type segmentFetcher interface {
	FetchSegments(ctx context.Context, apiKey, apiHost, userKey, userValue string, segmentsToCheck []string) ([]string, error)
}

// SegmentManager schedules ODP segment lookups and caches the results
// (spec §4.8).
type SegmentManager struct {
	config *Config
	cache  *cache.Cache
	client segmentFetcher
	logger *zap.Logger
}

// NewSegmentManager constructs a SegmentManager. A nil logger installs
// a no-op logger.
func NewSegmentManager(config *Config, segmentCache *cache.Cache, client segmentFetcher, logger *zap.Logger) *SegmentManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SegmentManager{config: config, cache: segmentCache, client: client, logger: logger}
}

// FetchQualifiedSegments returns the qualified segments for a user,
// consulting the cache unless overridden by options.
func (m *SegmentManager) FetchQualifiedSegments(ctx context.Context, userKey, userValue string, options ...SegmentOption) ([]string, error) {
	apiKey := m.config.APIKey()
	apiHost := m.config.APIHost()
	segmentsToCheck := m.config.SegmentsToCheck()

	if apiKey == "" || apiHost == "" {
		return nil, xerrors.New("odp: fetching segments: api_key/api_host not defined")
	}
	if len(segmentsToCheck) == 0 {
		m.logger.Debug("no segments configured for project, returning empty list")
		return []string{}, nil
	}

	cacheKey := cache.MakeKey(userKey, userValue)
	ignoreCache := hasOption(options, IgnoreCache)
	resetCache := hasOption(options, ResetCache)

	if resetCache {
		m.cache.Reset()
	}

	if !ignoreCache && !resetCache {
		if cached, ok := m.cache.Lookup(cacheKey); ok {
			m.logger.Debug("odp segment cache hit")
			return cached.([]string), nil
		}
		m.logger.Debug("odp segment cache miss")
	}

	m.logger.Debug("calling odp segment api")
	segments, err := m.client.FetchSegments(ctx, apiKey, apiHost, userKey, userValue, segmentsToCheck)
	if err != nil {
		if xerrors.Is(err, ErrInvalidIdentifier) {
			return []string{}, nil
		}
		return nil, err
	}

	if !ignoreCache {
		m.cache.Save(cacheKey, segments)
	}
	return segments, nil
}
