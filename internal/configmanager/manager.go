// Package configmanager implements the datafile lifecycle described in
// spec §4.11: a static mode that parses one fixed datafile, and a
// polling mode that keeps an immutable ProjectConfig snapshot fresh in
// the background via conditional GET.
package configmanager

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/optimizely-experiments/decision-core/api"
	"github.com/optimizely-experiments/decision-core/internal/datafile"
	"github.com/optimizely-experiments/decision-core/internal/entities"
	"github.com/optimizely-experiments/decision-core/internal/notification"
)

// Defaults and datafile URL templates, per spec §4.11/§6.
const (
	DefaultPollingInterval = 5 * time.Minute
	MinPollingInterval     = 1 * time.Minute
	DefaultRequestTimeout  = 10 * time.Second
	DefaultBlockingTimeout = 10 * time.Second
	DefaultRetryAttempts   = 3

	publicDatafileTemplate        = "https://cdn.optimizely.com/datafiles/%s.json"
	authenticatedDatafileTemplate = "https://config.optimizely.com/datafiles/auth/%s.json"
)

type mode int

const (
	modeStatic mode = iota
	modePolling
)

// Manager owns a single, atomically-swapped ProjectConfig snapshot.
// The zero value is not usable; construct with NewStatic, NewPolling,
// or NewAuthenticatedPolling.
type Manager struct {
	mode mode

	mu     sync.RWMutex
	config *entities.ProjectConfig

	ready     chan struct{}
	readyOnce sync.Once

	httpClient      *http.Client
	sdkKey          string
	token           string
	urlTemplate     string
	pollingInterval time.Duration
	requestTimeout  time.Duration
	blockingTimeout time.Duration
	retryAttempts   uint
	lastModified    string

	logger *zap.Logger
	hub    *notification.Hub

	apiClient api.Client

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithHTTPClient overrides the default *http.Client used for polling.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(m *Manager) {
		if httpClient != nil {
			m.httpClient = httpClient
		}
	}
}

// WithPollingInterval overrides DefaultPollingInterval. Values below
// MinPollingInterval clamp to it.
func WithPollingInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d < MinPollingInterval {
			d = MinPollingInterval
		}
		m.pollingInterval = d
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout for each fetch
// attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.requestTimeout = d
		}
	}
}

// WithBlockingTimeout overrides DefaultBlockingTimeout, the most
// GetConfig will wait for the first successful fetch.
func WithBlockingTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.blockingTimeout = d
		}
	}
}

// WithRetryAttempts overrides DefaultRetryAttempts, the total number of
// fetch attempts (the first one included) a single poll iteration makes
// before logging a failure and waiting for the next tick.
func WithRetryAttempts(n uint) Option {
	return func(m *Manager) { m.retryAttempts = n }
}

// WithURLTemplate overrides the "%s"-templated datafile URL (sdk key
// substituted in). Tests use this to point at an httptest server.
func WithURLTemplate(tmpl string) Option {
	return func(m *Manager) { m.urlTemplate = tmpl }
}

// WithLogger installs a logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithHub installs a notification.Hub to receive CONFIG_UPDATE
// notifications; the default is a hub with no listeners.
func WithHub(hub *notification.Hub) Option {
	return func(m *Manager) {
		if hub != nil {
			m.hub = hub
		}
	}
}

func newManager(opts ...Option) *Manager {
	m := &Manager{
		httpClient:      &http.Client{},
		urlTemplate:     publicDatafileTemplate,
		pollingInterval: DefaultPollingInterval,
		requestTimeout:  DefaultRequestTimeout,
		blockingTimeout: DefaultBlockingTimeout,
		retryAttempts:   DefaultRetryAttempts,
		logger:          zap.NewNop(),
		hub:             notification.NewHub(nil),
		ready:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewStatic parses raw once and serves it for the Manager's lifetime;
// no background goroutine is started.
func NewStatic(raw []byte, opts ...Option) (*Manager, error) {
	m := newManager(opts...)
	m.mode = modeStatic
	config, err := datafile.Parse(raw, datafile.WithLogger(m.logger.Sugar()))
	if err != nil {
		return nil, xerrors.Errorf("configmanager: %w", err)
	}
	m.setConfig(config)
	return m, nil
}

// NewPolling constructs a Manager that fetches the public datafile URL
// for sdkKey on an interval. Start must be called to begin polling.
func NewPolling(sdkKey string, opts ...Option) *Manager {
	m := newManager(opts...)
	m.mode = modePolling
	m.sdkKey = sdkKey
	for _, opt := range opts {
		opt(m)
	}
	m.buildAPIClient()
	return m
}

// NewAuthenticatedPolling is like NewPolling but adds a Bearer token to
// every request and defaults to the authenticated URL template. An
// empty token is a construction-time error, per spec §4.11.
func NewAuthenticatedPolling(sdkKey, token string, opts ...Option) (*Manager, error) {
	if token == "" {
		return nil, xerrors.New("configmanager: authenticated polling requires a non-empty token")
	}
	m := newManager(opts...)
	m.mode = modePolling
	m.sdkKey = sdkKey
	m.token = token
	m.urlTemplate = authenticatedDatafileTemplate
	for _, opt := range opts {
		opt(m)
	}
	m.buildAPIClient()
	return m, nil
}

// buildAPIClient wires the adapted api.Client to this Manager's HTTP
// transport and bearer token, once both are finalized by constructor
// options.
func (m *Manager) buildAPIClient() {
	m.apiClient = api.NewClient(api.Token(m.token), api.HTTPClient(m.httpClient))
}

// Start launches the polling goroutine. A no-op for a static Manager.
func (m *Manager) Start(ctx context.Context) {
	if m.mode != modePolling {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	var groupCtx context.Context
	m.group, groupCtx = errgroup.WithContext(ctx)
	m.group.Go(func() error {
		m.pollLoop(groupCtx)
		return nil
	})
}

// Stop signals the polling goroutine to exit and waits for it to join.
// A no-op for a static Manager or one that was never started.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.group != nil {
		_ = m.group.Wait()
	}
}

// GetConfig returns the current config snapshot, blocking up to
// blockingTimeout (or until ctx is done) for the first successful
// fetch if none has landed yet. It returns nil if no config ever
// arrives in time.
func (m *Manager) GetConfig(ctx context.Context) *entities.ProjectConfig {
	m.mu.RLock()
	have := m.config != nil
	m.mu.RUnlock()
	if !have {
		timer := time.NewTimer(m.blockingTimeout)
		defer timer.Stop()
		select {
		case <-m.ready:
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

func (m *Manager) setConfig(config *entities.ProjectConfig) {
	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	m.readyOnce.Do(func() { close(m.ready) })
}

func (m *Manager) pollLoop(ctx context.Context) {
	m.fetchOnce(ctx)
	ticker := time.NewTicker(m.pollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.fetchOnce(ctx)
		}
	}
}

// fetchOnce runs one conditional-GET poll iteration, per spec §4.11:
// 200 parses and, on a changed revision, swaps the config and emits
// CONFIG_UPDATE; 304 is a no-op; network/HTTP/parse errors are logged
// and the loop continues on the next tick.
func (m *Manager) fetchOnce(ctx context.Context) {
	url := fmt.Sprintf(m.urlTemplate, m.sdkKey)

	var raw []byte
	var notModified bool
	var lastModified string

	m.mu.RLock()
	ifModifiedSince := m.lastModified
	m.mu.RUnlock()

	err := retry.Do(func() error {
		raw, notModified, lastModified = nil, false, ""

		reqCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
		defer cancel()

		body, status, lm, err := m.apiClient.FetchDatafile(reqCtx, url, ifModifiedSince)
		if err != nil {
			return xerrors.Errorf("configmanager: datafile request failed: %w", err)
		}
		if status == http.StatusNotModified {
			notModified = true
			return nil
		}
		raw = body
		lastModified = lm
		return nil
	}, retry.Attempts(m.retryAttempts), retry.Context(ctx))

	if err != nil {
		m.logger.Error("datafile fetch failed", zap.String("sdk_key", m.sdkKey), zap.Error(err))
		return
	}
	if notModified || raw == nil {
		return
	}

	config, err := datafile.Parse(raw, datafile.WithLogger(m.logger.Sugar()))
	if err != nil {
		m.logger.Error("datafile parse failed", zap.Error(err))
		return
	}

	if lastModified != "" {
		m.mu.Lock()
		m.lastModified = lastModified
		m.mu.Unlock()
	}

	m.mu.RLock()
	changed := m.config == nil || m.config.Revision != config.Revision
	m.mu.RUnlock()
	if !changed {
		return
	}

	m.setConfig(config)
	m.hub.Send(notification.TypeConfigUpdate, config)
}
