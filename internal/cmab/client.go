// Package cmab implements the contextual multi-armed bandit
// prediction client described in spec §4.10: a single HTTP call per
// decision, with an optional bounded retry/backoff policy and an
// optional prediction cache (supplemented feature, spec §9).
package cmab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/optimizely-experiments/decision-core/internal/cache"
)

const predictionEndpoint = "https://prediction.cmab.optimizely.com/predict/%s"

// Default retry/timeout constants, mirroring spec §4.10.
const (
	DefaultMaxRetries        = 3
	DefaultInitialBackoff    = 100 * time.Millisecond
	DefaultMaxBackoff        = 10 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultRequestTimeout    = 10 * time.Second
)

// RetryConfig controls the bounded retry/backoff policy around a
// single fetchDecision call. A nil *RetryConfig means no retries: one
// attempt only.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// NewRetryConfig returns the spec's default retry policy.
func NewRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        DefaultMaxRetries,
		InitialBackoff:    DefaultInitialBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

type attribute struct {
	ID    string      `json:"id"`
	Value interface{} `json:"value"`
	Type  string      `json:"type"`
}

type instance struct {
	VisitorID    string      `json:"visitorId"`
	ExperimentID string      `json:"experimentId"`
	Attributes   []attribute `json:"attributes"`
	CmabUUID     string      `json:"cmabUUID"`
}

type requestBody struct {
	Instances []instance `json:"instances"`
}

type prediction struct {
	VariationID string `json:"variation_id"`
}

type responseBody struct {
	Predictions []prediction `json:"predictions"`
}

// Client fetches CMAB variation predictions, per spec §4.10 and §6.
type Client struct {
	httpClient  *http.Client
	retryConfig *RetryConfig
	timeout     time.Duration
	logger      *zap.Logger
	cache       *cache.Cache
	endpoint    string // "%s"-templated on rule id; overridable in tests
}

// Option configures a Client at construction.
type Option func(*Client)

// WithRetryConfig installs a retry/backoff policy; the default Client
// has none (a single attempt).
func WithRetryConfig(cfg *RetryConfig) Option {
	return func(c *Client) { c.retryConfig = cfg }
}

// WithTimeout overrides DefaultRequestTimeout for each attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCache installs a prediction cache keyed on (ruleID, userID,
// cmabUUID); a cache hit skips the network call entirely.
func WithCache(predictionCache *cache.Cache) Option {
	return func(c *Client) { c.cache = predictionCache }
}

// WithLogger installs a logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient overrides the default *http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// withEndpointTemplate overrides the "%s"-templated prediction URL;
// unexported since the endpoint is fixed per spec §6, but tests need
// to point it at an httptest server.
func withEndpointTemplate(tmpl string) Option {
	return func(c *Client) { c.endpoint = tmpl }
}

// NewClient constructs a Client with the spec's defaults: no retries,
// DefaultRequestTimeout per attempt, no cache.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		timeout:    DefaultRequestTimeout,
		logger:     zap.NewNop(),
		endpoint:   predictionEndpoint,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func predictionCacheKey(ruleID, userID, cmabUUID string) string {
	return cache.MakeKey(ruleID, userID) + cache.KeySeparator + cmabUUID
}

// FetchDecision posts the CMAB prediction request for ruleID/userID
// and returns the predicted variation id. cmabUUID identifies this
// particular bucketing decision for ODP-side correlation.
func (c *Client) FetchDecision(ctx context.Context, ruleID, userID string, attributes map[string]interface{}, cmabUUID string) (string, error) {
	if c.cache != nil {
		if cached, ok := c.cache.Lookup(predictionCacheKey(ruleID, userID, cmabUUID)); ok {
			return cached.(string), nil
		}
	}

	var variationID string
	var err error
	if c.retryConfig != nil {
		variationID, err = c.fetchWithRetry(ctx, ruleID, userID, attributes, cmabUUID)
	} else {
		variationID, err = c.fetchOnce(ctx, ruleID, userID, attributes, cmabUUID)
	}
	if err != nil {
		return "", err
	}

	if c.cache != nil {
		c.cache.Save(predictionCacheKey(ruleID, userID, cmabUUID), variationID)
	}
	return variationID, nil
}

func (c *Client) fetchWithRetry(ctx context.Context, ruleID, userID string, attributes map[string]interface{}, cmabUUID string) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryConfig.InitialBackoff
	policy.MaxInterval = c.retryConfig.MaxBackoff
	policy.Multiplier = c.retryConfig.BackoffMultiplier
	policy.MaxElapsedTime = 0

	var variationID string
	attempt := 0
	operation := func() error {
		v, err := c.fetchOnce(ctx, ruleID, userID, attributes, cmabUUID)
		if err != nil {
			attempt++
			if attempt > c.retryConfig.MaxRetries {
				return backoff.Permanent(err)
			}
			c.logger.Info("retrying cmab request", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		variationID = v
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		c.logger.Error("exhausted all retries for cmab request", zap.Error(err))
		return "", xerrors.Errorf("cmab: %w", err)
	}
	return variationID, nil
}

func (c *Client) fetchOnce(ctx context.Context, ruleID, userID string, attributes map[string]interface{}, cmabUUID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmabAttributes := make([]attribute, 0, len(attributes))
	for k, v := range attributes {
		cmabAttributes = append(cmabAttributes, attribute{ID: k, Value: v, Type: "custom_attribute"})
	}

	body := requestBody{Instances: []instance{{
		VisitorID:    userID,
		ExperimentID: ruleID,
		Attributes:   cmabAttributes,
		CmabUUID:     cmabUUID,
	}}}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", xerrors.Errorf("cmab: encoding request: %w", err)
	}

	url := fmt.Sprintf(c.endpoint, ruleID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", xerrors.Errorf("cmab: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", xerrors.Errorf("cmab: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", xerrors.Errorf("cmab: request failed with status code %d", resp.StatusCode)
	}

	var parsed responseBody
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", xerrors.Errorf("cmab: decoding response: %w", err)
	}
	if len(parsed.Predictions) == 0 || parsed.Predictions[0].VariationID == "" {
		return "", xerrors.New("cmab: invalid response")
	}
	return parsed.Predictions[0].VariationID, nil
}
