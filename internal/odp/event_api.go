package odp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/xerrors"
)

// DefaultEventRequestTimeout bounds a single event-batch POST (spec
// §4.9, §5).
const DefaultEventRequestTimeout = 10 * time.Second

// EventAPIClient dispatches batches of Events to the ODP events REST
// endpoint (spec §4.9, §6).
type EventAPIClient struct {
	httpClient *http.Client
	logger     *zap.Logger
	timeout    time.Duration
}

// NewEventAPIClient constructs an EventAPIClient. A nil logger
// installs a no-op logger; timeout <= 0 uses DefaultEventRequestTimeout.
func NewEventAPIClient(httpClient *http.Client, logger *zap.Logger, timeout time.Duration) *EventAPIClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultEventRequestTimeout
	}
	return &EventAPIClient{httpClient: httpClient, logger: logger, timeout: timeout}
}

// SendEvents POSTs a batch of events to {apiHost}/v3/events. It
// returns shouldRetry=true for network errors and 5xx responses; 4xx
// responses are logged and treated as permanent (shouldRetry=false).
func (c *EventAPIClient) SendEvents(ctx context.Context, apiKey, apiHost string, events []Event) (shouldRetry bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(events)
	if err != nil {
		c.logger.Error("odp event encode error", zap.Error(err))
		return false, xerrors.Errorf("odp: encoding event batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiHost+"/v3/events", bytes.NewReader(payload))
	if err != nil {
		return false, xerrors.Errorf("odp: building event request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-api-key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("odp event send network error", zap.Error(err))
		return true, xerrors.Errorf("odp: sending events: network error: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		c.logger.Error("odp event send rejected", zap.Int("status", resp.StatusCode))
		return false, xerrors.Errorf("odp: sending events: http status %d", resp.StatusCode)
	default:
		c.logger.Error("odp event send server error", zap.Int("status", resp.StatusCode))
		return true, xerrors.Errorf("odp: sending events: http status %d", resp.StatusCode)
	}
}
