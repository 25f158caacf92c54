package odp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/xerrors"
)

// DefaultSegmentRequestTimeout bounds a single segment-fetch round trip
// (spec §4.8, §5).
const DefaultSegmentRequestTimeout = 10 * time.Second

// ErrInvalidIdentifier is returned by FetchSegments when the ODP
// GraphQL API reports the user identifier as unrecognized. Per spec
// §4.8 this is not treated as a failure: callers should log a warning
// and proceed with no segments rather than surfacing an error.
var ErrInvalidIdentifier = xerrors.New("odp: invalid identifier")

type graphQLQuery struct {
	Query     string           `json:"query"`
	Variables graphQLVariables `json:"variables"`
}

type graphQLVariables struct {
	UserID    string   `json:"userId"`
	Audiences []string `json:"audiences"`
}

// SegmentAPIClient fetches qualified audience segments from the ODP
// GraphQL endpoint (spec §4.8, §6).
type SegmentAPIClient struct {
	httpClient *http.Client
	logger     *zap.Logger
	timeout    time.Duration
}

// NewSegmentAPIClient constructs a SegmentAPIClient. A nil logger
// installs a no-op logger; timeout <= 0 uses DefaultSegmentRequestTimeout.
func NewSegmentAPIClient(httpClient *http.Client, logger *zap.Logger, timeout time.Duration) *SegmentAPIClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultSegmentRequestTimeout
	}
	return &SegmentAPIClient{httpClient: httpClient, logger: logger, timeout: timeout}
}

// FetchSegments calls POST {apiHost}/v3/graphql and returns the names
// of segments whose state is "qualified". Returns ErrInvalidIdentifier
// (not a failure) when ODP does not recognize userValue.
func (c *SegmentAPIClient) FetchSegments(ctx context.Context, apiKey, apiHost, userKey, userValue string, segmentsToCheck []string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := graphQLQuery{
		Query: "query($userId: String, $audiences: [String]) {" +
			"customer(" + userKey + ": $userId) " +
			"{audiences(subset: $audiences) {edges {node {name state}}}}}",
		Variables: graphQLVariables{UserID: userValue, Audiences: segmentsToCheck},
	}
	payload, err := json.Marshal(query)
	if err != nil {
		return nil, xerrors.Errorf("odp: encoding segment query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiHost+"/v3/graphql", bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Errorf("odp: building segment request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-api-key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("odp segment fetch network error", zap.Error(err))
		return nil, xerrors.Errorf("odp: fetching segments: network error: %w", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, xerrors.Errorf("odp: reading segment response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("odp segment fetch http error", zap.Int("status", resp.StatusCode))
		return nil, xerrors.Errorf("odp: fetching segments: http status %d", resp.StatusCode)
	}

	if !gjson.ValidBytes(buf.Bytes()) {
		c.logger.Error("odp segment fetch decode error")
		return nil, xerrors.Errorf("odp: fetching segments: decode error")
	}
	parsed := gjson.ParseBytes(buf.Bytes())

	if errs := parsed.Get("errors"); errs.Exists() && errs.IsArray() && len(errs.Array()) > 0 {
		first := errs.Array()[0]
		code := first.Get("extensions.code").String()
		if code == "INVALID_IDENTIFIER_EXCEPTION" {
			c.logger.Warn("odp segment fetch: invalid identifier", zap.String("user_key", userKey))
			return nil, ErrInvalidIdentifier
		}
		classification := first.Get("extensions.classification").String()
		c.logger.Error("odp segment fetch graphql error", zap.String("classification", classification))
		return nil, xerrors.Errorf("odp: fetching segments: graphql error %q", classification)
	}

	edges := parsed.Get("data.customer.audiences.edges")
	if !edges.Exists() {
		c.logger.Error("odp segment fetch decode error")
		return nil, xerrors.Errorf("odp: fetching segments: decode error")
	}

	var segments []string
	for _, edge := range edges.Array() {
		node := edge.Get("node")
		if node.Get("state").String() == "qualified" {
			segments = append(segments, node.Get("name").String())
		}
	}
	return segments, nil
}
