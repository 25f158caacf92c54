// Copyright 2019 SpotHero
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api provides the authenticated HTTP surface this SDK still
// needs against Optimizely-operated endpoints: conditional-GET
// datafile retrieval (for internal/configmanager's authenticated
// polling mode) and legacy impression/conversion event reporting (for
// legacyevent). It no longer exposes the full project/environment
// discovery REST API: nothing in this SDK's core discovers projects
// or environments, it only ever fetches one datafile by URL.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/xerrors"
)

const eventsEndpoint = "https://logx.optimizely.com/v1/events"

// Client is the authenticated HTTP surface used by internal/configmanager
// and legacyevent. NewClient returns a real implementation; the mocks
// package ships a test double.
type Client interface {
	// FetchDatafile performs a conditional GET against url, sending
	// ifModifiedSince as the If-Modified-Since header when non-empty.
	// statusCode is populated whenever a response arrives, including a
	// 304 (in which case body is nil and err is nil); it is 0 when the
	// request could not be built or sent.
	FetchDatafile(ctx context.Context, url, ifModifiedSince string) (body []byte, statusCode int, lastModified string, err error)
	// ReportEvents sends serialized legacy impression/conversion
	// events to the Optimizely events API.
	ReportEvents(ctx context.Context, events []byte) error
}

type client struct {
	httpClient     *http.Client
	token          string
	eventsEndpoint string // overridable in tests; fixed in production
}

// Option configures a Client at construction.
type Option func(*client)

// Token sets the bearer token attached to every outgoing request. The
// events endpoint does not require one; datafile fetches from a
// private project do.
func Token(t string) Option {
	return func(c *client) { c.token = t }
}

// HTTPClient overrides the default *http.Client.
func HTTPClient(h *http.Client) Option {
	return func(c *client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// withEventsEndpoint overrides the events endpoint; unexported since
// the endpoint is fixed per spec §6, but tests need to point it at an
// httptest server.
func withEventsEndpoint(url string) Option {
	return func(c *client) { c.eventsEndpoint = url }
}

// NewClient constructs a Client from optional provided options.
func NewClient(opts ...Option) Client {
	c := &client{httpClient: &http.Client{}, eventsEndpoint: eventsEndpoint}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
}

func (c *client) FetchDatafile(ctx context.Context, url, ifModifiedSince string) ([]byte, int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, "", xerrors.Errorf("error creating datafile request: %w", err)
	}
	c.authorize(req)
	if ifModifiedSince != "" {
		req.Header.Set("If-Modified-Since", ifModifiedSince)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, "", xerrors.Errorf("error making datafile request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, resp.StatusCode, "", nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, "", xerrors.Errorf("received %d status fetching datafile", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, "", xerrors.Errorf("error reading datafile response: %w", err)
	}
	return body, resp.StatusCode, resp.Header.Get("Last-Modified"), nil
}

func (c *client) ReportEvents(ctx context.Context, events []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.eventsEndpoint, bytes.NewReader(events))
	if err != nil {
		return xerrors.Errorf("error creating events request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Errorf("error reporting events to Optimizely API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return xerrors.Errorf("unexpected status code (%d) received from events API", resp.StatusCode)
	}
	return nil
}
