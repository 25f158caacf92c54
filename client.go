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

// Package optimizely is the public entry point: it wires a config
// manager, the decision pipeline, a user profile service, an optional
// CMAB client, and the notification hub into one client with a single
// Decide call, replacing the teacher's project.go/event.go/reporter.go
// top-level surface.
package optimizely

import (
	"context"

	"go.uber.org/zap"

	"github.com/optimizely-experiments/decision-core/internal/cmab"
	"github.com/optimizely-experiments/decision-core/internal/configmanager"
	"github.com/optimizely-experiments/decision-core/internal/decision"
	"github.com/optimizely-experiments/decision-core/internal/entities"
	"github.com/optimizely-experiments/decision-core/internal/notification"
	"github.com/optimizely-experiments/decision-core/internal/userprofile"
)

// Client is the top-level SDK handle. Construct with NewClient and
// close with Close when the hosting process shuts down.
type Client struct {
	configManager *configmanager.Manager
	decision      *decision.Service
	hub           *notification.Hub
}

// ClientOption configures a Client at construction.
type ClientOption func(*clientConfig)

type clientConfig struct {
	configManagerOpts []configmanager.Option
	profiles          userprofile.Service
	cmabClient        *cmab.Client
	logger            *zap.Logger
	hub               *notification.Hub
	authToken         string
}

// WithConfigManagerOptions forwards options to the underlying
// configmanager.Manager (polling interval, HTTP client, and so on).
func WithConfigManagerOptions(opts ...configmanager.Option) ClientOption {
	return func(c *clientConfig) { c.configManagerOpts = append(c.configManagerOpts, opts...) }
}

// WithUserProfileService installs a user profile service; the default
// is an in-memory one scoped to this process.
func WithUserProfileService(svc userprofile.Service) ClientOption {
	return func(c *clientConfig) { c.profiles = svc }
}

// WithCmabClient installs a CMAB client; the default is nil, meaning
// CMAB-driven experiments never produce a variation.
func WithCmabClient(client *cmab.Client) ClientOption {
	return func(c *clientConfig) { c.cmabClient = client }
}

// WithLogger installs a logger; the default is a no-op logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *clientConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAuthToken switches the config manager to authenticated polling
// against a private project's datafile.
func WithAuthToken(token string) ClientOption {
	return func(c *clientConfig) { c.authToken = token }
}

// NewClient starts a polling config manager for sdkKey and returns a
// Client ready to Decide once the first datafile fetch lands. Start
// must be followed by a call to Close when the Client is no longer
// needed.
func NewClient(ctx context.Context, sdkKey string, opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{logger: zap.NewNop(), hub: notification.NewHub(nil)}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.profiles == nil {
		cfg.profiles = userprofile.NewInMemory()
	}

	cfg.configManagerOpts = append(cfg.configManagerOpts,
		configmanager.WithLogger(cfg.logger),
		configmanager.WithHub(cfg.hub),
	)

	var cm *configmanager.Manager
	var err error
	if cfg.authToken != "" {
		cm, err = configmanager.NewAuthenticatedPolling(sdkKey, cfg.authToken, cfg.configManagerOpts...)
		if err != nil {
			return nil, err
		}
	} else {
		cm = configmanager.NewPolling(sdkKey, cfg.configManagerOpts...)
	}
	cm.Start(ctx)

	var svc *decision.Service
	if cfg.cmabClient != nil {
		svc = decision.NewService(cfg.profiles, cfg.hub, cfg.cmabClient, cfg.logger)
	} else {
		svc = decision.NewService(cfg.profiles, cfg.hub, nil, cfg.logger)
	}

	return &Client{configManager: cm, decision: svc, hub: cfg.hub}, nil
}

// NewClientFromDatafile builds a Client around a fixed, already-fetched
// datafile instead of polling. Useful for tests and for hosts that
// manage their own datafile refresh.
func NewClientFromDatafile(raw []byte, opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{logger: zap.NewNop(), hub: notification.NewHub(nil)}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.profiles == nil {
		cfg.profiles = userprofile.NewInMemory()
	}

	cfg.configManagerOpts = append(cfg.configManagerOpts,
		configmanager.WithLogger(cfg.logger),
		configmanager.WithHub(cfg.hub),
	)
	cm, err := configmanager.NewStatic(raw, cfg.configManagerOpts...)
	if err != nil {
		return nil, err
	}

	var svc *decision.Service
	if cfg.cmabClient != nil {
		svc = decision.NewService(cfg.profiles, cfg.hub, cfg.cmabClient, cfg.logger)
	} else {
		svc = decision.NewService(cfg.profiles, cfg.hub, nil, cfg.logger)
	}
	return &Client{configManager: cm, decision: svc, hub: cfg.hub}, nil
}

// Decide runs the decision pipeline for flagKey and user against the
// current config snapshot.
func (c *Client) Decide(ctx context.Context, flagKey string, user *entities.UserContext, opts ...decision.Option) entities.Decision {
	config := c.configManager.GetConfig(ctx)
	if config == nil {
		return entities.Decision{Source: entities.SourceRollout}
	}
	return c.decision.Decide(ctx, config, flagKey, user, opts...)
}

// Notifications returns the hub backing this Client's decision,
// config-update, and event notifications.
func (c *Client) Notifications() *notification.Hub {
	return c.hub
}

// Close stops the background config-manager poll loop, if any.
func (c *Client) Close() {
	c.configManager.Stop()
}
