// Package odp implements the asynchronous event queue, segment
// fetcher, and configuration lifecycle described in spec §3, §4.7-4.9.
package odp

import "sync"

// State is the ODP integration state machine (spec §3).
type State int

const (
	StateUndetermined State = iota
	StateIntegrated
	StateNotIntegrated
)

// Config is an atomic (api_key, api_host, segments_to_check) triple
// guarded by a mutex, per spec §4.7.
type Config struct {
	mu              sync.Mutex
	apiKey          string
	apiHost         string
	segmentsToCheck []string
	state           State
}

// NewConfig constructs a Config, already transitioning to INTEGRATED
// if both apiKey and apiHost are non-empty.
func NewConfig(apiKey, apiHost string, segmentsToCheck []string) *Config {
	c := &Config{}
	c.Update(apiKey, apiHost, segmentsToCheck)
	return c
}

// Update overwrites the configuration and returns true iff any field
// changed. The state transitions to INTEGRATED when both apiKey and
// apiHost are present, else NOT_INTEGRATED.
func (c *Config) Update(apiKey, apiHost string, segmentsToCheck []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if apiKey != "" && apiHost != "" {
		c.state = StateIntegrated
	} else {
		c.state = StateNotIntegrated
	}

	changed := c.apiKey != apiKey || c.apiHost != apiHost || !equalStringSlices(c.segmentsToCheck, segmentsToCheck)
	if changed {
		c.apiKey = apiKey
		c.apiHost = apiHost
		c.segmentsToCheck = segmentsToCheck
	}
	return changed
}

// APIKey snapshots the current api key.
func (c *Config) APIKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiKey
}

// APIHost snapshots the current api host.
func (c *Config) APIHost() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiHost
}

// SegmentsToCheck snapshots the current segment list.
func (c *Config) SegmentsToCheck() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.segmentsToCheck))
	copy(out, c.segmentsToCheck)
	return out
}

// OdpState returns the current integration state.
func (c *Config) OdpState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
