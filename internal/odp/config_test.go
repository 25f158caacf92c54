package odp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_startsNotIntegratedWithoutCredentials(t *testing.T) {
	c := NewConfig("", "", nil)
	assert.Equal(t, StateNotIntegrated, c.OdpState())
}

func TestConfig_integratesOnceBothCredentialsPresent(t *testing.T) {
	c := NewConfig("", "", nil)
	changed := c.Update("key", "", nil)
	assert.True(t, changed)
	assert.Equal(t, StateNotIntegrated, c.OdpState())

	changed = c.Update("key", "https://example.com", []string{"seg1"})
	assert.True(t, changed)
	assert.Equal(t, StateIntegrated, c.OdpState())
	assert.Equal(t, "key", c.APIKey())
	assert.Equal(t, "https://example.com", c.APIHost())
	assert.Equal(t, []string{"seg1"}, c.SegmentsToCheck())
}

func TestConfig_updateReturnsFalseWhenNothingChanges(t *testing.T) {
	c := NewConfig("key", "host", []string{"a", "b"})
	changed := c.Update("key", "host", []string{"a", "b"})
	assert.False(t, changed)
}

func TestConfig_updateDetectsSegmentListChange(t *testing.T) {
	c := NewConfig("key", "host", []string{"a"})
	changed := c.Update("key", "host", []string{"a", "b"})
	assert.True(t, changed)
}

func TestConfig_losingCredentialsRevertsToNotIntegrated(t *testing.T) {
	c := NewConfig("key", "host", nil)
	assert.Equal(t, StateIntegrated, c.OdpState())

	c.Update("", "", nil)
	assert.Equal(t, StateNotIntegrated, c.OdpState())
}

func TestConfig_segmentsToCheckIsDefensiveCopy(t *testing.T) {
	c := NewConfig("key", "host", []string{"a", "b"})
	got := c.SegmentsToCheck()
	got[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, c.SegmentsToCheck())
}
