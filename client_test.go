package optimizely

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimizely-experiments/decision-core/internal/entities"
)

const minimalDatafile = `{
	"version": "4",
	"projectId": "1",
	"accountId": "1",
	"revision": "1",
	"featureFlags": [{"id": "flag1", "key": "my_flag", "rolloutId": "", "experimentIds": [], "variables": []}]
}`

func TestNewClientFromDatafile_decidesUnknownFlagAsNullDecision(t *testing.T) {
	client, err := NewClientFromDatafile([]byte(minimalDatafile))
	require.NoError(t, err)
	defer client.Close()

	user := entities.NewUserContext("user-1", nil)
	d := client.Decide(context.Background(), "nonexistent_flag", user)
	assert.Nil(t, d.Variation)
}

func TestNewClientFromDatafile_invalidDatafileIsAConstructionError(t *testing.T) {
	_, err := NewClientFromDatafile([]byte(`not json`))
	assert.Error(t, err)
}

func TestClient_decideFlagWithNoRulesReturnsNullDecision(t *testing.T) {
	client, err := NewClientFromDatafile([]byte(minimalDatafile))
	require.NoError(t, err)
	defer client.Close()

	user := entities.NewUserContext("user-1", nil)
	d := client.Decide(context.Background(), "my_flag", user)
	assert.Nil(t, d.Variation)
	assert.NotNil(t, client.Notifications())
}

func TestClient_close_isSafeForAStaticDatafileClient(t *testing.T) {
	client, err := NewClientFromDatafile([]byte(minimalDatafile))
	require.NoError(t, err)
	assert.NotPanics(t, func() { client.Close() })
}
