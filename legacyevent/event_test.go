package legacyevent

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/optimizely-experiments/decision-core/internal/entities"
	"github.com/optimizely-experiments/decision-core/mocks"
)

// assertVisitorEqual checks equality of a visitor up to its UUID, which
// is generated fresh on every call, then overwrites the expected UUID
// with the actual one before a full comparison.
func assertVisitorEqual(t *testing.T, expected, actual visitor) {
	require.Equal(t, len(expected.Snapshots), len(actual.Snapshots))
	for i := range expected.Snapshots {
		for j := range expected.Snapshots[i].Events {
			actualEvent := actual.Snapshots[i].Events[j]
			_, err := uuid.Parse(actualEvent.UUID)
			assert.NoError(t, err)
			expected.Snapshots[i].Events[j].UUID = actualEvent.UUID
		}
	}
	assert.Equal(t, expected, actual)
}

func TestNewBatch_decisionWithVariationProducesAnImpression(t *testing.T) {
	d := entities.Decision{
		Source: entities.SourceFeatureTest,
		Experiment: &entities.Experiment{
			ID:      "experiment",
			LayerID: "layer",
		},
		Variation: &entities.Variation{ID: "variation"},
	}

	b := NewBatch("account", "user", d)

	assert.True(t, b.HasImpressions())
	assert.Equal(t, "account", b.AccountID)
	assert.True(t, b.AnonymizeIP)
	assert.True(t, b.EnrichDecisions)
	require.Len(t, b.Visitors, 1)
	assertVisitorEqual(t, visitor{
		ID: "user",
		Snapshots: []snapshot{{
			Decisions: []decision{{CampaignID: "layer", ExperimentID: "experiment", VariationID: "variation"}},
			Events:    []event{{EntityID: "layer", Type: "campaign_activated"}},
		}},
	}, b.Visitors[0])
}

func TestNewBatch_nullDecisionHasNoImpressions(t *testing.T) {
	b := NewBatch("account", "user", entities.Decision{})
	assert.False(t, b.HasImpressions())
	assert.Empty(t, b.Visitors)
}

func TestNewBatch_optionsOverrideDefaults(t *testing.T) {
	b := NewBatch("account", "user", entities.Decision{}, ClientName("custom"), AnonymizeIP(false), EnrichDecisions(false))
	assert.Equal(t, "custom", b.ClientName)
	assert.False(t, b.AnonymizeIP)
	assert.False(t, b.EnrichDecisions)
}

func TestReport_marshalsAndDelegatesToClient(t *testing.T) {
	client := &mocks.APIClient{}
	client.On("ReportEvents", context.Background(), mock.AnythingOfType("[]uint8")).Return(nil)

	b := NewBatch("account", "user", entities.Decision{
		Experiment: &entities.Experiment{ID: "experiment", LayerID: "layer"},
		Variation:  &entities.Variation{ID: "variation"},
	})
	err := Report(context.Background(), client, b)
	require.NoError(t, err)
	client.AssertExpectations(t)
}
