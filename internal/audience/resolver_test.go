package audience

import (
	"encoding/json"
	"testing"

	"github.com/optimizely-experiments/decision-core/internal/condition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseExpr(t *testing.T, raw string) condition.Node {
	t.Helper()
	n, err := condition.ParseNode(json.RawMessage(raw))
	require.NoError(t, err)
	return n
}

func TestResolve_conditionsPreferredOverIDs(t *testing.T) {
	conditions := parseExpr(t, `{"type":"custom_attribute","name":"plan","match":"exact","value":"gold"}`)
	resolved := Resolve(conditions, []string{"aud1"}, func(string) (Audience, bool) {
		t.Fatal("lookup should not be called when conditions is present")
		return Audience{}, false
	}, condition.MapContext{Attributes: map[string]interface{}{"plan": "gold"}})
	assert.True(t, resolved)
}

func TestResolve_flatIDListIsOr(t *testing.T) {
	audiences := map[string]Audience{
		"a1": {ID: "a1", Conditions: parseExpr(t, `{"type":"custom_attribute","name":"x","match":"exact","value":1}`)},
		"a2": {ID: "a2", Conditions: parseExpr(t, `{"type":"custom_attribute","name":"y","match":"exact","value":2}`)},
	}
	lookup := func(id string) (Audience, bool) {
		a, ok := audiences[id]
		return a, ok
	}
	ctx := condition.MapContext{Attributes: map[string]interface{}{"y": 2.0}}
	assert.True(t, Resolve(condition.Node{}, []string{"a1", "a2"}, lookup, ctx))
}

func TestResolve_unknownCollapsesToFalse(t *testing.T) {
	conditions := parseExpr(t, `{"type":"custom_attribute","name":"missing","match":"exact","value":"gold"}`)
	resolved := Resolve(conditions, nil, nil, condition.MapContext{})
	assert.False(t, resolved)
}

func TestResolve_noRestriction(t *testing.T) {
	assert.True(t, Resolve(condition.Node{}, nil, nil, condition.MapContext{}))
}
