// Package audience evaluates an experiment or rollout rule's audience
// expression against a user's attributes and qualified segments.
package audience

import (
	"github.com/optimizely-experiments/decision-core/internal/condition"
)

// Audience is the subset of an audience entity the resolver needs.
type Audience struct {
	ID         string
	Conditions condition.Node
}

// Lookup resolves an audience id to its parsed conditions. Audiences
// never reference other audiences, so recursion through Lookup always
// terminates.
type Lookup func(audienceID string) (Audience, bool)

// Resolve decides whether ctx meets the given audience restriction.
// If conditions is non-empty it takes precedence over audienceIDs (an
// implicit OR of those ids' own conditions). Unknown collapses to
// false at this boundary: a user who cannot be evaluated does not
// enter the experiment.
func Resolve(conditions condition.Node, audienceIDs []string, lookup Lookup, ctx condition.Context) bool {
	if !conditions.Empty() {
		return resolveNode(conditions, lookup, ctx) == condition.True
	}
	if len(audienceIDs) == 0 {
		return true
	}
	children := make([]condition.Node, 0, len(audienceIDs))
	for _, id := range audienceIDs {
		children = append(children, idLeafNode(id))
	}
	node := condition.Node{Op: "or", Children: children}
	return resolveNode(node, lookup, ctx) == condition.True
}

// idLeafNode builds a synthetic node standing in for "this audience
// id's own conditions", expanded lazily in resolveNode via the
// audienceIDMarker wrapper so Resolve can reuse condition.Evaluate's
// and/or/not folding without condition needing to know about audience
// lookups.
func idLeafNode(id string) condition.Node {
	return condition.Node{Leaf: &condition.Leaf{Type: audienceIDMarkerType, Name: id}}
}

const audienceIDMarkerType = "__audience_id__"

// resolveNode evaluates a node, expanding any audience-id marker leaves
// encountered along the way into the referenced audience's own
// conditions.
func resolveNode(n condition.Node, lookup Lookup, ctx condition.Context) condition.Tri {
	if n.Empty() {
		return condition.True
	}
	if n.Leaf != nil {
		if n.Leaf.Type == audienceIDMarkerType {
			aud, ok := lookup(n.Leaf.Name)
			if !ok {
				return condition.Unknown
			}
			return resolveNode(aud.Conditions, lookup, ctx)
		}
		return condition.Evaluate(n, ctx)
	}
	results := make([]condition.Tri, 0, len(n.Children))
	for _, child := range n.Children {
		results = append(results, resolveNode(child, lookup, ctx))
	}
	switch n.Op {
	case "and":
		return condition.And(results)
	case "not":
		return condition.Not(results)
	default:
		return condition.Or(results)
	}
}
