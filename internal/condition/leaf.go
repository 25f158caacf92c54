package condition

import (
	"math"
	"strings"
)

const (
	typeCustomAttribute    = "custom_attribute"
	typeThirdPartyDimension = "third_party_dimension"

	matchExact     = "exact"
	matchSubstring = "substring"
	matchExists    = "exists"
	matchGT        = "gt"
	matchGE        = "ge"
	matchLT        = "lt"
	matchLE        = "le"
	matchSemverEQ  = "semver_eq"
	matchSemverGT  = "semver_gt"
	matchSemverGE  = "semver_ge"
	matchSemverLT  = "semver_lt"
	matchSemverLE  = "semver_le"
	matchQualified = "qualified"

	odpAudiencesDimension = "odp.audiences"
)

// evaluateLeaf applies a single leaf matcher against the context,
// returning the tri-state result described in the spec.
func evaluateLeaf(leaf Leaf, ctx Context) Tri {
	if leaf.Type == typeThirdPartyDimension && leaf.Name == odpAudiencesDimension {
		return evaluateQualified(leaf, ctx)
	}
	if leaf.Type != typeCustomAttribute {
		return Unknown
	}

	match := leaf.Match
	if match == "" {
		match = matchExact
	}

	if match == matchQualified {
		return evaluateQualified(leaf, ctx)
	}

	attrValue, present := ctx.Attribute(leaf.Name)

	if match == matchExists {
		return FromBool(present && attrValue != nil)
	}
	if !present || attrValue == nil {
		return Unknown
	}

	switch match {
	case matchExact:
		return evaluateExact(leaf.Value, attrValue)
	case matchSubstring:
		return evaluateSubstring(leaf.Value, attrValue)
	case matchGT, matchGE, matchLT, matchLE:
		return evaluateNumericComparison(match, leaf.Value, attrValue)
	case matchSemverEQ, matchSemverGT, matchSemverGE, matchSemverLT, matchSemverLE:
		return evaluateSemverComparison(match, leaf.Value, attrValue)
	default:
		return Unknown
	}
}

func evaluateQualified(leaf Leaf, ctx Context) Tri {
	segmentName, ok := leaf.Value.(string)
	if !ok {
		return Unknown
	}
	for _, segment := range ctx.QualifiedSegments() {
		if segment == segmentName {
			return True
		}
	}
	return False
}

func evaluateExact(expected, actual interface{}) Tri {
	switch e := expected.(type) {
	case string:
		a, ok := actual.(string)
		if !ok {
			return Unknown
		}
		return FromBool(e == a)
	case bool:
		a, ok := actual.(bool)
		if !ok {
			return Unknown
		}
		return FromBool(e == a)
	case float64:
		a, aok := asFiniteNumber(actual)
		if !aok || !isFiniteNumber(e) {
			return Unknown
		}
		return FromBool(e == a)
	default:
		return Unknown
	}
}

func evaluateSubstring(expected, actual interface{}) Tri {
	e, eok := expected.(string)
	a, aok := actual.(string)
	if !eok || !aok {
		return Unknown
	}
	return FromBool(strings.Contains(a, e))
}

func evaluateNumericComparison(match string, expected, actual interface{}) Tri {
	e, eok := asFiniteNumber(expected)
	a, aok := asFiniteNumber(actual)
	if !eok || !aok {
		return Unknown
	}
	switch match {
	case matchGT:
		return FromBool(a > e)
	case matchGE:
		return FromBool(a >= e)
	case matchLT:
		return FromBool(a < e)
	case matchLE:
		return FromBool(a <= e)
	default:
		return Unknown
	}
}

func evaluateSemverComparison(match string, expected, actual interface{}) Tri {
	e, eok := expected.(string)
	a, aok := actual.(string)
	if !eok || !aok {
		return Unknown
	}
	cmp, ok := compareSemver(a, e)
	if !ok {
		return Unknown
	}
	switch match {
	case matchSemverEQ:
		return FromBool(cmp == 0)
	case matchSemverGT:
		return FromBool(cmp > 0)
	case matchSemverGE:
		return FromBool(cmp >= 0)
	case matchSemverLT:
		return FromBool(cmp < 0)
	case matchSemverLE:
		return FromBool(cmp <= 0)
	default:
		return Unknown
	}
}

// asFiniteNumber extracts a finite float64 from a decoded JSON value.
// Booleans are explicitly excluded: they are not numerics even though
// some languages would coerce them.
func asFiniteNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, isFiniteNumber(n)
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func isFiniteNumber(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
