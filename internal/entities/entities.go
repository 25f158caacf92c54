// Package entities holds the immutable data model parsed from a
// datafile: experiments, flags, variations, audiences, groups,
// rollouts, and holdouts, plus the precomputed indexes the decision
// service needs to walk them.
package entities

import (
	"github.com/optimizely-experiments/decision-core/internal/bucketing"
	"github.com/optimizely-experiments/decision-core/internal/condition"
)

// Node is a parsed audience/condition expression tree.
type Node = condition.Node

// Status is an experiment or holdout's lifecycle state.
type Status string

const (
	StatusRunning    Status = "Running"
	StatusPaused     Status = "Paused"
	StatusNotStarted Status = "Not started"
	StatusArchived   Status = "Archived"
)

// Variable is a feature variable override carried by a variation or
// declared on a flag.
type Variable struct {
	ID    string
	Key   string
	Value string
	Type  string
}

// Variation is one outcome of an experiment.
type Variation struct {
	ID              string
	Key             string
	FeatureEnabled  bool
	Variables       []Variable
}

// Experiment is a set of variations with traffic allocation and
// audience restrictions.
type Experiment struct {
	ID                string
	Key               string
	Status            Status
	LayerID           string
	AudienceIDs       []string
	AudienceConditions Node
	Variations        []Variation
	VariationsByID    map[string]Variation
	VariationsByKey   map[string]Variation
	ForcedVariations  map[string]string // userID -> variation key
	TrafficAllocation []bucketing.AllocationEntry
	GroupID           string
	Cmab              *CmabConfig
}

// CmabConfig declares the attributes a CMAB-driven experiment forwards
// to the prediction service.
type CmabConfig struct {
	AttributeIDs []string
}

// Audience is a named boolean expression over user attributes and
// qualified segments.
type Audience struct {
	ID         string
	Name       string
	Conditions Node
}

// FeatureFlag is a named gate with optional variables and references
// to experiments and a rollout.
type FeatureFlag struct {
	ID            string
	Key           string
	RolloutID     string
	ExperimentIDs []string
	Variables     []Variable
}

// RolloutRule is one targeting rule inside a rollout; the last rule in
// a Rollout is the implicit "Everyone Else" rule.
type RolloutRule = Experiment

// Rollout is an ordered list of targeting rules used when no feature
// experiment applies to a user.
type Rollout struct {
	ID    string
	Rules []RolloutRule
}

// Group is a set of mutually exclusive experiments sharing a traffic
// allocation. Policy "random" means the experiments are mutually
// exclusive; any other policy is advisory only.
type Group struct {
	ID                string
	Policy            string
	TrafficAllocation []bucketing.AllocationEntry
	ExperimentIDs     []string
}

// IsMutuallyExclusive reports whether this group enforces mutual
// exclusion between its experiments.
func (g Group) IsMutuallyExclusive() bool {
	return g.Policy == "random"
}

// Holdout is a global experiment that, when a user qualifies,
// suppresses normal flag decisions for the flags it applies to.
type Holdout struct {
	ID                string
	Key               string
	Status            Status
	AudienceIDs       []string
	AudienceConditions Node
	Variations        []Variation
	TrafficAllocation []bucketing.AllocationEntry
	IncludedFlags     []string
	ExcludedFlags     []string
}

// AppliesToFlag reports whether this holdout is in scope for flagKey:
// a global holdout (no IncludedFlags) applies to every flag except
// ones explicitly excluded; a scoped holdout applies only to the
// flags it includes, still subject to exclusion.
func (h Holdout) AppliesToFlag(flagKey string) bool {
	for _, excluded := range h.ExcludedFlags {
		if excluded == flagKey {
			return false
		}
	}
	if len(h.IncludedFlags) == 0 {
		return true
	}
	for _, included := range h.IncludedFlags {
		if included == flagKey {
			return true
		}
	}
	return false
}

// Source identifies which pipeline step produced a Decision.
type Source string

const (
	SourceFeatureTest Source = "feature-test"
	SourceRollout     Source = "rollout"
	SourceHoldout     Source = "holdout"
	SourceExperiment  Source = "experiment"
)

// Decision is the outcome of running the decision pipeline for a
// (flag, user) pair.
type Decision struct {
	Experiment *Experiment
	Variation  *Variation
	Source     Source
	Reasons    []string
}
