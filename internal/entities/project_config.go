package entities

// ProjectConfig is an immutable snapshot of a parsed datafile. Instances
// are never mutated after construction; a config manager publishes a
// fresh one by atomic pointer swap (§5).
type ProjectConfig struct {
	Revision       string
	SDKKey         string
	EnvironmentKey string
	AccountID      string
	ProjectID      string

	ExperimentsByKey map[string]Experiment
	ExperimentsByID  map[string]Experiment
	FlagsByKey       map[string]FeatureFlag
	FlagsByID        map[string]FeatureFlag
	AudiencesByID    map[string]Audience
	Attributes       map[string]string // id -> key, informational
	Rollouts         map[string]Rollout
	Groups           map[string]Group
	Holdouts         map[string]Holdout

	// precomputed
	FlagExperiments map[string][]Experiment // flag key -> experiments referencing it, datafile order
	FlagHoldouts    map[string][]Holdout     // flag key -> holdouts in scope, datafile order
	ExperimentGroup map[string]string        // experiment id -> owning group id
}

// GetExperiment looks up an experiment by key.
func (c *ProjectConfig) GetExperiment(key string) (Experiment, bool) {
	e, ok := c.ExperimentsByKey[key]
	return e, ok
}

// GetFlag looks up a feature flag by key.
func (c *ProjectConfig) GetFlag(key string) (FeatureFlag, bool) {
	f, ok := c.FlagsByKey[key]
	return f, ok
}

// GetAudience looks up an audience by id.
func (c *ProjectConfig) GetAudience(id string) (Audience, bool) {
	a, ok := c.AudiencesByID[id]
	return a, ok
}

// ExperimentsForFlag returns, in datafile order, the experiments the
// given flag references.
func (c *ProjectConfig) ExperimentsForFlag(flagKey string) []Experiment {
	return c.FlagExperiments[flagKey]
}

// HoldoutsForFlag returns, in datafile order, the holdouts in scope
// for the given flag (global holdouts plus holdouts that include this
// flag, minus ones that exclude it).
func (c *ProjectConfig) HoldoutsForFlag(flagKey string) []Holdout {
	return c.FlagHoldouts[flagKey]
}

// RolloutForFlag returns the rollout referenced by a flag, if any.
func (c *ProjectConfig) RolloutForFlag(flag FeatureFlag) (Rollout, bool) {
	if flag.RolloutID == "" {
		return Rollout{}, false
	}
	r, ok := c.Rollouts[flag.RolloutID]
	return r, ok
}

// GroupForExperiment returns the group owning an experiment, if any.
func (c *ProjectConfig) GroupForExperiment(experimentID string) (Group, bool) {
	groupID, ok := c.ExperimentGroup[experimentID]
	if !ok {
		return Group{}, false
	}
	g, ok := c.Groups[groupID]
	return g, ok
}

// Summary is a flattened, read-only view of a config suitable for
// introspection APIs (the "OPTIMIZELY_CONFIG" surface described in
// SPEC_FULL.md, supplemented from the original implementation).
type Summary struct {
	Revision    string
	Flags       map[string]FlagSummary
	Experiments map[string]ExperimentSummary
}

// FlagSummary describes a feature flag's experiments and variables for
// read-only introspection.
type FlagSummary struct {
	Key           string
	ExperimentKeys []string
	Variables     []Variable
}

// ExperimentSummary describes an experiment's variations for read-only
// introspection.
type ExperimentSummary struct {
	Key            string
	VariationKeys  []string
}

// Summarize flattens the config into the introspection view.
func (c *ProjectConfig) Summarize() Summary {
	s := Summary{
		Revision:    c.Revision,
		Flags:       make(map[string]FlagSummary, len(c.FlagsByKey)),
		Experiments: make(map[string]ExperimentSummary, len(c.ExperimentsByKey)),
	}
	for key, flag := range c.FlagsByKey {
		s.Flags[key] = FlagSummary{
			Key:           flag.Key,
			ExperimentKeys: experimentKeys(c.ExperimentsForFlag(key)),
			Variables:     flag.Variables,
		}
	}
	for key, exp := range c.ExperimentsByKey {
		keys := make([]string, 0, len(exp.Variations))
		for _, v := range exp.Variations {
			keys = append(keys, v.Key)
		}
		s.Experiments[key] = ExperimentSummary{Key: exp.Key, VariationKeys: keys}
	}
	return s
}

func experimentKeys(experiments []Experiment) []string {
	keys := make([]string, 0, len(experiments))
	for _, e := range experiments {
		keys = append(keys, e.Key)
	}
	return keys
}
