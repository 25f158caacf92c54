// Package datafile parses the JSON datafile described in spec §6 into
// an entities.ProjectConfig snapshot, enforcing the cross-reference
// invariants from spec §3.
package datafile

import (
	"encoding/json"
	"fmt"

	"github.com/optimizely-experiments/decision-core/internal/bucketing"
	"github.com/optimizely-experiments/decision-core/internal/condition"
	"github.com/optimizely-experiments/decision-core/internal/entities"
	"go.uber.org/zap"
	"golang.org/x/xerrors"
)

// supportedVersions are the major datafile versions this parser
// accepts; any other value is logged and refused.
var supportedVersions = map[string]bool{"2": true, "4": true}

type rawDatafile struct {
	Version        string              `json:"version"`
	Revision       string              `json:"revision"`
	AccountID      string              `json:"accountId"`
	ProjectID      string              `json:"projectId"`
	SDKKey         string              `json:"sdkKey"`
	EnvironmentKey string              `json:"environmentKey"`
	Experiments    []rawExperiment     `json:"experiments"`
	Groups         []rawGroup          `json:"groups"`
	FeatureFlags   []rawFlag           `json:"featureFlags"`
	Rollouts       []rawRollout        `json:"rollouts"`
	Holdouts       []rawHoldout        `json:"holdouts"`
	Audiences      []rawAudience       `json:"audiences"`
	TypedAudiences []rawAudience       `json:"typedAudiences"`
	Attributes     []rawAttribute      `json:"attributes"`
}

type rawAttribute struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type rawTrafficAllocation struct {
	EntityID   string `json:"entityId"`
	EndOfRange int    `json:"endOfRange"`
}

type rawVariable struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

type rawVariation struct {
	ID             string        `json:"id"`
	Key            string        `json:"key"`
	FeatureEnabled bool          `json:"featureEnabled"`
	Variables      []rawVariable `json:"variables"`
}

type rawCmab struct {
	AttributeIDs []string `json:"attributeIds"`
}

type rawExperiment struct {
	ID                 string                 `json:"id"`
	Key                string                 `json:"key"`
	Status             string                 `json:"status"`
	LayerID            string                 `json:"layerId"`
	AudienceIDs        []string               `json:"audienceIds"`
	AudienceConditions json.RawMessage        `json:"audienceConditions"`
	Variations         []rawVariation         `json:"variations"`
	ForcedVariations   map[string]string      `json:"forcedVariations"`
	TrafficAllocation  []rawTrafficAllocation `json:"trafficAllocation"`
	Cmab               *rawCmab               `json:"cmab"`
}

type rawGroup struct {
	ID                string                 `json:"id"`
	Policy            string                 `json:"policy"`
	TrafficAllocation []rawTrafficAllocation `json:"trafficAllocation"`
	Experiments       []rawExperiment        `json:"experiments"`
}

type rawFlag struct {
	ID            string        `json:"id"`
	Key           string        `json:"key"`
	RolloutID     string        `json:"rolloutId"`
	ExperimentIDs []string      `json:"experimentIds"`
	Variables     []rawVariable `json:"variables"`
}

type rawRollout struct {
	ID          string          `json:"id"`
	Experiments []rawExperiment `json:"experiments"`
}

type rawHoldout struct {
	ID                 string                 `json:"id"`
	Key                string                 `json:"key"`
	Status             string                 `json:"status"`
	AudienceIDs        []string               `json:"audienceIds"`
	AudienceConditions json.RawMessage        `json:"audienceConditions"`
	Variations         []rawVariation         `json:"variations"`
	TrafficAllocation  []rawTrafficAllocation `json:"trafficAllocation"`
	IncludedFlags      []string               `json:"includedFlags"`
	ExcludedFlags      []string               `json:"excludedFlags"`
}

// rawAudience's Conditions field may be a JSON string (legacy
// representation) or, for typedAudiences, an already-decoded array/object.
type rawAudience struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Conditions json.RawMessage `json:"conditions"`
}

// Option configures Parse.
type Option func(*options)

type options struct {
	logger *zap.SugaredLogger
}

// WithLogger injects a logger used to report duplicate-key and
// malformed-entity warnings encountered while parsing. Defaults to a
// no-op logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = logger }
}

// Parse decodes a raw datafile into an immutable ProjectConfig. It
// fails loudly (per spec §7 "invalid input") on a bad datafile or an
// unsupported major version; it logs-and-first-wins on duplicate
// experiment/holdout keys.
func Parse(raw []byte, opts ...Option) (*entities.ProjectConfig, error) {
	cfg := options{logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(&cfg)
	}

	var df rawDatafile
	if err := json.Unmarshal(raw, &df); err != nil {
		return nil, xerrors.Errorf("error decoding datafile: %w", err)
	}
	if !supportedVersions[df.Version] {
		return nil, fmt.Errorf("unsupported datafile version %q", df.Version)
	}

	audiencesByID, err := parseAudiences(df.Audiences, df.TypedAudiences)
	if err != nil {
		return nil, err
	}

	config := &entities.ProjectConfig{
		Revision:         df.Revision,
		SDKKey:           df.SDKKey,
		EnvironmentKey:   df.EnvironmentKey,
		AccountID:        df.AccountID,
		ProjectID:        df.ProjectID,
		ExperimentsByKey: map[string]entities.Experiment{},
		ExperimentsByID:  map[string]entities.Experiment{},
		FlagsByKey:       map[string]entities.FeatureFlag{},
		FlagsByID:        map[string]entities.FeatureFlag{},
		AudiencesByID:    audiencesByID,
		Attributes:       map[string]string{},
		Rollouts:         map[string]entities.Rollout{},
		Groups:           map[string]entities.Group{},
		Holdouts:         map[string]entities.Holdout{},
		FlagExperiments:  map[string][]entities.Experiment{},
		FlagHoldouts:     map[string][]entities.Holdout{},
		ExperimentGroup:  map[string]string{},
	}

	for _, a := range df.Attributes {
		config.Attributes[a.ID] = a.Key
	}

	// top-level experiments (ungrouped)
	for _, re := range df.Experiments {
		exp, err := convertExperiment(re)
		if err != nil {
			return nil, err
		}
		addExperiment(config, exp, cfg.logger)
	}

	// grouped experiments
	for _, rg := range df.Groups {
		group := entities.Group{
			ID:     rg.ID,
			Policy: rg.Policy,
		}
		groupAllocation := make([]bucketing.AllocationEntry, 0, len(rg.TrafficAllocation))
		for _, a := range rg.TrafficAllocation {
			groupAllocation = append(groupAllocation, bucketing.AllocationEntry{EntityID: a.EntityID, EndOfRange: a.EndOfRange})
		}
		group.TrafficAllocation = groupAllocation
		for _, re := range rg.Experiments {
			exp, err := convertExperiment(re)
			if err != nil {
				return nil, err
			}
			exp.GroupID = rg.ID
			group.ExperimentIDs = append(group.ExperimentIDs, exp.ID)
			config.ExperimentGroup[exp.ID] = rg.ID
			addExperiment(config, exp, cfg.logger)
		}
		config.Groups[rg.ID] = group
		for _, entry := range groupAllocation {
			if entry.EntityID == "" {
				continue
			}
			if _, ok := config.ExperimentsByID[entry.EntityID]; !ok {
				return nil, fmt.Errorf("group %s traffic allocation references unknown experiment id %s", rg.ID, entry.EntityID)
			}
		}
	}

	for _, rf := range df.FeatureFlags {
		flag := entities.FeatureFlag{
			ID:            rf.ID,
			Key:           rf.Key,
			RolloutID:     rf.RolloutID,
			ExperimentIDs: rf.ExperimentIDs,
			Variables:     convertVariables(rf.Variables),
		}
		config.FlagsByKey[flag.Key] = flag
		config.FlagsByID[flag.ID] = flag

		experiments := make([]entities.Experiment, 0, len(rf.ExperimentIDs))
		for _, expID := range rf.ExperimentIDs {
			if exp, ok := config.ExperimentsByID[expID]; ok {
				experiments = append(experiments, exp)
			} else {
				cfg.logger.Warnw("flag references unknown experiment id", "flag", flag.Key, "experimentId", expID)
			}
		}
		config.FlagExperiments[flag.Key] = experiments
	}

	for _, rr := range df.Rollouts {
		rules := make([]entities.RolloutRule, 0, len(rr.Experiments))
		for _, re := range rr.Experiments {
			rule, err := convertExperiment(re)
			if err != nil {
				return nil, err
			}
			rules = append(rules, rule)
		}
		config.Rollouts[rr.ID] = entities.Rollout{ID: rr.ID, Rules: rules}
	}

	seenHoldoutKeys := map[string]bool{}
	for _, rh := range df.Holdouts {
		holdout, err := convertHoldout(rh)
		if err != nil {
			return nil, err
		}
		if seenHoldoutKeys[holdout.Key] {
			cfg.logger.Warnw("duplicate holdout key, keeping first", "key", holdout.Key)
			continue
		}
		seenHoldoutKeys[holdout.Key] = true
		config.Holdouts[holdout.ID] = holdout
	}

	// flag -> holdouts in scope, datafile order
	flagKeys := make([]string, 0, len(config.FlagsByKey))
	for key := range config.FlagsByKey {
		flagKeys = append(flagKeys, key)
	}
	for _, flagKey := range flagKeys {
		var inScope []entities.Holdout
		for _, rh := range df.Holdouts {
			holdout, ok := config.Holdouts[rh.ID]
			if !ok {
				continue
			}
			if holdout.AppliesToFlag(flagKey) {
				inScope = append(inScope, holdout)
			}
		}
		config.FlagHoldouts[flagKey] = inScope
	}

	if err := validateInvariants(config); err != nil {
		return nil, err
	}

	return config, nil
}

func addExperiment(config *entities.ProjectConfig, exp entities.Experiment, logger *zap.SugaredLogger) {
	if _, exists := config.ExperimentsByKey[exp.Key]; exists {
		logger.Warnw("duplicate experiment key, keeping first", "key", exp.Key)
		return
	}
	config.ExperimentsByKey[exp.Key] = exp
	config.ExperimentsByID[exp.ID] = exp
}

func convertVariables(raw []rawVariable) []entities.Variable {
	out := make([]entities.Variable, 0, len(raw))
	for _, v := range raw {
		out = append(out, entities.Variable{ID: v.ID, Key: v.Key, Value: v.Value, Type: v.Type})
	}
	return out
}

func convertExperiment(re rawExperiment) (entities.Experiment, error) {
	variationsByID := make(map[string]entities.Variation, len(re.Variations))
	variationsByKey := make(map[string]entities.Variation, len(re.Variations))
	variations := make([]entities.Variation, 0, len(re.Variations))
	for _, rv := range re.Variations {
		v := entities.Variation{
			ID:             rv.ID,
			Key:            rv.Key,
			FeatureEnabled: rv.FeatureEnabled,
			Variables:      convertVariables(rv.Variables),
		}
		variationsByID[v.ID] = v
		variationsByKey[v.Key] = v
		variations = append(variations, v)
	}

	allocation := make([]bucketing.AllocationEntry, 0, len(re.TrafficAllocation))
	for _, a := range re.TrafficAllocation {
		if a.EntityID != "" {
			if _, ok := variationsByID[a.EntityID]; !ok {
				return entities.Experiment{}, fmt.Errorf(
					"unknown variation id %q in traffic allocation for experiment %q", a.EntityID, re.Key)
			}
		}
		allocation = append(allocation, bucketing.AllocationEntry{EntityID: a.EntityID, EndOfRange: a.EndOfRange})
	}

	conditions, err := condition.ParseNode(re.AudienceConditions)
	if err != nil {
		return entities.Experiment{}, xerrors.Errorf("experiment %q: %w", re.Key, err)
	}

	forced := make(map[string]string, len(re.ForcedVariations))
	for userID, variationKey := range re.ForcedVariations {
		if _, ok := variationsByKey[variationKey]; !ok {
			continue
		}
		forced[userID] = variationKey
	}

	var cmab *entities.CmabConfig
	if re.Cmab != nil {
		cmab = &entities.CmabConfig{AttributeIDs: re.Cmab.AttributeIDs}
	}

	return entities.Experiment{
		ID:                 re.ID,
		Key:                re.Key,
		Status:             entities.Status(re.Status),
		LayerID:            re.LayerID,
		AudienceIDs:        re.AudienceIDs,
		AudienceConditions: conditions,
		Variations:         variations,
		VariationsByID:     variationsByID,
		VariationsByKey:    variationsByKey,
		ForcedVariations:   forced,
		TrafficAllocation:  allocation,
		Cmab:               cmab,
	}, nil
}

func convertHoldout(rh rawHoldout) (entities.Holdout, error) {
	variations := make([]entities.Variation, 0, len(rh.Variations))
	variationsByID := make(map[string]entities.Variation, len(rh.Variations))
	for _, rv := range rh.Variations {
		v := entities.Variation{ID: rv.ID, Key: rv.Key, FeatureEnabled: rv.FeatureEnabled, Variables: convertVariables(rv.Variables)}
		variations = append(variations, v)
		variationsByID[v.ID] = v
	}
	allocation := make([]bucketing.AllocationEntry, 0, len(rh.TrafficAllocation))
	for _, a := range rh.TrafficAllocation {
		if a.EntityID != "" {
			if _, ok := variationsByID[a.EntityID]; !ok {
				return entities.Holdout{}, fmt.Errorf(
					"unknown variation id %q in traffic allocation for holdout %q", a.EntityID, rh.Key)
			}
		}
		allocation = append(allocation, bucketing.AllocationEntry{EntityID: a.EntityID, EndOfRange: a.EndOfRange})
	}
	conditions, err := condition.ParseNode(rh.AudienceConditions)
	if err != nil {
		return entities.Holdout{}, xerrors.Errorf("holdout %q: %w", rh.Key, err)
	}
	return entities.Holdout{
		ID:                 rh.ID,
		Key:                rh.Key,
		Status:             entities.Status(rh.Status),
		AudienceIDs:        rh.AudienceIDs,
		AudienceConditions: conditions,
		Variations:         variations,
		TrafficAllocation:  allocation,
		IncludedFlags:      rh.IncludedFlags,
		ExcludedFlags:      rh.ExcludedFlags,
	}, nil
}

func parseAudiences(audiences, typedAudiences []rawAudience) (map[string]entities.Audience, error) {
	out := make(map[string]entities.Audience, len(audiences)+len(typedAudiences))
	for _, ra := range audiences {
		aud, err := convertAudience(ra, true)
		if err != nil {
			return nil, err
		}
		out[aud.ID] = aud
	}
	// typedAudiences override by id, and their conditions are already
	// structured JSON rather than a legacy JSON-encoded string.
	for _, ra := range typedAudiences {
		aud, err := convertAudience(ra, false)
		if err != nil {
			return nil, err
		}
		out[aud.ID] = aud
	}
	return out, nil
}

func convertAudience(ra rawAudience, legacyStringEncoded bool) (entities.Audience, error) {
	raw := ra.Conditions
	if legacyStringEncoded && len(raw) > 0 {
		var decodedString string
		if err := json.Unmarshal(raw, &decodedString); err == nil {
			raw = json.RawMessage(decodedString)
		}
	}
	conditions, err := condition.ParseNode(raw)
	if err != nil {
		return entities.Audience{}, xerrors.Errorf("audience %q: %w", ra.Name, err)
	}
	return entities.Audience{ID: ra.ID, Name: ra.Name, Conditions: conditions}, nil
}

func validateInvariants(config *entities.ProjectConfig) error {
	for _, exp := range config.ExperimentsByKey {
		if err := validateAudienceIDs(config, exp.AudienceIDs); err != nil {
			return xerrors.Errorf("experiment %q: %w", exp.Key, err)
		}
	}
	for _, holdout := range config.Holdouts {
		if err := validateAudienceIDs(config, holdout.AudienceIDs); err != nil {
			return xerrors.Errorf("holdout %q: %w", holdout.Key, err)
		}
	}
	return nil
}

func validateAudienceIDs(config *entities.ProjectConfig, ids []string) error {
	for _, id := range ids {
		if _, ok := config.AudiencesByID[id]; !ok {
			return fmt.Errorf("references unknown audience id %q", id)
		}
	}
	return nil
}
