package decision

import "github.com/optimizely-experiments/decision-core/internal/entities"

// resolveForcedDecision checks a runtime forced decision set on the
// user for key and resolves it to a live Variation in exp, per spec
// §4.4: a forced decision is only honored when the referenced
// variation still exists in the current config.
func resolveForcedDecision(user *entities.UserContext, key entities.ForcedDecisionKey, exp entities.Experiment) (entities.Variation, bool) {
	variationKey, ok := user.GetForcedDecision(key)
	if !ok {
		return entities.Variation{}, false
	}
	v, ok := exp.VariationsByKey[variationKey]
	return v, ok
}

// resolveWhitelistedVariation checks the datafile-encoded whitelist
// (experiment.forcedVariations) for userID, per spec §4.4. Invalid
// variation keys are ignored, same as an absent entry.
func resolveWhitelistedVariation(exp entities.Experiment, userID string) (entities.Variation, bool) {
	variationKey, ok := exp.ForcedVariations[userID]
	if !ok {
		return entities.Variation{}, false
	}
	v, ok := exp.VariationsByKey[variationKey]
	return v, ok
}
