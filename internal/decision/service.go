// Package decision implements the decide pipeline described in spec
// §4.4 and §4.5: holdouts, then feature experiments (with CMAB and
// user-profile support), then rollout, producing a Decision that
// names which pipeline stage produced it.
package decision

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/optimizely-experiments/decision-core/internal/audience"
	"github.com/optimizely-experiments/decision-core/internal/bucketing"
	"github.com/optimizely-experiments/decision-core/internal/entities"
	"github.com/optimizely-experiments/decision-core/internal/notification"
	"github.com/optimizely-experiments/decision-core/internal/userprofile"
)

// Option toggles decide-pipeline behavior (spec §6 configuration
// options, restricted to the ones the pipeline itself consults).
type Option int

const (
	// OptionIgnoreUserProfileService bypasses UPS lookup and save.
	OptionIgnoreUserProfileService Option = iota
	// OptionIncludeReasons populates Decision.Reasons.
	OptionIncludeReasons
)

func hasOption(options []Option, want Option) bool {
	for _, o := range options {
		if o == want {
			return true
		}
	}
	return false
}

// cmabClient is the subset of cmab.Client the service needs; narrowed
// to ease testing.
type cmabClient interface {
	FetchDecision(ctx context.Context, ruleID, userID string, attributes map[string]interface{}, cmabUUID string) (string, error)
}

// Service runs the decide pipeline against a given ProjectConfig
// snapshot and UserContext.
type Service struct {
	profiles userprofile.Service // nil disables UPS entirely
	hub      *notification.Hub
	cmab     cmabClient // nil: CMAB experiments never produce a variation
	logger   *zap.Logger
}

// NewService constructs a Service. Nil profiles/cmab disable those
// capabilities; a nil hub or logger installs no-op defaults.
func NewService(profiles userprofile.Service, hub *notification.Hub, cmab cmabClient, logger *zap.Logger) *Service {
	if hub == nil {
		hub = notification.NewHub(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{profiles: profiles, hub: hub, cmab: cmab, logger: logger}
}

// reasons accumulates decide-pipeline log messages when
// OptionIncludeReasons is set; otherwise every append is a no-op, so
// callers never pay for string formatting they didn't ask for.
type reasons struct {
	enabled bool
	entries []string
}

func (r *reasons) addf(format string, args ...interface{}) {
	if !r.enabled {
		return
	}
	r.entries = append(r.entries, fmt.Sprintf(format, args...))
}

// Decide runs the pipeline for a single flag and user, per spec §4.5.
// config must be a single immutable snapshot for the whole call.
func (s *Service) Decide(ctx context.Context, config *entities.ProjectConfig, flagKey string, user *entities.UserContext, options ...Option) entities.Decision {
	r := &reasons{enabled: hasOption(options, OptionIncludeReasons)}
	snapshot := user.Snapshot()
	lookup := audienceLookup(config)

	flag, ok := config.GetFlag(flagKey)
	if !ok {
		r.addf("no flag found for key %q", flagKey)
		return s.finalize(entities.Decision{Source: entities.SourceRollout, Reasons: r.entries})
	}

	if d, ok := s.decideHoldouts(config, flag, snapshot, lookup, r); ok {
		return s.finalize(d)
	}

	if d, ok := s.decideFeatureExperiments(ctx, config, flag, snapshot, user, lookup, options, r); ok {
		return s.finalize(d)
	}

	d := s.decideRollout(config, flag, snapshot, user, lookup, r)
	return s.finalize(d)
}

func (s *Service) finalize(d entities.Decision) entities.Decision {
	s.hub.Send(notification.TypeDecision, d)
	return d
}

func audienceLookup(config *entities.ProjectConfig) audience.Lookup {
	return func(id string) (audience.Audience, bool) {
		a, ok := config.GetAudience(id)
		if !ok {
			return audience.Audience{}, false
		}
		return audience.Audience{ID: a.ID, Conditions: a.Conditions}, true
	}
}

func findVariation(variations []entities.Variation, id string) (entities.Variation, bool) {
	for _, v := range variations {
		if v.ID == id {
			return v, true
		}
	}
	return entities.Variation{}, false
}

// decideHoldouts implements spec §4.5 step 1: the first running,
// qualifying holdout in scope for the flag wins outright.
func (s *Service) decideHoldouts(config *entities.ProjectConfig, flag entities.FeatureFlag, snapshot entities.ContextSnapshot, lookup audience.Lookup, r *reasons) (entities.Decision, bool) {
	for _, h := range config.HoldoutsForFlag(flag.Key) {
		if h.Status != entities.StatusRunning {
			continue
		}
		if !audience.Resolve(h.AudienceConditions, h.AudienceIDs, lookup, snapshot) {
			r.addf("user %q does not meet audience conditions for holdout %q", snapshot.UserID, h.Key)
			continue
		}
		bucketValue, ok := bucketing.BucketToHoldout(snapshot.BucketingID(), h.ID, h.TrafficAllocation)
		if !ok {
			continue
		}
		variation, ok := findVariation(h.Variations, bucketValue)
		if !ok {
			continue
		}
		r.addf("user %q bucketed into holdout %q", snapshot.UserID, h.Key)
		return entities.Decision{Variation: &variation, Source: entities.SourceHoldout, Reasons: r.entries}, true
	}
	return entities.Decision{}, false
}

// decideFeatureExperiments implements spec §4.5 step 2: the first
// experiment referenced by the flag that yields a variation wins.
func (s *Service) decideFeatureExperiments(ctx context.Context, config *entities.ProjectConfig, flag entities.FeatureFlag, snapshot entities.ContextSnapshot, user *entities.UserContext, lookup audience.Lookup, options []Option, r *reasons) (entities.Decision, bool) {
	for _, exp := range config.ExperimentsForFlag(flag.Key) {
		variation, ok := s.decideExperiment(ctx, config, flag.Key, exp, snapshot, user, lookup, options, r)
		if !ok {
			continue
		}
		expCopy := exp
		return entities.Decision{Experiment: &expCopy, Variation: &variation, Source: entities.SourceFeatureTest, Reasons: r.entries}, true
	}
	return entities.Decision{}, false
}

// decideExperiment implements spec §4.5 steps 3-8 for a single
// experiment.
func (s *Service) decideExperiment(ctx context.Context, config *entities.ProjectConfig, flagKey string, exp entities.Experiment, snapshot entities.ContextSnapshot, user *entities.UserContext, lookup audience.Lookup, options []Option, r *reasons) (entities.Variation, bool) {
	if exp.Status != entities.StatusRunning {
		r.addf("experiment %q is not running", exp.Key)
		return entities.Variation{}, false
	}

	if v, ok := resolveForcedDecision(user, entities.ForcedDecisionKey{FlagKey: flagKey, RuleKey: exp.Key}, exp); ok {
		r.addf("user %q has a forced decision for experiment %q", snapshot.UserID, exp.Key)
		return v, true
	}

	if v, ok := resolveWhitelistedVariation(exp, snapshot.UserID); ok {
		r.addf("user %q is whitelisted into experiment %q", snapshot.UserID, exp.Key)
		return v, true
	}

	ignoreProfile := hasOption(options, OptionIgnoreUserProfileService)
	var profile userprofile.Profile
	haveProfile := false
	if !ignoreProfile && s.profiles != nil {
		p, err := s.profiles.Lookup(snapshot.UserID)
		if err != nil {
			if !userprofile.IsNotFound(err) {
				s.logger.Warn("user profile lookup failed", zap.String("user_id", snapshot.UserID), zap.Error(err))
			}
		} else {
			profile = p
			haveProfile = true
			if variationID, ok := profile.ExperimentBucketMap[exp.ID]; ok {
				if v, ok := exp.VariationsByID[variationID]; ok {
					r.addf("found a stored decision for experiment %q", exp.Key)
					return v, true
				}
			}
		}
	}

	if !audience.Resolve(exp.AudienceConditions, exp.AudienceIDs, lookup, snapshot) {
		r.addf("user %q does not meet audience conditions for experiment %q", snapshot.UserID, exp.Key)
		return entities.Variation{}, false
	}

	variation, ok := s.bucketExperiment(ctx, config, exp, snapshot)
	if !ok {
		r.addf("user %q is in no variation for experiment %q", snapshot.UserID, exp.Key)
		return entities.Variation{}, false
	}
	r.addf("user %q bucketed into variation %q of experiment %q", snapshot.UserID, variation.Key, exp.Key)

	if !ignoreProfile && s.profiles != nil {
		if !haveProfile {
			profile = userprofile.Profile{UserID: snapshot.UserID, ExperimentBucketMap: map[string]string{}}
		}
		if profile.ExperimentBucketMap == nil {
			profile.ExperimentBucketMap = map[string]string{}
		}
		profile.ExperimentBucketMap[exp.ID] = variation.ID
		if err := s.profiles.Save(profile); err != nil {
			s.logger.Warn("user profile save failed", zap.String("user_id", snapshot.UserID), zap.Error(err))
		}
	}

	return variation, true
}

// bucketExperiment implements spec §4.5 step 8: CMAB experiments
// delegate to the prediction service; everything else uses group+
// experiment traffic-allocation bucketing.
func (s *Service) bucketExperiment(ctx context.Context, config *entities.ProjectConfig, exp entities.Experiment, snapshot entities.ContextSnapshot) (entities.Variation, bool) {
	if exp.Cmab != nil {
		if s.cmab == nil {
			return entities.Variation{}, false
		}
		attrs := filterCmabAttributes(config, snapshot, exp.Cmab.AttributeIDs)
		variationID, err := s.cmab.FetchDecision(ctx, exp.ID, snapshot.UserID, attrs, uuid.NewString())
		if err != nil {
			s.logger.Warn("cmab fetch decision failed", zap.String("experiment", exp.Key), zap.Error(err))
			return entities.Variation{}, false
		}
		v, ok := exp.VariationsByID[variationID]
		return v, ok
	}

	groupID := exp.GroupID
	var groupAllocation []bucketing.AllocationEntry
	if groupID != "" {
		if group, ok := config.GroupForExperiment(exp.ID); ok {
			if group.IsMutuallyExclusive() {
				groupAllocation = group.TrafficAllocation
			} else {
				groupID = ""
			}
		}
	}
	variationID, ok := bucketing.BucketToExperiment(snapshot.BucketingID(), groupID, groupAllocation, exp.ID, exp.TrafficAllocation)
	if !ok {
		return entities.Variation{}, false
	}
	v, ok := exp.VariationsByID[variationID]
	return v, ok
}

func filterCmabAttributes(config *entities.ProjectConfig, snapshot entities.ContextSnapshot, attributeIDs []string) map[string]interface{} {
	out := make(map[string]interface{}, len(attributeIDs))
	for _, id := range attributeIDs {
		key, ok := config.Attributes[id]
		if !ok {
			continue
		}
		if v, ok := snapshot.Attribute(key); ok {
			out[key] = v
		}
	}
	return out
}

// decideRollout implements spec §4.5 step 9-10: walk the flag's
// rollout rules in order, skipping straight to "Everyone Else" when a
// rule's audience matches but bucketing misses.
func (s *Service) decideRollout(config *entities.ProjectConfig, flag entities.FeatureFlag, snapshot entities.ContextSnapshot, user *entities.UserContext, lookup audience.Lookup, r *reasons) entities.Decision {
	if flag.RolloutID == "" {
		r.addf("flag %q has no rollout", flag.Key)
		return entities.Decision{Source: entities.SourceRollout, Reasons: r.entries}
	}
	rollout, ok := config.RolloutForFlag(flag)
	if !ok || len(rollout.Rules) == 0 {
		r.addf("flag %q has no rollout rules", flag.Key)
		return entities.Decision{Source: entities.SourceRollout, Reasons: r.entries}
	}

	rules := rollout.Rules
	index := 0
	for index < len(rules) {
		rule := rules[index]
		everyoneElse := index == len(rules)-1

		if v, ok := resolveForcedDecision(user, entities.ForcedDecisionKey{FlagKey: flag.Key, RuleKey: rule.Key}, rule); ok {
			ruleCopy := rule
			r.addf("user %q has a forced decision for rollout rule %q", snapshot.UserID, rule.Key)
			return entities.Decision{Experiment: &ruleCopy, Variation: &v, Source: entities.SourceRollout, Reasons: r.entries}
		}

		if !audience.Resolve(rule.AudienceConditions, rule.AudienceIDs, lookup, snapshot) {
			r.addf("user %q does not meet audience conditions for rollout rule %q", snapshot.UserID, rule.Key)
			index++
			continue
		}

		bucketValue := bucketing.BucketValue(snapshot.BucketingID(), rule.ID)
		entityID, ok := bucketing.FindBucket(bucketValue, rule.TrafficAllocation)
		if ok {
			if variation, ok := rule.VariationsByID[entityID]; ok {
				ruleCopy := rule
				r.addf("user %q bucketed into rollout rule %q", snapshot.UserID, rule.Key)
				return entities.Decision{Experiment: &ruleCopy, Variation: &variation, Source: entities.SourceRollout, Reasons: r.entries}
			}
		}

		if everyoneElse {
			break
		}
		r.addf("user %q not bucketed into rollout rule %q, checking Everyone Else", snapshot.UserID, rule.Key)
		index = len(rules) - 1
	}

	return entities.Decision{Source: entities.SourceRollout, Reasons: r.entries}
}
